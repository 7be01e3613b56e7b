// Package udp provides the UDP listener.
//
// Reels attached to a networked forwarder send their byte stream as UDP
// datagrams. The listener binds one socket (default 0.0.0.0:50000) and
// hands every datagram to the pipeline with the sender's ip:port as the
// origin, so each forwarder gets its own framer buffer and reel topology.
//
// # Configuration
//
//	listeners:
//	  - type: udp
//	    name: udp-0
//	    path: 0.0.0.0:50000
//
// A bind failure at Start is returned to the caller. Read errors after
// that close the socket, are reported to the handler and trigger a rebind
// using the listener's reconnect policy.
//
// # Metrics
//
// With a metrics registry the listener exports barnowl_udp_* counters
// labelled with the listener name.
package udp
