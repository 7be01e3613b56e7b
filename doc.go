// Package barnowl is a gateway that decodes the reel protocol spoken by
// chains of radio receivers and turns what they hear into visibility,
// sensor, statistics and topology events.
//
// # Architecture
//
// Data flows in one direction:
//
//	listeners -> framer -> mixer -> topology -> selector -> payload -> outputs
//
// Listeners (package input and its subpackages) read raw bytes from a
// transport: a UDP socket, a serial port, a Bluetooth HCI socket, an
// in-process channel or a simulation. Each chunk is tagged with its origin,
// the transport address it arrived from.
//
// The framer (package reel) keeps one buffer per origin and cuts complete
// packets out of the stream. Partial frames never cross origins, and a
// transport error drops whatever was buffered for that origin.
//
// The mixer (package mixer) merges decodings of the same transmission heard
// by several receivers within a short delay, keyed by transmitter and
// payload.
//
// The topology manager (package topology) learns which receiver sits at
// which position on each reel from reel announce packets and keeps
// per-receiver statistics.
//
// The selector (package selector) keeps the strongest decodings of each
// merged group and resolves every one to the receiver that made it.
//
// Payload codecs (package payload) turn transmitter payload bytes into
// fields such as battery level and temperature.
//
// The pipeline (package pipeline) wires those stages together and hands
// each event to its sinks. Outputs (package output and its subpackages)
// publish events to NATS, append them to rotating JSON Lines files or push
// them to WebSocket clients.
//
// # Components
//
// Listeners, the pipeline and outputs are lifecycle components (package
// component). The gateway registers them in a component.Registry, starts
// them in order through a component.Manager and stops them in reverse so
// outputs drain last. Package health polls the registry and serves the
// aggregate on /health next to the Prometheus metrics of package metric.
//
// # Errors
//
// Every error crossing a package boundary is classified by package errors
// as transient, invalid or fatal. Listeners retry transient transport
// failures with the backoff of package pkg/retry; outputs drop events while
// their transport is down instead of stalling the pipeline.
//
// # Running
//
//	go build -o bin/barnowl ./cmd/barnowl
//	./bin/barnowl -config configs/site.yaml -log-level debug
//
// With no configuration file the gateway runs a single simulated reel,
// which is enough to see events flow through the enabled outputs.
package barnowl
