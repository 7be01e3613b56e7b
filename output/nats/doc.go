// Package nats provides the output that publishes gateway events to NATS.
//
// Each event is wrapped in an output.Envelope and published on a subject
// derived from the configured prefix:
//
//	barnowl.visibility   transmitter decodings
//	barnowl.sensor       sensor readings carried in payloads
//	barnowl.statistics   receiver statistics frames
//	barnowl.topology     reel topology changes
//
// Topology changes additionally store the origin's current snapshot in a
// JetStream Key-Value bucket, keyed by the origin with characters NATS
// does not allow in keys replaced by underscores.
//
// The output never blocks the pipeline on a broken connection. While the
// client is disconnected events are dropped, counted and logged at most
// once every ten seconds.
package nats
