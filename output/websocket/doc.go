// Package websocket provides the output that streams gateway events to
// WebSocket clients such as browser dashboards.
//
// The output runs its own HTTP server. Clients connect to the configured
// path and receive every event as a JSON output.Envelope in a text frame:
//
//	{"id":"…","type":"visibility","timestamp":"2026-03-01T12:00:00.000Z","data":{…}}
//
// A client may narrow the stream with the types query parameter:
//
//	ws://gateway:3001/events?types=visibility,sensor
//
// Each client has a bounded send queue drained by its own writer. When a
// broadcast finds the queue full the client is disconnected, so one slow
// consumer never delays the pipeline or the other clients. Clients are
// pinged periodically and dropped when they stop answering.
package websocket
