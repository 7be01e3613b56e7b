// Package serial provides the serial port listener.
//
// A reel plugged into a USB serial adapter streams at 230400 baud. The
// listener opens the device in raw mode with github.com/pkg/term and hands
// whatever bytes each read returns to the pipeline, tagged with the device
// path as origin. Chunk boundaries are arbitrary; the framer reassembles
// packets.
//
// When the device disappears the read fails, the error is reported so the
// framer drops the partial frame, and the device is reopened on the
// listener's reconnect schedule.
package serial
