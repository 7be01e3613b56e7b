// Package file provides the output that appends gateway events to a JSON
// Lines file.
//
// Every visibility, sensor, statistics and topology event is wrapped in an
// output.Envelope and written as one line to <directory>/<prefix>.jsonl.
// Lines are buffered and flushed once a second, or sooner when the buffer
// fills.
//
// # Rotation
//
// When appending a line would take the file past MaxSize bytes, the file is
// renamed to <prefix>-<UTC timestamp>.jsonl and a fresh file is opened. Only
// the newest MaxFiles rotated files are kept:
//
//	data/
//	  barnowl.jsonl
//	  barnowl-20260301T120000.000Z.jsonl
//	  barnowl-20260301T130412.518Z.jsonl
//
// A MaxSize of zero disables rotation; a MaxFiles of zero keeps every
// rotated file.
package file
