// Package inputtest provides a recording input.Handler for listener tests
package inputtest

import (
	"bytes"
	"context"
	"sync"
	"time"
)

// Chunk is one HandleData call
type Chunk struct {
	Origin string
	Data   []byte
	Time   time.Time
}

// Failure is one HandleError call
type Failure struct {
	Origin string
	Err    error
}

// Recorder records everything a listener hands it
type Recorder struct {
	mu       sync.Mutex
	chunks   []Chunk
	failures []Failure
	notify   chan struct{}
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan struct{}, 1)}
}

// HandleData implements input.Handler
func (r *Recorder) HandleData(_ context.Context, origin string, data []byte, ts time.Time) error {
	r.mu.Lock()
	r.chunks = append(r.chunks, Chunk{Origin: origin, Data: append([]byte(nil), data...), Time: ts})
	r.mu.Unlock()
	r.signal()
	return nil
}

// HandleError implements input.Handler
func (r *Recorder) HandleError(origin string, err error) {
	r.mu.Lock()
	r.failures = append(r.failures, Failure{Origin: origin, Err: err})
	r.mu.Unlock()
	r.signal()
}

func (r *Recorder) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Chunks returns a copy of the recorded chunks
func (r *Recorder) Chunks() []Chunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Chunk(nil), r.chunks...)
}

// Failures returns a copy of the recorded failures
func (r *Recorder) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Failure(nil), r.failures...)
}

// Bytes returns every chunk from origin concatenated
func (r *Recorder) Bytes(origin string) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var buf bytes.Buffer
	for _, c := range r.chunks {
		if c.Origin == origin {
			buf.Write(c.Data)
		}
	}
	return buf.Bytes()
}

// WaitFor blocks until cond holds or timeout passes, and reports whether
// cond held.
func (r *Recorder) WaitFor(timeout time.Duration, cond func(r *Recorder) bool) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()

	for {
		if cond(r) {
			return true
		}
		select {
		case <-r.notify:
		case <-tick.C:
		case <-deadline.C:
			return cond(r)
		}
	}
}
