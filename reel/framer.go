package reel

import (
	"bytes"
	"sort"
	"sync"
	"time"
)

// Framer reassembles packets from per-origin byte streams. Each origin owns
// an independent buffer; bytes for one origin must be submitted in arrival
// order, while different origins may be submitted concurrently.
type Framer struct {
	mu      sync.Mutex
	buffers map[string]*streamBuffer
}

type streamBuffer struct {
	mu   sync.Mutex
	data []byte
}

// NewFramer creates an empty Framer
func NewFramer() *Framer {
	return &Framer{buffers: make(map[string]*streamBuffer)}
}

func (f *Framer) buffer(origin string) *streamBuffer {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.buffers[origin]
	if !ok {
		b = &streamBuffer{}
		f.buffers[origin] = b
	}
	return b
}

// Submit appends data to the origin's buffer and decodes every complete
// frame it now holds. Noise before a prefix is discarded. A trailing partial
// frame stays buffered for the next call. Rejected frames are returned as
// decode errors; they never poison later frames.
func (f *Framer) Submit(origin string, data []byte, ts time.Time) ([]Packet, []*DecodeError) {
	b := f.buffer(origin)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)

	var (
		packets []Packet
		errs    []*DecodeError
	)
	buf := b.data
	for len(buf) > 0 {
		// The first prefix occurrence wins. A stray 0xaa noise byte right
		// before a real prefix makes the third 0xaa the discriminator; that
		// unknown packet drops the buffer, valid frame included, and the
		// stream resynchronizes on the next prefix.
		start := bytes.Index(buf, Prefix)
		if start < 0 {
			// A lone trailing prefix byte may be the first half of the next prefix.
			if buf[len(buf)-1] == Prefix[0] {
				buf = buf[len(buf)-1:]
			} else {
				buf = buf[:0]
			}
			break
		}
		buf = buf[start:]

		packet, consumed, err := Decode(buf, origin, ts)
		buf = buf[consumed:]
		if err != nil {
			de := err.(*DecodeError)
			if de.Retryable() {
				break
			}
			errs = append(errs, de)
			continue
		}
		packets = append(packets, packet)
	}

	n := copy(b.data, buf)
	b.data = b.data[:n]
	return packets, errs
}

// Buffered returns the number of bytes held for an origin
func (f *Framer) Buffered(origin string) int {
	f.mu.Lock()
	b, ok := f.buffers[origin]
	f.mu.Unlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Reset drops an origin's buffer, for example after its transport
// reconnects mid-frame.
func (f *Framer) Reset(origin string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.buffers, origin)
}

// Origins lists the origins with a buffer, sorted
func (f *Framer) Origins() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	origins := make([]string, 0, len(f.buffers))
	for origin := range f.buffers {
		origins = append(origins, origin)
	}
	sort.Strings(origins)
	return origins
}
