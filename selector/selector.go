// Package selector reduces an aggregated group to the strongest decodings
// and resolves each one to the receiver that made it.
package selector

import (
	"fmt"
	"sort"
	"time"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
	"github.com/reelyactive/barnowl/mixer"
	"github.com/reelyactive/barnowl/pkg/timestamp"
)

// DefaultN keeps only the single strongest decoding.
const DefaultN = 1

// Resolver maps a wire position to a receiver identity
type Resolver interface {
	Resolve(origin string, offset int) identifier.Identifier
}

// Decoding is one receiver's observation in a published event. Receiver is
// identifier.None when the position could not be resolved.
type Decoding struct {
	Receiver identifier.Identifier `json:"receiver"`
	RSSI     float64               `json:"rssi"`
}

// Event is one transmission with its strongest decodings, ordered by RSSI
// descending.
type Event struct {
	Transmitter identifier.Identifier `json:"transmitter"`
	Payload     []byte                `json:"payload,omitempty"`
	Timestamp   time.Time             `json:"timestamp"`
	Decodings   []Decoding            `json:"decodings"`
}

// Selector keeps the N strongest readings of each origin bucket
type Selector struct {
	n        int
	resolver Resolver
	now      func() time.Time
}

// New creates a Selector. n below one is rejected.
func New(n int, resolver Resolver) (*Selector, error) {
	if n < 1 {
		return nil, errors.WrapFatal(fmt.Errorf("%w: n must be at least 1, got %d", errors.ErrInvalidConfig, n),
			"selector", "New", "validate n")
	}
	if resolver == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "selector", "New", "validate resolver")
	}
	return &Selector{n: n, resolver: resolver, now: time.Now}, nil
}

// N returns the per-bucket limit
func (s *Selector) N() int {
	return s.n
}

type candidate struct {
	origin string
	offset int
	rssi   float64
}

// Select trims the group to the N strongest readings per origin bucket,
// ranks the survivors by RSSI with earlier buckets winning ties, and
// resolves each to a receiver. The event timestamp is the group's earliest
// timestamp, clamped to the present.
func (s *Selector) Select(g mixer.Group) Event {
	var candidates []candidate
	for _, bucket := range g.Buckets {
		readings := make([]mixer.Reading, len(bucket.Readings))
		copy(readings, bucket.Readings)
		sort.SliceStable(readings, func(i, j int) bool { return readings[i].RSSI > readings[j].RSSI })
		if len(readings) > s.n {
			readings = readings[:s.n]
		}
		for _, r := range readings {
			candidates = append(candidates, candidate{origin: bucket.Origin, offset: r.Offset, rssi: r.RSSI})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].rssi > candidates[j].rssi })

	decodings := make([]Decoding, len(candidates))
	for i, c := range candidates {
		decodings[i] = Decoding{Receiver: s.resolver.Resolve(c.origin, c.offset), RSSI: c.rssi}
	}

	ts := timestamp.Clamp(g.Timestamp, s.now())
	return Event{
		Transmitter: g.Transmitter,
		Payload:     g.Payload,
		Timestamp:   ts,
		Decodings:   decodings,
	}
}
