// Package mixer merges decodings of the same transmission reported by
// different receivers within a bounded delay.
//
// Entries are keyed by transmitter signature. The first sighting creates an
// entry with a deadline of now+Delay; later sightings before the deadline
// add an origin bucket, or fold their readings into the existing bucket for
// that origin by running average. A single background sweep emits expired
// entries and reschedules itself for the nearest remaining deadline, never
// sooner than MinDelay, so timer cost stays constant regardless of how many
// transmitters are in flight.
//
// When mixing is disabled every RadioSignal is emitted immediately as a
// single-bucket group.
package mixer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/reel"
)

// Reading is one receiver's aggregated observation within a bucket.
type Reading struct {
	Offset  int     `json:"offset"`
	RSSI    float64 `json:"rssi"`
	Samples int     `json:"samples"`
}

// Bucket holds the readings contributed by a single origin, ordered by
// ascending offset.
type Bucket struct {
	Origin    string    `json:"origin"`
	Timestamp time.Time `json:"timestamp"`
	Readings  []Reading `json:"readings"`
}

// Group is the aggregate emitted for one transmission. Buckets appear in the
// order their origins were first seen. Timestamp is the earliest packet
// timestamp that contributed.
type Group struct {
	Signature   string                `json:"signature"`
	Transmitter identifier.Identifier `json:"transmitter"`
	Payload     []byte                `json:"payload"`
	Timestamp   time.Time             `json:"timestamp"`
	Created     time.Time             `json:"created"`
	Buckets     []Bucket              `json:"buckets"`
}

// EmitFunc receives every finished group. It is never called with the
// queue's lock held.
type EmitFunc func(Group)

type entry struct {
	group    Group
	deadline time.Time
}

// Queue is the temporal mixing queue
type Queue struct {
	config  Config
	emit    EmitFunc
	now     func() time.Time
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	entries map[string]*entry

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// Option configures a Queue
type Option func(*Queue)

// WithClock replaces time.Now, for deterministic tests
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithMetrics registers queue metrics with the registry
func WithMetrics(registry metric.MetricsRegistrar) Option {
	return func(q *Queue) {
		m, err := newMetrics(registry)
		if err != nil {
			q.logger.Warn("mixer metrics unavailable", "error", err)
			return
		}
		q.metrics = m
	}
}

// New creates a Queue. emit must not be nil.
func New(config Config, emit EmitFunc, opts ...Option) (*Queue, error) {
	if emit == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "mixer", "New", "validate emit callback")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.WrapFatal(err, "mixer", "New", "validate config")
	}

	q := &Queue{
		config:  config,
		emit:    emit,
		now:     time.Now,
		logger:  slog.Default(),
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "mixer")
	return q, nil
}

// Config returns the queue configuration
func (q *Queue) Config() Config {
	return q.config
}

// Ingest adds a RadioSignal to the queue
func (q *Queue) Ingest(rs *reel.RadioSignal) {
	if rs == nil || len(rs.Decodings) == 0 {
		return
	}

	if !q.config.Enabled {
		q.emit(passThrough(rs, q.now()))
		q.metrics.recordEmitted(0)
		return
	}

	signature := rs.Transmitter.Signature()
	now := q.now()

	q.mu.Lock()
	e, ok := q.entries[signature]
	if !ok {
		e = &entry{
			group: Group{
				Signature:   signature,
				Transmitter: rs.Transmitter,
				Payload:     rs.Payload,
				Timestamp:   rs.Timestamp(),
				Created:     now,
			},
			deadline: now.Add(q.config.Delay),
		}
		q.entries[signature] = e
	}
	merged := e.group.add(rs)
	size := len(q.entries)
	q.mu.Unlock()

	if merged {
		q.metrics.recordMerge()
	}
	q.metrics.setEntries(size)
}

// add folds a packet into the group and reports whether an existing origin
// bucket absorbed it.
func (g *Group) add(rs *reel.RadioSignal) bool {
	if ts := rs.Timestamp(); ts.Before(g.Timestamp) {
		g.Timestamp = ts
	}

	for i := range g.Buckets {
		if g.Buckets[i].Origin == rs.Origin() {
			g.Buckets[i].merge(rs.Decodings)
			return true
		}
	}

	g.Buckets = append(g.Buckets, Bucket{
		Origin:    rs.Origin(),
		Timestamp: rs.Timestamp(),
		Readings:  readings(rs.Decodings),
	})
	return false
}

// merge averages readings at matching offsets and inserts the rest in offset
// order.
func (b *Bucket) merge(decodings []reel.Decoding) {
	for _, d := range decodings {
		i := sort.Search(len(b.Readings), func(i int) bool { return b.Readings[i].Offset >= d.Offset })
		if i < len(b.Readings) && b.Readings[i].Offset == d.Offset {
			r := &b.Readings[i]
			r.RSSI = (r.RSSI*float64(r.Samples) + float64(d.RSSI)) / float64(r.Samples+1)
			r.Samples++
			continue
		}
		b.Readings = append(b.Readings, Reading{})
		copy(b.Readings[i+1:], b.Readings[i:])
		b.Readings[i] = Reading{Offset: d.Offset, RSSI: float64(d.RSSI), Samples: 1}
	}
}

func readings(decodings []reel.Decoding) []Reading {
	out := make([]Reading, len(decodings))
	for i, d := range decodings {
		out[i] = Reading{Offset: d.Offset, RSSI: float64(d.RSSI), Samples: 1}
	}
	return out
}

func passThrough(rs *reel.RadioSignal, now time.Time) Group {
	return Group{
		Signature:   rs.Transmitter.Signature(),
		Transmitter: rs.Transmitter,
		Payload:     rs.Payload,
		Timestamp:   rs.Timestamp(),
		Created:     now,
		Buckets: []Bucket{{
			Origin:    rs.Origin(),
			Timestamp: rs.Timestamp(),
			Readings:  readings(rs.Decodings),
		}},
	}
}

// Sweep emits every entry whose deadline has passed and returns how long to
// wait before the next sweep. Expired groups are emitted in deadline order.
func (q *Queue) Sweep() time.Duration {
	now := q.now()
	next := q.config.Delay

	q.mu.Lock()
	var expired []*entry
	for signature, e := range q.entries {
		if !e.deadline.After(now) {
			expired = append(expired, e)
			delete(q.entries, signature)
			continue
		}
		if remaining := e.deadline.Sub(now); remaining < next {
			next = remaining
		}
	}
	size := len(q.entries)
	q.mu.Unlock()

	q.metrics.setEntries(size)
	q.emitAll(expired, now)

	if next < q.config.MinDelay {
		next = q.config.MinDelay
	}
	return next
}

func (q *Queue) emitAll(expired []*entry, now time.Time) {
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].deadline.Equal(expired[j].deadline) {
			return expired[i].group.Signature < expired[j].group.Signature
		}
		return expired[i].deadline.Before(expired[j].deadline)
	})
	for _, e := range expired {
		q.emit(e.group)
		q.metrics.recordEmitted(now.Sub(e.group.Created))
	}
}

// Flush emits every pending entry regardless of deadline
func (q *Queue) Flush() int {
	q.mu.Lock()
	pending := make([]*entry, 0, len(q.entries))
	for _, e := range q.entries {
		pending = append(pending, e)
	}
	q.entries = make(map[string]*entry)
	q.mu.Unlock()

	q.metrics.setEntries(0)
	q.emitAll(pending, q.now())
	return len(pending)
}

// Len returns the number of pending entries
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Start launches the sweep loop. It is a no-op when mixing is disabled.
func (q *Queue) Start(ctx context.Context) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if q.done != nil {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "mixer", "Start", "start sweep loop")
	}
	if !q.config.Enabled {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(loopCtx, q.done)

	q.logger.Debug("mixing queue started", "delay", q.config.Delay, "min_delay", q.config.MinDelay)
	return nil
}

func (q *Queue) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(q.config.Delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			timer.Reset(q.Sweep())
		}
	}
}

// Stop halts the sweep loop and flushes pending entries
func (q *Queue) Stop(timeout time.Duration) error {
	q.lifecycleMu.Lock()
	defer q.lifecycleMu.Unlock()

	if q.done == nil {
		return nil
	}
	q.cancel()

	select {
	case <-q.done:
	case <-time.After(timeout):
		return errors.WrapTransient(context.DeadlineExceeded, "mixer", "Stop", "wait for sweep loop")
	}
	q.done = nil

	if n := q.Flush(); n > 0 {
		q.logger.Debug("flushed pending groups on stop", "count", n)
	}
	return nil
}
