// Package topology learns, per origin, which receiver sits at each position
// of a reel.
//
// A reel reports positions in two directions. ReelAnnounce packets carry a
// device count, the receiver's distance in hops from the hub. RadioSignal
// decodings carry an offset, the receiver's distance from the far end. The
// Manager keeps the hub-indexed view and derives the offset-indexed view as
// its reverse, so both always describe the same receivers.
//
// Announces arriving out of order leave gaps filled with the unknown
// identifier until the missing receivers announce. An announce that places
// a different receiver at an already-resolved position means the reel was
// physically altered: the origin's topology is discarded and rebuilt from
// that announce.
package topology

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/identifier"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/pkg/cache"
	"github.com/reelyactive/barnowl/reel"
)

// ChangeKind describes how an announce altered a reel
type ChangeKind int

const (
	// ChangeExtended means a receiver farther than any seen before announced.
	ChangeExtended ChangeKind = iota + 1
	// ChangeFilled means a gap left by out-of-order announces was resolved.
	ChangeFilled
	// ChangeReset means a conflicting announce forced a rebuild.
	ChangeReset
)

// String returns the change kind name
func (k ChangeKind) String() string {
	switch k {
	case ChangeExtended:
		return "extended"
	case ChangeFilled:
		return "filled"
	case ChangeReset:
		return "reset"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Snapshot is a copy of one origin's topology.
type Snapshot struct {
	Origin    string                  `json:"origin"`
	HubCounts []identifier.Identifier `json:"hub_counts"`
	Positions []identifier.Identifier `json:"positions"`
	Updated   time.Time               `json:"updated"`
}

// Known returns how many positions hold a resolved receiver
func (s Snapshot) Known() int {
	n := 0
	for _, id := range s.HubCounts {
		if !id.IsUnknown() {
			n++
		}
	}
	return n
}

// Change reports an announce that altered a reel. Previous is set only for
// ChangeReset.
type Change struct {
	Kind     ChangeKind            `json:"kind"`
	Origin   string                `json:"origin"`
	Receiver identifier.Identifier `json:"receiver"`
	Count    int                   `json:"device_count"`
	Current  Snapshot              `json:"current"`
	Previous *Snapshot             `json:"previous,omitempty"`
}

// ChangeFunc receives topology changes. It is called without the manager's
// lock held.
type ChangeFunc func(Change)

type reelState struct {
	hubCounts []identifier.Identifier
	updated   time.Time
}

// apply places receiver at hub distance count. It returns zero when the
// announce confirms what is already known.
func (s *reelState) apply(count int, receiver identifier.Identifier) (ChangeKind, bool) {
	switch {
	case count >= len(s.hubCounts):
		for len(s.hubCounts) < count {
			s.hubCounts = append(s.hubCounts, identifier.None)
		}
		s.hubCounts = append(s.hubCounts, receiver)
		return ChangeExtended, false
	case s.hubCounts[count].IsUnknown():
		s.hubCounts[count] = receiver
		return ChangeFilled, false
	case s.hubCounts[count] != receiver:
		return ChangeReset, true
	default:
		return 0, false
	}
}

func (s *reelState) snapshot(origin string) Snapshot {
	hub := slices.Clone(s.hubCounts)
	positions := slices.Clone(s.hubCounts)
	slices.Reverse(positions)
	return Snapshot{Origin: origin, HubCounts: hub, Positions: positions, Updated: s.updated}
}

// Manager holds the topology of every origin and the latest receiver
// telemetry.
type Manager struct {
	config   Config
	logger   *slog.Logger
	metrics  *Metrics
	registry metric.MetricsRegistrar
	now      func() time.Time
	onChange []ChangeFunc

	mu    sync.RWMutex
	reels map[string]*reelState

	telemetry *cache.TTL[Telemetry]
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics registers topology and telemetry metrics
func WithMetrics(registry metric.MetricsRegistrar) Option {
	return func(m *Manager) {
		m.registry = registry
	}
}

// WithChangeHandler adds a function notified of every topology change
func WithChangeHandler(fn ChangeFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.onChange = append(m.onChange, fn)
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a Manager. The telemetry store's cleanup goroutine runs
// until ctx is cancelled or Close is called.
func NewManager(ctx context.Context, config Config, opts ...Option) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapFatal(err, "topology", "NewManager", "validate config")
	}

	m := &Manager{
		config: config,
		logger: slog.Default(),
		now:    time.Now,
		reels:  make(map[string]*reelState),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "topology")

	if m.registry != nil {
		metrics, err := newMetrics(m.registry)
		if err != nil {
			return nil, errors.WrapTransient(err, "topology", "NewManager", "metrics registration")
		}
		m.metrics = metrics
	}

	cacheOpts := []cache.Option[Telemetry]{
		cache.WithClock[Telemetry](m.now),
		cache.WithEvictionCallback[Telemetry](func(key string, _ Telemetry) {
			m.metrics.forgetReceiver(key)
		}),
	}
	if m.registry != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics[Telemetry](m.registry, "receiver_telemetry"))
	}
	telemetry, err := cache.NewTTL[Telemetry](ctx, config.TelemetryTTL, config.TelemetryTTL/2, cacheOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "topology", "NewManager", "create telemetry store")
	}
	m.telemetry = telemetry
	return m, nil
}

// HandleAnnounce updates the announcing origin's topology. It returns the
// resulting change, or false when the announce confirmed existing state.
func (m *Manager) HandleAnnounce(a *reel.ReelAnnounce) (Change, bool) {
	if a == nil {
		return Change{}, false
	}
	origin := a.Origin()
	receiver := a.Receiver

	m.mu.Lock()
	state, ok := m.reels[origin]
	if !ok {
		state = &reelState{}
		m.reels[origin] = state
	}

	var previous *Snapshot
	kind, conflict := state.apply(a.DeviceCount, receiver)
	if conflict {
		prev := state.snapshot(origin)
		previous = &prev
		state = &reelState{}
		m.reels[origin] = state
		state.apply(a.DeviceCount, receiver)
	}
	if kind == 0 {
		m.mu.Unlock()
		return Change{}, false
	}
	state.updated = m.now()
	change := Change{
		Kind:     kind,
		Origin:   origin,
		Receiver: receiver,
		Count:    a.DeviceCount,
		Current:  state.snapshot(origin),
		Previous: previous,
	}
	m.mu.Unlock()

	if kind == ChangeReset {
		m.logger.Info("reel topology changed, rebuilding",
			"origin", origin,
			"device_count", a.DeviceCount,
			"receiver", receiver.String(),
			"previous", previous.HubCounts[a.DeviceCount].String())
		m.metrics.recordReset()
	} else {
		m.logger.Debug("reel topology updated",
			"origin", origin, "change", kind.String(), "device_count", a.DeviceCount, "receiver", receiver.String())
	}
	m.metrics.setReceivers(origin, change.Current.Known())

	for _, fn := range m.onChange {
		fn(change)
	}
	return change, true
}

// Resolve maps an origin's offset to the receiver at that position,
// promoted to its canonical form. It returns identifier.None when the
// position is not yet known; that is an expected outcome, not a failure.
func (m *Manager) Resolve(origin string, offset int) identifier.Identifier {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.reels[origin]
	if !ok || offset < 0 || offset >= len(state.hubCounts) {
		return identifier.None
	}
	return identifier.Canonical(state.hubCounts[len(state.hubCounts)-1-offset])
}

// Snapshot returns a copy of an origin's topology
func (m *Manager) Snapshot(origin string) (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.reels[origin]
	if !ok {
		return Snapshot{}, false
	}
	return state.snapshot(origin), true
}

// Snapshots returns every origin's topology, sorted by origin
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.reels))
	for origin, state := range m.reels {
		out = append(out, state.snapshot(origin))
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Origin < out[j].Origin })
	return out
}

// Forget drops an origin's topology, for example when its transport is
// replaced.
func (m *Manager) Forget(origin string) {
	m.mu.Lock()
	delete(m.reels, origin)
	m.mu.Unlock()
	m.metrics.setReceivers(origin, 0)
}

// Close stops the telemetry store
func (m *Manager) Close() error {
	return m.telemetry.Close()
}
