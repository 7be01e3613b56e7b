package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/output"
	"github.com/reelyactive/barnowl/topology"
)

// Defaults
const (
	DefaultSubjectPrefix  = "barnowl"
	DefaultTopologyBucket = "barnowl_topology"
	DefaultTimeout        = 5 * time.Second
)

// Publisher is the part of natsclient.Client the output needs
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	PutKV(ctx context.Context, bucket, key string, value []byte) error
	IsHealthy() bool
}

// Config configures the NATS output
type Config struct {
	Name           string
	SubjectPrefix  string
	TopologyBucket string
	Timeout        time.Duration
}

type metrics struct {
	published *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	snapshots prometheus.Counter
}

func newMetrics(registrar metric.MetricsRegistrar, name string) *metrics {
	if registrar == nil {
		return nil
	}
	m := &metrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "nats_output",
			Name:      "published_total",
			Help:      "Envelopes published to NATS by type",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "nats_output",
			Name:      "dropped_total",
			Help:      "Envelopes not published by type",
		}, []string{"type"}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "nats_output",
			Name:      "topology_snapshots_total",
			Help:      "Topology snapshots written to the KV bucket",
		}),
	}
	_ = registrar.RegisterCounterVec(name, "published", m.published)
	_ = registrar.RegisterCounterVec(name, "dropped", m.dropped)
	_ = registrar.RegisterCounter(name, "topology_snapshots", m.snapshots)
	return m
}

func (m *metrics) record(typ string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.dropped.WithLabelValues(typ).Inc()
		return
	}
	m.published.WithLabelValues(typ).Inc()
}

func (m *metrics) snapshot() {
	if m == nil {
		return
	}
	m.snapshots.Inc()
}

// Output publishes each event as an envelope on <prefix>.<type>. Events
// produced while NATS is unreachable are dropped and counted.
type Output struct {
	output.Encoder

	name      string
	prefix    string
	bucket    string
	timeout   time.Duration
	publisher Publisher
	logger    *slog.Logger
	metrics   *metrics

	flow     component.FlowTracker
	running  atomic.Bool
	warnings rate.Sometimes
}

// New creates a NATS output
func New(cfg Config, publisher Publisher, deps component.Dependencies) (*Output, error) {
	if publisher == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: NATS client is required", errors.ErrMissingConfig),
			"nats-output", "New", "validate publisher")
	}
	if cfg.Name == "" {
		cfg.Name = "nats-output"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.TopologyBucket == "" {
		cfg.TopologyBucket = DefaultTopologyBucket
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	o := &Output{
		name:      cfg.Name,
		prefix:    cfg.SubjectPrefix,
		bucket:    cfg.TopologyBucket,
		timeout:   cfg.Timeout,
		publisher: publisher,
		logger:    deps.GetLoggerWithComponent(cfg.Name),
		metrics:   newMetrics(deps.Registrar(), cfg.Name),
		warnings:  rate.Sometimes{Interval: 10 * time.Second},
	}
	o.Encoder = output.NewEncoder(deps.Platform.ID, o.publish)
	return o, nil
}

// Subject returns the subject envelopes of typ are published on
func (o *Output) Subject(typ string) string {
	return o.prefix + "." + typ
}

// Name implements pipeline.Sink
func (o *Output) Name() string { return o.name }

func (o *Output) publish(env *output.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		o.flow.Fail(err)
		return errors.WrapInvalid(err, o.name, "publish", "marshal envelope")
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	err = o.publisher.Publish(ctx, o.Subject(env.Type), data)
	o.metrics.record(env.Type, err)
	if err != nil {
		o.flow.Fail(err)
		if errors.IsTransient(err) {
			o.warnings.Do(func() {
				o.logger.Warn("NATS unavailable, dropping events", "error", err)
			})
			return nil
		}
		return err
	}
	o.flow.Record(len(data), time.Now())
	return nil
}

// HandleTopology publishes the change and stores the origin's current
// snapshot
func (o *Output) HandleTopology(c *topology.Change) error {
	if err := o.Encoder.HandleTopology(c); err != nil {
		return err
	}
	return o.storeSnapshot(c.Origin, c.Current)
}

// StoreSnapshots rewrites the stored snapshot of every origin given. Writes
// dropped while NATS was unreachable are restored this way after a
// reconnect. It returns the first non-transient error.
func (o *Output) StoreSnapshots(snapshots []topology.Snapshot) error {
	var first error
	for _, snap := range snapshots {
		if err := o.storeSnapshot(snap.Origin, snap); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (o *Output) storeSnapshot(origin string, snap topology.Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return errors.WrapInvalid(err, o.name, "storeSnapshot", "marshal snapshot")
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.publisher.PutKV(ctx, o.bucket, SnapshotKey(origin), value); err != nil {
		o.flow.Fail(err)
		if errors.IsTransient(err) {
			return nil
		}
		return err
	}
	o.metrics.snapshot()
	return nil
}

// SnapshotKey maps an origin to a valid KV key
func SnapshotKey(origin string) string {
	if origin == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '=':
			return r
		default:
			return '_'
		}
	}, origin)
}

// Meta implements component.Discoverable
func (o *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        o.name,
		Type:        "output",
		Description: "Publishes gateway events to NATS subjects under " + o.prefix,
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (o *Output) Health() component.HealthStatus {
	return o.flow.Health(o.running.Load() && o.publisher.IsHealthy(), time.Now())
}

// DataFlow implements component.Discoverable
func (o *Output) DataFlow() component.FlowMetrics {
	return o.flow.Flow(time.Now())
}

// Initialize implements component.LifecycleComponent
func (o *Output) Initialize() error { return nil }

// Start implements component.LifecycleComponent
func (o *Output) Start(context.Context) error {
	if o.running.Swap(true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, o.name, "Start", "check running")
	}
	o.flow.Begin(time.Now())
	o.logger.Info("NATS output started", "prefix", o.prefix, "bucket", o.bucket)
	return nil
}

// Stop implements component.LifecycleComponent. The NATS connection itself
// is owned and closed by the caller.
func (o *Output) Stop(time.Duration) error {
	o.running.Store(false)
	return nil
}
