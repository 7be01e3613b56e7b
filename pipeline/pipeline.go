// Package pipeline routes reel bytes from listeners through the framer,
// mixing queue, topology manager, selector and payload codecs to sinks.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/mixer"
	"github.com/reelyactive/barnowl/payload"
	"github.com/reelyactive/barnowl/pkg/worker"
	"github.com/reelyactive/barnowl/reel"
	"github.com/reelyactive/barnowl/selector"
	"github.com/reelyactive/barnowl/topology"
)

// Event kinds, used as metric labels and output subjects
const (
	KindVisibility = "visibility"
	KindSensor     = "sensor"
	KindStatistics = "statistics"
	KindTopology   = "topology"
)

// chunk is one listener read, or a reset marker queued behind the reads
// that preceded a transport error.
type chunk struct {
	origin string
	data   []byte
	ts     time.Time
	reset  bool
}

type warnState struct {
	limiter    *rate.Limiter
	suppressed int
}

// Pipeline is the gateway core. Listeners call HandleData and HandleError;
// everything downstream happens on the pipeline's workers and the mixing
// queue's sweep goroutine.
type Pipeline struct {
	config   Config
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	metrics  *metric.Metrics
	now      func() time.Time

	framer   *reel.Framer
	mixer    *mixer.Queue
	topology *topology.Manager
	selector *selector.Selector
	payloads *payload.Processor
	pool     *worker.Pool[chunk]

	sinksMu sync.RWMutex
	sinks   []Sink

	warnMu sync.Mutex
	warns  map[string]*warnState

	lifecycleMu sync.Mutex
	running     atomic.Bool
	cancel      context.CancelFunc

	flow component.FlowTracker
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics enables core and per-stage metrics
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(p *Pipeline) {
		p.registry = registry
	}
}

// WithSinks adds sinks
func WithSinks(sinks ...Sink) Option {
	return func(p *Pipeline) {
		p.sinks = append(p.sinks, sinks...)
	}
}

// WithPayloadProcessor replaces the default payload codecs
func WithPayloadProcessor(processor *payload.Processor) Option {
	return func(p *Pipeline) {
		if processor != nil {
			p.payloads = processor
		}
	}
}

// WithClock sets the time source for the mixing queue, topology and
// warning limiter. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Pipeline. The topology manager's telemetry cleanup runs
// until ctx is cancelled or Stop is called.
func New(ctx context.Context, config Config, opts ...Option) (*Pipeline, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.WrapFatal(err, "Pipeline", "New", "validate config")
	}

	p := &Pipeline{
		config:   config,
		logger:   slog.Default(),
		now:      time.Now,
		framer:   reel.NewFramer(),
		payloads: payload.NewProcessor(),
		warns:    make(map[string]*warnState),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")

	var registrar metric.MetricsRegistrar
	if p.registry != nil {
		registrar = p.registry
		p.metrics = p.registry.CoreMetrics()
	}

	topoOpts := []topology.Option{
		topology.WithLogger(p.logger),
		topology.WithClock(p.now),
		topology.WithChangeHandler(p.onTopologyChange),
	}
	if registrar != nil {
		topoOpts = append(topoOpts, topology.WithMetrics(registrar))
	}
	topo, err := topology.NewManager(ctx, config.Telemetry, topoOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "Pipeline", "New", "create topology manager")
	}
	p.topology = topo

	sel, err := selector.New(config.SelectorN, topo)
	if err != nil {
		_ = topo.Close()
		return nil, errors.Wrap(err, "Pipeline", "New", "create selector")
	}
	p.selector = sel

	mixOpts := []mixer.Option{mixer.WithLogger(p.logger), mixer.WithClock(p.now)}
	if registrar != nil {
		mixOpts = append(mixOpts, mixer.WithMetrics(registrar))
	}
	queue, err := mixer.New(config.Mixing, p.onGroup, mixOpts...)
	if err != nil {
		_ = topo.Close()
		return nil, errors.Wrap(err, "Pipeline", "New", "create mixing queue")
	}
	p.mixer = queue

	var poolOpts []worker.Option[chunk]
	if registrar != nil {
		poolOpts = append(poolOpts, worker.WithMetricsRegistry[chunk](registrar, "pipeline"))
	}
	p.pool = worker.NewPool(config.Workers, config.QueueSize, p.process, poolOpts...)

	return p, nil
}

// AddSink registers a sink. Sinks added while running see only later events.
func (p *Pipeline) AddSink(s Sink) {
	p.sinksMu.Lock()
	defer p.sinksMu.Unlock()
	p.sinks = append(p.sinks, s)
}

// Topology returns the topology manager
func (p *Pipeline) Topology() *topology.Manager {
	return p.topology
}

// Meta implements component.Discoverable
func (p *Pipeline) Meta() component.Metadata {
	return component.Metadata{
		Name:        "pipeline",
		Type:        "processor",
		Description: "Reel framing, mixing, topology and payload decoding",
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (p *Pipeline) Health() component.HealthStatus {
	return p.flow.Health(p.running.Load(), p.now())
}

// DataFlow implements component.Discoverable
func (p *Pipeline) DataFlow() component.FlowMetrics {
	return p.flow.Flow(p.now())
}

// Initialize implements component.LifecycleComponent. Validation happens
// in New.
func (p *Pipeline) Initialize() error {
	return nil
}

// Start launches the workers and the mixing queue sweep. Queued data is
// drained by Stop even if ctx is cancelled first.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Pipeline", "Start", "check state")
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := p.mixer.Start(runCtx); err != nil {
		cancel()
		return errors.Wrap(err, "Pipeline", "Start", "start mixing queue")
	}
	if err := p.pool.Start(runCtx); err != nil {
		cancel()
		_ = p.mixer.Stop(time.Second)
		return errors.Wrap(err, "Pipeline", "Start", "start workers")
	}
	p.cancel = cancel
	p.flow.Begin(p.now())
	p.running.Store(true)
	p.metrics.RecordComponentStatus("pipeline", 2)

	p.logger.Info("pipeline started",
		"workers", p.config.Workers,
		"mixing", p.config.Mixing.Enabled,
		"mixing_delay", p.config.Mixing.Delay,
		"selector_n", p.config.SelectorN)
	return nil
}

// Stop drains queued data, flushes the mixing queue to the sinks and
// closes the topology manager.
func (p *Pipeline) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	p.metrics.RecordComponentStatus("pipeline", 3)

	var errs []error
	if err := p.pool.Stop(timeout); err != nil {
		errs = append(errs, errors.Wrap(err, "Pipeline", "Stop", "drain workers"))
	}
	if err := p.mixer.Stop(timeout); err != nil {
		errs = append(errs, errors.Wrap(err, "Pipeline", "Stop", "flush mixing queue"))
	}
	if err := p.topology.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "Pipeline", "Stop", "close topology"))
	}
	p.cancel()
	p.metrics.RecordComponentStatus("pipeline", 0)

	p.logger.Info("pipeline stopped", "messages", p.flow.Messages(), "errors", p.flow.Errors())
	return stderrors.Join(errs...)
}

// HandleData queues bytes read from origin. Data for one origin is decoded
// in the order it was handed over. It blocks while the origin's shard is
// full, until ctx is done. data is copied.
func (p *Pipeline) HandleData(ctx context.Context, origin string, data []byte, ts time.Time) error {
	if !p.running.Load() {
		return errors.WrapTransient(errors.ErrNotStarted, "Pipeline", "HandleData", "check state")
	}
	if len(data) == 0 {
		return nil
	}
	if ts.IsZero() {
		ts = p.now()
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	p.flow.Record(len(buf), p.now())

	if err := p.pool.SubmitWait(ctx, origin, chunk{origin: origin, data: buf, ts: ts}); err != nil {
		return errors.WrapTransient(err, "Pipeline", "HandleData", "queue data")
	}
	return nil
}

// HandleError records a transport failure on origin. Bytes buffered for the
// origin are discarded once the data queued before the failure is decoded,
// so a partial frame is never spliced onto data from a new connection.
func (p *Pipeline) HandleError(origin string, err error) {
	class := errors.Classify(err).String()
	p.logger.Warn("listener error", "origin", origin, "error", err, "class", class)
	p.metrics.RecordError("listener", class)
	p.flow.Fail(err)

	if !p.running.Load() {
		p.framer.Reset(origin)
		return
	}
	if serr := p.pool.Submit(origin, chunk{origin: origin, reset: true}); serr != nil {
		p.framer.Reset(origin)
	}
}

func (p *Pipeline) process(_ context.Context, c chunk) error {
	if c.reset {
		p.framer.Reset(c.origin)
		return nil
	}

	start := time.Now()
	defer func() {
		p.metrics.RecordProcessingDuration("framer", time.Since(start))
	}()

	p.metrics.RecordBytes(len(c.data))
	packets, decodeErrs := p.framer.Submit(c.origin, c.data, c.ts)

	for _, de := range decodeErrs {
		p.decodeFailed(c.origin, de)
	}
	for _, packet := range packets {
		p.metrics.RecordPacket(packet.Kind().String())
		p.route(packet)
	}

	if len(decodeErrs) > 0 {
		return decodeErrs[0]
	}
	return nil
}

// decodeFailed counts every discarded frame; the warning is rate limited
// per origin.
func (p *Pipeline) decodeFailed(origin string, de *reel.DecodeError) {
	p.metrics.RecordDecodeError(de.Reason())

	p.warnMu.Lock()
	state, ok := p.warns[origin]
	if !ok {
		state = &warnState{limiter: rate.NewLimiter(rate.Every(p.config.WarnInterval), p.config.WarnBurst)}
		p.warns[origin] = state
	}
	if !state.limiter.AllowN(p.now(), 1) {
		state.suppressed++
		p.warnMu.Unlock()
		return
	}
	suppressed := state.suppressed
	state.suppressed = 0
	p.warnMu.Unlock()

	p.logger.Warn("discarded reel frame",
		"origin", origin,
		"reason", de.Reason(),
		"discarded_bytes", de.Consumed,
		"suppressed", suppressed,
		"error", de.Err)
}

func (p *Pipeline) route(packet reel.Packet) {
	switch pkt := packet.(type) {
	case *reel.RadioSignal:
		p.mixer.Ingest(pkt)
	case *reel.ReelAnnounce:
		// Changes reach the sinks through onTopologyChange.
		p.topology.HandleAnnounce(pkt)
	case *reel.ReceiverStatistics:
		t := p.topology.HandleStatistics(pkt)
		p.fanOut(KindStatistics, func(s Sink) error { return s.HandleStatistics(&t) })
	}
}

func (p *Pipeline) onTopologyChange(c topology.Change) {
	p.fanOut(KindTopology, func(s Sink) error { return s.HandleTopology(&c) })
}

// onGroup runs for every group the mixing queue emits. A payload no codec
// understands still yields a visibility event under its raw identifier.
func (p *Pipeline) onGroup(g mixer.Group) {
	event := p.selector.Select(g)

	fields, err := p.payloads.Decode(event.Payload)
	if err != nil {
		p.metrics.RecordPayloadError()
		p.logger.Debug("payload not decoded", "transmitter", event.Transmitter.String(), "error", err)
		fields = nil
	}

	v := visibilityFrom(event, fields)
	p.fanOut(KindVisibility, func(s Sink) error { return s.HandleVisibility(v) })

	if sr := sensorFrom(v); sr != nil {
		p.fanOut(KindSensor, func(s Sink) error { return s.HandleSensor(sr) })
	}
}

// fanOut delivers one event to every sink. A failing sink is logged and
// counted; it never stops delivery to the others.
func (p *Pipeline) fanOut(kind string, deliver func(Sink) error) {
	p.metrics.RecordEvent(kind)

	p.sinksMu.RLock()
	sinks := p.sinks
	p.sinksMu.RUnlock()

	for _, s := range sinks {
		if err := deliver(s); err != nil {
			p.metrics.RecordError(s.Name(), errors.Classify(err).String())
			p.flow.Fail(fmt.Errorf("sink %s: %w", s.Name(), err))
			p.logger.Warn("sink failed", "sink", s.Name(), "kind", kind, "error", err)
		}
	}
}
