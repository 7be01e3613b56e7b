package worker

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelyactive/barnowl/metric"
)

// Pool is a key-sharded worker pool processing work of type T
type Pool[T any] struct {
	// Configuration
	workers   int
	queueSize int
	processor func(context.Context, T) error

	// Runtime state
	shards  []chan T
	metrics *Metrics
	wg      sync.WaitGroup

	// Lifecycle management; Submit holds the read side
	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	// Statistics (atomic)
	submitted int64
	processed int64
	failed    int64
	dropped   int64

	// Metrics configuration
	metricsRegistry metric.MetricsRegistrar
	metricsPrefix   string
	metricsErr      error
}

// Metrics holds Prometheus metrics for worker pool monitoring
type Metrics struct {
	queueDepth     prometheus.Gauge
	submitted      prometheus.Counter
	processed      prometheus.Counter
	failed         prometheus.Counter
	dropped        prometheus.Counter
	processingTime *prometheus.HistogramVec
}

// Option represents a configuration option for the worker pool
type Option[T any] func(*Pool[T])

// WithMetricsRegistry configures the pool to register metrics with the gateway's registry
func WithMetricsRegistry[T any](registry metric.MetricsRegistrar, prefix string) Option[T] {
	return func(p *Pool[T]) {
		p.metricsRegistry = registry
		p.metricsPrefix = prefix
	}
}

// NewPool creates a pool of workers, each with its own queue of queueSize
func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...Option[T]) *Pool[T] {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if processor == nil {
		panic(ErrNilProcessor)
	}

	pool := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		shards:    make([]chan T, workers),
	}
	for i := range pool.shards {
		pool.shards[i] = make(chan T, queueSize)
	}

	for _, opt := range opts {
		opt(pool)
	}

	if pool.metricsRegistry != nil && pool.metricsPrefix != "" {
		pool.metricsErr = pool.initializeMetrics()
	}

	return pool
}

func (p *Pool[T]) initializeMetrics() error {
	prefix := p.metricsPrefix

	m := &Metrics{
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "barnowl",
			Name:      prefix + "_queue_depth",
			Help:      "Work items queued across all shards",
		}),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Name:      prefix + "_submitted_total",
			Help:      "Total work items submitted",
		}),
		processed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Name:      prefix + "_processed_total",
			Help:      "Total work items processed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Name:      prefix + "_failed_total",
			Help:      "Total work items that failed processing",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Name:      prefix + "_dropped_total",
			Help:      "Total work items dropped due to a full shard queue",
		}),
		processingTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "barnowl",
			Name:      prefix + "_processing_duration_seconds",
			Help:      "Time spent processing work items",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"status"}),
	}

	serviceName := "worker_pool"
	if err := p.metricsRegistry.RegisterGauge(serviceName, prefix+"_queue_depth", m.queueDepth); err != nil {
		return err
	}
	counters := map[string]prometheus.Counter{
		prefix + "_submitted_total": m.submitted,
		prefix + "_processed_total": m.processed,
		prefix + "_failed_total":    m.failed,
		prefix + "_dropped_total":   m.dropped,
	}
	for name, c := range counters {
		if err := p.metricsRegistry.RegisterCounter(serviceName, name, c); err != nil {
			return err
		}
	}
	if err := p.metricsRegistry.RegisterHistogramVec(serviceName, prefix+"_processing_duration_seconds", m.processingTime); err != nil {
		return err
	}

	p.metrics = m
	return nil
}

// Shard returns the worker index that processes key
func (p *Pool[T]) Shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.workers))
}

// Submit queues work on the shard for key. It never blocks; a full shard
// drops the work and returns ErrQueueFull.
func (p *Pool[T]) Submit(key string, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.acceptingLocked(); err != nil {
		return err
	}

	select {
	case p.shards[p.Shard(key)] <- work:
		p.recordSubmitted()
		return nil
	default:
		atomic.AddInt64(&p.dropped, 1)
		if p.metrics != nil {
			p.metrics.dropped.Inc()
		}
		return ErrQueueFull
	}
}

// SubmitWait queues work on the shard for key, blocking until there is room
// or ctx is done.
func (p *Pool[T]) SubmitWait(ctx context.Context, key string, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if err := p.acceptingLocked(); err != nil {
		return err
	}

	select {
	case p.shards[p.Shard(key)] <- work:
		p.recordSubmitted()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) acceptingLocked() error {
	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}
	return nil
}

func (p *Pool[T]) recordSubmitted() {
	atomic.AddInt64(&p.submitted, 1)
	if p.metrics != nil {
		p.metrics.submitted.Inc()
		p.metrics.queueDepth.Set(float64(p.queueDepth()))
	}
}

// Start starts one goroutine per shard
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.metricsErr != nil {
		return p.metricsErr
	}
	if p.started {
		return ErrPoolAlreadyStarted
	}

	for i := range p.shards {
		p.wg.Add(1)
		go p.worker(ctx, p.shards[i])
	}

	p.started = true
	return nil
}

// Stop closes the shard queues and waits for accepted work to drain
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	for _, shard := range p.shards {
		close(shard)
	}
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: p.queueDepth(),
		Submitted:  atomic.LoadInt64(&p.submitted),
		Processed:  atomic.LoadInt64(&p.processed),
		Failed:     atomic.LoadInt64(&p.failed),
		Dropped:    atomic.LoadInt64(&p.dropped),
	}
}

// PoolStats represents worker pool statistics
type PoolStats struct {
	Workers    int   `json:"workers"`
	QueueSize  int   `json:"queue_size"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

func (p *Pool[T]) queueDepth() int {
	depth := 0
	for _, shard := range p.shards {
		depth += len(shard)
	}
	return depth
}

func (p *Pool[T]) worker(ctx context.Context, queue <-chan T) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-queue:
			if !ok {
				return
			}

			start := time.Now()
			err := p.processor(ctx, work)
			duration := time.Since(start)

			atomic.AddInt64(&p.processed, 1)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			}

			if p.metrics != nil {
				p.metrics.processed.Inc()
				status := "success"
				if err != nil {
					p.metrics.failed.Inc()
					status = "error"
				}
				p.metrics.processingTime.WithLabelValues(status).Observe(duration.Seconds())
				p.metrics.queueDepth.Set(float64(p.queueDepth()))
			}
		}
	}
}
