package mixer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelyactive/barnowl/metric"
)

const serviceName = "mixer"

// Metrics holds Prometheus metrics for the mixing queue. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	entries   prometheus.Gauge
	merges    prometheus.Counter
	emitted   prometheus.Counter
	emitDelay prometheus.Histogram
}

func newMetrics(registry metric.MetricsRegistrar) (*Metrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &Metrics{
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "barnowl",
			Subsystem: "mixer",
			Name:      "entries",
			Help:      "Transmitter signatures currently held in the mixing window",
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "mixer",
			Name:      "merges_total",
			Help:      "Repeated sightings from one origin folded into an existing bucket",
		}),
		emitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "mixer",
			Name:      "emitted_total",
			Help:      "Aggregated groups emitted",
		}),
		emitDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "barnowl",
			Subsystem: "mixer",
			Name:      "emit_delay_seconds",
			Help:      "Time between first sighting and emission",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}

	if err := registry.RegisterGauge(serviceName, "entries", m.entries); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(serviceName, "merges_total", m.merges); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter(serviceName, "emitted_total", m.emitted); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram(serviceName, "emit_delay_seconds", m.emitDelay); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

func (m *Metrics) recordMerge() {
	if m == nil {
		return
	}
	m.merges.Inc()
}

func (m *Metrics) recordEmitted(delay time.Duration) {
	if m == nil {
		return
	}
	m.emitted.Inc()
	m.emitDelay.Observe(delay.Seconds())
}
