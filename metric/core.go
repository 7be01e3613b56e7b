package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "barnowl"

// Metrics contains the gateway-level metrics shared by every component.
// Component-specific metrics (mixer, topology, listeners) are registered by
// their own packages through MetricsRegistrar.
type Metrics struct {
	ComponentStatus    *prometheus.GaugeVec
	BytesReceived      prometheus.Counter
	PacketsDecoded     *prometheus.CounterVec
	DecodeErrors       *prometheus.CounterVec
	EventsEmitted      *prometheus.CounterVec
	PayloadErrors      prometheus.Counter
	ProcessingDuration *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	HealthCheckStatus  *prometheus.GaugeVec

	NATSConnected      prometheus.Gauge
	NATSRTT            prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates the core gateway metrics. They are not registered until
// handed to a MetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "component",
			Name:      "status",
			Help:      "Component status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
		}, []string{"component"}),

		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "framer",
			Name:      "bytes_total",
			Help:      "Total bytes submitted to the stream framer",
		}),

		PacketsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "framer",
			Name:      "packets_total",
			Help:      "Reel packets decoded by type",
		}, []string{"type"}),

		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "framer",
			Name:      "decode_errors_total",
			Help:      "Frames discarded by the decoder, by reason",
		}, []string{"reason"}),

		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Events handed to sinks, by kind",
		}, []string{"kind"}),

		PayloadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "payload",
			Name:      "errors_total",
			Help:      "Transmitter payloads the payload codec could not decode",
		}),

		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "processing",
			Name:      "duration_seconds",
			Help:      "Processing duration in seconds by operation",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"operation"}),

		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "errors",
			Name:      "total",
			Help:      "Total number of errors by component and class",
		}, []string{"component", "class"}),

		HealthCheckStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "status",
			Help:      "Health check status (0=unhealthy, 1=healthy)",
		}, []string{"component"}),

		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "connected",
			Help:      "NATS connection status (0=disconnected, 1=connected)",
		}),

		NATSRTT: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "rtt_milliseconds",
			Help:      "NATS round-trip time in milliseconds",
		}),

		NATSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "Total number of NATS reconnections",
		}),

		NATSCircuitBreaker: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "nats",
			Name:      "circuit_breaker",
			Help:      "NATS circuit breaker status (0=closed, 1=open, 2=half-open)",
		}),
	}
}

func (c *Metrics) mustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.ComponentStatus,
		c.BytesReceived,
		c.PacketsDecoded,
		c.DecodeErrors,
		c.EventsEmitted,
		c.PayloadErrors,
		c.ProcessingDuration,
		c.ErrorsTotal,
		c.HealthCheckStatus,
		c.NATSConnected,
		c.NATSRTT,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	)
}

// Record methods are no-ops on a nil *Metrics so callers need not check
// whether metrics are enabled.

// RecordComponentStatus updates the component status metric
func (c *Metrics) RecordComponentStatus(component string, status int) {
	if c == nil {
		return
	}
	c.ComponentStatus.WithLabelValues(component).Set(float64(status))
}

// RecordBytes adds to the framer byte counter
func (c *Metrics) RecordBytes(n int) {
	if c == nil {
		return
	}
	c.BytesReceived.Add(float64(n))
}

// RecordPacket increments the decoded packet counter
func (c *Metrics) RecordPacket(packetType string) {
	if c == nil {
		return
	}
	c.PacketsDecoded.WithLabelValues(packetType).Inc()
}

// RecordDecodeError increments the decode error counter
func (c *Metrics) RecordDecodeError(reason string) {
	if c == nil {
		return
	}
	c.DecodeErrors.WithLabelValues(reason).Inc()
}

// RecordEvent increments the emitted event counter
func (c *Metrics) RecordEvent(kind string) {
	if c == nil {
		return
	}
	c.EventsEmitted.WithLabelValues(kind).Inc()
}

// RecordPayloadError increments the payload codec error counter
func (c *Metrics) RecordPayloadError() {
	if c == nil {
		return
	}
	c.PayloadErrors.Inc()
}

// RecordProcessingDuration records processing time
func (c *Metrics) RecordProcessingDuration(operation string, duration time.Duration) {
	if c == nil {
		return
	}
	c.ProcessingDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordError increments the error counter
func (c *Metrics) RecordError(component, class string) {
	if c == nil {
		return
	}
	c.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	if c == nil {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSRTT updates NATS round-trip time
func (c *Metrics) RecordNATSRTT(rtt time.Duration) {
	if c == nil {
		return
	}
	c.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	if c == nil {
		return
	}
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(state int) {
	if c == nil {
		return
	}
	c.NATSCircuitBreaker.Set(float64(state))
}
