package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/metric"
)

// DefaultInterval is how often a Checker polls components
const DefaultInterval = 10 * time.Second

// Checker polls the registered components into a Monitor and serves the
// aggregate over HTTP.
type Checker struct {
	system   string
	registry *component.Registry
	monitor  *Monitor
	metrics  *metric.Metrics
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	reported map[string]Status
}

// CheckerOption configures a Checker
type CheckerOption func(*Checker)

// WithMetrics records each component's health as a gauge
func WithMetrics(metrics *metric.Metrics) CheckerOption {
	return func(c *Checker) { c.metrics = metrics }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) CheckerOption {
	return func(c *Checker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInterval sets the polling interval
func WithInterval(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.interval = d
		}
	}
}

// NewChecker creates a Checker for the components in registry
func NewChecker(system string, registry *component.Registry, opts ...CheckerOption) *Checker {
	c := &Checker{
		system:   system,
		registry: registry,
		monitor:  NewMonitor(),
		logger:   slog.Default(),
		interval: DefaultInterval,
		reported: make(map[string]Status),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "health")
	return c
}

// Monitor returns the underlying monitor
func (c *Checker) Monitor() *Monitor {
	return c.monitor
}

// Report records the state of something that is not a registered component,
// such as the NATS connection. It is folded into every later Check until
// reported again.
func (c *Checker) Report(name string, healthy bool, message string) {
	state := StatusUnhealthy
	if healthy {
		state = StatusHealthy
	}
	c.mu.Lock()
	c.reported[name] = newStatus(name, state, sanitizeErrorMessage(message))
	c.mu.Unlock()
}

// Check polls every registered component once and returns the aggregate
// including reported statuses. Components that disappeared from the registry
// are dropped.
func (c *Checker) Check() Status {
	seen := make(map[string]bool)
	for name, comp := range c.registry.ListComponents() {
		seen[name] = true
		ch := comp.Health()
		status := FromComponentHealth(name, ch)
		flow := comp.DataFlow()
		status.Metrics.MessagesPerSecond = flow.MessagesPerSecond
		status.Metrics.LastActivity = flow.LastActivity

		if prev, ok := c.monitor.Get(name); ok && prev.Healthy != status.Healthy {
			c.logger.Info("component health changed", "name", name, "healthy", status.Healthy, "message", status.Message)
		}
		c.monitor.Update(name, status)
		c.metrics.RecordHealthStatus(name, status.Healthy)
	}

	c.mu.Lock()
	for name, status := range c.reported {
		seen[name] = true
		if prev, ok := c.monitor.Get(name); ok && prev.Healthy != status.Healthy {
			c.logger.Info("health changed", "name", name, "healthy", status.Healthy, "message", status.Message)
		}
		c.monitor.Update(name, status)
		c.metrics.RecordHealthStatus(name, status.Healthy)
	}
	c.mu.Unlock()
	for name := range c.monitor.GetAll() {
		if !seen[name] {
			c.monitor.Remove(name)
		}
	}
	return c.monitor.AggregateHealth(c.system)
}

// Run polls until ctx is done
func (c *Checker) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Check()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Check()
		}
	}
}

// ServeHTTP writes a fresh aggregate as JSON. Unhealthy systems answer 503
// so load balancers and container runtimes can act on the status code.
func (c *Checker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := c.Check()

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		c.logger.Debug("write health response", "error", err)
	}
}
