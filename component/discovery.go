// Package component defines the Discoverable interface and related types
package component

import (
	"sync/atomic"
	"time"
)

// Discoverable defines the interface for components that can be discovered
// and inspected by the management layer: listeners, the pipeline and
// outputs all report identity, health and flow through it.
type Discoverable interface {
	// Meta returns basic component information
	Meta() Metadata

	// Health returns current health status
	Health() HealthStatus

	// DataFlow returns current data flow metrics
	DataFlow() FlowMetrics
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "processor", "output"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	BytesPerSecond    float64   `json:"bytes_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}

// FlowTracker accumulates the counters behind FlowMetrics and
// HealthStatus. The zero value is ready once Begin has been called.
type FlowTracker struct {
	messages     atomic.Int64
	bytes        atomic.Int64
	errors       atomic.Int64
	lastActivity atomic.Int64 // unix nanos
	started      atomic.Int64 // unix nanos
	lastError    atomic.Value // string
}

// Begin marks the start of the measurement window
func (f *FlowTracker) Begin(now time.Time) {
	f.started.Store(now.UnixNano())
}

// Record counts one message of n bytes
func (f *FlowTracker) Record(n int, now time.Time) {
	f.messages.Add(1)
	f.bytes.Add(int64(n))
	f.lastActivity.Store(now.UnixNano())
}

// Fail counts an error and remembers its text
func (f *FlowTracker) Fail(err error) {
	f.errors.Add(1)
	if err != nil {
		f.lastError.Store(err.Error())
	}
}

// Messages returns the number of messages recorded
func (f *FlowTracker) Messages() int64 { return f.messages.Load() }

// Errors returns the number of errors recorded
func (f *FlowTracker) Errors() int64 { return f.errors.Load() }

// Uptime returns the time since Begin, or zero before it
func (f *FlowTracker) Uptime(now time.Time) time.Duration {
	started := f.started.Load()
	if started == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, started))
}

// Flow computes rates over the time since Begin
func (f *FlowTracker) Flow(now time.Time) FlowMetrics {
	messages := f.messages.Load()
	var fm FlowMetrics
	if uptime := f.Uptime(now).Seconds(); uptime > 0 {
		fm.MessagesPerSecond = float64(messages) / uptime
		fm.BytesPerSecond = float64(f.bytes.Load()) / uptime
	}
	if messages > 0 {
		fm.ErrorRate = float64(f.errors.Load()) / float64(messages)
	}
	if last := f.lastActivity.Load(); last != 0 {
		fm.LastActivity = time.Unix(0, last)
	}
	return fm
}

// Health builds a HealthStatus from the tracked counters
func (f *FlowTracker) Health(healthy bool, now time.Time) HealthStatus {
	lastError, _ := f.lastError.Load().(string)
	return HealthStatus{
		Healthy:    healthy,
		LastCheck:  now,
		ErrorCount: int(f.errors.Load()),
		LastError:  lastError,
		Uptime:     f.Uptime(now),
	}
}
