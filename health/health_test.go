package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/metric"
)

type stubComponent struct {
	name   string
	health component.HealthStatus
	flow   component.FlowMetrics
}

func (s *stubComponent) Meta() component.Metadata        { return component.Metadata{Name: s.name} }
func (s *stubComponent) Health() component.HealthStatus  { return s.health }
func (s *stubComponent) DataFlow() component.FlowMetrics { return s.flow }

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty string", "", ""},
		{"serial device path", "open /dev/ttyUSB0: no such file or directory", "open [PATH]: no such file or directory"},
		{"config path", "failed to open /etc/barnowl/config.yaml", "failed to open [PATH]"},
		{"NATS URL", "cannot connect to nats://localhost:4222", "cannot connect to [URL]"},
		{"websocket URL", "dial ws://gateway.local/events failed", "dial [URL] failed"},
		{"IP address", "timeout reading from 192.168.1.100", "timeout reading from [IP]"},
		{"port", "failed to bind to :50000", "failed to bind to [PORT]"},
		{"credentials", "auth failed with token=abc123", "auth failed with [REDACTED]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeErrorMessage(tt.input))
		})
	}
}

func TestFromComponentHealth(t *testing.T) {
	tests := []struct {
		name        string
		health      component.HealthStatus
		wantStatus  string
		wantMessage string
	}{
		{
			name:        "running without errors",
			health:      component.HealthStatus{Healthy: true, Uptime: time.Hour},
			wantStatus:  StatusHealthy,
			wantMessage: "Component healthy",
		},
		{
			name:        "running with past errors",
			health:      component.HealthStatus{Healthy: true, ErrorCount: 2, LastError: "frame too long"},
			wantStatus:  StatusHealthy,
			wantMessage: "Component healthy",
		},
		{
			name:        "failed with error",
			health:      component.HealthStatus{Healthy: false, ErrorCount: 3, LastError: "read /dev/ttyUSB0: device disconnected"},
			wantStatus:  StatusUnhealthy,
			wantMessage: "read [PATH]: device disconnected",
		},
		{
			name:        "stopped",
			health:      component.HealthStatus{Healthy: false},
			wantStatus:  StatusUnhealthy,
			wantMessage: "Component not running",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromComponentHealth("serial-0", tt.health)
			assert.Equal(t, "serial-0", got.Component)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.health.Healthy, got.Healthy)
			assert.Equal(t, tt.wantMessage, got.Message)
			require.NotNil(t, got.Metrics)
			assert.Equal(t, tt.health.Uptime, got.Metrics.Uptime)
			assert.Equal(t, tt.health.ErrorCount, got.Metrics.ErrorCount)
			assert.False(t, got.Timestamp.IsZero())
		})
	}
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		subs []Status
		want string
	}{
		{"empty", nil, StatusHealthy},
		{"all healthy", []Status{newStatus("a", StatusHealthy, ""), newStatus("b", StatusHealthy, "")}, StatusHealthy},
		{"one degraded", []Status{newStatus("a", StatusHealthy, ""), newStatus("b", StatusDegraded, "")}, StatusDegraded},
		{"unhealthy wins", []Status{newStatus("a", StatusDegraded, ""), newStatus("b", StatusUnhealthy, ""), newStatus("c", StatusHealthy, "")}, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("barnowl", tt.subs)
			assert.Equal(t, tt.want, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestWithSubStatus_SliceIsolation(t *testing.T) {
	original := Status{Component: "parent", Status: StatusHealthy, SubStatuses: []Status{{Component: "child1", Status: StatusHealthy}}}
	modified := original.WithSubStatus(Status{Component: "child2", Status: StatusUnhealthy})

	assert.Len(t, original.SubStatuses, 1)
	assert.Len(t, modified.SubStatuses, 2)

	original.SubStatuses[0].Status = StatusDegraded
	assert.Equal(t, StatusHealthy, modified.SubStatuses[0].Status)
}

func TestMonitor(t *testing.T) {
	m := NewMonitor()
	m.Update("udp", Status{Component: "ignored", Status: StatusHealthy, Healthy: true})
	m.Update("serial", newStatus("serial", StatusUnhealthy, "device missing"))

	got, ok := m.Get("udp")
	require.True(t, ok)
	assert.Equal(t, "udp", got.Component)
	assert.False(t, got.Timestamp.IsZero())
	assert.Len(t, m.GetAll(), 2)

	agg := m.AggregateHealth("barnowl")
	assert.Equal(t, StatusUnhealthy, agg.Status)
	require.Len(t, agg.SubStatuses, 2)
	assert.Equal(t, "serial", agg.SubStatuses[0].Component)
	assert.Equal(t, "udp", agg.SubStatuses[1].Component)

	m.Remove("serial")
	assert.Equal(t, StatusHealthy, m.AggregateHealth("barnowl").Status)
	assert.Len(t, m.GetAll(), 1)
}

func TestChecker_CheckAndServe(t *testing.T) {
	registry := component.NewRegistry()
	pipeline := &stubComponent{name: "pipeline", health: component.HealthStatus{Healthy: true}, flow: component.FlowMetrics{MessagesPerSecond: 12}}
	serial := &stubComponent{name: "serial-0", health: component.HealthStatus{Healthy: true}}
	require.NoError(t, registry.RegisterInstance("pipeline", pipeline))
	require.NoError(t, registry.RegisterInstance("serial-0", serial))

	metrics := metric.NewMetricsRegistry().CoreMetrics()
	checker := NewChecker("barnowl", registry, WithMetrics(metrics))

	status := checker.Check()
	assert.Equal(t, StatusHealthy, status.Status)
	got, ok := checker.Monitor().Get("pipeline")
	require.True(t, ok)
	assert.Equal(t, 12.0, got.Metrics.MessagesPerSecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("serial-0")))

	serial.health = component.HealthStatus{Healthy: false, LastError: "open /dev/ttyUSB0: permission denied"}
	rec := httptest.NewRecorder()
	checker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, StatusUnhealthy, body.Status)
	require.Len(t, body.SubStatuses, 2)
	assert.Equal(t, "open [PATH]: permission denied", body.SubStatuses[1].Message)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("serial-0")))

	registry.UnregisterInstance("serial-0")
	assert.Equal(t, StatusHealthy, checker.Check().Status)
	assert.Len(t, checker.Monitor().GetAll(), 1)
}

func TestChecker_ReportedStatus(t *testing.T) {
	registry := component.NewRegistry()
	require.NoError(t, registry.RegisterInstance("pipeline", &stubComponent{name: "pipeline", health: component.HealthStatus{Healthy: true}}))

	metrics := metric.NewMetricsRegistry().CoreMetrics()
	checker := NewChecker("barnowl", registry, WithMetrics(metrics))

	checker.Report("nats", false, "dial nats://10.0.0.9:4222: connection refused")
	status := checker.Check()
	assert.Equal(t, StatusUnhealthy, status.Status)
	got, ok := checker.Monitor().Get("nats")
	require.True(t, ok)
	assert.NotContains(t, got.Message, "10.0.0.9")
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("nats")))

	checker.Report("nats", true, "connected")
	assert.Equal(t, StatusHealthy, checker.Check().Status)
	assert.Len(t, checker.Monitor().GetAll(), 2, "reported statuses survive registry pruning")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("nats")))
}
