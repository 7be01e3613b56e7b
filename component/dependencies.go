package component

import (
	"log/slog"

	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/natsclient"
)

// PlatformMeta identifies the gateway instance in published events
type PlatformMeta struct {
	ID string `json:"id"`
}

// Dependencies provides all external dependencies needed by components.
type Dependencies struct {
	NATSClient      *natsclient.Client      // NATS client for messaging (can be nil)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	Platform        PlatformMeta            // Gateway identity
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

// Registrar returns the metrics registry as a MetricsRegistrar, or nil when
// metrics are disabled. A typed nil pointer is never returned.
func (d *Dependencies) Registrar() metric.MetricsRegistrar {
	if d.MetricsRegistry == nil {
		return nil
	}
	return d.MetricsRegistry
}
