package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/mixer"
	"github.com/reelyactive/barnowl/pipeline"
	"github.com/reelyactive/barnowl/pkg/retry"
	"github.com/reelyactive/barnowl/selector"
	"github.com/reelyactive/barnowl/topology"
)

// Listener types
const (
	ListenerUDP       = "udp"
	ListenerSerial    = "serial"
	ListenerHCI       = "hci"
	ListenerSimulated = "simulated"
	ListenerBlueCats  = "bluecats"
	ListenerEvent     = "event"
)

// Config represents the complete gateway configuration
type Config struct {
	Platform  PlatformConfig   `json:"platform"  yaml:"platform"`
	Listeners []ListenerConfig `json:"listeners" yaml:"listeners"`
	Mixing    mixer.Config     `json:"mixing"    yaml:"mixing"`
	Selector  SelectorConfig   `json:"selector"  yaml:"selector"`
	Pipeline  PipelineConfig   `json:"pipeline"  yaml:"pipeline"`
	Telemetry topology.Config  `json:"telemetry" yaml:"telemetry"`
	NATS      NATSConfig       `json:"nats"      yaml:"nats"`
	Outputs   OutputsConfig    `json:"outputs"   yaml:"outputs"`
	Metrics   MetricsConfig    `json:"metrics"   yaml:"metrics"`
}

// PlatformConfig identifies this gateway instance
type PlatformConfig struct {
	ID string `json:"id" yaml:"id"`
}

// ListenerConfig configures one transport listener. Path is the device
// path for serial and hci listeners and the bind address for udp and
// bluecats. Origin overrides the origin label where the listener has a
// single stream.
type ListenerConfig struct {
	Type      string        `json:"type"               yaml:"type"`
	Name      string        `json:"name"               yaml:"name"`
	Enabled   *bool         `json:"enabled,omitempty"  yaml:"enabled,omitempty"`
	Path      string        `json:"path,omitempty"     yaml:"path,omitempty"`
	Origin    string        `json:"origin,omitempty"   yaml:"origin,omitempty"`
	Baud      int           `json:"baud,omitempty"     yaml:"baud,omitempty"`
	Interval  time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	Reconnect retry.Config  `json:"reconnect"          yaml:"reconnect"`
}

// IsEnabled reports whether the listener should run. Listeners are enabled
// unless explicitly disabled.
func (l ListenerConfig) IsEnabled() bool {
	return l.Enabled == nil || *l.Enabled
}

// SelectorConfig configures the decoding selector
type SelectorConfig struct {
	N int `json:"n" yaml:"n"`
}

// PipelineConfig sizes the decode workers
type PipelineConfig struct {
	Workers      int           `json:"workers"       yaml:"workers"`
	QueueSize    int           `json:"queue_size"    yaml:"queue_size"`
	WarnInterval time.Duration `json:"warn_interval" yaml:"warn_interval"`
	WarnBurst    int           `json:"warn_burst"    yaml:"warn_burst"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs           []string      `json:"urls,omitempty"            yaml:"urls,omitempty"`
	SubjectPrefix  string        `json:"subject_prefix"            yaml:"subject_prefix"`
	TopologyBucket string        `json:"topology_bucket"           yaml:"topology_bucket"`
	MaxReconnects  int           `json:"max_reconnects,omitempty"  yaml:"max_reconnects,omitempty"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty"  yaml:"reconnect_wait,omitempty"`
	PingInterval   time.Duration `json:"ping_interval,omitempty"   yaml:"ping_interval,omitempty"`
	DrainTimeout   time.Duration `json:"drain_timeout,omitempty"   yaml:"drain_timeout,omitempty"`
	Username       string        `json:"username,omitempty"        yaml:"username,omitempty"`
	Password       string        `json:"password,omitempty"        yaml:"password,omitempty"`
	Token          string        `json:"token,omitempty"           yaml:"token,omitempty"`
}

// OutputsConfig selects the event sinks
type OutputsConfig struct {
	NATS      NATSOutputConfig      `json:"nats"      yaml:"nats"`
	File      FileOutputConfig      `json:"file"      yaml:"file"`
	WebSocket WebSocketOutputConfig `json:"websocket" yaml:"websocket"`
}

// NATSOutputConfig enables publishing to NATS
type NATSOutputConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// FileOutputConfig configures the JSON-lines file sink
type FileOutputConfig struct {
	Enabled   bool   `json:"enabled"   yaml:"enabled"`
	Directory string `json:"directory" yaml:"directory"`
	Prefix    string `json:"prefix"    yaml:"prefix"`
	MaxSize   int64  `json:"max_size"  yaml:"max_size"`
	MaxFiles  int    `json:"max_files" yaml:"max_files"`
}

// WebSocketOutputConfig configures the websocket broadcast server
type WebSocketOutputConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port"    yaml:"port"`
	Path    string `json:"path"    yaml:"path"`
}

// MetricsConfig configures the Prometheus and health endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port"    yaml:"port"`
	Path    string `json:"path"    yaml:"path"`
}

// Default returns the configuration used when no file overrides a value:
// a single simulated reel, mixing off, nothing published.
func Default() *Config {
	pc := pipeline.DefaultConfig()
	return &Config{
		Platform: PlatformConfig{ID: "barnowl"},
		Listeners: []ListenerConfig{
			{Type: ListenerSimulated, Name: "simulated", Reconnect: retry.DefaultConfig()},
		},
		Mixing:    mixer.DefaultConfig(),
		Selector:  SelectorConfig{N: selector.DefaultN},
		Pipeline:  PipelineConfig{Workers: pc.Workers, QueueSize: pc.QueueSize, WarnInterval: pc.WarnInterval, WarnBurst: pc.WarnBurst},
		Telemetry: topology.DefaultConfig(),
		NATS: NATSConfig{
			URLs:           []string{"nats://localhost:4222"},
			SubjectPrefix:  "barnowl",
			TopologyBucket: "barnowl_topology",
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			PingInterval:   30 * time.Second,
			DrainTimeout:   5 * time.Second,
		},
		Outputs: OutputsConfig{
			File:      FileOutputConfig{Directory: "./data", Prefix: "barnowl", MaxSize: 100 << 20, MaxFiles: 10},
			WebSocket: WebSocketOutputConfig{Port: 3001, Path: "/events"},
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
	}
}

// PipelineConfig assembles the gateway core settings
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Workers:      c.Pipeline.Workers,
		QueueSize:    c.Pipeline.QueueSize,
		WarnInterval: c.Pipeline.WarnInterval,
		WarnBurst:    c.Pipeline.WarnBurst,
		Mixing:       c.Mixing,
		SelectorN:    c.Selector.N,
		Telemetry:    c.Telemetry,
	}
}

// EnabledListeners returns the listeners that should run
func (c *Config) EnabledListeners() []ListenerConfig {
	var out []ListenerConfig
	for _, l := range c.Listeners {
		if l.IsEnabled() {
			out = append(out, l)
		}
	}
	return out
}

// Validate checks the configuration. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return invalid("platform.id is required")
	}
	if !isValidNATSSubjectPart(c.Platform.ID) {
		return invalid("platform.id %q is not valid for NATS subjects", c.Platform.ID)
	}

	if err := c.PipelineConfig().Validate(); err != nil {
		return errors.WrapInvalid(err, "Config", "Validate", "pipeline settings")
	}

	names := make(map[string]bool, len(c.Listeners))
	for i, l := range c.Listeners {
		if err := l.validate(); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", fmt.Sprintf("listeners[%d]", i))
		}
		if names[l.Name] {
			return invalid("listeners[%d]: duplicate name %q", i, l.Name)
		}
		names[l.Name] = true
	}

	if c.Outputs.NATS.Enabled {
		if len(c.NATS.URLs) == 0 {
			return invalid("nats.urls is required when the nats output is enabled")
		}
		if !isValidNATSSubject(c.NATS.SubjectPrefix) {
			return invalid("nats.subject_prefix %q is not a valid subject", c.NATS.SubjectPrefix)
		}
		if c.NATS.TopologyBucket != "" && !isValidNATSSubjectPart(c.NATS.TopologyBucket) {
			return invalid("nats.topology_bucket %q is not a valid bucket name", c.NATS.TopologyBucket)
		}
		if c.NATS.PingInterval < 0 || c.NATS.DrainTimeout < 0 {
			return invalid("nats.ping_interval and nats.drain_timeout must not be negative")
		}
	}
	if c.Outputs.File.Enabled {
		if c.Outputs.File.Directory == "" {
			return invalid("outputs.file.directory is required")
		}
		if c.Outputs.File.MaxSize < 0 || c.Outputs.File.MaxFiles < 0 {
			return invalid("outputs.file.max_size and max_files cannot be negative")
		}
	}
	if c.Outputs.WebSocket.Enabled {
		if err := component.ValidatePortNumber(c.Outputs.WebSocket.Port); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "outputs.websocket.port")
		}
		if !strings.HasPrefix(c.Outputs.WebSocket.Path, "/") {
			return invalid("outputs.websocket.path must start with /")
		}
	}
	if c.Metrics.Enabled {
		if err := component.ValidatePortNumber(c.Metrics.Port); err != nil {
			return errors.WrapInvalid(err, "Config", "Validate", "metrics.port")
		}
		if c.Outputs.WebSocket.Enabled && c.Outputs.WebSocket.Port == c.Metrics.Port {
			return invalid("outputs.websocket.port and metrics.port must differ")
		}
	}
	return nil
}

func (l ListenerConfig) validate() error {
	if err := component.ValidateComponentName(l.Name); err != nil {
		return err
	}
	switch l.Type {
	case ListenerUDP, ListenerBlueCats:
		if l.Path == "" {
			return fmt.Errorf("%w: %s listener %q needs a bind address in path", errors.ErrInvalidConfig, l.Type, l.Name)
		}
	case ListenerSerial:
		if l.Path == "" {
			return fmt.Errorf("%w: serial listener %q needs a device path", errors.ErrInvalidConfig, l.Name)
		}
		if l.Baud < 0 {
			return fmt.Errorf("%w: serial listener %q baud cannot be negative", errors.ErrInvalidConfig, l.Name)
		}
	case ListenerHCI, ListenerSimulated, ListenerEvent:
	default:
		return fmt.Errorf("%w: unknown listener type %q", errors.ErrInvalidConfig, l.Type)
	}
	if l.Interval < 0 {
		return fmt.Errorf("%w: listener %q interval cannot be negative", errors.ErrInvalidConfig, l.Name)
	}
	return l.Reconnect.Validate()
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "check configuration")
}

// isValidNATSSubjectPart checks if a string is valid for use as a single
// NATS subject token. Valid characters are alphanumeric, dashes and underscores.
func isValidNATSSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// isValidNATSSubject checks a dotted subject without wildcards
func isValidNATSSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !isValidNATSSubjectPart(part) {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "****"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "****"
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}
