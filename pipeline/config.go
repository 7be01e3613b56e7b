package pipeline

import (
	"fmt"
	"time"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/mixer"
	"github.com/reelyactive/barnowl/selector"
	"github.com/reelyactive/barnowl/topology"
)

// Config holds the gateway core settings
type Config struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`

	// Decode warnings are logged at most once per WarnInterval per origin,
	// with bursts of WarnBurst. Every discarded frame is still counted.
	WarnInterval time.Duration `json:"warn_interval" yaml:"warn_interval"`
	WarnBurst    int           `json:"warn_burst" yaml:"warn_burst"`

	Mixing    mixer.Config    `json:"mixing" yaml:"mixing"`
	SelectorN int             `json:"selector_n" yaml:"selector_n"`
	Telemetry topology.Config `json:"telemetry" yaml:"telemetry"`
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    256,
		WarnInterval: 10 * time.Second,
		WarnBurst:    3,
		Mixing:       mixer.DefaultConfig(),
		SelectorN:    selector.DefaultN,
		Telemetry:    topology.DefaultConfig(),
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	switch {
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be at least 1", errors.ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be at least 1", errors.ErrInvalidConfig)
	case c.WarnInterval <= 0:
		return fmt.Errorf("%w: warn_interval must be positive", errors.ErrInvalidConfig)
	case c.WarnBurst < 1:
		return fmt.Errorf("%w: warn_burst must be at least 1", errors.ErrInvalidConfig)
	case c.SelectorN < 1:
		return fmt.Errorf("%w: selector_n must be at least 1", errors.ErrInvalidConfig)
	}
	if err := c.Mixing.Validate(); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}
