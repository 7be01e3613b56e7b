package mixer

import (
	"fmt"
	"time"

	"github.com/reelyactive/barnowl/errors"
)

// Config holds mixing queue settings
type Config struct {
	Enabled  bool          `json:"enabled"   yaml:"enabled"`
	Delay    time.Duration `json:"delay"     yaml:"delay"`
	MinDelay time.Duration `json:"min_delay" yaml:"min_delay"`
}

// DefaultConfig returns mixing disabled with a one second window
func DefaultConfig() Config {
	return Config{
		Enabled:  false,
		Delay:    time.Second,
		MinDelay: 5 * time.Millisecond,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Delay <= 0 {
		return fmt.Errorf("%w: mixing delay must be positive, got %s", errors.ErrInvalidConfig, c.Delay)
	}
	if c.MinDelay <= 0 {
		return fmt.Errorf("%w: minimum sweep delay must be positive, got %s", errors.ErrInvalidConfig, c.MinDelay)
	}
	if c.MinDelay > c.Delay {
		return fmt.Errorf("%w: minimum sweep delay %s exceeds mixing delay %s", errors.ErrInvalidConfig, c.MinDelay, c.Delay)
	}
	return nil
}
