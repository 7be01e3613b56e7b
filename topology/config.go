package topology

import (
	"fmt"
	"time"

	"github.com/reelyactive/barnowl/errors"
)

// Config holds topology manager settings
type Config struct {
	// TelemetryTTL is how long a receiver's statistics stay live without a
	// fresh report. Receivers report roughly once a minute.
	TelemetryTTL time.Duration `json:"ttl" yaml:"ttl"`
}

// DefaultConfig returns a five minute telemetry TTL
func DefaultConfig() Config {
	return Config{TelemetryTTL: 5 * time.Minute}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.TelemetryTTL <= 0 {
		return fmt.Errorf("%w: telemetry ttl must be positive, got %s", errors.ErrInvalidConfig, c.TelemetryTTL)
	}
	return nil
}
