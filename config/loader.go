package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/pkg/retry"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "BARNOWL"

// durationKeys are the config keys whose string values are Go durations
var durationKeys = map[string]bool{
	"delay":          true,
	"min_delay":      true,
	"ttl":            true,
	"interval":       true,
	"warn_interval":  true,
	"initial_delay":  true,
	"max_delay":      true,
	"reconnect_wait": true,
	"ping_interval":  true,
	"drain_timeout":  true,
}

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	getenv     func(string) string
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		getenv:    os.Getenv,
	}
}

// AddLayer adds a configuration file layer. Later layers override earlier ones.
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges every layer over the defaults, applies environment overrides
// and validates when enabled.
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapFatal(fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "Load", "decode merged config")
	}
	applyListenerDefaults(cfg)

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "apply environment overrides")
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// loadRaw reads a JSON or YAML file into a map with durations converted to
// nanoseconds.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	default:
		if err := validateJSONDepth(data); err != nil {
			return nil, fmt.Errorf("invalid JSON structure: %w", err)
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
		}
	}

	if err := parseDurations(raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// parseDurations walks the map and converts duration strings to
// nanoseconds so they decode into time.Duration fields.
func parseDurations(v any) error {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if s, ok := child.(string); ok && durationKeys[k] {
				d, err := parseDurationWithDays(s)
				if err != nil {
					return fmt.Errorf("%w: %s: %v", errors.ErrInvalidConfig, k, err)
				}
				node[k] = d.Nanoseconds()
				continue
			}
			if err := parseDurations(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range node {
			if err := parseDurations(child); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseDurationWithDays parses durations that may include days (e.g., "14d")
func parseDurationWithDays(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not merged.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyListenerDefaults gives listeners without a reconnect section the
// default reconnect policy.
func applyListenerDefaults(cfg *Config) {
	for i := range cfg.Listeners {
		if cfg.Listeners[i].Reconnect == (retry.Config{}) {
			cfg.Listeners[i].Reconnect = retry.DefaultConfig()
		}
	}
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	env := func(name string) (string, error) {
		key := l.envPrefix + "_" + name
		val := l.getenv(key)
		return val, validateEnvVar(key, val)
	}

	if val, err := env("PLATFORM_ID"); err != nil {
		return err
	} else if val != "" {
		cfg.Platform.ID = val
	}

	if val, err := env("NATS_URLS"); err != nil {
		return err
	} else if val != "" {
		var urls []string
		for _, u := range strings.Split(val, ",") {
			if u = strings.TrimSpace(u); u != "" {
				urls = append(urls, u)
			}
		}
		cfg.NATS.URLs = urls
	}

	if val, err := env("METRICS_PORT"); err != nil {
		return err
	} else if val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_METRICS_PORT: %v", errors.ErrInvalidConfig, l.envPrefix, err)
		}
		cfg.Metrics.Port = port
	}

	if val, err := env("MIXING_ENABLED"); err != nil {
		return err
	} else if val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%w: %s_MIXING_ENABLED: %v", errors.ErrInvalidConfig, l.envPrefix, err)
		}
		cfg.Mixing.Enabled = enabled
	}

	if val, err := env("SELECTOR_N"); err != nil {
		return err
	} else if val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%w: %s_SELECTOR_N: %v", errors.ErrInvalidConfig, l.envPrefix, err)
		}
		cfg.Selector.N = n
	}
	return nil
}
