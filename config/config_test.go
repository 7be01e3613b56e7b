package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/pkg/retry"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.getenv = func(key string) string { return env[key] }
	return l
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.Mixing.Enabled)
	assert.Equal(t, time.Second, cfg.Mixing.Delay)
	assert.Equal(t, 5*time.Millisecond, cfg.Mixing.MinDelay)
	assert.Equal(t, 1, cfg.Selector.N)
	require.Len(t, cfg.EnabledListeners(), 1)
	assert.Equal(t, ListenerSimulated, cfg.Listeners[0].Type)
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "barnowl.json", `{
		"platform": {"id": "lobby"},
		"listeners": [
			{"type": "serial", "name": "reel-0", "path": "/dev/ttyUSB0",
			 "reconnect": {"max_attempts": 5, "initial_delay": "250ms", "max_delay": "10s"}},
			{"type": "udp", "name": "udp-0", "path": "0.0.0.0:50000", "enabled": false}
		],
		"mixing": {"enabled": true, "delay": "1500ms"},
		"telemetry": {"ttl": "2m"},
		"nats": {"ping_interval": "20s", "drain_timeout": "1500ms"}
	}`)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "lobby", cfg.Platform.ID)
	assert.True(t, cfg.Mixing.Enabled)
	assert.Equal(t, 1500*time.Millisecond, cfg.Mixing.Delay)
	assert.Equal(t, 5*time.Millisecond, cfg.Mixing.MinDelay, "unset keys keep their defaults")
	assert.Equal(t, 2*time.Minute, cfg.Telemetry.TelemetryTTL)
	assert.Equal(t, 20*time.Second, cfg.NATS.PingInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.NATS.DrainTimeout)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWait)

	require.Len(t, cfg.Listeners, 2, "lists replace the default listener")
	serial := cfg.Listeners[0]
	assert.Equal(t, 5, serial.Reconnect.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, serial.Reconnect.InitialDelay)
	assert.Equal(t, 10*time.Second, serial.Reconnect.MaxDelay)

	enabled := cfg.EnabledListeners()
	require.Len(t, enabled, 1)
	assert.Equal(t, "reel-0", enabled[0].Name)
	assert.Equal(t, retry.DefaultConfig(), cfg.Listeners[1].Reconnect, "missing reconnect gets the default policy")
}

func TestLoader_YAMLLayersOverride(t *testing.T) {
	base := writeFile(t, "base.yaml", `
platform:
  id: base
nats:
  urls: ["nats://nats-a:4222"]
  subject_prefix: reel
outputs:
  nats:
    enabled: true
  file:
    enabled: true
    directory: /var/lib/barnowl
pipeline:
  workers: 8
`)
	site := writeFile(t, "site.yml", `
platform:
  id: site-7
outputs:
  file:
    max_size: 1048576
mixing:
  enabled: true
  delay: 2s
  min_delay: 10ms
`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(site)
	l.EnableValidation(true)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "site-7", cfg.Platform.ID)
	assert.Equal(t, []string{"nats://nats-a:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "reel", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "barnowl_topology", cfg.NATS.TopologyBucket)
	assert.True(t, cfg.Outputs.File.Enabled)
	assert.Equal(t, "/var/lib/barnowl", cfg.Outputs.File.Directory)
	assert.Equal(t, int64(1048576), cfg.Outputs.File.MaxSize)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 256, cfg.Pipeline.QueueSize)

	pc := cfg.PipelineConfig()
	assert.Equal(t, 2*time.Second, pc.Mixing.Delay)
	assert.Equal(t, 10*time.Millisecond, pc.Mixing.MinDelay)
	assert.Equal(t, 8, pc.Workers)
}

func TestLoader_EnvOverrides(t *testing.T) {
	env := map[string]string{
		"BARNOWL_PLATFORM_ID":    "from-env",
		"BARNOWL_NATS_URLS":      "nats://a:4222, nats://b:4222",
		"BARNOWL_METRICS_PORT":   "9191",
		"BARNOWL_MIXING_ENABLED": "true",
		"BARNOWL_SELECTOR_N":     "3",
	}
	cfg, err := newTestLoader(env).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Platform.ID)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.True(t, cfg.Mixing.Enabled)
	assert.Equal(t, 3, cfg.Selector.N)
}

func TestLoader_EnvOverrideErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"BARNOWL_METRICS_PORT": "ninety"}},
		{"bad bool", map[string]string{"BARNOWL_MIXING_ENABLED": "sometimes"}},
		{"bad n", map[string]string{"BARNOWL_SELECTOR_N": "x"}},
		{"null byte", map[string]string{"BARNOWL_PLATFORM_ID": "a\x00b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(tt.env).Load()
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestLoader_FileErrors(t *testing.T) {
	t.Run("unsupported extension", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(writeFile(t, "barnowl.toml", "x = 1"))
		assert.Error(t, err)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(filepath.Join(t.TempDir(), "absent.json"))
		assert.Error(t, err)
	})
	t.Run("malformed json", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(writeFile(t, "bad.json", `{"platform": {`))
		assert.Error(t, err)
	})
	t.Run("bad duration", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile(writeFile(t, "bad.yaml", "mixing:\n  delay: soon\n"))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})
	t.Run("relative path escaping working directory", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFile("../../../etc/barnowl.json")
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	disabled := false
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty platform id", func(c *Config) { c.Platform.ID = "" }},
		{"platform id with wildcard", func(c *Config) { c.Platform.ID = "lobby.*" }},
		{"selector n zero", func(c *Config) { c.Selector.N = 0 }},
		{"mixing delay zero", func(c *Config) { c.Mixing.Delay = 0 }},
		{"workers zero", func(c *Config) { c.Pipeline.Workers = 0 }},
		{"telemetry ttl zero", func(c *Config) { c.Telemetry.TelemetryTTL = 0 }},
		{"unknown listener type", func(c *Config) { c.Listeners[0].Type = "zigbee" }},
		{"serial without path", func(c *Config) {
			c.Listeners = append(c.Listeners, ListenerConfig{Type: ListenerSerial, Name: "reel-0"})
		}},
		{"udp without address", func(c *Config) {
			c.Listeners = append(c.Listeners, ListenerConfig{Type: ListenerUDP, Name: "udp-0"})
		}},
		{"duplicate listener names", func(c *Config) {
			c.Listeners = append(c.Listeners, ListenerConfig{Type: ListenerSimulated, Name: "simulated", Enabled: &disabled})
		}},
		{"listener name with space", func(c *Config) { c.Listeners[0].Name = "my reel" }},
		{"negative reconnect", func(c *Config) { c.Listeners[0].Reconnect.MaxAttempts = -1 }},
		{"nats output without urls", func(c *Config) {
			c.Outputs.NATS.Enabled = true
			c.NATS.URLs = nil
		}},
		{"nats output bad prefix", func(c *Config) {
			c.Outputs.NATS.Enabled = true
			c.NATS.SubjectPrefix = "reel..events"
		}},
		{"file output without directory", func(c *Config) {
			c.Outputs.File.Enabled = true
			c.Outputs.File.Directory = ""
		}},
		{"websocket bad path", func(c *Config) {
			c.Outputs.WebSocket.Enabled = true
			c.Outputs.WebSocket.Path = "events"
		}},
		{"websocket port clash", func(c *Config) {
			c.Outputs.WebSocket.Enabled = true
			c.Outputs.WebSocket.Port = c.Metrics.Port
		}},
		{"metrics port out of range", func(c *Config) { c.Metrics.Port = 70000 }},
		{"negative nats drain timeout", func(c *Config) {
			c.Outputs.NATS.Enabled = true
			c.NATS.DrainTimeout = -time.Second
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_StringMasksSecrets(t *testing.T) {
	cfg := Default()
	cfg.NATS.Password = "hunter2"
	cfg.NATS.Token = "s3cret"

	out := cfg.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "s3cret")
	assert.Equal(t, "hunter2", cfg.NATS.Password, "original is untouched")
}

func TestValidateJSONDepth(t *testing.T) {
	assert.NoError(t, validateJSONDepth([]byte(`{"a": [{"b": "}"}]}`)))
	assert.Error(t, validateJSONDepth([]byte(`{"a": [`)))
	assert.Error(t, validateJSONDepth([]byte(`]}`)))

	deep := make([]byte, 0, 2*(maxJSONDepth+1))
	for i := 0; i <= maxJSONDepth; i++ {
		deep = append(deep, '[')
	}
	for i := 0; i <= maxJSONDepth; i++ {
		deep = append(deep, ']')
	}
	assert.Error(t, validateJSONDepth(deep))
}
