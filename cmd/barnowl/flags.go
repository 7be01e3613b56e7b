package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPaths     []string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	Validate        bool
}

type layerFlag struct{ paths *[]string }

func (l layerFlag) String() string {
	if l.paths == nil {
		return ""
	}
	return strings.Join(*l.paths, ",")
}

func (l layerFlag) Set(v string) error {
	*l.paths = append(*l.paths, v)
	return nil
}

// parseFlags parses args with environment variable fallbacks. getenv is
// os.Getenv outside tests.
func parseFlags(args []string, getenv func(string) string, output io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.Var(layerFlag{&cfg.ConfigPaths}, "config",
		"Configuration file, JSON or YAML; repeat to layer files (env: BARNOWL_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level",
		envOr(getenv, "BARNOWL_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: BARNOWL_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format",
		envOr(getenv, "BARNOWL_LOG_FORMAT", "json"),
		"Log format: json, text (env: BARNOWL_LOG_FORMAT)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		envDuration(getenv, "BARNOWL_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: BARNOWL_SHUTDOWN_TIMEOUT)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		_, _ = fmt.Fprintf(output, "%s - reel radio-decoding gateway\n\nUsage: %s [options]\n\nOptions:\n", appName, appName)
		fs.PrintDefaults()
		_, _ = fmt.Fprintf(output, `
Examples:
  # Run a simulated reel with defaults
  %[1]s

  # Layer a site file over a base file
  %[1]s -config=base.yaml -config=site.yaml

  # Validate configuration only
  %[1]s -config=barnowl.yaml -validate

Version: %[2]s
`, appName, Version)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(cfg.ConfigPaths) == 0 {
		if path := getenv("BARNOWL_CONFIG"); path != "" {
			cfg.ConfigPaths = []string{path}
		}
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion {
		return nil
	}
	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.LogLevel)) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, strings.ToLower(cfg.LogFormat)) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}
	return nil
}

func envOr(getenv func(string) string, key, defaultValue string) string {
	if value := getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func envDuration(getenv func(string) string, key string, defaultValue time.Duration) time.Duration {
	if value := getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
