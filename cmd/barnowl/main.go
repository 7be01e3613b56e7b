// Package main implements the barnowl gateway: it listens to reels on the
// configured transports, decodes their radio traffic and publishes
// transmitter visibility, sensor readings, receiver statistics and reel
// topology to the enabled outputs.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/reelyactive/barnowl/config"
)

// Build information
var (
	Version   = "1.0.0"
	BuildTime = "dev"
)

const appName = "barnowl"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args, os.Getenv, os.Stderr)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	}

	logger := setupLogger(os.Stdout, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "listeners", len(cfg.EnabledListeners()))
		return nil
	}

	logger.Info("Starting barnowl",
		"version", Version,
		"build_time", BuildTime,
		"config", cliCfg.ConfigPaths,
		"platform", cfg.Platform.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := gw.run(ctx, cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	logger.Info("barnowl shutdown complete")
	return nil
}

// loadConfig layers paths over the defaults and validates the result
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range paths {
		loader.AddLayer(path)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
