package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/componentregistry"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/health"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/natsclient"
	"github.com/reelyactive/barnowl/output/file"
	natsout "github.com/reelyactive/barnowl/output/nats"
	"github.com/reelyactive/barnowl/output/websocket"
	"github.com/reelyactive/barnowl/pipeline"
	"github.com/reelyactive/barnowl/pkg/retry"
)

// sinkComponent is an output managed alongside the pipeline
type sinkComponent interface {
	pipeline.Sink
	component.LifecycleComponent
}

// gateway wires listeners, the pipeline and outputs together
type gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.MetricsRegistry

	nats          *natsclient.Client
	natsOut       *natsout.Output
	health        *health.Checker
	metricsServer *metric.Server
	pipeline      *pipeline.Pipeline
	registry      *component.Registry
	manager       *component.Manager
}

// newGateway builds every component named by cfg. Nothing is started.
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	g := &gateway{
		cfg:      cfg,
		logger:   logger,
		metrics:  metric.NewMetricsRegistry(),
		registry: component.NewRegistry(),
		manager:  component.NewManager(logger),
	}
	g.health = health.NewChecker(cfg.Platform.ID, g.registry,
		health.WithMetrics(g.metrics.CoreMetrics()),
		health.WithLogger(logger))

	deps := component.Dependencies{
		MetricsRegistry: g.metrics,
		Logger:          logger,
		Platform:        component.PlatformMeta{ID: cfg.Platform.ID},
	}

	if cfg.Outputs.NATS.Enabled {
		client, err := g.newNATSClient()
		if err != nil {
			return nil, err
		}
		g.health.Report(natsHealthName, false, "not connected yet")
		g.nats = client
		deps.NATSClient = client
	}

	sinks, err := g.buildOutputs(deps)
	if err != nil {
		return nil, err
	}

	pipe, err := pipeline.New(ctx, cfg.PipelineConfig(),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(g.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	g.pipeline = pipe

	// Outputs start first and stop last so nothing is lost in between
	for _, s := range sinks {
		pipe.AddSink(s)
		if err := g.add(s); err != nil {
			return nil, err
		}
	}
	if err := g.add(pipe); err != nil {
		return nil, err
	}

	inputs, err := componentregistry.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("register listeners: %w", err)
	}
	for _, lc := range cfg.EnabledListeners() {
		listener, err := inputs.Create(lc, pipe, deps)
		if err != nil {
			return nil, fmt.Errorf("create %s listener %q: %w", lc.Type, lc.Name, err)
		}
		if err := g.add(listener); err != nil {
			return nil, err
		}
	}
	logger.Info("Listeners configured", "available", inputs.Types(), "enabled", len(cfg.EnabledListeners()))

	if cfg.Metrics.Enabled {
		g.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, g.metrics,
			metric.WithHealthHandler(g.health))
	}
	return g, nil
}

// natsHealthName is the /health entry for the NATS connection
const natsHealthName = "nats"

func (g *gateway) newNATSClient() (*natsclient.Client, error) {
	cfg := g.cfg
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(g.logger),
		natsclient.WithMetrics(g.metrics.CoreMetrics()),
		natsclient.WithName(appName + "-" + cfg.Platform.ID),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithPingInterval(cfg.NATS.PingInterval),
		natsclient.WithDrainTimeout(cfg.NATS.DrainTimeout),
		natsclient.WithHealthChangeCallback(g.natsHealthChanged),
		natsclient.WithReconnectCallback(g.natsReconnected),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	return client, nil
}

func (g *gateway) natsHealthChanged(healthy bool) {
	message := "connected"
	if !healthy {
		message = "disconnected, events are dropped"
	}
	g.health.Report(natsHealthName, healthy, message)
}

// natsReconnected restores the topology snapshots whose KV writes were
// dropped during the outage
func (g *gateway) natsReconnected() {
	if g.natsOut == nil || g.pipeline == nil {
		return
	}
	snapshots := g.pipeline.Topology().Snapshots()
	if err := g.natsOut.StoreSnapshots(snapshots); err != nil {
		g.logger.Warn("Restoring topology snapshots failed", "error", err)
		return
	}
	g.logger.Info("Topology snapshots restored", "origins", len(snapshots))
}

func (g *gateway) buildOutputs(deps component.Dependencies) ([]sinkComponent, error) {
	var sinks []sinkComponent
	outputs := g.cfg.Outputs

	if outputs.NATS.Enabled {
		out, err := natsout.New(natsout.Config{
			SubjectPrefix:  g.cfg.NATS.SubjectPrefix,
			TopologyBucket: g.cfg.NATS.TopologyBucket,
		}, g.nats, deps)
		if err != nil {
			return nil, fmt.Errorf("create NATS output: %w", err)
		}
		g.natsOut = out
		sinks = append(sinks, out)
	}
	if outputs.File.Enabled {
		out, err := file.New(file.FromConfig(outputs.File), deps)
		if err != nil {
			return nil, fmt.Errorf("create file output: %w", err)
		}
		sinks = append(sinks, out)
	}
	if outputs.WebSocket.Enabled {
		out, err := websocket.New(websocket.FromConfig(outputs.WebSocket), deps)
		if err != nil {
			return nil, fmt.Errorf("create WebSocket output: %w", err)
		}
		sinks = append(sinks, out)
	}
	return sinks, nil
}

func (g *gateway) add(c component.LifecycleComponent) error {
	if err := g.registry.RegisterInstance(c.Meta().Name, c); err != nil {
		return fmt.Errorf("register component %q: %w", c.Meta().Name, err)
	}
	g.manager.Add(c)
	return nil
}

// run starts everything and blocks until ctx ends, then shuts down within
// timeout
func (g *gateway) run(ctx context.Context, timeout time.Duration) error {
	if err := g.manager.Start(ctx, timeout); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	g.logger.Info("Gateway started", "platform", g.cfg.Platform.ID, "components", g.registry.Names())

	group, gctx := errgroup.WithContext(ctx)

	if g.nats != nil {
		group.Go(func() error {
			g.connectNATS(gctx)
			return nil
		})
	}

	if g.metricsServer != nil {
		group.Go(func() error {
			g.logger.Info("Serving metrics", "address", g.metricsServer.Address())
			return g.metricsServer.Start()
		})
		group.Go(func() error {
			<-gctx.Done()
			return g.metricsServer.Stop()
		})
	}

	group.Go(func() error {
		return g.health.Run(gctx)
	})
	group.Go(func() error {
		g.recordStates(gctx)
		return nil
	})

	<-gctx.Done()
	g.logger.Info("Shutting down")

	stopErr := g.manager.Stop(timeout)
	if g.nats != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := g.nats.Close(closeCtx); err != nil {
			g.logger.Warn("NATS close failed", "error", err)
		}
	}

	if err := group.Wait(); err != nil {
		return err
	}
	return stopErr
}

// connectNATS keeps trying until the first connection succeeds; the client
// reconnects by itself after that
func (g *gateway) connectNATS(ctx context.Context) {
	policy := retry.Config{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		AddJitter:    true,
	}
	err := retry.Do(ctx, policy, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		err := g.nats.Connect(attemptCtx)
		if err != nil {
			g.logger.Warn("NATS connection failed, events are dropped until it succeeds",
				"url", g.nats.URL(), "error", err)
		}
		return err
	})
	if err != nil && ctx.Err() == nil {
		g.logger.Error("Giving up on NATS", "error", err)
	}
}

// recordStates copies each component's lifecycle state into the core
// gauges until ctx ends
func (g *gateway) recordStates(ctx context.Context) {
	ticker := time.NewTicker(health.DefaultInterval)
	defer ticker.Stop()

	core := g.metrics.CoreMetrics()
	for {
		for _, mc := range g.manager.Components() {
			core.RecordComponentStatus(mc.Component.Meta().Name, int(mc.State))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
