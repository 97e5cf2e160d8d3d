package main

import (
	"context"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/c360/batchsync/config"
	"github.com/c360/batchsync/health"
	"github.com/c360/batchsync/metric"
	"github.com/c360/batchsync/publish"
)

// app carries what the commands share: output streams and parsed flags
type app struct {
	stdout io.Writer
	stderr io.Writer
	flags  flagValues

	// sink replaces the NATS sink when set
	sink publish.Sink
}

// loadConfig layers config files, env and flags, then validates the result
// before anything touches the source tree.
func (a *app) loadConfig(fs *pflag.FlagSet, m mode) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range a.flags.configPaths {
		loader.AddLayer(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	a.flags.apply(fs, cfg)

	switch m {
	case modeReconstruct:
		cfg.Cache.Only = true
		cfg.Cache.FromCache = false
	case modePublish:
		cfg.Cache.Only = false
		cfg.Cache.FromCache = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) execute(cmd *cobra.Command, m mode) error {
	cfg, err := a.loadConfig(cmd.Flags(), m)
	if err != nil {
		return err
	}

	logger, closeLog, err := setupLogger(a.stderr, cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	logger.Info("Starting batchsync",
		"build_time", BuildTime,
		"ad_dir", cfg.Source.AdDir,
		"cache", cfg.Cache.Path,
		"cache_only", cfg.Cache.Only,
		"from_cache", cfg.Cache.FromCache,
		"dry_run", cfg.Publish.DryRun)
	logger.Debug("Effective configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	if cfg.Metrics.Port > 0 {
		stopMetrics := serveMetrics(cfg.Metrics, registry, monitor, logger)
		defer stopMetrics()
	}

	sink, closeSink, err := a.openSink(ctx, cfg, registry, monitor, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	p := &pipeline{
		cfg:     cfg,
		logger:  logger,
		metrics: registry.CoreMetrics(),
		health:  monitor,
		sink:    sink,
	}
	sum, err := p.run(ctx)
	if err != nil {
		return err
	}

	logger.Info("batchsync finished",
		"cached", sum.Cached,
		"seen", sum.Stats.Seen,
		"published", sum.Stats.Published)
	return nil
}

// openSink picks where events go: nowhere for cache-only runs, stdout for
// dry runs, NATS otherwise
func (a *app) openSink(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (publish.Sink, func(), error) {
	noop := func() {}

	switch {
	case cfg.Cache.Only:
		return nil, noop, nil
	case cfg.Publish.DryRun:
		return publish.NewWriterSink(a.stdout), noop, nil
	case a.sink != nil:
		return a.sink, noop, nil
	}

	client, err := connectNATS(ctx, cfg, registry, monitor, logger)
	if err != nil {
		return nil, noop, err
	}

	sinkCfg := publish.DefaultNATSSinkConfig()
	sinkCfg.JetStream = cfg.NATS.JetStream.Enabled

	closeFn := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.NATS.DrainTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("Failed to close NATS connection", "error", err)
		}
	}
	return publish.NewNATSSink(client, sinkCfg, logger), closeFn, nil
}

// serveMetrics runs the Prometheus endpoint, with monitor behind /health,
// until the returned func is called
func serveMetrics(
	cfg config.MetricsConfig,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) func() {
	srv := metric.NewServer(cfg.Port, cfg.Path, registry)
	srv.SetHealthHandler(monitor.Handler(appName))
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	logger.Info("Serving metrics", "address", srv.Address())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Warn("Failed to stop metrics server", "error", err)
		}
	}
}
