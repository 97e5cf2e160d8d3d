package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/batchsync/config"
	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/health"
	"github.com/c360/batchsync/metric"
	"github.com/c360/batchsync/natsclient"
	"github.com/c360/batchsync/pkg/retry"
	"github.com/c360/batchsync/pkg/tlsutil"
)

// streamDuplicateWindow is how long JetStream remembers message IDs. A re-run
// inside the window does not duplicate events downstream.
const streamDuplicateWindow = 24 * time.Hour

// natsOptions maps the config onto client options
func natsOptions(
	full *config.Config,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) []natsclient.ClientOption {
	cfg := full.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithName(appName),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithTimeout(cfg.Timeout),
		natsclient.WithDrainTimeout(cfg.DrainTimeout),
		natsclient.WithMetrics(registry),
		natsclient.WithMetricsInterval(full.Metrics.StreamInterval),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			registry.CoreMetrics().RecordNATSStatus(healthy)
			monitor.UpdateFromBool(healthNATS, healthy, "connection lost")
		}),
		natsclient.WithDisconnectCallback(func(err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS.Enabled {
		tlsCfg := tlsutil.ClientConfig{
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			MinVersion:         cfg.TLS.MinVersion,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		}
		if cfg.TLS.CAFile != "" {
			tlsCfg.CAFiles = []string{cfg.TLS.CAFile}
		}
		opts = append(opts, natsclient.WithTLS(tlsCfg))
	}
	return opts
}

// connectNATS connects with the sink's retry policy, waits for the
// connection to become healthy and creates the stream when asked to.
func connectNATS(
	ctx context.Context,
	cfg *config.Config,
	registry *metric.MetricsRegistry,
	monitor *health.Monitor,
	logger *slog.Logger,
) (*natsclient.Client, error) {
	nc := cfg.NATS
	monitor.UpdateDegraded(healthNATS, "connecting")

	client, err := natsclient.NewClient(strings.Join(nc.URLs, ","), natsOptions(cfg, registry, monitor, logger)...)
	if err != nil {
		return nil, err
	}

	retryCfg := errors.DefaultRetryConfig().ToRetryConfig()
	retryCfg.Retryable = errors.IsTransient
	if err := retry.Do(ctx, retryCfg, func() error { return client.Connect(ctx) }); err != nil {
		monitor.UpdateFromError(healthNATS, err, "")
		return nil, errors.Wrap(err, "cli", "connectNATS", "connect to NATS")
	}

	waitCtx, cancel := context.WithTimeout(ctx, nc.Timeout)
	defer cancel()
	if err := client.WaitForConnection(waitCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, errors.Wrap(err, "cli", "connectNATS", "wait for connection")
	}

	if nc.JetStream.Enabled && nc.JetStream.CreateStream {
		_, err := client.CreateStream(ctx, jetstream.StreamConfig{
			Name:       nc.JetStream.Stream,
			Subjects:   []string{cfg.Publish.Subject},
			Storage:    jetstream.FileStorage,
			Duplicates: streamDuplicateWindow,
		})
		if err != nil {
			_ = client.Close(context.Background())
			return nil, errors.Wrap(err, "cli", "connectNATS", fmt.Sprintf("create stream %s", nc.JetStream.Stream))
		}
		logger.Info("JetStream stream ready", "stream", nc.JetStream.Stream, "subject", cfg.Publish.Subject)
	}

	return client, nil
}
