package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/c360/batchsync/config"
)

// configEnv lists config files when --config is not given
const configEnv = "BATCHSYNC_CONFIG"

// flagValues holds the raw flag values. Only flags the user actually set
// override the loaded config.
type flagValues struct {
	configPaths []string

	adDir     string
	cachePath string
	cacheOnly bool
	fromCache bool

	subject string
	start   int
	end     int
	dryRun  bool
	rate    float64

	natsURLs     []string
	jetStream    bool
	stream       string
	createStream bool

	metricsPort     int
	logLevel        string
	logFormat       string
	diagnosticsFile string
}

func (a *app) bindFlags(cmd *cobra.Command) {
	f := &a.flags
	defaults := config.Default()
	fs := cmd.PersistentFlags()

	fs.StringSliceVarP(&f.configPaths, "config", "c", splitEnvList(getEnv(configEnv, "")),
		"Config file (JSON or YAML); repeat to layer files (env: "+configEnv+")")

	fs.StringVar(&f.adDir, "ad-dir", "", "Root of the ad storage tree (env: BATCHSYNC_SOURCE_AD_DIR, SOURCE_AD_STORAGE_DIR)")
	fs.StringVar(&f.cachePath, "cache", defaults.Cache.Path, "Cache file path")
	fs.BoolVar(&f.cacheOnly, "cache-only", false, "Only regenerate the cache, do not publish")
	fs.BoolVar(&f.fromCache, "from-cache", false, "Publish from the existing cache instead of reconstructing")

	fs.StringVar(&f.subject, "subject", defaults.Publish.Subject, "NATS subject to publish on")
	fs.IntVar(&f.start, "start", defaults.Publish.Start, "Index of the first event to publish")
	fs.IntVar(&f.end, "end", defaults.Publish.End, "Index after the last event to publish, -1 for all")
	fs.BoolVar(&f.dryRun, "dry-run", false, "Write payloads to stdout instead of NATS")
	fs.Float64Var(&f.rate, "rate", defaults.Publish.Rate, "Maximum events published per second, 0 for no limit")

	fs.StringSliceVar(&f.natsURLs, "nats-url", defaults.NATS.URLs, "NATS server URL; repeat for a cluster")
	fs.BoolVar(&f.jetStream, "jetstream", false, "Publish through JetStream with per-run message IDs")
	fs.StringVar(&f.stream, "stream", defaults.NATS.JetStream.Stream, "JetStream stream name")
	fs.BoolVar(&f.createStream, "create-stream", false, "Create the JetStream stream if it does not exist")

	fs.IntVar(&f.metricsPort, "metrics-port", defaults.Metrics.Port, "Prometheus metrics port, 0 to disable")
	fs.StringVar(&f.logLevel, "log-level", defaults.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", defaults.Log.Format, "Log format: json, text")
	fs.StringVar(&f.diagnosticsFile, "diagnostics-file", "", "Also write JSON log records to this file")
}

// apply copies every flag the user set onto cfg
func (f *flagValues) apply(fs *pflag.FlagSet, cfg *config.Config) {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}

	set("ad-dir", func() { cfg.Source.AdDir = f.adDir })
	set("cache", func() { cfg.Cache.Path = f.cachePath })
	set("cache-only", func() { cfg.Cache.Only = f.cacheOnly })
	set("from-cache", func() { cfg.Cache.FromCache = f.fromCache })

	set("subject", func() { cfg.Publish.Subject = f.subject })
	set("start", func() { cfg.Publish.Start = f.start })
	set("end", func() { cfg.Publish.End = f.end })
	set("dry-run", func() { cfg.Publish.DryRun = f.dryRun })
	set("rate", func() { cfg.Publish.Rate = f.rate })

	set("nats-url", func() { cfg.NATS.URLs = f.natsURLs })
	set("jetstream", func() { cfg.NATS.JetStream.Enabled = f.jetStream })
	set("stream", func() { cfg.NATS.JetStream.Stream = f.stream })
	set("create-stream", func() { cfg.NATS.JetStream.CreateStream = f.createStream })

	set("metrics-port", func() { cfg.Metrics.Port = f.metricsPort })
	set("log-level", func() { cfg.Log.Level = f.logLevel })
	set("log-format", func() { cfg.Log.Format = f.logFormat })
	set("diagnostics-file", func() { cfg.Log.DiagnosticsFile = f.diagnosticsFile })
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitEnvList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
