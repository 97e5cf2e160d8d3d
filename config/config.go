package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/pkg/tlsutil"
)

// Unbounded as PublishConfig.End publishes to the end of the sequence
const Unbounded = -1

// Config represents the complete application configuration
type Config struct {
	Source  SourceConfig  `json:"source"`
	Cache   CacheConfig   `json:"cache"`
	Publish PublishConfig `json:"publish"`
	NATS    NATSConfig    `json:"nats"`
	Metrics MetricsConfig `json:"metrics"`
	Log     LogConfig     `json:"log"`
}

// SourceConfig locates the legacy ad storage tree
type SourceConfig struct {
	AdDir string `json:"ad_dir"`
}

// CacheConfig controls the intermediate cache file
type CacheConfig struct {
	Path string `json:"path"`
	// Only regenerates the cache and skips publishing
	Only bool `json:"only"`
	// FromCache publishes an existing cache instead of reconstructing
	FromCache bool `json:"from_cache"`
}

// PublishConfig selects what gets published and where
type PublishConfig struct {
	Subject string `json:"subject"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	DryRun  bool   `json:"dry_run"`

	// Rate caps publishes per second; 0 publishes as fast as the sink allows
	Rate float64 `json:"rate,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string        `json:"urls,omitempty"`
	MaxReconnects int             `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration   `json:"reconnect_wait,omitempty"`
	Timeout       time.Duration   `json:"timeout,omitempty"`
	DrainTimeout  time.Duration   `json:"drain_timeout,omitempty"`
	Username      string          `json:"username,omitempty"`
	Password      string          `json:"password,omitempty"`
	Token         string          `json:"token,omitempty"`
	TLS           NATSTLSConfig   `json:"tls,omitempty"`
	JetStream     JetStreamConfig `json:"jetstream,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled            bool   `json:"enabled"`
	CertFile           string `json:"cert_file,omitempty"`
	KeyFile            string `json:"key_file,omitempty"`
	CAFile             string `json:"ca_file,omitempty"`
	MinVersion         string `json:"min_version,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// JetStreamConfig selects acknowledged, deduplicated publishing
type JetStreamConfig struct {
	Enabled      bool   `json:"enabled"`
	Stream       string `json:"stream,omitempty"`
	CreateStream bool   `json:"create_stream"`
}

// MetricsConfig controls the Prometheus endpoint. Port 0 disables it.
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path,omitempty"`

	// StreamInterval is how often JetStream stream gauges are refreshed
	StreamInterval time.Duration `json:"stream_interval,omitempty"`
}

// LogConfig controls slog output
type LogConfig struct {
	Level           string `json:"level"`
	Format          string `json:"format"`
	DiagnosticsFile string `json:"diagnostics_file,omitempty"`
}

// Default returns the configuration used before any layer is applied
func Default() *Config {
	return &Config{
		Cache: CacheConfig{
			Path: "batches.jsonl",
		},
		Publish: PublishConfig{
			Subject: "bot.batch.synced",
			Start:   0,
			End:     Unbounded,
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
			Timeout:       5 * time.Second,
			DrainTimeout:  10 * time.Second,
			JetStream: JetStreamConfig{
				Stream: "BOT_BATCHES",
			},
		},
		Metrics: MetricsConfig{
			Path:           "/metrics",
			StreamInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// NeedsNATS reports whether this run publishes to a real bus
func (c *Config) NeedsNATS() bool {
	return !c.Cache.Only && !c.Publish.DryRun
}

// Validate checks if the config is valid. It is called before any
// filesystem traversal so bad input fails fast.
func (c *Config) Validate() error {
	if c.Cache.Only && c.Cache.FromCache {
		return invalid("cache.only and cache.from_cache are mutually exclusive")
	}
	if !c.Cache.FromCache && c.Source.AdDir == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"source.ad_dir is required unless publishing from cache")
	}
	if c.Cache.FromCache && c.Cache.Path == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"cache.path is required when publishing from cache")
	}

	if err := c.validateRange(); err != nil {
		return err
	}

	if !c.Cache.Only {
		if !isValidSubject(c.Publish.Subject) {
			return invalid(fmt.Sprintf("publish.subject %q is not a valid NATS subject", c.Publish.Subject))
		}
	}

	if c.NeedsNATS() {
		if err := c.validateNATS(); err != nil {
			return err
		}
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalid(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}
	if c.Metrics.StreamInterval < 0 {
		return invalid("metrics.stream_interval must not be negative")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return invalid(fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return invalid(fmt.Sprintf("log.format %q must be json or text", c.Log.Format))
	}

	return nil
}

func (c *Config) validateRange() error {
	if c.Publish.Rate < 0 {
		return invalid(fmt.Sprintf("publish.rate %g is negative", c.Publish.Rate))
	}
	if c.Publish.Start < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: publish.start %d is negative", errors.ErrInvalidRange, c.Publish.Start),
			"Config", "Validate", "check publish range")
	}
	if c.Publish.End != Unbounded && c.Publish.End < c.Publish.Start {
		return errors.WrapInvalid(
			fmt.Errorf("%w: publish.end %d is before publish.start %d",
				errors.ErrInvalidRange, c.Publish.End, c.Publish.Start),
			"Config", "Validate", "check publish range")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.urls is required")
	}
	for i, u := range c.NATS.URLs {
		if strings.TrimSpace(u) == "" {
			return invalid(fmt.Sprintf("nats.urls[%d] is empty", i))
		}
	}
	if c.NATS.DrainTimeout <= 0 {
		return invalid("nats.drain_timeout must be positive")
	}
	if c.NATS.JetStream.Enabled && c.NATS.JetStream.CreateStream && !isValidSubjectPart(c.NATS.JetStream.Stream) {
		return invalid(fmt.Sprintf("nats.jetstream.stream %q is not a valid stream name", c.NATS.JetStream.Stream))
	}

	tls := c.NATS.TLS
	if tls.Enabled {
		if (tls.CertFile == "") != (tls.KeyFile == "") {
			return invalid("nats.tls.cert_file and nats.tls.key_file must be set together")
		}
		if !tlsutil.ValidVersion(tls.MinVersion) {
			return invalid(fmt.Sprintf("nats.tls.min_version %q must be 1.2 or 1.3", tls.MinVersion))
		}
		for name, path := range map[string]string{
			"nats.tls.cert_file": tls.CertFile,
			"nats.tls.key_file":  tls.KeyFile,
			"nats.tls.ca_file":   tls.CAFile,
		} {
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				return errors.WrapInvalid(err, "Config", "Validate", name)
			}
		}
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate", msg)
}

// isValidSubject checks a dot-separated NATS subject. Wildcards are not
// allowed in a publish subject.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, part := range strings.Split(s, ".") {
		if !isValidSubjectPart(part) {
			return false
		}
	}
	return true
}

// isValidSubjectPart allows letters, digits, dashes and underscores.
func isValidSubjectPart(s string) bool {
	if len(s) == 0 {
		return false
	}

	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	redacted := *c
	redacted.NATS.Password = mask(c.NATS.Password)
	redacted.NATS.Token = mask(c.NATS.Token)
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
