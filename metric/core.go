package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Skip reasons recorded on RunsSkipped.
const (
	SkipMalformedPath   = "malformed_path"
	SkipMissingSentinel = "missing_sentinel"
	SkipUnreadable      = "unreadable"
)

// Unknown-IP reasons recorded on UnknownIP.
const (
	IPNoPage         = "no_page"
	IPPageUnreadable = "page_unreadable"
	IPNoMatch        = "no_match"
)

// Metrics contains the pipeline metrics. All Record methods are safe on a nil
// receiver so components can run without a registry.
type Metrics struct {
	// Reconstruction
	RunsDiscovered        prometheus.Counter
	RunsReconstructed     prometheus.Counter
	RunsSkipped           *prometheus.CounterVec
	TimestampCorruptLines prometheus.Counter
	UnknownIP             *prometheus.CounterVec

	// Cache
	CacheLines *prometheus.CounterVec

	// Publishing
	EventsPublished *prometheus.CounterVec
	PublishErrors   *prometheus.CounterVec
	PublishDuration prometheus.Histogram

	// NATS
	NATSConnected prometheus.Gauge
}

// NewMetrics creates the pipeline metrics. They are registered by
// NewMetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		RunsDiscovered: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "batchsync",
				Name:      "runs_discovered_total",
				Help:      "Completed run directories found in the source tree",
			},
		),

		RunsReconstructed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "batchsync",
				Name:      "runs_reconstructed_total",
				Help:      "Runs turned into batch_synced events",
			},
		),

		RunsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batchsync",
				Name:      "runs_skipped_total",
				Help:      "Runs skipped during reconstruction",
			},
			[]string{"reason"},
		),

		TimestampCorruptLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "batchsync",
				Name:      "timestamp_corrupt_lines_total",
				Help:      "Sentinel lines that could not be parsed as ad file names",
			},
		),

		UnknownIP: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batchsync",
				Name:      "unknown_ip_total",
				Help:      "Runs whose external IP could not be recovered",
			},
			[]string{"reason"},
		),

		CacheLines: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batchsync",
				Name:      "cache_lines_total",
				Help:      "Envelopes written to or read from the cache file",
			},
			[]string{"op"},
		),

		EventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batchsync",
				Name:      "events_published_total",
				Help:      "Events handed to the sink successfully",
			},
			[]string{"subject"},
		),

		PublishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "batchsync",
				Name:      "publish_errors_total",
				Help:      "Sink failures",
			},
			[]string{"subject"},
		),

		PublishDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "batchsync",
				Name:      "publish_duration_seconds",
				Help:      "Time spent in a single sink publish",
				Buckets:   prometheus.DefBuckets,
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "batchsync",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

func (c *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.RunsDiscovered,
		c.RunsReconstructed,
		c.RunsSkipped,
		c.TimestampCorruptLines,
		c.UnknownIP,
		c.CacheLines,
		c.EventsPublished,
		c.PublishErrors,
		c.PublishDuration,
		c.NATSConnected,
	}
}

// RecordRunDiscovered increments the discovered run counter
func (c *Metrics) RecordRunDiscovered() {
	if c == nil {
		return
	}
	c.RunsDiscovered.Inc()
}

// RecordRunReconstructed increments the reconstructed run counter
func (c *Metrics) RecordRunReconstructed() {
	if c == nil {
		return
	}
	c.RunsReconstructed.Inc()
}

// RecordRunSkipped increments the skipped run counter for reason
func (c *Metrics) RecordRunSkipped(reason string) {
	if c == nil {
		return
	}
	c.RunsSkipped.WithLabelValues(reason).Inc()
}

// RecordTimestampCorruptLine increments the corrupt sentinel line counter
func (c *Metrics) RecordTimestampCorruptLine() {
	if c == nil {
		return
	}
	c.TimestampCorruptLines.Inc()
}

// RecordUnknownIP increments the unknown IP counter for reason
func (c *Metrics) RecordUnknownIP(reason string) {
	if c == nil {
		return
	}
	c.UnknownIP.WithLabelValues(reason).Inc()
}

// RecordCacheLines adds n to the cache line counter for op ("write" or "read")
func (c *Metrics) RecordCacheLines(op string, n int) {
	if c == nil {
		return
	}
	c.CacheLines.WithLabelValues(op).Add(float64(n))
}

// RecordPublished records one successful publish and its duration
func (c *Metrics) RecordPublished(subject string, duration time.Duration) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(subject).Inc()
	c.PublishDuration.Observe(duration.Seconds())
}

// RecordPublishError increments the publish error counter
func (c *Metrics) RecordPublishError(subject string) {
	if c == nil {
		return
	}
	c.PublishErrors.WithLabelValues(subject).Inc()
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	if c == nil {
		return
	}
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}
