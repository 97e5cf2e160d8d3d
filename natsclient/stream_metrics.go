package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/batchsync/metric"
)

// streamMetrics holds Prometheus gauges for the JetStream streams this client
// has created or looked up. All methods are no-ops on a nil receiver.
type streamMetrics struct {
	streamMessages *prometheus.GaugeVec
	streamBytes    *prometheus.GaugeVec
	streamState    *prometheus.GaugeVec
	errors         *prometheus.CounterVec

	mu      sync.RWMutex
	streams map[string]jetstream.Stream
}

func newStreamMetrics(registrar metric.MetricsRegistrar) (*streamMetrics, error) {
	m := &streamMetrics{
		streamMessages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "batchsync",
			Subsystem: "jetstream",
			Name:      "stream_messages",
			Help:      "Current number of messages in stream",
		}, []string{"stream"}),

		streamBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "batchsync",
			Subsystem: "jetstream",
			Name:      "stream_bytes",
			Help:      "Storage bytes used by stream",
		}, []string{"stream"}),

		streamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "batchsync",
			Subsystem: "jetstream",
			Name:      "stream_state",
			Help:      "Stream state (1=reachable, 0=unreachable)",
		}, []string{"stream"}),

		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "batchsync",
			Subsystem: "jetstream",
			Name:      "operation_errors_total",
			Help:      "Total number of JetStream operation errors",
		}, []string{"operation"}),

		streams: make(map[string]jetstream.Stream),
	}

	if err := registrar.RegisterGaugeVec("jetstream", "stream_messages", m.streamMessages); err != nil {
		return nil, err
	}
	if err := registrar.RegisterGaugeVec("jetstream", "stream_bytes", m.streamBytes); err != nil {
		return nil, err
	}
	if err := registrar.RegisterGaugeVec("jetstream", "stream_state", m.streamState); err != nil {
		return nil, err
	}
	if err := registrar.RegisterCounterVec("jetstream", "errors", m.errors); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *streamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams[name] = stream
	m.streamState.WithLabelValues(name).Set(1)
}

func (m *streamMetrics) recordError(operation string) {
	if m != nil {
		m.errors.WithLabelValues(operation).Inc()
	}
}

// updateStats refreshes every tracked stream. Unreachable streams are marked
// 0 and skipped.
func (m *streamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	for k, v := range m.streams {
		streams[k] = v
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamState.WithLabelValues(name).Set(0)
			continue
		}

		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
		m.streamState.WithLabelValues(name).Set(1)
	}
}

// startPoller polls tracked streams every interval until the returned cancel
// function is called.
func (m *streamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.updateStats(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()

	return cancel
}
