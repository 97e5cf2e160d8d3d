package natsclient

import (
	"log/slog"
	"time"

	"github.com/c360/batchsync/metric"
	"github.com/c360/batchsync/pkg/tlsutil"
)

// ClientOption configures a Client in NewClient. An error fails NewClient.
type ClientOption func(*Client) error

// WithMaxReconnects caps automatic reconnects. -1 never gives up.
func WithMaxReconnects(max int) ClientOption {
	return func(c *Client) error {
		c.maxReconnects = max
		return nil
	}
}

// WithReconnectWait is the pause between reconnect attempts
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.reconnectWait = d
		return nil
	}
}

// WithPingInterval is how often nats.go pings the server
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.pingInterval = d
		return nil
	}
}

// WithHealthInterval is how often the client probes its own connection.
// 0 turns the probe off.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.healthInterval = d
		return nil
	}
}

// WithLogger sets the logger for connection events. nil keeps slog.Default.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) error {
		if logger != nil {
			c.logger = logger.With("component", "natsclient")
		}
		return nil
	}
}

// WithDisconnectCallback runs fn on its own goroutine after each disconnect
func WithDisconnectCallback(fn func(error)) ClientOption {
	return func(c *Client) error {
		c.onDisconnect = fn
		return nil
	}
}

// WithReconnectCallback runs fn on its own goroutine after each reconnect
func WithReconnectCallback(fn func()) ClientOption {
	return func(c *Client) error {
		c.onReconnect = fn
		return nil
	}
}

// WithHealthChangeCallback receives every change of IsHealthy
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) error {
		c.onHealthChange = fn
		return nil
	}
}

// WithCircuitBreakerThreshold is how many failures in a row trip the breaker.
// Values below 1 keep the default of 5.
func WithCircuitBreakerThreshold(threshold int32) ClientOption {
	return func(c *Client) error {
		if threshold >= 1 {
			c.circuitThreshold = threshold
		}
		return nil
	}
}

// WithMaxBackoff caps how long the breaker stays open. Values under a
// second keep the default of one minute.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) error {
		if d >= time.Second {
			c.maxBackoff = d
		}
		return nil
	}
}

// WithCredentials authenticates with a user and password
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) error {
		c.username = username
		c.password = password
		return nil
	}
}

// WithToken authenticates with a bearer token
func WithToken(token string) ClientOption {
	return func(c *Client) error {
		c.token = token
		return nil
	}
}

// WithTLS enables TLS. Certificates are loaded when the option is applied,
// so a bad path fails NewClient rather than Connect.
func WithTLS(cfg tlsutil.ClientConfig) ClientOption {
	return func(c *Client) error {
		tlsConfig, err := tlsutil.LoadClientTLSConfig(cfg)
		if err != nil {
			return err
		}
		c.tlsConfig = tlsConfig
		return nil
	}
}

// WithName is the connection name shown in server monitoring
func WithName(name string) ClientOption {
	return func(c *Client) error {
		c.clientName = name
		return nil
	}
}

// WithTimeout bounds a single dial
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.timeout = d
		return nil
	}
}

// WithDrainTimeout bounds the drain in Close
func WithDrainTimeout(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.drainTimeout = d
		return nil
	}
}

// WithMetrics tracks the streams this client creates or looks up and
// registers their gauges with registrar. A nil registrar disables it.
func WithMetrics(registrar metric.MetricsRegistrar) ClientOption {
	return func(c *Client) error {
		if registrar == nil {
			return nil
		}

		metrics, err := newStreamMetrics(registrar)
		if err != nil {
			return err
		}

		c.streamMetrics = metrics
		return nil
	}
}

// WithMetricsInterval is how often tracked streams are polled for the
// gauges. 0 turns polling off.
func WithMetricsInterval(d time.Duration) ClientOption {
	return func(c *Client) error {
		c.metricsInterval = d
		return nil
	}
}
