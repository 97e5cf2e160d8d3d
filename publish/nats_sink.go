package publish

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/pkg/retry"
)

// NATSPublisher is the part of natsclient.Client the NATS sink uses
type NATSPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg) error
	PublishToStream(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSSinkConfig selects the publish path and its retry policy
type NATSSinkConfig struct {
	// JetStream publishes through a stream and waits for the ack. Otherwise
	// core NATS is used and the ID travels in the Nats-Msg-Id header.
	JetStream bool
	Retry     retry.Config
}

// DefaultNATSSinkConfig publishes over core NATS with the default retry policy
func DefaultNATSSinkConfig() NATSSinkConfig {
	return NATSSinkConfig{Retry: errors.DefaultRetryConfig().ToRetryConfig()}
}

// NATSSink publishes envelopes to NATS. Transient failures (not connected,
// circuit open, timeouts) are retried per Retry; everything else is returned
// on the first attempt.
type NATSSink struct {
	conn   NATSPublisher
	cfg    NATSSinkConfig
	logger *slog.Logger
}

// NewNATSSink creates a sink over conn
func NewNATSSink(conn NATSPublisher, cfg NATSSinkConfig, logger *slog.Logger) *NATSSink {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Retry.Retryable = errors.IsTransient
	return &NATSSink{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("component", "nats_sink"),
	}
}

// Publish publishes data without a deduplication ID
func (s *NATSSink) Publish(ctx context.Context, subject string, data []byte) error {
	return s.PublishWithID(ctx, subject, "", data)
}

// PublishWithID publishes data tagged with id so the server can drop
// redelivered copies of the same event
func (s *NATSSink) PublishWithID(ctx context.Context, subject, id string, data []byte) error {
	attempt := 0
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		attempt++
		if attempt > 1 {
			s.logger.Debug("Retrying publish", "subject", subject, "id", id, "attempt", attempt)
		}
		if s.cfg.JetStream {
			return s.publishStream(ctx, subject, id, data)
		}
		return s.publishCore(ctx, subject, id, data)
	})
	if err != nil {
		s.logger.Warn("Publish failed", "subject", subject, "id", id, "attempts", attempt, "error", err)
		return err
	}
	return nil
}

func (s *NATSSink) publishCore(ctx context.Context, subject, id string, data []byte) error {
	msg := nats.NewMsg(subject)
	msg.Data = data
	if id != "" {
		msg.Header.Set(nats.MsgIdHdr, id)
	}
	return s.conn.PublishMsg(ctx, msg)
}

func (s *NATSSink) publishStream(ctx context.Context, subject, id string, data []byte) error {
	var opts []jetstream.PublishOpt
	if id != "" {
		opts = append(opts, jetstream.WithMsgID(id))
	}

	ack, err := s.conn.PublishToStream(ctx, subject, data, opts...)
	if err != nil {
		return err
	}
	if ack != nil && ack.Duplicate {
		s.logger.Info("Event already in stream", "stream", ack.Stream, "seq", ack.Sequence, "id", id)
	}
	return nil
}
