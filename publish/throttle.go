package publish

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/c360/batchsync/errors"
)

// ThrottledSink paces calls to an inner Sink. Republishing a large backlog
// otherwise arrives downstream as a single burst.
type ThrottledSink struct {
	inner   Sink
	limiter *rate.Limiter
}

// NewThrottledSink allows at most perSecond publishes per second through to
// inner, with no burst beyond one event
func NewThrottledSink(inner Sink, perSecond float64) *ThrottledSink {
	return &ThrottledSink{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

// Publish waits for a slot, then publishes
func (s *ThrottledSink) Publish(ctx context.Context, subject string, data []byte) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.inner.Publish(ctx, subject, data)
}

// PublishWithID waits for a slot, then publishes with id when the inner sink
// supports it
func (s *ThrottledSink) PublishWithID(ctx context.Context, subject, id string, data []byte) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	if identified, ok := s.inner.(IdentifiedSink); ok {
		return identified.PublishWithID(ctx, subject, id, data)
	}
	return s.inner.Publish(ctx, subject, data)
}

func (s *ThrottledSink) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errors.WrapInvalid(err, "ThrottledSink", "Publish", "wait for rate limiter")
	}
	return nil
}
