package publish

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/message"
	"github.com/c360/batchsync/metric"
)

// DefaultSubject is the bus subject batch_synced events go to
const DefaultSubject = "bot.batch.synced"

// Unbounded as Range.End publishes to the end of the sequence
const Unbounded = -1

// Sink receives one serialized envelope per call
type Sink interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// IdentifiedSink is a Sink that can attach a deduplication ID to a publish
type IdentifiedSink interface {
	Sink
	PublishWithID(ctx context.Context, subject, id string, data []byte) error
}

// Range selects the half-open index window [Start, End) of a sequence
type Range struct {
	Start int
	End   int
}

// FullRange selects every event
func FullRange() Range {
	return Range{Start: 0, End: Unbounded}
}

// Validate rejects a negative start or an end before start
func (r Range) Validate() error {
	if r.Start < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("%w: start %d is negative", errors.ErrInvalidRange, r.Start),
			"Range", "Validate", "check start")
	}
	if r.End != Unbounded && r.End < r.Start {
		return errors.WrapInvalid(
			fmt.Errorf("%w: end %d is before start %d", errors.ErrInvalidRange, r.End, r.Start),
			"Range", "Validate", "check end")
	}
	return nil
}

func (r Range) contains(i int) bool {
	return i >= r.Start && (r.End == Unbounded || i < r.End)
}

func (r Range) done(i int) bool {
	return r.End != Unbounded && i >= r.End
}

// String renders the range as [start, end)
func (r Range) String() string {
	if r.End == Unbounded {
		return fmt.Sprintf("[%d, end)", r.Start)
	}
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Stats summarizes a Publish call
type Stats struct {
	// Seen counts events pulled from the sequence, including skipped ones
	Seen      int
	Published int
}

// PublishError reports the event the sink rejected. Resuming with
// Range.Start = Index retries from that event.
type PublishError struct {
	Index  int
	RunKey string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish event %d (%s): %v", e.Index, e.RunKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Driver hands events to a Sink one at a time, in order
type Driver struct {
	sink    Sink
	subject string
	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewDriver creates a Driver publishing to subject. An empty subject uses
// DefaultSubject. logger and metrics may be nil.
func NewDriver(sink Sink, subject string, logger *slog.Logger, metrics *metric.Metrics) *Driver {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		sink:    sink,
		subject: subject,
		logger:  logger.With("component", "publish", "subject", subject),
		metrics: metrics,
	}
}

// Subject returns the subject events are published to
func (d *Driver) Subject() string {
	return d.subject
}

// Publish sends every event of events within rng to the sink. It stops at
// the first failure: a sequence error is returned as-is, a sink error as a
// *PublishError. The sequence is not pulled past rng.End.
func (d *Driver) Publish(
	ctx context.Context, events iter.Seq2[message.SyncEnvelope, error], rng Range,
) (Stats, error) {
	var stats Stats

	if err := rng.Validate(); err != nil {
		return stats, err
	}

	identified, hasID := d.sink.(IdentifiedSink)
	d.logger.Debug("Publishing events", "range", rng.String(), "identified", hasID)

	// An empty window needs nothing from the sequence
	if rng.done(rng.Start) {
		return stats, nil
	}

	i := -1
	for env, err := range events {
		i++
		if rng.done(i) {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.Seen++

		if !rng.contains(i) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return stats, errors.Wrap(err, "Driver", "Publish", "publish events")
		}

		data, err := env.Marshal()
		if err != nil {
			return stats, &PublishError{Index: i, RunKey: env.RunKey(),
				Err: errors.WrapFatal(err, "Driver", "Publish", "serialize envelope")}
		}

		start := time.Now()
		if hasID {
			err = identified.PublishWithID(ctx, d.subject, env.ID(), data)
		} else {
			err = d.sink.Publish(ctx, d.subject, data)
		}
		if err != nil {
			d.metrics.RecordPublishError(d.subject)
			d.logger.Error("Publish failed",
				"index", i,
				"run", env.RunKey(),
				"error", err)
			return stats, &PublishError{Index: i, RunKey: env.RunKey(), Err: err}
		}

		d.metrics.RecordPublished(d.subject, time.Since(start))
		stats.Published++
		d.logger.Debug("Published event", "index", i, "run", env.RunKey())

		if rng.done(i + 1) {
			break
		}
	}

	d.logger.Info("Publish complete",
		"seen", stats.Seen,
		"published", stats.Published)
	return stats, nil
}
