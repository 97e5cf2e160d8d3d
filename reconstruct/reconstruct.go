// Package reconstruct rebuilds batch_synced events from completed run
// directories in the legacy ad storage tree.
package reconstruct

import (
	"context"
	stderrors "errors"
	"iter"
	"log/slog"

	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/extract"
	"github.com/c360/batchsync/layout"
	"github.com/c360/batchsync/message"
	"github.com/c360/batchsync/metric"
	"github.com/c360/batchsync/pkg/timestamp"
)

// Reconstructor turns run directories into SyncEnvelopes.
type Reconstructor struct {
	logger    *slog.Logger
	metrics   *metric.Metrics
	extractor *extract.Extractor
}

// New creates a Reconstructor. A nil logger falls back to slog.Default;
// metrics may be nil.
func New(logger *slog.Logger, metrics *metric.Metrics) *Reconstructor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconstructor{
		logger:    logger,
		metrics:   metrics,
		extractor: extract.New(logger, metrics),
	}
}

// ReconstructRun builds the envelope for a single completed run directory.
func (r *Reconstructor) ReconstructRun(dir string) (message.SyncEnvelope, error) {
	id, err := layout.ParseRunIdentity(dir)
	if err != nil {
		return message.SyncEnvelope{}, err
	}

	m, err := r.extractor.Extract(dir)
	if err != nil {
		return message.SyncEnvelope{}, err
	}

	env := message.NewSyncEnvelope(message.BatchCompleted{
		Status:       message.StatusComplete,
		Hostname:     id.Hostname,
		HostHostname: id.HostHostname,
		Location:     id.Location,
		RunID:        id.RunID,
		ExternalIP:   m.ExternalIP,
		BotsInBatch:  extract.BotsInBatch,
		Requests:     m.TotalRequests(),
		AdsFound:     m.AdsFound,
		Timestamp:    m.LastRequestAt,
	})

	r.logger.Info("Reconstructed run",
		"run", env.RunKey(),
		"total_requests", m.TotalRequests(),
		"ads", m.AdsFound,
		"non_ads", m.NonAdRequests,
		"ip", m.ExternalIP,
		"last_request", timestamp.Format(m.LastRequestAt))

	return env, nil
}

// Reconstruct lazily yields one envelope per completed run below root, in
// discovery order.
//
// Runs that cannot be reconstructed are logged, counted and skipped. The
// sequence yields an error only when root itself is unreadable or ctx is
// done, and ends right after it.
func (r *Reconstructor) Reconstruct(ctx context.Context, root string) iter.Seq2[message.SyncEnvelope, error] {
	return func(yield func(message.SyncEnvelope, error) bool) {
		for dir, err := range layout.DiscoverRuns(root) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(message.SyncEnvelope{}, errors.Wrap(ctxErr, "Reconstructor", "Reconstruct", "walk source tree"))
				return
			}

			if err != nil {
				if errors.IsFatal(err) {
					yield(message.SyncEnvelope{}, err)
					return
				}
				r.logger.Warn("Skipping unreadable directory", "error", err)
				r.metrics.RecordRunSkipped(metric.SkipUnreadable)
				continue
			}

			r.metrics.RecordRunDiscovered()

			env, err := r.ReconstructRun(dir)
			if err != nil {
				reason := skipReason(err)
				r.logger.Warn("Skipping run",
					"path", dir,
					"reason", reason,
					"error", err)
				r.metrics.RecordRunSkipped(reason)
				continue
			}

			r.metrics.RecordRunReconstructed()
			if !yield(env, nil) {
				return
			}
		}
	}
}

func skipReason(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrMalformedPath):
		return metric.SkipMalformedPath
	case stderrors.Is(err, errors.ErrMissingSentinel):
		return metric.SkipMissingSentinel
	default:
		return metric.SkipUnreadable
	}
}
