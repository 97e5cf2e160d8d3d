package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/c360/batchsync/cache"
	"github.com/c360/batchsync/config"
	"github.com/c360/batchsync/health"
	"github.com/c360/batchsync/message"
	"github.com/c360/batchsync/metric"
	"github.com/c360/batchsync/publish"
	"github.com/c360/batchsync/reconstruct"
)

// Parts reported to the health monitor
const (
	healthNATS     = "nats"
	healthPipeline = "pipeline"
)

// pipeline is one invocation: reconstruct into the cache or read it back,
// then hand the events to the publisher driver.
type pipeline struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metric.Metrics
	health  *health.Monitor // optional
	sink    publish.Sink
}

type summary struct {
	Cached int
	Stats  publish.Stats
}

func (p *pipeline) run(ctx context.Context) (summary, error) {
	sum, err := p.runStages(ctx)
	if p.health != nil {
		p.health.UpdateFromError(healthPipeline, err, "finished")
	}
	return sum, err
}

func (p *pipeline) report(message string) {
	if p.health != nil {
		p.health.UpdateHealthy(healthPipeline, message)
	}
}

func (p *pipeline) runStages(ctx context.Context) (summary, error) {
	var sum summary

	events, err := p.events(ctx)
	if err != nil {
		return sum, err
	}
	sum.Cached = len(events)

	if p.cfg.Cache.Only {
		p.logger.Info("Cache regenerated, not publishing", "path", p.cfg.Cache.Path, "events", len(events))
		return sum, nil
	}

	p.report("publishing")

	var sink publish.Sink = p.sink
	if p.cfg.Publish.Rate > 0 {
		sink = publish.NewThrottledSink(sink, p.cfg.Publish.Rate)
	}
	driver := publish.NewDriver(sink, p.cfg.Publish.Subject, p.logger, p.metrics)
	rng := publish.Range{Start: p.cfg.Publish.Start, End: p.cfg.Publish.End}

	sum.Stats, err = driver.Publish(ctx, cache.Events(events), rng)
	if err != nil {
		var pubErr *publish.PublishError
		if stderrors.As(err, &pubErr) {
			p.logger.Error("Publishing stopped",
				"index", pubErr.Index,
				"run", pubErr.RunKey,
				"resume", fmt.Sprintf("--from-cache --start %d", pubErr.Index))
		}
		return sum, err
	}
	return sum, nil
}

// events returns the envelopes to publish, either reloaded from the cache or
// freshly reconstructed and written to it
func (p *pipeline) events(ctx context.Context) ([]message.SyncEnvelope, error) {
	path := p.cfg.Cache.Path

	if p.cfg.Cache.FromCache {
		p.report("reading cache")
		events, err := cache.ReadAll(path)
		if err != nil {
			return nil, err
		}
		p.metrics.RecordCacheLines("read", len(events))
		p.logger.Info("Loaded cache", "path", path, "events", len(events))
		return events, nil
	}

	p.report("reconstructing")
	var events []message.SyncEnvelope
	rec := reconstruct.New(p.logger, p.metrics)
	n, err := cache.WriteAll(path, collect(rec.Reconstruct(ctx, p.cfg.Source.AdDir), &events))
	p.metrics.RecordCacheLines("write", n)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Wrote cache", "path", path, "events", n)
	return events, nil
}

// collect passes seq through unchanged, appending every envelope to dst
func collect(seq iter.Seq2[message.SyncEnvelope, error], dst *[]message.SyncEnvelope) iter.Seq2[message.SyncEnvelope, error] {
	return func(yield func(message.SyncEnvelope, error) bool) {
		for env, err := range seq {
			if err == nil {
				*dst = append(*dst, env)
			}
			if !yield(env, err) {
				return
			}
		}
	}
}
