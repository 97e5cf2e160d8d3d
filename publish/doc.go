// Package publish slices a sequence of sync envelopes by index and hands each
// one to a Sink.
//
// The Driver is strictly sequential: one sink call per event, in input order,
// with no batching and no retry of its own. Retries belong to the sink;
// NATSSink retries transient NATS failures through pkg/retry before giving
// up. The first failure stops the run and is reported with its index so the
// operator can resume with a new Range.Start.
//
//	sink := publish.NewNATSSink(client, publish.DefaultNATSSinkConfig(), logger)
//	driver := publish.NewDriver(sink, "bot.batch.synced", logger, metrics)
//	stats, err := driver.Publish(ctx, cache.Events(envelopes), publish.Range{Start: 10, End: publish.Unbounded})
package publish
