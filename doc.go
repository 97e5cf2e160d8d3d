// Package batchsync rebuilds ad-bot batch completion events from the legacy
// on-disk run tree and republishes them to NATS.
//
// Every finished bot run left a directory behind:
//
//	<root>/<location>/<hostHostname>#<hostname>/<runId>/
//	    noAds.csv        one line per request that returned no ad
//	    *.xml            one file per ad served
//	    *.html           player page, carries the external IP
//
// The pipeline has three stages, each its own package:
//
//   - layout discovers run directories and parses their names
//   - extract and reconstruct turn one run into a message.BatchCompleted
//     wrapped in a message.SyncEnvelope
//   - cache writes the envelopes to a JSON-lines file, and publish walks the
//     cache (or the live sequence) and hands each event to a Sink
//
// The cache is the hand-off point: a run can be regenerated without
// publishing (batchsync reconstruct) and published later, or resumed from an
// index after a failure (batchsync publish --start N).
//
// # Packages
//
// Domain:
//   - message: event payload, envelope and deterministic IDs
//   - layout, extract, reconstruct: tree traversal and per-run metrics
//   - cache: JSON-lines persistence with strict reads
//   - publish: driver, NATS and writer sinks
//
// Infrastructure:
//   - natsclient: connection management, JetStream stream helpers
//   - config: layered defaults, files, env and validation
//   - metric: Prometheus registry and /metrics server
//   - health: component status behind /health
//   - errors: classified errors (invalid, transient, fatal)
//   - pkg/retry, pkg/timestamp, pkg/tlsutil: small shared helpers
//
// The binary lives in cmd/batchsync.
package batchsync
