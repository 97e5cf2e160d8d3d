// Package metric provides the Prometheus metrics of a batchsync run and an
// optional HTTP endpoint serving them.
//
// NewMetricsRegistry creates a registry with the pipeline metrics
// (batchsync_* counters for discovery, reconstruction, cache and publishing)
// and the Go runtime collectors. Components receive the *Metrics value; every
// Record method is a no-op on a nil *Metrics, so tests and library callers can
// pass nil.
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "", registry)
//	go func() { _ = server.Start() }()
//	defer server.Stop(ctx)
//
//	rec := reconstruct.New(logger, registry.CoreMetrics())
//
// Components that own extra collectors (the NATS client's stream gauges)
// register them through the MetricsRegistrar interface.
package metric
