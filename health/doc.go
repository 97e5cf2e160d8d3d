// Package health tracks the state of the parts of a batchsync run (the NATS
// connection, the pipeline) and reports them as one aggregated status.
//
// The Monitor is updated from callbacks and served as JSON by the metrics
// server:
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("pipeline", "reconstructing")
//	client, _ := natsclient.NewClient(url, natsclient.WithHealthChangeCallback(func(ok bool) {
//		monitor.UpdateFromBool("nats", ok, "connection lost")
//	}))
//	srv := metric.NewServer(9090, "/metrics", registry)
//	srv.SetHealthHandler(monitor.Handler("batchsync"))
//
// Aggregation: any unhealthy part makes the whole unhealthy, otherwise any
// degraded part makes it degraded. Error messages are stripped of URLs,
// paths, IPs and credentials before they are reported.
package health
