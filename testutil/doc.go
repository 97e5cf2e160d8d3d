// Package testutil provides fixtures and fakes for batchsync tests.
//
// Run and WriteRun materialize run directories in the legacy storage layout
// under a t.TempDir() root, so reconstruction tests exercise the real
// filesystem code paths:
//
//	root := t.TempDir()
//	dir := testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv-1", "bot-03", 42))
//
// MockPublisher records publishes in order and can inject a failure on a
// given call. Use it for unit tests of the publisher; NATS behavior itself is
// covered by the testcontainers-backed tests in natsclient.
package testutil
