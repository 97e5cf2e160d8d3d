package reconstruct

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/batchsync/cache"
	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/extract"
	"github.com/c360/batchsync/message"
	"github.com/c360/batchsync/metric"
	"github.com/c360/batchsync/testutil"
)

func newTestReconstructor() (*Reconstructor, *metric.Metrics, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	metrics := metric.NewMetricsRegistry().CoreMetrics()
	return New(logger, metrics), metrics, &buf
}

func collect(t *testing.T, seq func(func(message.SyncEnvelope, error) bool)) ([]message.SyncEnvelope, error) {
	t.Helper()
	var out []message.SyncEnvelope
	for env, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
	return out, nil
}

func TestReconstructRun(t *testing.T) {
	root := t.TempDir()
	dir := testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv-1", "bot-03", 42))

	r, _, logs := newTestReconstructor()
	env, err := r.ReconstructRun(dir)
	require.NoError(t, err)

	assert.Equal(t, message.SyncEnvelope{
		Batch: message.BatchCompleted{
			Status:       message.StatusComplete,
			Hostname:     "bot-03",
			HostHostname: "hv-1",
			Location:     "ams",
			RunID:        42,
			ExternalIP:   "203.0.113.7",
			BotsInBatch:  8,
			Requests:     5,
			AdsFound:     2,
			Timestamp:    1600000300,
		},
		Status: message.SyncComplete,
	}, env)
	assert.NoError(t, env.Validate())

	out := logs.String()
	assert.Contains(t, out, "total_requests=5")
	assert.Contains(t, out, "ads=2")
	assert.Contains(t, out, "non_ads=3")
	assert.Contains(t, out, "ip=203.0.113.7")
	assert.Contains(t, out, "last_request=2020-09-13T12:31:40Z")
}

func TestReconstructRun_EmptyRun(t *testing.T) {
	root := t.TempDir()
	dir := testutil.WriteRun(t, root, testutil.Run{
		Location:     "nyc",
		HostHostname: "hv-2",
		Hostname:     "bot-1",
		RunID:        7,
	})

	r, metrics, _ := newTestReconstructor()
	env, err := r.ReconstructRun(dir)
	require.NoError(t, err)

	assert.Equal(t, 0, env.Batch.Requests)
	assert.Equal(t, 0, env.Batch.AdsFound)
	assert.Equal(t, extract.UnknownIP, env.Batch.ExternalIP)
	assert.Equal(t, extract.NoTimestamp, env.Batch.Timestamp)
	assert.NoError(t, env.Validate())
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.UnknownIP.WithLabelValues(metric.IPNoPage)))
}

func TestReconstructRun_Errors(t *testing.T) {
	root := t.TempDir()

	t.Run("missing sentinel", func(t *testing.T) {
		dir := testutil.WriteRun(t, root, testutil.Run{
			Location: "ams", HostHostname: "hv", Hostname: "bot", RunID: 1, NoSentinel: true,
		})
		r, _, _ := newTestReconstructor()
		_, err := r.ReconstructRun(dir)
		assert.ErrorIs(t, err, errors.ErrMissingSentinel)
	})

	t.Run("malformed path", func(t *testing.T) {
		dir := filepath.Join(root, "ams", "nohash", "1")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, extract.SentinelFile), nil, 0o644))

		r, _, _ := newTestReconstructor()
		_, err := r.ReconstructRun(dir)
		assert.ErrorIs(t, err, errors.ErrMalformedPath)
	})
}

func TestReconstruct(t *testing.T) {
	root := t.TempDir()
	testutil.WriteRun(t, root, testutil.SampleRun("nyc", "hv-2", "bot-1", 7))
	testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv-1", "bot-03", 42))
	testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv-1", "bot-03", 41))
	// Still running: ignored entirely.
	testutil.WriteRun(t, root, testutil.Run{Location: "ams", HostHostname: "hv-1", Hostname: "bot-03", RunID: 43, NoSentinel: true})

	r, metrics, _ := newTestReconstructor()
	envs, err := collect(t, r.Reconstruct(context.Background(), root))
	require.NoError(t, err)

	require.Len(t, envs, 3)
	assert.Equal(t, "ams/hv-1#bot-03/41", envs[0].RunKey())
	assert.Equal(t, "ams/hv-1#bot-03/42", envs[1].RunKey())
	assert.Equal(t, "nyc/hv-2#bot-1/7", envs[2].RunKey())

	assert.Equal(t, 3.0, promtestutil.ToFloat64(metrics.RunsDiscovered))
	assert.Equal(t, 3.0, promtestutil.ToFloat64(metrics.RunsReconstructed))
}

func TestReconstruct_SkipsMalformedRuns(t *testing.T) {
	root := t.TempDir()
	testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv-1", "bot-03", 42))

	badHost := filepath.Join(root, "ams", "nohash", "1")
	require.NoError(t, os.MkdirAll(badHost, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badHost, extract.SentinelFile), nil, 0o644))

	badRun := filepath.Join(root, "ams", "hv-1#bot-03", "latest")
	require.NoError(t, os.MkdirAll(badRun, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(badRun, extract.SentinelFile), nil, 0o644))

	r, metrics, logs := newTestReconstructor()
	envs, err := collect(t, r.Reconstruct(context.Background(), root))
	require.NoError(t, err)

	require.Len(t, envs, 1)
	assert.Equal(t, 42, envs[0].Batch.RunID)
	assert.Equal(t, 2.0, promtestutil.ToFloat64(metrics.RunsSkipped.WithLabelValues(metric.SkipMalformedPath)))
	assert.Contains(t, logs.String(), badHost)
	assert.Contains(t, logs.String(), badRun)
}

func TestReconstruct_InvalidUTF8NamesSurviveCache(t *testing.T) {
	root := t.TempDir()
	testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv-1", "bot-03", 42))

	badRun := filepath.Join(root, "loc\xff", "hh#h\xfe", "3")
	if err := os.MkdirAll(badRun, 0o755); err != nil {
		t.Skipf("filesystem rejects non-UTF-8 names: %v", err)
	}
	require.NoError(t, os.WriteFile(filepath.Join(badRun, extract.SentinelFile), nil, 0o644))

	r, metrics, logs := newTestReconstructor()
	cachePath := filepath.Join(t.TempDir(), "batches.jsonl")
	var live []message.SyncEnvelope
	n, err := cache.WriteAll(cachePath, func(yield func(message.SyncEnvelope, error) bool) {
		for env, err := range r.Reconstruct(context.Background(), root) {
			if err == nil {
				live = append(live, env)
			}
			if !yield(env, err) {
				return
			}
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.RunsSkipped.WithLabelValues(metric.SkipMalformedPath)))
	assert.Contains(t, logs.String(), "UTF-8")

	back, err := cache.ReadAll(cachePath)
	require.NoError(t, err)
	require.Len(t, back, len(live))
	for i := range live {
		assert.Equal(t, live[i], back[i])
		assert.Equal(t, live[i].ID(), back[i].ID(), "message ID must not change across a cache reload")
	}
}

func TestReconstruct_MissingRoot(t *testing.T) {
	r, _, _ := newTestReconstructor()
	envs, err := collect(t, r.Reconstruct(context.Background(), filepath.Join(t.TempDir(), "absent")))

	assert.Empty(t, envs)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestReconstruct_Cancelled(t *testing.T) {
	root := t.TempDir()
	testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv", "bot", 1))
	testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv", "bot", 2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	var got []message.SyncEnvelope
	var gotErr error
	for env, err := range r.Reconstruct(ctx, root) {
		if err != nil {
			gotErr = err
			break
		}
		got = append(got, env)
		cancel()
	}

	assert.Len(t, got, 1)
	assert.ErrorIs(t, gotErr, context.Canceled)
}

func TestReconstruct_StopsEarly(t *testing.T) {
	root := t.TempDir()
	for id := 1; id <= 3; id++ {
		testutil.WriteRun(t, root, testutil.SampleRun("ams", "hv", "bot", id))
	}

	r, metrics, _ := newTestReconstructor()
	for range r.Reconstruct(context.Background(), root) {
		break
	}
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.RunsReconstructed))
}
