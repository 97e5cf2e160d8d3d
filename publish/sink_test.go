package publish

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/batchsync/cache"
	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/pkg/retry"
)

// fakeConn records publishes and fails the first len(failures) calls
type fakeConn struct {
	mu       sync.Mutex
	msgs     []*nats.Msg
	streamed []string
	opts     [][]jetstream.PublishOpt
	failures []error
	calls    int
	dup      bool
}

func (f *fakeConn) next() error {
	f.calls++
	if f.calls <= len(f.failures) {
		return f.failures[f.calls-1]
	}
	return nil
}

func (f *fakeConn) PublishMsg(_ context.Context, msg *nats.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next(); err != nil {
		return err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) PublishToStream(
	_ context.Context, subject string, _ []byte, opts ...jetstream.PublishOpt,
) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.next(); err != nil {
		return nil, err
	}
	f.streamed = append(f.streamed, subject)
	f.opts = append(f.opts, opts)
	return &jetstream.PubAck{Stream: "BOT_BATCHES", Sequence: uint64(len(f.streamed)), Duplicate: f.dup}, nil
}

func fastRetry() NATSSinkConfig {
	return NATSSinkConfig{Retry: retry.Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}}
}

func TestNATSSink_CoreSetsMsgIDHeader(t *testing.T) {
	conn := &fakeConn{}
	sink := NewNATSSink(conn, fastRetry(), quietLogger())

	require.NoError(t, sink.PublishWithID(context.Background(), "bot.batch.synced", "id-1", []byte("payload")))
	require.NoError(t, sink.Publish(context.Background(), "bot.batch.synced", []byte("plain")))

	require.Len(t, conn.msgs, 2)
	assert.Equal(t, "bot.batch.synced", conn.msgs[0].Subject)
	assert.Equal(t, []byte("payload"), conn.msgs[0].Data)
	assert.Equal(t, "id-1", conn.msgs[0].Header.Get(nats.MsgIdHdr))
	assert.Empty(t, conn.msgs[1].Header.Get(nats.MsgIdHdr))
}

func TestNATSSink_JetStream(t *testing.T) {
	conn := &fakeConn{dup: true}
	cfg := fastRetry()
	cfg.JetStream = true
	sink := NewNATSSink(conn, cfg, quietLogger())

	require.NoError(t, sink.PublishWithID(context.Background(), "bot.batch.synced", "id-1", []byte("x")))
	require.NoError(t, sink.Publish(context.Background(), "bot.batch.synced", []byte("y")))

	assert.Empty(t, conn.msgs)
	assert.Equal(t, []string{"bot.batch.synced", "bot.batch.synced"}, conn.streamed)
	assert.Len(t, conn.opts[0], 1, "message ID option")
	assert.Empty(t, conn.opts[1])
}

func TestNATSSink_RetriesTransient(t *testing.T) {
	conn := &fakeConn{failures: []error{
		errors.WrapTransient(errors.ErrNoConnection, "Client", "PublishMsg", "publish"),
		errors.ErrCircuitOpen,
	}}
	sink := NewNATSSink(conn, fastRetry(), quietLogger())

	require.NoError(t, sink.PublishWithID(context.Background(), "s", "id", []byte("x")))
	assert.Equal(t, 3, conn.calls)
	assert.Len(t, conn.msgs, 1)
}

func TestNATSSink_GivesUpAfterMaxAttempts(t *testing.T) {
	transient := errors.WrapTransient(errors.ErrConnectionLost, "Client", "PublishMsg", "publish")
	conn := &fakeConn{failures: []error{transient, transient, transient, transient}}
	sink := NewNATSSink(conn, fastRetry(), quietLogger())

	err := sink.PublishWithID(context.Background(), "s", "id", []byte("x"))
	assert.ErrorIs(t, err, errors.ErrConnectionLost)
	assert.Equal(t, 3, conn.calls)
}

func TestNATSSink_DoesNotRetryInvalid(t *testing.T) {
	invalid := errors.WrapInvalid(jetstream.ErrNoStreamResponse, "Client", "PublishToStream", "publish")
	conn := &fakeConn{failures: []error{invalid}}
	cfg := fastRetry()
	cfg.JetStream = true
	sink := NewNATSSink(conn, cfg, quietLogger())

	err := sink.PublishWithID(context.Background(), "s", "id", []byte("x"))
	assert.ErrorIs(t, err, jetstream.ErrNoStreamResponse)
	assert.Equal(t, 1, conn.calls)
}

func TestNATSSink_WithDriver(t *testing.T) {
	conn := &fakeConn{}
	sink := NewNATSSink(conn, fastRetry(), quietLogger())
	driver := NewDriver(sink, "bot.batch.synced", quietLogger(), nil)
	events := envelopes(3)

	stats, err := driver.Publish(context.Background(), cache.Events(events), FullRange())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Published)

	for i, msg := range conn.msgs {
		assert.Equal(t, events[i].ID(), msg.Header.Get(nats.MsgIdHdr))
	}
}

func TestDefaultNATSSinkConfig(t *testing.T) {
	cfg := DefaultNATSSinkConfig()
	assert.False(t, cfg.JetStream)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	driver := NewDriver(NewWriterSink(&buf), "ignored", quietLogger(), nil)
	events := envelopes(2)

	_, err := driver.Publish(context.Background(), cache.Events(events), FullRange())
	require.NoError(t, err)

	var want bytes.Buffer
	for _, env := range events {
		data, err := env.Marshal()
		require.NoError(t, err)
		want.Write(data)
		want.WriteByte('\n')
	}
	assert.Equal(t, want.String(), buf.String())

	// Dry-run output reloads as a cache
	path := filepath.Join(t.TempDir(), "out.jsonl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	reloaded, err := cache.ReadAll(path)
	require.NoError(t, err)
	assert.Equal(t, events, reloaded)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, stderrors.New("disk full") }

func TestWriterSink_WriteError(t *testing.T) {
	err := NewWriterSink(failingWriter{}).Publish(context.Background(), "s", []byte("x"))
	assert.True(t, errors.IsFatal(err))
}
