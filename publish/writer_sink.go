package publish

import (
	"context"
	"io"
	"sync"

	"github.com/c360/batchsync/errors"
)

// WriterSink writes each payload followed by a newline to an io.Writer. The
// subject is not written, so stdout output is a valid cache file.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Publish writes data and a trailing newline
func (s *WriterSink) Publish(ctx context.Context, _ string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	line := make([]byte, 0, len(data)+1)
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := s.w.Write(line); err != nil {
		return errors.WrapFatal(err, "WriterSink", "Publish", "write payload")
	}
	return nil
}
