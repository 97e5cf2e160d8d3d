// Package cache persists reconstructed envelopes as JSON Lines so they can be
// republished later without walking the source tree again.
//
// Each line is one compact SyncEnvelope. Reading is all-or-nothing: a single
// bad line fails the whole read, so a damaged cache never publishes a subset.
package cache

import (
	"bufio"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/c360/batchsync/errors"
	"github.com/c360/batchsync/message"
)

// CacheCorruptionError reports the first line of a cache file that is not a
// valid envelope.
type CacheCorruptionError struct {
	Path string
	Line int
	Err  error
}

func (e *CacheCorruptionError) Error() string {
	return fmt.Sprintf("cache %s line %d: %v", e.Path, e.Line, e.Err)
}

// Unwrap exposes errors.ErrCacheCorrupted and the decode error.
func (e *CacheCorruptionError) Unwrap() []error {
	return []error{errors.ErrCacheCorrupted, e.Err}
}

// WriteAll truncates path and writes every envelope of events to it, one per
// line, in order. It returns the number of envelopes written.
//
// An error from events stops the write and is returned as-is; whatever was
// written before it stays in the file.
func WriteAll(path string, events iter.Seq2[message.SyncEnvelope, error]) (int, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errors.WrapFatal(err, "Cache", "WriteAll", "create cache file")
	}

	w := bufio.NewWriter(f)
	n, writeErr := writeEnvelopes(w, events)

	if err := w.Flush(); err != nil && writeErr == nil {
		writeErr = errors.WrapFatal(err, "Cache", "WriteAll", "flush cache file")
	}
	if err := f.Close(); err != nil && writeErr == nil {
		writeErr = errors.WrapFatal(err, "Cache", "WriteAll", "close cache file")
	}
	return n, writeErr
}

func writeEnvelopes(w *bufio.Writer, events iter.Seq2[message.SyncEnvelope, error]) (int, error) {
	n := 0
	for env, err := range events {
		if err != nil {
			return n, err
		}
		data, err := env.Marshal()
		if err != nil {
			return n, errors.WrapFatal(err, "Cache", "WriteAll", "encode envelope")
		}
		data = append(data, '\n')
		if _, err := w.Write(data); err != nil {
			return n, errors.WrapFatal(err, "Cache", "WriteAll", "write cache file")
		}
		n++
	}
	return n, nil
}

// WriteSlice writes envelopes to path. See WriteAll.
func WriteSlice(path string, envelopes []message.SyncEnvelope) (int, error) {
	return WriteAll(path, Events(envelopes))
}

// ReadAll loads every envelope from path. Any line that fails strict decoding
// or validation yields a *CacheCorruptionError and no envelopes.
func ReadAll(path string) ([]message.SyncEnvelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "Cache", "ReadAll", "open cache file")
	}
	defer f.Close()

	var envelopes []message.SyncEnvelope
	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		data, readErr := r.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return nil, errors.Wrap(readErr, "Cache", "ReadAll", "read cache file")
		}
		if len(data) == 0 && readErr == io.EOF {
			break
		}

		if data[len(data)-1] == '\n' {
			data = data[:len(data)-1]
		}
		env, err := message.Unmarshal(data)
		if err != nil {
			return nil, &CacheCorruptionError{Path: path, Line: line, Err: err}
		}
		envelopes = append(envelopes, env)

		if readErr == io.EOF {
			break
		}
	}
	return envelopes, nil
}

// Events adapts a slice to the sequence shape the publisher consumes.
func Events(envelopes []message.SyncEnvelope) iter.Seq2[message.SyncEnvelope, error] {
	return func(yield func(message.SyncEnvelope, error) bool) {
		for _, env := range envelopes {
			if !yield(env, nil) {
				return
			}
		}
	}
}
