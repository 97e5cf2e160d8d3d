package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"circuit open", ErrCircuitOpen, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"no responders in message", fmt.Errorf("nats: no responders available for request"), true},
		{"malformed path", ErrMalformedPath, false},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"invalid config", ErrInvalidConfig, true},
		{"cache corrupted", ErrCacheCorrupted, true},
		{"wrapped cache corrupted", fmt.Errorf("line 3: %w", ErrCacheCorrupted), true},
		{"malformed filename", ErrMalformedFilename, false},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsFatal(test.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"malformed path", ErrMalformedPath, true},
		{"malformed filename", ErrMalformedFilename, true},
		{"missing sentinel", ErrMissingSentinel, true},
		{"invalid range", ErrInvalidRange, true},
		{"connection lost", ErrConnectionLost, false},
		{"classified invalid", &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf("x")}, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsInvalid(test.err))
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrCacheCorrupted))
	assert.Equal(t, ErrorInvalid, Classify(ErrMalformedPath))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorFatal, Classify(errors.New("something odd")))
}

func TestWrap(t *testing.T) {
	base := errors.New("boom")

	wrapped := Wrap(base, "Cache", "ReadAll", "open cache file")
	assert.Equal(t, "Cache.ReadAll: open cache file failed: boom", wrapped.Error())
	assert.True(t, errors.Is(wrapped, base))

	assert.Nil(t, Wrap(nil, "Cache", "ReadAll", "open"))
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name  string
		err   error
		class ErrorClass
	}{
		{"transient", WrapTransient(base, "NATSSink", "Publish", "publish"), ErrorTransient},
		{"invalid", WrapInvalid(base, "Layout", "ParseRunIdentity", "parse run id"), ErrorInvalid},
		{"fatal", WrapFatal(base, "Cache", "ReadAll", "decode"), ErrorFatal},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var ce *ClassifiedError
			assert.True(t, errors.As(test.err, &ce))
			assert.Equal(t, test.class, ce.Class)
			assert.True(t, errors.Is(test.err, base))
		})
	}

	assert.Nil(t, WrapTransient(nil, "a", "b", "c"))
	assert.Nil(t, WrapInvalid(nil, "a", "b", "c"))
	assert.Nil(t, WrapFatal(nil, "a", "b", "c"))
}

func TestRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.True(t, cfg.ShouldRetry(ErrConnectionLost, 0))
	assert.False(t, cfg.ShouldRetry(ErrConnectionLost, cfg.MaxRetries))
	assert.False(t, cfg.ShouldRetry(ErrMalformedPath, 0))
	assert.False(t, cfg.ShouldRetry(nil, 0))

	rc := cfg.ToRetryConfig()
	assert.Equal(t, cfg.MaxRetries+1, rc.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, rc.InitialDelay)
	assert.True(t, rc.AddJitter)
}
