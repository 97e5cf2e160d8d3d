package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

// Published is one message recorded by MockPublisher.
type Published struct {
	Subject string
	ID      string
	Data    []byte
}

// MockPublisher is an in-memory stand-in for the NATS sink. It records every
// publish in order and can be told to fail on a given call.
// Thread-safe for concurrent use from multiple goroutines.
type MockPublisher struct {
	mu       sync.RWMutex
	messages []Published
	calls    int
	failAt   map[int]error
	closed   bool
}

// NewMockPublisher creates a new mock publisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{
		failAt: make(map[int]error),
	}
}

// FailOnCall makes the n-th publish call (0-based) return err instead of
// recording the message.
func (c *MockPublisher) FailOnCall(n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failAt[n] = err
}

// Publish records a message (matches natsclient.Client signature).
func (c *MockPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	return c.PublishWithID(ctx, subject, "", data)
}

// PublishWithID records a message together with its deduplication ID.
func (c *MockPublisher) PublishWithID(ctx context.Context, subject, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	call := c.calls
	c.calls++

	if c.closed {
		return fmt.Errorf("publisher is closed")
	}
	if err, ok := c.failAt[call]; ok {
		return err
	}

	// Copy so callers may reuse their buffer
	payload := make([]byte, len(data))
	copy(payload, data)
	c.messages = append(c.messages, Published{Subject: subject, ID: id, Data: payload})
	return nil
}

// Messages returns every recorded message in publish order.
func (c *MockPublisher) Messages() []Published {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Published, len(c.messages))
	copy(result, c.messages)
	return result
}

// GetMessages returns the payloads published to subject.
func (c *MockPublisher) GetMessages(subject string) [][]byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result [][]byte
	for _, m := range c.messages {
		if m.Subject == subject {
			result = append(result, m.Data)
		}
	}
	return result
}

// Calls returns the number of publish attempts, failed ones included.
func (c *MockPublisher) Calls() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.calls
}

// Close closes the mock publisher. Later publishes fail.
func (c *MockPublisher) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// AssertMessageCount checks how many messages were recorded on subject.
func AssertMessageCount(t *testing.T, client *MockPublisher, subject string, count int) {
	t.Helper()

	if got := len(client.GetMessages(subject)); got != count {
		t.Fatalf("expected %d messages on subject %s, got %d", count, subject, got)
	}
}

// AssertNoMessages checks that nothing was published.
func AssertNoMessages(t *testing.T, client *MockPublisher) {
	t.Helper()

	if messages := client.Messages(); len(messages) > 0 {
		t.Fatalf("expected no messages, got %d", len(messages))
	}
}
