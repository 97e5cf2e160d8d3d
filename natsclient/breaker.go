package natsclient

import (
	"sync/atomic"
	"time"
)

const initialBackoff = time.Second

// breaker counts consecutive failures. Every threshold failures it trips
// and doubles the wait before the next attempt, up to maxBackoff.
type breaker struct {
	threshold  int32
	maxBackoff time.Duration

	total       atomic.Int32
	round       atomic.Int32
	backoff     atomic.Int64 // time.Duration
	lastFailure atomic.Int64 // unix nanoseconds, 0 when clear
}

func newBreaker(threshold int32, maxBackoff time.Duration) *breaker {
	b := &breaker{threshold: threshold, maxBackoff: maxBackoff}
	b.backoff.Store(int64(initialBackoff))
	return b
}

// fail records one failure. It reports whether this failure completed a
// round, and the wait that applied before the backoff was doubled.
func (b *breaker) fail() (tripped bool, wait time.Duration) {
	b.total.Add(1)
	b.lastFailure.Store(time.Now().UnixNano())

	if b.round.Add(1) < b.threshold {
		return false, 0
	}
	b.round.Store(0)

	wait = time.Duration(b.backoff.Load())
	b.backoff.Store(int64(min(wait*2, b.maxBackoff)))
	return true, wait
}

func (b *breaker) reset() {
	b.total.Store(0)
	b.round.Store(0)
	b.backoff.Store(int64(initialBackoff))
	b.lastFailure.Store(0)
}

func (b *breaker) failures() int32 {
	return b.total.Load()
}

func (b *breaker) wait() time.Duration {
	return time.Duration(b.backoff.Load())
}

func (b *breaker) lastFailureAt() time.Time {
	ns := b.lastFailure.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
