// Package supervisor holds the retry state machines shared by the
// notification stream and the chat transport.
package supervisor

import (
	"sync"
	"time"
)

// Backoff computes exponential reconnect delays: base, 2*base, 4*base, ...
// capped at ceiling. A successful connection must call Reset so the next
// failure starts again from base.
type Backoff struct {
	Base    time.Duration
	Ceiling time.Duration

	mu       sync.Mutex
	failures int
}

// Next records one failure and returns the delay to wait before the next
// attempt.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := b.Base << b.failures
	if d > b.Ceiling || d <= 0 {
		d = b.Ceiling
	}
	b.failures++
	return d
}

// Failures returns the number of consecutive failures recorded since the
// last Reset.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Reset clears the failure counter.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.failures = 0
	b.mu.Unlock()
}
