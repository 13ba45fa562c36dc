package supervisor

import (
	"sync"
	"time"
)

// Retry is a fixed-delay retry budget with a bounded attempt counter. The
// counter is reset on a successful connection.
type Retry struct {
	Delay       time.Duration
	MaxAttempts int

	mu       sync.Mutex
	attempts int
}

// Allow records one attempt and reports whether it is still within budget,
// along with the delay to wait first.
func (r *Retry) Allow() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.attempts >= r.MaxAttempts {
		return 0, false
	}
	r.attempts++
	return r.Delay, true
}

// Attempts returns the number of attempts recorded since the last Reset.
func (r *Retry) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Reset clears the attempt counter.
func (r *Retry) Reset() {
	r.mu.Lock()
	r.attempts = 0
	r.mu.Unlock()
}
