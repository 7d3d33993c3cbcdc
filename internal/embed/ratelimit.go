package embed

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a sliding-window request counter. Providers call Acquire
// before every HTTP request; when the trailing window is full the caller
// sleeps until a slot opens, failing once the cumulative wait exceeds the
// configured budget.
//
// A single limiter may be shared by several provider handles (clones within
// one daemon) so they honour one budget; the mutex makes that safe.
type RateLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	maxRequests int
	maxWait     time.Duration
	timestamps  []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter allowing maxRequests per window, with
// callers waiting at most maxWait in total before giving up.
func NewRateLimiter(window time.Duration, maxRequests int, maxWait time.Duration) *RateLimiter {
	return &RateLimiter{
		window:      window,
		maxRequests: maxRequests,
		maxWait:     maxWait,
		now:         time.Now,
	}
}

// CheckAndRecord records the request if the trailing window has room and
// returns (0, true). Otherwise it returns the wait until the oldest
// in-window request expires and false.
func (r *RateLimiter) CheckAndRecord() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	// Drop timestamps that fell out of the window.
	kept := r.timestamps[:0]
	for _, ts := range r.timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	r.timestamps = kept

	if len(r.timestamps) < r.maxRequests {
		r.timestamps = append(r.timestamps, now)
		return 0, true
	}

	wait := r.timestamps[0].Sub(cutoff)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// Acquire blocks until a request slot is available. It fails with
// ErrRateLimitExceeded once cumulative waiting passes maxWait, or with the
// context error on cancellation.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	var waited time.Duration
	for {
		wait, ok := r.CheckAndRecord()
		if ok {
			return nil
		}
		if waited+wait > r.maxWait {
			return newError(ErrRateLimitExceeded, "rate limit wait budget exceeded", nil)
		}
		select {
		case <-ctx.Done():
			return newError(ErrNetwork, "cancelled while rate limited", ctx.Err())
		case <-time.After(wait):
			waited += wait
		}
	}
}
