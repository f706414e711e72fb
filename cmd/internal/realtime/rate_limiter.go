package realtime

import (
	"sync"
	"time"
)

// RateLimiter bounds inbound envelopes per session over a sliding window.
// One instance exists per connection; the gateway consults it for every
// envelope read from the wire before routing.
type RateLimiter struct {
	mu     sync.Mutex
	stamps []time.Time
	limit  int
	window time.Duration
}

// NewRateLimiter constructs a limiter admitting at most limit envelopes per
// window. Non-positive inputs fall back to the package defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{
		stamps: make([]time.Time, 0, limit+8),
		limit:  limit,
		window: window,
	}
}

// Allow records an envelope arriving at now and reports whether it is within
// the window budget. Stamps older than the window are pruned first, so a
// session that backs off recovers its budget.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.window)
	keep := r.stamps[:0]
	for _, ts := range r.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	r.stamps = keep

	if len(r.stamps) >= r.limit {
		return false
	}
	r.stamps = append(r.stamps, now)
	return true
}
