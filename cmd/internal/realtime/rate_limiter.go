package realtime

import (
	"sync"
	"time"
)

// RateLimiter admits at most limit events per sliding window for one
// session. Admission times live in a ring, so the slot at next always holds
// the oldest admitted event.
type RateLimiter struct {
	mu     sync.Mutex
	ring   []time.Time
	next   int
	window time.Duration
}

// NewRateLimiter falls back to the gateway defaults for non-positive inputs.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = rateLimitEvents
	}
	if window <= 0 {
		window = rateLimitWindow
	}
	return &RateLimiter{ring: make([]time.Time, limit), window: window}
}

// Allow admits an event at now.
func (r *RateLimiter) Allow(now time.Time) bool {
	ok, _ := r.Reserve(now)
	return ok
}

// Reserve admits an event at now or reports how long until the oldest
// admitted event leaves the window.
func (r *RateLimiter) Reserve(now time.Time) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if oldest := r.ring[r.next]; !oldest.IsZero() {
		if age := now.Sub(oldest); age < r.window {
			return false, r.window - age
		}
	}
	r.ring[r.next] = now
	r.next = (r.next + 1) % len(r.ring)
	return true, 0
}
