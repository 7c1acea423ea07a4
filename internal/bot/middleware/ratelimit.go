package middleware

import (
	"sync"
	"time"

	"vpn-shop-bot/internal/errors"
)

// RateLimiter throttles buyer taps with fixed per-user windows so a
// button-mashing buyer cannot flood the admin with review traffic.
// Admins bypass it at the call sites.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[int64]*window
	max     int
	span    time.Duration
}

// window counts requests until resetAt passes
type window struct {
	count   int
	resetAt time.Time
}

// NewRateLimiter allows max requests per window. Zero values fall back
// to 10 requests per minute.
func NewRateLimiter(max, windowSeconds int) *RateLimiter {
	if max <= 0 {
		max = 10
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	return &RateLimiter{
		buckets: make(map[int64]*window),
		max:     max,
		span:    time.Duration(windowSeconds) * time.Second,
	}
}

// Check counts one request and errors once the user is over quota for
// the current window
func (r *RateLimiter) Check(userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	w, ok := r.buckets[userID]
	if !ok || now.After(w.resetAt) {
		r.buckets[userID] = &window{count: 1, resetAt: now.Add(r.span)}
		return nil
	}

	if w.count >= r.max {
		return errors.RateLimitExceeded("too many requests")
	}

	w.count++
	return nil
}

// Prune drops windows that have already reset, keeping the bucket map
// from growing with every buyer ever seen
func (r *RateLimiter) Prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for id, w := range r.buckets {
		if now.After(w.resetAt) {
			delete(r.buckets, id)
		}
	}
}
