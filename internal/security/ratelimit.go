package security

import (
	"sync"
	"time"
)

// RateLimiter enforces a per-session token bucket. Each turn consumes one
// token; tokens refill continuously at the configured per-minute rate up to
// the burst ceiling. Sessions are tracked independently so one noisy client
// cannot starve another.
type RateLimiter struct {
	mu        sync.Mutex
	perMinute float64
	burst     float64
	buckets   map[string]*bucket
	now       func() time.Time
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewRateLimiter creates a limiter refilling perMinute tokens per minute
// with the given burst capacity.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 30
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiter{
		perMinute: float64(perMinute),
		burst:     float64(burst),
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

// Allow consumes one token for the session. When the bucket is empty it
// returns false plus the wait until the next token is available.
func (r *RateLimiter) Allow(sessionID string) (bool, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	b, ok := r.buckets[sessionID]
	if !ok {
		b = &bucket{tokens: r.burst, lastFill: now}
		r.buckets[sessionID] = b
	}

	refill := now.Sub(b.lastFill).Minutes() * r.perMinute
	b.tokens = min(r.burst, b.tokens+refill)
	b.lastFill = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / r.perMinute * float64(time.Minute))
	return false, wait
}

// Tokens reports the session's current token balance, for state snapshots.
func (r *RateLimiter) Tokens(sessionID string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buckets[sessionID]
	if !ok {
		return r.burst
	}
	refill := r.now().Sub(b.lastFill).Minutes() * r.perMinute
	return min(r.burst, b.tokens+refill)
}
