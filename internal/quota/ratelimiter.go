// Package quota throttles write requests per caller with token buckets.
package quota

import (
	"math"
	"sync"
	"time"
)

// RateLimiter tracks one token bucket per key (owner id or client address).
type RateLimiter struct {
	mu      sync.Mutex
	rpm     int
	now     func() time.Time
	buckets map[string]*tokenBucket
}

type tokenBucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

// NewRateLimiter creates a limiter allowing rpm requests per minute per key.
// rpm=0 means unlimited.
func NewRateLimiter(rpm int) *RateLimiter {
	return &RateLimiter{
		rpm:     rpm,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
}

// Allow reports whether a request for key may proceed, consuming a token
// if so.
func (rl *RateLimiter) Allow(key string) bool {
	if rl.rpm == 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket := rl.refill(key)
	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// RetryAfter returns the seconds until key has a token again.
func (rl *RateLimiter) RetryAfter(key string) int {
	if rl.rpm == 0 {
		return 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	bucket := rl.refill(key)
	if bucket.tokens >= 1 {
		return 0
	}
	wait := (1 - bucket.tokens) / bucket.refillRate
	return int(math.Ceil(wait))
}

// refill must be called with mu held.
func (rl *RateLimiter) refill(key string) *tokenBucket {
	now := rl.now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{
			tokens:     float64(rl.rpm),
			maxTokens:  float64(rl.rpm),
			refillRate: float64(rl.rpm) / 60.0,
			lastRefill: now,
		}
		rl.buckets[key] = bucket
		return bucket
	}

	elapsed := now.Sub(bucket.lastRefill).Seconds()
	bucket.tokens += elapsed * bucket.refillRate
	if bucket.tokens > bucket.maxTokens {
		bucket.tokens = bucket.maxTokens
	}
	bucket.lastRefill = now
	return bucket
}

// Cleanup drops buckets idle for longer than maxIdle.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	for key, bucket := range rl.buckets {
		if bucket.lastRefill.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}
