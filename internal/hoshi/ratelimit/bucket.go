// Package ratelimit throttles chat callers with one token bucket per user.
//
// Buckets refill lazily: the token count is recomputed from the elapsed time
// on every access rather than by a ticker. The only timer in the package is
// the limiter's idle-eviction loop, which bounds memory to the set of users
// that have been active within the idle threshold.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is a single user's permit pool. It wraps rate.Limiter, which
// already implements a lazily refilled bucket with float tokens, and adds the
// lastUsed stamp required for idle eviction.
//
// TokenBucket is safe for concurrent use.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   int
	refillRate float64
	limiter    *rate.Limiter
	lastRefill time.Time
	lastUsed   time.Time
}

// NewTokenBucket returns a full bucket holding capacity tokens that refills
// at refillRate tokens per second.
func NewTokenBucket(capacity int, refillRate float64, now time.Time) *TokenBucket {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if refillRate <= 0 {
		refillRate = DefaultRefillRate
	}
	lim := rate.NewLimiter(rate.Limit(refillRate), capacity)
	// Pin the limiter's internal clock to now so later refills are measured
	// from construction time, not from the zero time.
	lim.SetBurstAt(now, capacity)
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		limiter:    lim,
		lastRefill: now,
		lastUsed:   now,
	}
}

// Consume attempts to take n tokens at the current time.
func (b *TokenBucket) Consume(n int) bool {
	return b.ConsumeAt(time.Now(), n)
}

// ConsumeAt refills the bucket up to now, then takes n tokens if at least n
// are available. On failure the token count is left unchanged. lastUsed is
// updated whether or not the attempt succeeds.
func (b *TokenBucket) ConsumeAt(now time.Time, n int) bool {
	if n <= 0 {
		n = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastUsed = now
	if now.After(b.lastRefill) {
		b.lastRefill = now
	}
	return b.limiter.AllowN(now, n)
}

// Tokens returns the number of tokens available now.
func (b *TokenBucket) Tokens() float64 {
	return b.TokensAt(time.Now())
}

// TokensAt returns the number of tokens that would be available at now.
// It does not modify the bucket.
func (b *TokenBucket) TokensAt(now time.Time) float64 {
	tokens := b.limiter.TokensAt(now)
	if tokens < 0 {
		return 0
	}
	return min(tokens, float64(b.capacity))
}

// Capacity returns the maximum number of tokens the bucket can hold.
func (b *TokenBucket) Capacity() int { return b.capacity }

// RefillRate returns the refill rate in tokens per second.
func (b *TokenBucket) RefillRate() float64 { return b.refillRate }

// LastUsed returns the time of the most recent consume attempt.
func (b *TokenBucket) LastUsed() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed
}
