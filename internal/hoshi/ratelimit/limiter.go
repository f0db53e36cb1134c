package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultCapacity is the bucket size when no explicit capacity is set.
	DefaultCapacity = 10

	// DefaultRefillRate refills a default bucket completely in 20 seconds.
	DefaultRefillRate = 0.5

	// DefaultIdleTTL is how long a bucket may go unused before Cleanup
	// evicts it.
	DefaultIdleTTL = time.Hour

	// DefaultCleanupInterval is the cadence of the background eviction loop.
	DefaultCleanupInterval = 5 * time.Minute
)

// Config holds the limiter knobs. Zero values fall back to the defaults.
type Config struct {
	Capacity        int
	RefillRate      float64
	IdleTTL         time.Duration
	CleanupInterval time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// RateLimiter keeps one TokenBucket per user identity. Buckets are created on
// first request and evicted after IdleTTL of inactivity. One user exhausting
// their bucket never affects another user's tokens.
//
// RateLimiter is safe for concurrent use from multiple goroutines.
type RateLimiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*TokenBucket

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// New returns a RateLimiter and starts its cleanup loop. Call Destroy to stop
// the loop when the limiter is no longer needed.
func New(cfg Config) *RateLimiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = DefaultRefillRate
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultCleanupInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	r := &RateLimiter{
		cfg:     cfg,
		buckets: make(map[string]*TokenBucket),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// CheckAndConsume takes one token from userID's bucket, creating the bucket
// if this is the user's first request. It returns false when the user is
// sending too fast.
//
// The expected caller pattern is:
//
//	if !limiter.CheckAndConsume(userID) {
//	    return ratelimit.ExceededMessage, nil
//	}
func (r *RateLimiter) CheckAndConsume(userID string) bool {
	now := r.cfg.Now()
	return r.bucket(userID, now).ConsumeAt(now, 1)
}

// Bucket returns the bucket for userID, or nil if the user has none.
func (r *RateLimiter) Bucket(userID string) *TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buckets[userID]
}

// Cleanup evicts every bucket whose last consume attempt is older than the
// idle threshold and returns how many were removed.
func (r *RateLimiter) Cleanup() int {
	return r.cleanupAt(r.cfg.Now())
}

func (r *RateLimiter) cleanupAt(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-r.cfg.IdleTTL)
	removed := 0
	for id, b := range r.buckets {
		if b.LastUsed().Before(cutoff) {
			delete(r.buckets, id)
			removed++
		}
	}
	return removed
}

// Size returns the number of live buckets.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buckets)
}

// Destroy stops the cleanup loop and waits for it to exit. It is safe to
// call more than once.
func (r *RateLimiter) Destroy() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

func (r *RateLimiter) bucket(userID string, now time.Time) *TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[userID]
	if !ok {
		b = NewTokenBucket(r.cfg.Capacity, r.cfg.RefillRate, now)
		r.buckets[userID] = b
	}
	return b
}

func (r *RateLimiter) cleanupLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Cleanup()
		}
	}
}
