package ratelimit

import (
	"math"
	"math/rand"
	"testing"
	"time"
)

const tolerance = 1e-6

func TestTokenBucket_StartsFull(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(10, 0.5, now)
	if got := b.TokensAt(now); math.Abs(got-10) > tolerance {
		t.Fatalf("new bucket tokens = %v, want 10", got)
	}
}

func TestTokenBucket_ConsumeUntilEmpty(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(3, 1, now)

	for i := 0; i < 3; i++ {
		if !b.ConsumeAt(now, 1) {
			t.Fatalf("consume %d/3 failed", i+1)
		}
	}
	if b.ConsumeAt(now, 1) {
		t.Fatal("consume on empty bucket should fail")
	}
	if got := b.TokensAt(now); got > tolerance {
		t.Errorf("tokens after exhaustion = %v, want 0", got)
	}
}

func TestTokenBucket_FailedConsumeLeavesTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(5, 1, now)

	if !b.ConsumeAt(now, 3) {
		t.Fatal("consume 3 of 5 should succeed")
	}
	if b.ConsumeAt(now, 3) {
		t.Fatal("consume 3 of 2 should fail")
	}
	if got := b.TokensAt(now); math.Abs(got-2) > tolerance {
		t.Errorf("tokens after failed consume = %v, want 2", got)
	}
}

func TestTokenBucket_FullRefillAfterCapacityOverRate(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(10, 0.5, now)
	for i := 0; i < 10; i++ {
		b.ConsumeAt(now, 1)
	}

	// capacity / refillRate = 20s
	later := now.Add(20 * time.Second)
	if got := b.TokensAt(later); math.Abs(got-10) > tolerance {
		t.Errorf("tokens after 20s = %v, want 10", got)
	}
	// Halfway through the refill window we expect half the tokens.
	if got := b.TokensAt(now.Add(10 * time.Second)); math.Abs(got-5) > tolerance {
		t.Errorf("tokens after 10s = %v, want 5", got)
	}
	// Long idle periods never overfill.
	if got := b.TokensAt(now.Add(24 * time.Hour)); math.Abs(got-10) > tolerance {
		t.Errorf("tokens after a day = %v, want capacity 10", got)
	}
}

func TestTokenBucket_LastUsedUpdatesOnFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(1, 0.001, now)
	b.ConsumeAt(now, 1)

	later := now.Add(time.Minute)
	if b.ConsumeAt(later, 1) {
		t.Fatal("expected failure on empty bucket")
	}
	if !b.LastUsed().Equal(later) {
		t.Errorf("LastUsed = %v, want %v", b.LastUsed(), later)
	}
}

func TestTokenBucket_TokensStayWithinBounds(t *testing.T) {
	// Random sequences of consume attempts at random, non-decreasing times
	// must never drive tokens below zero or above capacity.
	rng := rand.New(rand.NewSource(42))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(10, 0.5, now)

	for i := 0; i < 5000; i++ {
		now = now.Add(time.Duration(rng.Intn(3000)) * time.Millisecond)
		b.ConsumeAt(now, 1+rng.Intn(4))
		got := b.TokensAt(now)
		if got < -tolerance || got > 10+tolerance {
			t.Fatalf("step %d: tokens %v out of [0, 10]", i, got)
		}
	}
}

func TestTokenBucket_Defaults(t *testing.T) {
	b := NewTokenBucket(0, 0, time.Now())
	if b.Capacity() != DefaultCapacity {
		t.Errorf("Capacity = %d, want %d", b.Capacity(), DefaultCapacity)
	}
	if b.RefillRate() != DefaultRefillRate {
		t.Errorf("RefillRate = %v, want %v", b.RefillRate(), DefaultRefillRate)
	}
}
