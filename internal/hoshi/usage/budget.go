// Package usage tracks per-user LLM token consumption against a daily budget.
package usage

import (
	"errors"
	"sync"
	"time"
)

// DefaultDailyBudget is the per-user token allowance per local calendar day
// when no explicit budget is configured.
const DefaultDailyBudget = 200_000

// ErrBudgetExceeded is returned when a user has used up today's allowance.
var ErrBudgetExceeded = errors.New("usage: daily token budget exceeded")

// ExceededMessage is the reply surfaced to a user who has exhausted their
// daily token allowance.
const ExceededMessage = "I've reached today's conversation limit for you. The counter resets at midnight."

// Budget enforces a per-user daily token budget.
//
// The counter for each user resets at local midnight. Callers should:
//  1. Call Allow before issuing an LLM request.
//  2. Call Record after the request with the tokens the provider reported.
//
// A nil *Budget allows everything and records nothing.
// Budget is safe for concurrent use.
type Budget struct {
	mu    sync.Mutex
	limit int
	now   func() time.Time
	usage map[string]*dailyUsage
}

type dailyUsage struct {
	tokens  int
	resetAt time.Time
}

// NewBudget returns a Budget allowing dailyLimit tokens per user per day.
// If dailyLimit ≤ 0 it defaults to DefaultDailyBudget.
func NewBudget(dailyLimit int) *Budget {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyBudget
	}
	return &Budget{
		limit: dailyLimit,
		now:   time.Now,
		usage: make(map[string]*dailyUsage),
	}
}

// Limit returns the configured daily token limit per user.
func (b *Budget) Limit() int {
	if b == nil {
		return 0
	}
	return b.limit
}

// Allow reports whether userID still has budget left today. It does not
// consume anything.
func (b *Budget) Allow(userID string) bool {
	if b == nil {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.current(userID)
	return u == nil || u.tokens < b.limit
}

// Record adds tokens to userID's running total for today.
func (b *Budget) Record(userID string, tokens int) {
	if b == nil || tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	u := b.current(userID)
	if u == nil {
		u = &dailyUsage{resetAt: nextMidnight(b.now())}
		b.usage[userID] = u
	}
	u.tokens += tokens
}

// Used returns the tokens userID has consumed today.
func (b *Budget) Used(userID string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if u := b.current(userID); u != nil {
		return u.tokens
	}
	return 0
}

// Remaining returns the tokens userID may still consume today.
func (b *Budget) Remaining(userID string) int {
	if b == nil {
		return 0
	}
	if rem := b.limit - b.Used(userID); rem > 0 {
		return rem
	}
	return 0
}

// current returns the live counter for userID, dropping it first when the
// day has rolled over. Must be called with b.mu held.
func (b *Budget) current(userID string) *dailyUsage {
	u := b.usage[userID]
	if u == nil {
		return nil
	}
	if !b.now().Before(u.resetAt) {
		delete(b.usage, userID)
		return nil
	}
	return u
}

func nextMidnight(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
}
