package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bdobrica/Hoshi/common/observability"
	"github.com/bdobrica/Hoshi/common/trace"
	"github.com/bdobrica/Hoshi/internal/hoshi/ratelimit"
)

// ErrUnauthorized is returned for senders outside the allowlist.
var ErrUnauthorized = errors.New("bot: unauthorized sender")

// UnauthorizedMessage is the generic refusal sent to unknown senders.
const UnauthorizedMessage = "🚫 Sorry, I can't help you with that."

// HandlerFunc processes one message and returns the reply.
type HandlerFunc func(ctx context.Context, msg Message) (string, error)

// Middleware wraps a HandlerFunc.
type Middleware func(HandlerFunc) HandlerFunc

// Chain wraps h so that mw[0] is the outermost layer.
func Chain(h HandlerFunc, mw ...Middleware) HandlerFunc {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}

// Logging attaches a trace ID to ctx and logs each message with its
// duration. Refusals and rate limiting are not logged as errors.
func Logging() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) (string, error) {
			ctx = trace.Ensure(ctx)
			start := time.Now()
			reply, err := next(ctx, msg)

			log := observability.WithTrace(ctx).With(
				"transport", msg.Transport,
				"user", msg.UserID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			switch {
			case err == nil:
				log.Info("message handled", "reply_len", len(reply))
			case errors.Is(err, ratelimit.ErrRateLimited):
				log.Info("message rate limited")
			case errors.Is(err, ErrUnauthorized):
				// Logged by Auth as a security event.
			default:
				log.Error("message failed", "err", err)
			}
			return reply, err
		}
	}
}

// Allowlist decides which senders may talk to the bot.
type Allowlist struct {
	all   bool
	users map[string]struct{}
}

// NewAllowlist matches user IDs and usernames case-insensitively. A leading
// "@" on usernames is ignored.
func NewAllowlist(users []string, allowAll bool) *Allowlist {
	a := &Allowlist{all: allowAll, users: make(map[string]struct{}, len(users))}
	for _, u := range users {
		if u = normalizeIdentity(u); u != "" {
			a.users[u] = struct{}{}
		}
	}
	return a
}

// Allowed reports whether msg's sender is on the list.
func (a *Allowlist) Allowed(msg Message) bool {
	if a.all {
		return true
	}
	for _, id := range []string{msg.UserID, msg.Username} {
		if id == "" {
			continue
		}
		if _, ok := a.users[normalizeIdentity(id)]; ok {
			return true
		}
	}
	return false
}

func normalizeIdentity(s string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "@"))
}

// Auth rejects senders not on allow.
func Auth(allow *Allowlist) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) (string, error) {
			if !allow.Allowed(msg) {
				observability.WithTrace(ctx).Warn("security: unauthorized sender",
					"transport", msg.Transport,
					"user", msg.UserID,
					"username", msg.Username,
					"chat", msg.ChatID,
				)
				return "", ErrUnauthorized
			}
			return next(ctx, msg)
		}
	}
}

// RateLimit consumes one token per message from the sender's bucket.
func RateLimit(limiter *ratelimit.RateLimiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, msg Message) (string, error) {
			if !limiter.CheckAndConsume(msg.UserID) {
				return "", ratelimit.ErrRateLimited
			}
			return next(ctx, msg)
		}
	}
}

// ErrorText maps a handler error onto the text shown to the user.
func ErrorText(err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited):
		return ratelimit.ExceededMessage
	case errors.Is(err, ErrUnauthorized):
		return UnauthorizedMessage
	default:
		return "⚠️ Something went wrong. Please try again in a moment."
	}
}
