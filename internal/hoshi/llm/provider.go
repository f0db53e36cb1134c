// Package llm defines the provider abstraction Hoshi uses to reach language
// models, with implementations for OpenAI-compatible APIs (OpenAI, Groq),
// the Anthropic Messages API and a local command-line tool.
//
// Providers return *ProviderError for every upstream failure. It carries the
// operator-facing detail (HTTP status, response body, stderr, exit code) and
// must never be shown to chat users.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("llm: empty response")
	// ErrUpstreamRateLimit is wrapped by ProviderError when the upstream API
	// throttled the request (HTTP 429).
	ErrUpstreamRateLimit = errors.New("llm: upstream rate limit")
	// ErrTimeout is wrapped by ProviderError when the call exceeded its
	// deadline.
	ErrTimeout = errors.New("llm: timed out")
)

// Message is one turn passed to the model.
type Message struct {
	Role    string
	Content string
}

// Request is the input to a single completion call.
type Request struct {
	System    string
	Messages  []Message
	Model     string
	MaxTokens int
	// ThinkingBudget enables extended reasoning when > 0 and the provider
	// supports it. Ignored otherwise.
	ThinkingBudget int
}

// Usage carries token counts reported (or estimated) for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns InputTokens + OutputTokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the output of a completion call.
type Response struct {
	Text    string
	Model   string
	Usage   Usage
	Latency time.Duration
}

// Provider completes prompts against a language model.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the provider in logs, e.g. "anthropic" or "cli:claude".
	Name() string
	// SupportsThinking reports whether Request.ThinkingBudget is honoured.
	SupportsThinking() bool
	// Complete runs one completion bounded by ctx.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ProviderError describes a failed provider call in full detail.
type ProviderError struct {
	Provider   string
	Op         string
	StatusCode int
	Body       string
	Stderr     string
	ExitCode   int
	Retry      time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "llm: %s %s", e.Provider, e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, " body=%.500s", e.Body)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, " stderr=%.500s", e.Stderr)
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RetryAfter exposes a server-provided retry hint to common/retry.
func (e *ProviderError) RetryAfter() time.Duration { return e.Retry }

// Retryable reports whether the failure is transient: throttling, upstream
// overload or a 5xx response.
func (e *ProviderError) Retryable() bool {
	if errors.Is(e.Err, ErrUpstreamRateLimit) {
		return true
	}
	return e.StatusCode >= 500
}

// IsRetryable is a retry.Config.ShouldRetry predicate for provider errors.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return false
}

// EstimateTokens approximates the token count of s at ~4 characters per
// token. Used when a provider does not report usage.
func EstimateTokens(s string) int {
	const charsPerToken = 4
	if s == "" {
		return 0
	}
	return len(s)/charsPerToken + 1
}

// FlattenPrompt renders a request as one plain-text prompt for providers
// that accept a single string. A lone user message with no system prompt is
// passed through unchanged.
func FlattenPrompt(req Request) string {
	if req.System == "" && len(req.Messages) == 1 && req.Messages[0].Role == RoleUser {
		return req.Messages[0].Content
	}
	var b strings.Builder
	if req.System != "" {
		b.WriteString(req.System)
		b.WriteString("\n\n")
	}
	for _, m := range req.Messages {
		label := "User"
		if m.Role == RoleAssistant {
			label = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", label, m.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
