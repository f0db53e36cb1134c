package llm

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/Hoshi/common/retry"
)

func TestFlattenPrompt(t *testing.T) {
	single := Request{Messages: []Message{{Role: RoleUser, Content: "just this"}}}
	if got := FlattenPrompt(single); got != "just this" {
		t.Errorf("single message = %q", got)
	}

	multi := Request{
		System: "Be brief.",
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, Content: "hello"},
			{Role: RoleUser, Content: "how are you?"},
		},
	}
	want := "Be brief.\n\nUser: hi\nAssistant: hello\nUser: how are you?"
	if got := FlattenPrompt(multi); got != want {
		t.Errorf("FlattenPrompt = %q, want %q", got, want)
	}
}

func TestProviderError(t *testing.T) {
	pe := &ProviderError{
		Provider:   "anthropic",
		Op:         "messages",
		StatusCode: 529,
		Body:       `{"error":"overloaded"}`,
		Retry:      3 * time.Second,
		Err:        errors.New("overloaded_error: busy"),
	}
	msg := pe.Error()
	for _, want := range []string{"anthropic", "HTTP 529", "overloaded_error", "body="} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, missing %q", msg, want)
		}
	}
	if !pe.Retryable() {
		t.Error("5xx should be retryable")
	}
	if pe.RetryAfter() != 3*time.Second {
		t.Errorf("RetryAfter = %v", pe.RetryAfter())
	}

	limited := &ProviderError{Provider: "openai", StatusCode: 429, Err: ErrUpstreamRateLimit}
	if !IsRetryable(limited) || !errors.Is(limited, ErrUpstreamRateLimit) {
		t.Error("429 should be retryable and match ErrUpstreamRateLimit")
	}

	bad := &ProviderError{Provider: "openai", StatusCode: 400, Err: errors.New("bad request")}
	if IsRetryable(bad) {
		t.Error("400 should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("non-provider errors are not retryable")
	}

	wrapped := retry.Permanent(&ProviderError{Provider: "cli:x", Err: ErrTimeout})
	var got *ProviderError
	if !errors.As(wrapped, &got) || !errors.Is(wrapped, ErrTimeout) {
		t.Error("ProviderError should be reachable through retry.Permanent")
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Error("empty string should be 0 tokens")
	}
	if got := EstimateTokens(strings.Repeat("a", 400)); got < 90 || got > 110 {
		t.Errorf("EstimateTokens(400 chars) = %d", got)
	}
}

func TestUsageTotal(t *testing.T) {
	if got := (Usage{InputTokens: 7, OutputTokens: 5}).Total(); got != 12 {
		t.Errorf("Total = %d", got)
	}
}
