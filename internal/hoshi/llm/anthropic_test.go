package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
)

// sentMessages is the subset of the Messages API body the tests inspect.
type sentMessages struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role string `json:"role"`
	} `json:"messages"`
	Thinking *struct {
		Type         string `json:"type"`
		BudgetTokens int    `json:"budget_tokens"`
	} `json:"thinking"`
}

func TestAnthropic_CompleteWithThinking(t *testing.T) {
	var sent sentMessages
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("anthropic-version = %q", r.Header.Get("anthropic-version"))
		}
		if err := json.NewDecoder(r.Body).Decode(&sent); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_01",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [
				{"type": "thinking", "thinking": "let me reason", "signature": "sig"},
				{"type": "text", "text": "Here is the plan."}
			],
			"usage": {"input_tokens": 120, "output_tokens": 40},
			"stop_reason": "end_turn"
		}`))
	}))
	defer srv.Close()

	p := NewAnthropic(AnthropicConfig{APIKey: "sk-ant-test", BaseURL: srv.URL + "/v1", Retry: fastRetry()})
	resp, err := p.Complete(context.Background(), Request{
		System:         "system prompt",
		Messages:       []Message{{Role: RoleUser, Content: "plan my week"}},
		MaxTokens:      2048,
		ThinkingBudget: 4000,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "Here is the plan." {
		t.Errorf("Text = %q, thinking blocks must be dropped", resp.Text)
	}
	if resp.Usage.Total() != 160 {
		t.Errorf("usage = %+v", resp.Usage)
	}

	if len(sent.System) != 1 || sent.System[0].Text != "system prompt" || len(sent.Messages) != 1 {
		t.Errorf("request = %+v", sent)
	}
	if sent.Thinking == nil || sent.Thinking.BudgetTokens != 4000 || sent.Thinking.Type != "enabled" {
		t.Fatalf("thinking = %+v", sent.Thinking)
	}
	if sent.MaxTokens <= sent.Thinking.BudgetTokens {
		t.Errorf("max_tokens %d must exceed thinking budget %d", sent.MaxTokens, sent.Thinking.BudgetTokens)
	}
}

func TestAnthropic_BuildRequest(t *testing.T) {
	p := NewAnthropic(AnthropicConfig{APIKey: "k"})

	plain := p.buildRequest(Request{Messages: []Message{
		{Role: "system-ish", Content: "x"},
		{Role: RoleAssistant, Content: "y"},
	}})
	if plain.Thinking.OfEnabled != nil {
		t.Error("thinking should be off without a budget")
	}
	if plain.Model != anthropic.Model(defaultAnthropicModel) || plain.MaxTokens != defaultMaxTokens {
		t.Errorf("defaults not applied: model=%q max_tokens=%d", plain.Model, plain.MaxTokens)
	}
	if plain.Messages[0].Role != anthropic.MessageParamRoleUser {
		t.Errorf("unknown roles map to user, got %q", plain.Messages[0].Role)
	}
	if plain.Messages[1].Role != anthropic.MessageParamRoleAssistant {
		t.Errorf("assistant role = %q", plain.Messages[1].Role)
	}
	if len(plain.System) != 0 {
		t.Errorf("empty system prompt should be omitted, got %d blocks", len(plain.System))
	}

	small := p.buildRequest(Request{MaxTokens: 500, ThinkingBudget: 10})
	if small.Thinking.OfEnabled == nil || small.Thinking.OfEnabled.BudgetTokens != minThinkingBudget {
		t.Fatalf("thinking = %+v, want minimum budget %d", small.Thinking.OfEnabled, minThinkingBudget)
	}
	if small.MaxTokens != minThinkingBudget+500 {
		t.Errorf("MaxTokens = %d", small.MaxTokens)
	}
}

func TestAnthropic_RateLimitRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_02","type":"message","role":"assistant","model":"m","content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()})
	resp, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "ok" || calls.Load() != 2 {
		t.Errorf("text = %q after %d calls", resp.Text, calls.Load())
	}
}

func TestAnthropic_ErrorDetail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	p := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()})
	_, err := p.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})

	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if pe.StatusCode != http.StatusUnauthorized || pe.Body == "" {
		t.Errorf("ProviderError = %+v", pe)
	}
	if pe.Retryable() {
		t.Error("401 must not be retried")
	}
}

func TestAnthropic_RateLimitCarriesRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	p := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := p.client.Messages.New(context.Background(), p.buildRequest(Request{Messages: []Message{{Role: RoleUser, Content: "x"}}}))
	if calls.Load() != 1 {
		t.Errorf("SDK retries must be disabled, got %d calls", calls.Load())
	}
	var pe *ProviderError
	if !errors.As(p.mapError(context.Background(), err), &pe) {
		t.Fatalf("err = %v, want *ProviderError", err)
	}
	if !errors.Is(pe, ErrUpstreamRateLimit) || !pe.Retryable() {
		t.Errorf("429 should be a retryable rate limit: %v", pe)
	}
	if pe.RetryAfter() != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", pe.RetryAfter())
	}
}

func TestAnthropic_ContextCancelled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL, Retry: fastRetry()})
	_, err := p.Complete(ctx, Request{Messages: []Message{{Role: RoleUser, Content: "x"}}})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
