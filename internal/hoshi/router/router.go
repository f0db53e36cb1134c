// Package router executes a user message in one of two modes. Simple mode
// sends a single flattened prompt to a fast executor; flow mode sends a
// structured request with extended thinking and applies memory directives
// from the reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/Hoshi/common/observability"
	"github.com/bdobrica/Hoshi/common/redact"
	"github.com/bdobrica/Hoshi/internal/hoshi/conversation"
	"github.com/bdobrica/Hoshi/internal/hoshi/llm"
	"github.com/bdobrica/Hoshi/internal/hoshi/memory"
	"github.com/bdobrica/Hoshi/internal/hoshi/settings"
	"github.com/bdobrica/Hoshi/internal/hoshi/usage"
)

const (
	DefaultSimpleTimeout = 120 * time.Second
	DefaultFlowTimeout   = 300 * time.Second
	DefaultHistoryLimit  = 10
)

// ProviderFailureMessage is the only text users see when a call fails.
const ProviderFailureMessage = "⚠️ Something went wrong while I was thinking about that. Please try again in a moment."

// ErrProviderFailure is returned when the model call fails. Detail is logged,
// never returned. Timeouts additionally wrap llm.ErrTimeout.
var ErrProviderFailure = errors.New("router: provider failure")

// MemorySource supplies long-term memory and persists flow directives.
type MemorySource interface {
	LoadLongTermMemory(ctx context.Context, userID string) string
	ApplyDirectives(ctx context.Context, userID, reply string) (string, memory.DirectiveResult)
}

// History is the short-term conversation buffer.
type History interface {
	GetHistory(ctx context.Context, userID string, limit int) []conversation.Message
	Append(ctx context.Context, userID, role, content string)
}

// Config wires a Router.
type Config struct {
	// Simple executes simple-mode prompts. Required.
	Simple llm.Provider
	// Flow executes flow-mode requests. Defaults to Simple.
	Flow llm.Provider

	Memory  MemorySource
	History History
	// Budget is optional. When set, calls are refused once the user's daily
	// tokens are spent.
	Budget *usage.Budget
	// Settings overrides the model fields below at call time. Optional.
	Settings settings.Getter

	Model          string
	MaxTokens      int
	ThinkingBudget int
	HistoryLimit   int
	SimpleTimeout  time.Duration
	FlowTimeout    time.Duration
	FlowFallback   bool

	// Secrets are scrubbed from logged provider detail.
	Secrets []string
}

// Router dispatches messages to the configured providers.
type Router struct {
	cfg Config
}

// New validates cfg and returns a Router.
func New(cfg Config) (*Router, error) {
	if cfg.Simple == nil {
		return nil, errors.New("router: simple provider is required")
	}
	if cfg.Memory == nil || cfg.History == nil {
		return nil, errors.New("router: memory and history are required")
	}
	if cfg.Flow == nil {
		cfg.Flow = cfg.Simple
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.SimpleTimeout <= 0 {
		cfg.SimpleTimeout = DefaultSimpleTimeout
	}
	if cfg.FlowTimeout <= 0 {
		cfg.FlowTimeout = DefaultFlowTimeout
	}
	return &Router{cfg: cfg}, nil
}

// FlowProvider reports the provider used for flow mode.
func (r *Router) FlowProvider() llm.Provider { return r.cfg.Flow }

// SimpleProvider reports the provider used for simple mode.
func (r *Router) SimpleProvider() llm.Provider { return r.cfg.Simple }

// RouteMessage runs text for userID in mode and returns the reply. On
// success the user message and reply are appended to history. Errors are
// ErrProviderFailure, usage.ErrBudgetExceeded, ErrInvalidMode or a context
// error.
func (r *Router) RouteMessage(ctx context.Context, text string, mode Mode, userID string) (string, error) {
	if r.cfg.Budget != nil && !r.cfg.Budget.Allow(userID) {
		return "", usage.ErrBudgetExceeded
	}

	var (
		reply string
		err   error
	)
	switch mode {
	case ModeSimple:
		reply, err = r.runSimple(ctx, text, userID)
	case ModeFlow:
		reply, err = r.runFlow(ctx, text, userID)
		if err != nil && ctx.Err() == nil && r.fallbackEnabled(ctx) {
			observability.WithTrace(ctx).Warn("flow failed, falling back to simple", "user", userID)
			reply, err = r.runSimple(ctx, text, userID)
		}
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, llm.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", ErrProviderFailure, llm.ErrTimeout)
		}
		return "", ErrProviderFailure
	}

	r.cfg.History.Append(ctx, userID, conversation.RoleUser, text)
	r.cfg.History.Append(ctx, userID, conversation.RoleAssistant, reply)
	return reply, nil
}

func (r *Router) runSimple(ctx context.Context, text, userID string) (string, error) {
	longTerm := r.cfg.Memory.LoadLongTermMemory(ctx, userID)
	history := r.cfg.History.GetHistory(ctx, userID, r.cfg.HistoryLimit)

	req := llm.Request{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: buildSimplePrompt(longTerm, history, text)}},
		Model:     settings.String(ctx, r.cfg.Settings, settings.KeyLLMModel, r.cfg.Model),
		MaxTokens: settings.Int(ctx, r.cfg.Settings, settings.KeyLLMMaxTokens, r.cfg.MaxTokens),
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.SimpleTimeout)
	defer cancel()

	resp, err := r.call(callCtx, ModeSimple, r.cfg.Simple, userID, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (r *Router) runFlow(ctx context.Context, text, userID string) (string, error) {
	longTerm := r.cfg.Memory.LoadLongTermMemory(ctx, userID)
	history := r.cfg.History.GetHistory(ctx, userID, r.cfg.HistoryLimit)

	req := llm.Request{
		System:    buildFlowSystemPrompt(longTerm),
		Messages:  buildFlowMessages(history, text),
		Model:     settings.String(ctx, r.cfg.Settings, settings.KeyLLMModel, r.cfg.Model),
		MaxTokens: settings.Int(ctx, r.cfg.Settings, settings.KeyLLMMaxTokens, r.cfg.MaxTokens),
	}
	if r.cfg.Flow.SupportsThinking() {
		req.ThinkingBudget = settings.Int(ctx, r.cfg.Settings, settings.KeyLLMThinkingBudget, r.cfg.ThinkingBudget)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.FlowTimeout)
	defer cancel()

	resp, err := r.call(callCtx, ModeFlow, r.cfg.Flow, userID, req)
	if err != nil {
		return "", err
	}

	reply, res := r.cfg.Memory.ApplyDirectives(ctx, userID, resp.Text)
	log := observability.WithTrace(ctx)
	if res.Applied > 0 {
		log.Info("memory directives applied", "user", userID, "count", res.Applied)
	}
	for _, derr := range res.Errors {
		log.Warn("memory directive failed", "user", userID, "err", derr)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "✅ Noted."
	}
	return reply, nil
}

// call invokes p, charges the budget and logs failures with full detail.
func (r *Router) call(ctx context.Context, mode Mode, p llm.Provider, userID string, req llm.Request) (*llm.Response, error) {
	log := observability.WithTrace(ctx)
	resp, err := p.Complete(ctx, req)
	if err != nil {
		r.logFailure(ctx, mode, p, userID, err)
		return nil, err
	}
	if r.cfg.Budget != nil {
		r.cfg.Budget.Record(userID, resp.Usage.Total())
	}
	log.Info("llm call completed",
		"mode", mode,
		"provider", p.Name(),
		"model", resp.Model,
		"user", userID,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"latency_ms", resp.Latency.Milliseconds(),
	)
	return resp, nil
}

func (r *Router) logFailure(ctx context.Context, mode Mode, p llm.Provider, userID string, err error) {
	attrs := []any{
		"mode", mode,
		"provider", p.Name(),
		"user", userID,
		"err", redact.String(err.Error(), r.cfg.Secrets...),
	}
	var pe *llm.ProviderError
	if errors.As(err, &pe) {
		if pe.StatusCode != 0 {
			attrs = append(attrs, "status", pe.StatusCode)
		}
		if pe.Body != "" {
			attrs = append(attrs, "body", redact.String(pe.Body, r.cfg.Secrets...))
		}
		if pe.Stderr != "" {
			attrs = append(attrs, "stderr", redact.String(pe.Stderr, r.cfg.Secrets...))
		}
		if pe.ExitCode != 0 {
			attrs = append(attrs, "exit_code", pe.ExitCode)
		}
	}
	observability.WithTrace(ctx).Error("llm call failed", attrs...)
}

func (r *Router) fallbackEnabled(ctx context.Context) bool {
	return settings.Bool(ctx, r.cfg.Settings, settings.KeyFlowFallback, r.cfg.FlowFallback)
}

// UserMessage maps a RouteMessage error onto user-facing text.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, usage.ErrBudgetExceeded):
		return usage.ExceededMessage
	case errors.Is(err, llm.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "⌛ That took too long. Please try again, or send /simple for a quicker answer."
	default:
		return ProviderFailureMessage
	}
}
