package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/bdobrica/Hoshi/common/retry"
)

const (
	defaultAnthropicBase    = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-sonnet-4-5"
	anthropicVersion        = "2023-06-01"
	minThinkingBudget       = 1024
	maxAnthropicErrorBody   = 4096
	defaultAnthropicTimeout = 5 * time.Minute
)

// AnthropicConfig configures the Anthropic Messages API provider.
type AnthropicConfig struct {
	APIKey string
	// BaseURL defaults to https://api.anthropic.com. A trailing /v1 is
	// accepted and stripped.
	BaseURL string
	// Model is used when Request.Model is empty.
	Model string
	// HTTPClient overrides the transport. Callers bound each call with ctx;
	// the client timeout is a backstop.
	HTTPClient *http.Client
	Retry      retry.Config
}

// AnthropicProvider implements Provider over the Messages API with
// extended thinking support.
type AnthropicProvider struct {
	cfg    AnthropicConfig
	client anthropic.Client
}

// NewAnthropic returns a provider for the Anthropic Messages API. Retries
// are handled by cfg.Retry, so the SDK's own retry loop is disabled.
func NewAnthropic(cfg AnthropicConfig) *AnthropicProvider {
	cfg.BaseURL = strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/v1")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	cfg.Retry.ShouldRetry = IsRetryable
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultAnthropicTimeout}
	}
	client := anthropic.NewClient(
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL+"/"),
		option.WithHTTPClient(httpClient),
		option.WithHeader("anthropic-version", anthropicVersion),
		option.WithMaxRetries(0),
	)
	return &AnthropicProvider{cfg: cfg, client: client}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsThinking() bool { return true }

// buildRequest maps a Request onto Messages API params. With thinking
// enabled the budget is raised to the API minimum and max_tokens grown to
// exceed it.
func (p *AnthropicProvider) buildRequest(req Request) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{Model: anthropic.Model(model)}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(block))
			continue
		}
		params.Messages = append(params.Messages, anthropic.NewUserMessage(block))
	}
	if req.ThinkingBudget > 0 {
		budget := max(req.ThinkingBudget, minThinkingBudget)
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
		if maxTokens <= budget {
			maxTokens = budget + maxTokens
		}
	}
	params.MaxTokens = int64(maxTokens)
	return params
}

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	params := p.buildRequest(req)

	start := time.Now()
	var out *Response
	err := retry.Do(ctx, p.cfg.Retry, func() error {
		var err error
		out, err = p.do(ctx, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	out.Latency = time.Since(start)
	return out, nil
}

func (p *AnthropicProvider) do(ctx context.Context, params anthropic.MessageNewParams) (*Response, error) {
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.mapError(ctx, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, retry.Permanent(&ProviderError{Provider: p.Name(), Op: "messages", Err: ErrEmptyResponse})
	}

	return &Response{
		Text:  text.String(),
		Model: string(msg.Model),
		Usage: Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)},
	}, nil
}

type anthropicErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// mapError turns an SDK failure into a ProviderError. Cancellation is
// permanent; transport failures are retried like a 502.
func (p *AnthropicProvider) mapError(ctx context.Context, err error) error {
	pe := &ProviderError{Provider: p.Name(), Op: "messages", Err: err}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		if ctx.Err() != nil {
			pe.Err = fmt.Errorf("%w: %v", ErrTimeout, err)
			return retry.Permanent(pe)
		}
		pe.StatusCode = http.StatusBadGateway
		return pe
	}

	pe.StatusCode = apiErr.StatusCode
	raw := apiErr.RawJSON()
	pe.Body = truncate(raw, maxAnthropicErrorBody)
	var body anthropicErrorBody
	if json.Unmarshal([]byte(raw), &body) == nil && body.Error.Message != "" {
		pe.Err = fmt.Errorf("%s: %s", body.Error.Type, body.Error.Message)
	} else {
		pe.Err = fmt.Errorf("unexpected status %d", apiErr.StatusCode)
	}
	if apiErr.Response != nil {
		if secs, err := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); err == nil && secs > 0 {
			pe.Retry = time.Duration(secs) * time.Second
		}
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		pe.Err = fmt.Errorf("%w: %v", ErrUpstreamRateLimit, pe.Err)
	}
	return pe
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
