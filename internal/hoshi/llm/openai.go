package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/bdobrica/Hoshi/common/retry"
)

const (
	defaultOpenAIBase  = "https://api.openai.com/v1"
	defaultGroqBase    = "https://api.groq.com/openai/v1"
	defaultOpenAIModel = "gpt-4o-mini"
	defaultMaxTokens   = 4096
)

// OpenAIConfig configures an OpenAI-compatible chat completions provider.
type OpenAIConfig struct {
	// Name labels the provider in logs. Defaults to "openai".
	Name string
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string
	// BaseURL overrides the API endpoint (Groq, Azure, a local gateway).
	BaseURL string
	// Model is used when Request.Model is empty.
	Model string
	// Retry controls retries on throttling and 5xx responses.
	Retry retry.Config
}

// OpenAIProvider implements Provider with github.com/sashabaranov/go-openai.
type OpenAIProvider struct {
	name   string
	model  string
	retry  retry.Config
	client *openai.Client
}

// NewOpenAI returns a provider for the OpenAI API or any compatible endpoint.
func NewOpenAI(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig
	}
	cfg.Retry.ShouldRetry = IsRetryable

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &OpenAIProvider{
		name:   cfg.Name,
		model:  cfg.Model,
		retry:  cfg.Retry,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// NewGroq returns an OpenAIProvider pointed at Groq's compatible endpoint.
func NewGroq(apiKey, model, baseURL string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = defaultGroqBase
	}
	return NewOpenAI(OpenAIConfig{Name: "groq", APIKey: apiKey, BaseURL: baseURL, Model: model})
}

func (p *OpenAIProvider) Name() string { return p.name }

// SupportsThinking is false: chat completions expose no reasoning budget.
func (p *OpenAIProvider) SupportsThinking() bool { return false }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	err := retry.Do(ctx, p.retry, func() error {
		var err error
		resp, err = p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return p.wrapError(ctx, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &ProviderError{Provider: p.name, Op: "chat completion", Err: ErrEmptyResponse}
	}

	out := &Response{
		Text:    resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Latency: time.Since(start),
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if out.Model == "" {
		out.Model = model
	}
	return out, nil
}

func (p *OpenAIProvider) wrapError(ctx context.Context, err error) error {
	pe := &ProviderError{Provider: p.name, Op: "chat completion", Err: err}

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		pe.StatusCode = apiErr.HTTPStatusCode
		pe.Body = apiErr.Message
	case errors.As(err, &reqErr):
		pe.StatusCode = reqErr.HTTPStatusCode
		pe.Body = string(reqErr.Body)
	}

	switch {
	case ctx.Err() != nil:
		pe.Err = fmt.Errorf("%w: %v", ErrTimeout, err)
		return retry.Permanent(pe)
	case pe.StatusCode == http.StatusTooManyRequests:
		pe.Err = fmt.Errorf("%w: %v", ErrUpstreamRateLimit, err)
	}
	return pe
}
