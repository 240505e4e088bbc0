// Package openai implements core.Completer on the OpenAI Chat Completions API
// and compatible servers.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vango-go/callcoach/pkg/core"
)

// DefaultModel is used when no model option is given.
const DefaultModel = "gpt-4o-mini"

// Provider implements core.Completer.
type Provider struct {
	cfg    openai.ClientConfig
	model  string
	client *openai.Client
}

// Option configures the Provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		if url != "" {
			p.cfg.BaseURL = url
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.cfg.HTTPClient = client
		}
	}
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// New creates a new OpenAI provider.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{cfg: openai.DefaultConfig(apiKey), model: DefaultModel}
	for _, opt := range opts {
		opt(p)
	}
	p.client = openai.NewClientWithConfig(p.cfg)
	return p
}

// Name returns the provider identifier.
func (p *Provider) Name() string { return "openai" }

// Model returns the configured chat model.
func (p *Provider) Model() string { return p.model }

// Complete sends one chat completion and returns the first choice's content.
func (p *Provider) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", mapError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// mapError converts upstream API errors into core.Error so callers can
// tell rate limiting from hard failures.
func mapError(err error) error {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("openai: %w", err)
	}
	errType := core.ErrAPI
	switch apiErr.HTTPStatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		errType = core.ErrInvalidRequest
	case http.StatusUnauthorized:
		errType = core.ErrAuthentication
	case http.StatusForbidden:
		errType = core.ErrPermission
	case http.StatusNotFound:
		errType = core.ErrNotFound
	case http.StatusTooManyRequests:
		errType = core.ErrRateLimit
	case http.StatusServiceUnavailable:
		errType = core.ErrOverloaded
	}
	return fmt.Errorf("openai: %w", &core.Error{Type: errType, Message: apiErr.Message})
}
