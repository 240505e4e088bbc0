package stt

import (
	"context"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider transcribes through the OpenAI audio transcription API
// (Whisper and compatible servers).
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openai.ClientConfig, *OpenAIProvider)

// WithOpenAIBaseURL points the provider at a compatible server.
func WithOpenAIBaseURL(baseURL string) OpenAIOption {
	return func(cfg *openai.ClientConfig, _ *OpenAIProvider) {
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
	}
}

// WithOpenAIHTTPClient overrides the HTTP client.
func WithOpenAIHTTPClient(client *http.Client) OpenAIOption {
	return func(cfg *openai.ClientConfig, _ *OpenAIProvider) {
		if client != nil {
			cfg.HTTPClient = client
		}
	}
}

// WithOpenAIModel sets the default model used when options carry none.
func WithOpenAIModel(model string) OpenAIOption {
	return func(_ *openai.ClientConfig, p *OpenAIProvider) {
		if model != "" {
			p.model = model
		}
	}
}

// NewOpenAI creates an OpenAI speech-to-text provider.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	p := &OpenAIProvider{model: openai.Whisper1}
	for _, opt := range opts {
		opt(&cfg, p)
	}
	p.client = openai.NewClientWithConfig(cfg)
	return p
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Transcribe uploads audio as a single file.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	resp, err := p.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: "audio." + extensionFor(opts.Format),
		Reader:   audio,
		Format:   openai.AudioResponseFormatJSON,
		Language: opts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}
	return &Transcript{Text: resp.Text, Language: resp.Language, Duration: resp.Duration}, nil
}
