package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vango-go/callcoach/pkg/coach/callctx"
	"github.com/vango-go/callcoach/pkg/coach/speaker"
	"github.com/vango-go/callcoach/pkg/coach/suggest"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/providers/gemini"
	"github.com/vango-go/callcoach/pkg/core/providers/openai"
	"github.com/vango-go/callcoach/pkg/core/voice"
	"github.com/vango-go/callcoach/pkg/core/voice/stt"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/handlers"
	"github.com/vango-go/callcoach/pkg/store"
)

func newSTTProvider(cfg config.Config) (stt.Provider, error) {
	switch cfg.STTProvider {
	case config.STTOpenAI:
		return stt.NewOpenAI(cfg.OpenAIAPIKey,
			stt.WithOpenAIBaseURL(cfg.OpenAIBaseURL),
			stt.WithOpenAIModel(cfg.STTModel),
		), nil
	case config.STTCartesia:
		return stt.NewCartesia(cfg.CartesiaAPIKey, cfg.CartesiaBaseURL, nil), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.STTProvider)
	}
}

// newCompleter returns nil for LLMNone; the generator then always uses the
// keyword fallback.
func newCompleter(ctx context.Context, cfg config.Config) (core.Completer, error) {
	switch cfg.LLMProvider {
	case config.LLMNone:
		return nil, nil
	case config.LLMOpenAI:
		return openai.New(cfg.OpenAIAPIKey,
			openai.WithBaseURL(cfg.OpenAIBaseURL),
			openai.WithModel(cfg.LLMModel),
		), nil
	case config.LLMGemini:
		p, err := gemini.New(ctx, cfg.GeminiAPIKey,
			gemini.WithBaseURL(cfg.GeminiBaseURL),
			gemini.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// buildPipeline wires speech-to-text, speaker labelling, call context and
// suggestion generation. The store doubles as the call/CRM context source
// unless a static context file is configured.
func buildPipeline(ctx context.Context, cfg config.Config, st store.Store, logger *slog.Logger) (handlers.Pipeline, error) {
	provider, err := newSTTProvider(cfg)
	if err != nil {
		return handlers.Pipeline{}, err
	}
	completer, err := newCompleter(ctx, cfg)
	if err != nil {
		return handlers.Pipeline{}, fmt.Errorf("suggestion model: %w", err)
	}

	var contexts callctx.Provider = st
	if cfg.ContextFile != "" {
		static, err := callctx.LoadStatic(cfg.ContextFile)
		if err != nil {
			return handlers.Pipeline{}, err
		}
		contexts = static
	}

	transcriber := voice.NewTranscriber(provider, voice.TranscriberConfig{
		Options: stt.TranscribeOptions{
			Model:    cfg.STTModel,
			Language: cfg.STTLanguage,
			Format:   cfg.STTFormat,
		},
		Timeout:  cfg.TranscribeTimeout,
		MinRunes: cfg.MinTranscriptChars,
	})

	logger.Info("coaching pipeline ready",
		"stt_provider", provider.Name(),
		"llm_provider", cfg.LLMProvider,
	)
	return handlers.Pipeline{
		Transcriber:     transcriber,
		TranscriberName: provider.Name(),
		Classifier:      speaker.Heuristic{},
		Contexts:        callctx.NewAggregator(contexts, cfg.ContextTimeout, logger),
		Suggestions: suggest.NewGenerator(completer, suggest.Config{
			Timeout:     cfg.LLMTimeout,
			MaxTokens:   cfg.LLMMaxTokens,
			Temperature: cfg.LLMTemperature,
		}, logger),
	}, nil
}
