// Package suggest turns a transcript cycle into coaching suggestions: a pure
// prompt builder, one language-model call and a deterministic fallback.
package suggest

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Config tunes the model call.
type Config struct {
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Input is everything one cycle needs.
type Input struct {
	Session types.Session
	Context types.CallContext
	Weights types.MethodologyWeights
	Recent  []types.Transcript
	Latest  types.Transcript
}

// Generator produces one to MaxSuggestions suggestions per cycle.
type Generator struct {
	completer core.Completer
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewGenerator creates a Generator. A nil completer always uses the fallback.
func NewGenerator(completer core.Completer, cfg Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	return &Generator{completer: completer, cfg: cfg, logger: logger, now: time.Now}
}

// Generate calls the model once and falls back to keyword rules on any
// failure. The returned slice is never empty.
func (g *Generator) Generate(ctx context.Context, in Input) ([]types.Suggestion, types.SuggestionSource) {
	out, err := g.fromModel(ctx, in)
	source := types.SourceModel
	if err != nil {
		if g.completer != nil {
			g.logger.Warn("suggestion generation fell back",
				"session_id", in.Session.ID,
				"provider", g.completer.Name(),
				"error", err,
			)
		}
		out = Fallback(in.Latest.Text)
		source = types.SourceFallback
	}

	ts := g.now().UTC()
	for i := range out {
		out[i].ID = uuid.NewString()
		out[i].SessionID = in.Session.ID
		out[i].Timestamp = ts
		out[i].Source = source
	}
	return out, source
}

func (g *Generator) fromModel(ctx context.Context, in Input) ([]types.Suggestion, error) {
	if g.completer == nil {
		return nil, &core.SuggestionGenerationError{Stage: "model", Err: errNoCompleter}
	}
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}
	raw, err := g.completer.Complete(ctx, core.CompletionRequest{
		System:      systemPrompt,
		Prompt:      BuildPrompt(in.Context, in.Weights, in.Recent, in.Latest),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, &core.SuggestionGenerationError{Stage: "model", Err: err}
	}
	out, err := Parse(raw)
	if err != nil {
		return nil, &core.SuggestionGenerationError{Stage: "parse", Err: err}
	}
	return out, nil
}

type constError string

func (e constError) Error() string { return string(e) }

const errNoCompleter = constError("no language model configured")
