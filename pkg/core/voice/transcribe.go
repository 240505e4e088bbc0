package voice

import (
	"bytes"
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/voice/stt"
)

// MinTranscriptRunes is the shortest transcript worth keeping, not counting
// spaces between words.
const MinTranscriptRunes = 3

// TranscriberConfig configures a Transcriber.
type TranscriberConfig struct {
	Options stt.TranscribeOptions
	// Timeout bounds each provider call. Zero disables the deadline.
	Timeout time.Duration
	// MinRunes defaults to MinTranscriptRunes.
	MinRunes int
}

// Transcriber wraps a speech-to-text provider for the coaching pipeline.
type Transcriber struct {
	provider stt.Provider
	cfg      TranscriberConfig
}

// NewTranscriber creates a Transcriber.
func NewTranscriber(provider stt.Provider, cfg TranscriberConfig) *Transcriber {
	if cfg.MinRunes <= 0 {
		cfg.MinRunes = MinTranscriptRunes
	}
	return &Transcriber{provider: provider, cfg: cfg}
}

// Provider returns the wrapped provider.
func (t *Transcriber) Provider() stt.Provider { return t.provider }

// Transcribe converts one audio batch into text. ok is false, with a nil
// error, when the provider returned fewer than MinRunes of text.
// Provider failures are returned as *core.TranscriptionError.
func (t *Transcriber) Transcribe(ctx context.Context, audio []byte) (text string, ok bool, err error) {
	if t == nil || t.provider == nil {
		return "", false, &core.TranscriptionError{Err: errNoProvider}
	}
	if t.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.Timeout)
		defer cancel()
	}
	out, err := t.provider.Transcribe(ctx, bytes.NewReader(audio), t.cfg.Options)
	if err != nil {
		return "", false, &core.TranscriptionError{Provider: t.provider.Name(), Err: err}
	}
	if out == nil {
		return "", false, nil
	}
	text = NormalizeText(out.Text)
	if spokenRunes(text) < t.cfg.MinRunes {
		return "", false, nil
	}
	return text, true, nil
}

// spokenRunes counts runes other than the single spaces NormalizeText leaves.
func spokenRunes(s string) int {
	return utf8.RuneCountInString(s) - strings.Count(s, " ")
}

// NormalizeText trims and collapses runs of whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

type constError string

func (e constError) Error() string { return string(e) }

const errNoProvider = constError("no speech-to-text provider configured")
