// Package stt provides batch speech-to-text backends.
package stt

import (
	"context"
	"io"
	"strings"
)

// Provider transcribes one complete audio batch.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts audio to text.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string // Provider-specific model
	Language   string // ISO language code
	Format     string // Audio container hint (webm, wav, mp3, ogg)
	SampleRate int    // Audio sample rate in Hz, raw PCM only
}

// Transcript is the result of transcription.
type Transcript struct {
	Text     string
	Language string
	Duration float64 // seconds
}

func extensionFor(format string) string {
	switch strings.ToLower(format) {
	case "wav", "mp3", "ogg", "webm", "flac", "m4a":
		return strings.ToLower(format)
	case "opus":
		return "ogg"
	case "pcm_s16le", "pcm_f32le":
		return "wav"
	default:
		return "webm"
	}
}

func rawEncoding(format string) string {
	switch strings.ToLower(format) {
	case "pcm_s16le", "pcm_f32le", "pcm_mulaw", "pcm_alaw":
		return strings.ToLower(format)
	default:
		return ""
	}
}
