// Package speaker attributes transcript utterances to a call participant.
//
// The default Heuristic works from lexical cues only. It is not diarization
// and its labels should not be treated as ground truth.
package speaker

import (
	"strings"
	"unicode"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// Classifier assigns a speaker label to one utterance.
type Classifier interface {
	Classify(text string) types.Speaker
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(text string) types.Speaker

func (f ClassifierFunc) Classify(text string) types.Speaker { return f(text) }

// Heuristic classifies by phrase markers. The zero value uses the built-in
// marker lists.
type Heuristic struct {
	RepPhrases    []string
	Interrogative []string
	SystemMarkers []string
}

var (
	defaultRepPhrases = []string{
		"our solution", "our product", "our platform", "our customers", "our team",
		"we offer", "we provide", "we help", "we can", "let me show", "let me walk",
		"i'd recommend", "i recommend", "happy to", "what we do",
	}
	defaultInterrogatives = []string{
		"what", "how", "why", "when", "where", "who", "which",
		"can", "could", "would", "will", "do", "does", "did", "is", "are", "should",
	}
	defaultSystemMarkers = []string{"[system]", "[silence]", "[music]", "[inaudible]"}
)

// Classify returns the speaker label for text. Ambiguous text defaults to rep.
//
// Order: system markers, then rep phrasing, then interrogatives.
func (h Heuristic) Classify(text string) types.Speaker {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return types.SpeakerRep
	}
	for _, m := range pick(h.SystemMarkers, defaultSystemMarkers) {
		if strings.Contains(lower, m) {
			return types.SpeakerSystem
		}
	}
	for _, p := range pick(h.RepPhrases, defaultRepPhrases) {
		if strings.Contains(lower, p) {
			return types.SpeakerRep
		}
	}
	if strings.Contains(lower, "?") {
		return types.SpeakerProspect
	}
	if first := firstWord(lower); first != "" {
		for _, w := range pick(h.Interrogative, defaultInterrogatives) {
			if first == w {
				return types.SpeakerProspect
			}
		}
	}
	return types.SpeakerRep
}

func pick(custom, fallback []string) []string {
	if len(custom) > 0 {
		return custom
	}
	return fallback
}

func firstWord(s string) string {
	f := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(f) == 0 {
		return ""
	}
	return f[0]
}
