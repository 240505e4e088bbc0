package suggest

import (
	"strings"
	"unicode"

	"github.com/vango-go/callcoach/pkg/core/types"
)

type fallbackRule struct {
	match    func(lower string, words []string) bool
	typ      types.SuggestionType
	priority types.Priority
	title    string
	body     string
}

func containsAny(subs ...string) func(string, []string) bool {
	return func(s string, _ []string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

// hasPhrase matches whole words, so "later" does not fire on "collateral".
// A phrase matches when its words appear consecutively.
func hasPhrase(phrases ...string) func(string, []string) bool {
	split := make([][]string, len(phrases))
	for i, p := range phrases {
		split[i] = strings.Fields(p)
	}
	return func(_ string, words []string) bool {
		for _, want := range split {
			for i := 0; i+len(want) <= len(words); i++ {
				if equalWords(words[i:i+len(want)], want) {
					return true
				}
			}
		}
		return false
	}
}

func equalWords(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func splitWords(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// Rules are checked in order; the first match wins.
var fallbackRules = []fallbackRule{
	{
		match:    hasPhrase("price", "prices", "pricing", "cost", "costs", "expensive", "budget", "afford"),
		typ:      types.SuggestionObjection,
		priority: types.PriorityHigh,
		title:    "Handle the price objection",
		body:     "Acknowledge the concern, then anchor on value: ask what the problem costs them today before revisiting numbers.",
	},
	{
		match:    hasPhrase("need time", "need more time", "think about it", "get back to you", "circle back", "talk later", "call me later", "next quarter", "not right now"),
		typ:      types.SuggestionObjection,
		priority: types.PriorityMedium,
		title:    "Uncover the stall",
		body:     "Ask what would need to be true to move forward, and agree on a concrete next step with a date.",
	},
	{
		match:    containsAny("?"),
		typ:      types.SuggestionGeneral,
		priority: types.PriorityMedium,
		title:    "Answer, then follow up",
		body:     "Answer directly, then ask a follow-up question to learn why this matters to them.",
	},
}

var discoveryFallback = fallbackRule{
	typ:      types.SuggestionGeneral,
	priority: types.PriorityLow,
	title:    "Keep discovering",
	body:     "Ask an open-ended question about their current process and the impact of the problem.",
}

// Fallback returns a deterministic suggestion for utterance. It always
// returns exactly one suggestion.
func Fallback(utterance string) []types.Suggestion {
	lower := strings.ToLower(utterance)
	words := splitWords(lower)
	rule := discoveryFallback
	for _, r := range fallbackRules {
		if r.match(lower, words) {
			rule = r
			break
		}
	}
	return []types.Suggestion{{
		Type:     rule.typ,
		Priority: rule.priority,
		Title:    rule.title,
		Body:     rule.body,
		Source:   types.SourceFallback,
	}}
}
