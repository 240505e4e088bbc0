package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/vango-go/callcoach/pkg/core/types"
)

var errNoSuggestions = errors.New("response contained no usable suggestions")

type rawSuggestion struct {
	Type     string `json:"type"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// Parse decodes a model response into at most MaxSuggestions suggestions.
// It accepts a bare JSON array or an object with a "suggestions" array,
// optionally inside a markdown code fence. Entries without a title or body
// are dropped; unknown types and priorities are normalized.
func Parse(raw string) ([]types.Suggestion, error) {
	body := stripFence(raw)
	if body == "" {
		return nil, errors.New("empty response")
	}

	var items []rawSuggestion
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, fmt.Errorf("decode suggestion array: %w", err)
		}
	} else {
		var wrapped struct {
			Suggestions []rawSuggestion `json:"suggestions"`
		}
		if err := json.Unmarshal([]byte(body), &wrapped); err != nil {
			return nil, fmt.Errorf("decode suggestion object: %w", err)
		}
		items = wrapped.Suggestions
	}

	out := make([]types.Suggestion, 0, MaxSuggestions)
	for _, it := range items {
		title := strings.TrimSpace(it.Title)
		text := strings.TrimSpace(it.Body)
		if title == "" || text == "" {
			continue
		}
		typ, _ := types.ParseSuggestionType(strings.ToLower(strings.TrimSpace(it.Type)))
		pri, _ := types.ParsePriority(strings.ToLower(strings.TrimSpace(it.Priority)))
		out = append(out, types.Suggestion{
			Type:     typ,
			Priority: pri,
			Title:    title,
			Body:     text,
			Source:   types.SourceModel,
		})
		if len(out) == MaxSuggestions {
			break
		}
	}
	if len(out) == 0 {
		return nil, errNoSuggestions
	}
	return out, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = ""
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
