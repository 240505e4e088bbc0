package core

import (
	"context"
	"sort"
	"sync"
)

// Completer is the narrow contract for language-model providers used by
// suggestion generation: one prompt in, raw text out.
type Completer interface {
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string

	// Complete sends a single non-streaming request.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest is a provider-neutral single-turn request.
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
	// JSON asks the provider to constrain output to a JSON document.
	JSON bool
}

// CompleterRegistry resolves completers by name.
type CompleterRegistry struct {
	mu        sync.RWMutex
	providers map[string]Completer
}

// NewCompleterRegistry creates an empty registry.
func NewCompleterRegistry() *CompleterRegistry {
	return &CompleterRegistry{providers: make(map[string]Completer)}
}

func (r *CompleterRegistry) Register(c Completer) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[c.Name()] = c
}

func (r *CompleterRegistry) Get(name string) (Completer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.providers[name]
	return c, ok
}

func (r *CompleterRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
