// Package store persists coaching sessions, transcripts and suggestions, and
// serves the read-only call/CRM context the aggregator consumes.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/callcoach/pkg/core/types"
)

// DefaultListLimit bounds list queries when the caller passes no limit.
const DefaultListLimit = 100

// Store is the persistence contract. Lookups of missing records return
// core.ErrNotFoundRecord; disallowed status changes return
// core.ErrInvalidTransition.
type Store interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	// UpdateSessionStatus applies a lifecycle transition and returns the
	// updated record. Self-transitions succeed without a write.
	UpdateSessionStatus(ctx context.Context, id string, status types.SessionStatus) (*types.Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]types.Session, error)

	AppendTranscript(ctx context.Context, t *types.Transcript) error
	// ListTranscripts returns the newest limit transcripts in chronological order.
	ListTranscripts(ctx context.Context, sessionID string, limit int) ([]types.Transcript, error)

	AppendSuggestions(ctx context.Context, s []types.Suggestion) error
	ListSuggestions(ctx context.Context, sessionID string, limit int) ([]types.Suggestion, error)
	SetSuggestionResolved(ctx context.Context, sessionID, suggestionID string, resolved bool) (*types.Suggestion, error)

	Call(ctx context.Context, callID string) (*types.Call, error)
	ResolveCallContext(ctx context.Context, callID string) (*types.CRMContext, error)

	Ping(ctx context.Context) error
	Close()
}

func prepareSession(s *types.Session, now time.Time) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = types.StatusConnecting
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
}

// applyStatus mutates s for a permitted transition to status.
func applyStatus(s *types.Session, status types.SessionStatus, now time.Time) {
	s.Status = status
	s.UpdatedAt = now
	switch status {
	case types.StatusListening:
		if s.StartedAt == nil {
			t := now
			s.StartedAt = &t
		}
	case types.StatusEnded:
		if s.EndedAt == nil {
			t := now
			s.EndedAt = &t
		}
	}
}

func limitOr(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
