// Package types holds the coaching domain records shared by the pipeline,
// the stores and the wire protocol.
package types

import "time"

// SessionStatus is the persisted lifecycle state of a coaching session.
type SessionStatus string

const (
	StatusConnecting SessionStatus = "connecting"
	StatusListening  SessionStatus = "listening"
	StatusEnded      SessionStatus = "ended"
	StatusError      SessionStatus = "error"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusConnecting, StatusListening, StatusEnded, StatusError:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows from -> to.
// Self-transitions are allowed and treated as no-ops by callers.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusConnecting:
		return to == StatusListening || to == StatusEnded
	case StatusListening:
		return to == StatusEnded || to == StatusError
	case StatusError:
		return to == StatusListening || to == StatusEnded
	default:
		return false
	}
}

// Session is a coaching session bound to one user and one call.
type Session struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	CallID    string        `json:"call_id,omitempty"`
	Status    SessionStatus `json:"status"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Speaker labels who said an utterance.
type Speaker string

const (
	SpeakerRep      Speaker = "rep"
	SpeakerProspect Speaker = "prospect"
	SpeakerSystem   Speaker = "system"
)

// Transcript is one append-only utterance.
type Transcript struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
}

// SuggestionType classifies a coaching suggestion.
type SuggestionType string

const (
	SuggestionGeneral     SuggestionType = "suggestion"
	SuggestionObjection   SuggestionType = "objection"
	SuggestionOpportunity SuggestionType = "opportunity"
	SuggestionWarning     SuggestionType = "warning"
)

// ParseSuggestionType normalizes raw into a known type.
func ParseSuggestionType(raw string) (SuggestionType, bool) {
	switch SuggestionType(raw) {
	case SuggestionGeneral, SuggestionObjection, SuggestionOpportunity, SuggestionWarning:
		return SuggestionType(raw), true
	default:
		return SuggestionGeneral, false
	}
}

// Priority ranks a suggestion.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// ParsePriority normalizes raw into a known priority.
func ParsePriority(raw string) (Priority, bool) {
	switch Priority(raw) {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return Priority(raw), true
	default:
		return PriorityMedium, false
	}
}

// SuggestionSource records which path produced a suggestion.
type SuggestionSource string

const (
	SourceModel    SuggestionSource = "model"
	SourceFallback SuggestionSource = "fallback"
)

// Suggestion is a coaching hint produced after a transcript.
type Suggestion struct {
	ID        string           `json:"id"`
	SessionID string           `json:"session_id"`
	Timestamp time.Time        `json:"timestamp"`
	Type      SuggestionType   `json:"type"`
	Priority  Priority         `json:"priority"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Resolved  bool             `json:"resolved"`
	Source    SuggestionSource `json:"source,omitempty"`
}
