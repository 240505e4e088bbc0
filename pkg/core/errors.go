package core

import (
	"errors"
	"fmt"
)

// Error represents an API error returned on the REST surface.
type Error struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Param      string    `json:"param,omitempty"`
	Code       string    `json:"code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrAuthentication ErrorType = "authentication_error"
	ErrPermission     ErrorType = "permission_error"
	ErrNotFound       ErrorType = "not_found_error"
	ErrConflict       ErrorType = "conflict_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrOverloaded     ErrorType = "overloaded_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewInvalidRequestErrorWithParam creates an invalid request error with a parameter.
func NewInvalidRequestErrorWithParam(message, param string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message, Param: param}
}

// NewNotFoundError creates a not found error.
func NewNotFoundError(message string) *Error {
	return &Error{Type: ErrNotFound, Message: message}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(message string, retryAfter int) *Error {
	return &Error{Type: ErrRateLimit, Message: message, RetryAfter: &retryAfter}
}

// ErrNotFoundRecord is returned by stores when a keyed record does not exist.
var ErrNotFoundRecord = errors.New("record not found")

// AuthReason names why a connection attempt was rejected.
type AuthReason string

const (
	AuthMissingToken    AuthReason = "missing_token"
	AuthInvalidToken    AuthReason = "invalid_token"
	AuthExpiredToken    AuthReason = "expired_token"
	AuthMissingSession  AuthReason = "missing_session"
	AuthUnknownSession  AuthReason = "unknown_session"
	AuthSessionMismatch AuthReason = "session_user_mismatch"
	AuthSessionEnded    AuthReason = "session_ended"
)

// AuthenticationError is fatal to a connection attempt (close 1008).
type AuthenticationError struct {
	Reason  AuthReason
	Message string
	Err     error
}

func (e *AuthenticationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", msg, e.Err)
	}
	return "authentication failed: " + msg
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// NewAuthenticationError creates an authentication error for reason.
func NewAuthenticationError(reason AuthReason, message string) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Message: message}
}

// TranscriptionError reports a failed speech-to-text call. The session survives it.
type TranscriptionError struct {
	Provider string
	Err      error
}

func (e *TranscriptionError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("transcription failed (%s): %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// SuggestionGenerationError reports a failed or unparseable model call. It is
// absorbed by the fallback policy and never reaches the client.
type SuggestionGenerationError struct {
	Stage string // "model" or "parse"
	Err   error
}

func (e *SuggestionGenerationError) Error() string {
	return fmt.Sprintf("suggestion generation failed at %s: %v", e.Stage, e.Err)
}

func (e *SuggestionGenerationError) Unwrap() error { return e.Err }

// SessionSetupError is an unexpected failure while establishing a live
// session (close 1011).
type SessionSetupError struct {
	Op  string
	Err error
}

func (e *SessionSetupError) Error() string {
	return fmt.Sprintf("session setup failed: %s: %v", e.Op, e.Err)
}

func (e *SessionSetupError) Unwrap() error { return e.Err }

// ErrInvalidTransition is returned when a session status change is not
// allowed by the lifecycle state machine.
var ErrInvalidTransition = errors.New("invalid session status transition")

// ErrDuplicateRecord is returned when creating a record whose key exists.
var ErrDuplicateRecord = errors.New("record already exists")
