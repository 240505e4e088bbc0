package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
	"github.com/vango-go/callcoach/pkg/gateway/auth"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/live/sessions"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SessionsStore is the persistence behind the REST session endpoints.
type SessionsStore interface {
	CreateSession(ctx context.Context, s *types.Session) error
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status types.SessionStatus) (*types.Session, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]types.Session, error)
	ListTranscripts(ctx context.Context, sessionID string, limit int) ([]types.Transcript, error)
	ListSuggestions(ctx context.Context, sessionID string, limit int) ([]types.Suggestion, error)
	SetSuggestionResolved(ctx context.Context, sessionID, suggestionID string, resolved bool) (*types.Suggestion, error)
}

// SessionsHandler serves the /v1/sessions REST surface. Every route expects
// the principal attached by mw.Auth and only exposes the caller's sessions.
type SessionsHandler struct {
	Config   config.Config
	Store    SessionsStore
	Registry *sessions.Registry
	Logger   *slog.Logger
}

type createSessionRequest struct {
	CallID string `json:"callId"`
}

type resolveRequest struct {
	Resolved *bool `json:"resolved"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

// Create handles POST /v1/sessions.
func (h SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sess := &types.Session{
		UserID: p.UserID,
		CallID: strings.TrimSpace(req.CallID),
		Status: types.StatusConnecting,
	}
	if err := h.Store.CreateSession(r.Context(), sess); err != nil {
		h.logger().Error("create session failed", "user_id", p.UserID, "error", err)
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// List handles GET /v1/sessions.
func (h SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	p, ok := h.principal(w, r)
	if !ok {
		return
	}
	limit, err := listLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Store.ListSessions(r.Context(), p.UserID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[types.Session]{Data: nonNil(out)})
}

// Get handles GET /v1/sessions/{id}.
func (h SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// End handles POST /v1/sessions/{id}/end. A live connection for the
// session is closed with a normal closure.
func (h SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	updated, err := h.Store.UpdateSessionStatus(r.Context(), sess.ID, types.StatusEnded)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if e, live := h.Registry.Lookup(sess.ID); live {
		e.End()
	}
	h.logger().Info("session ended", "session_id", sess.ID, "user_id", sess.UserID)
	writeJSON(w, http.StatusOK, updated)
}

// Transcripts handles GET /v1/sessions/{id}/transcripts.
func (h SessionsHandler) Transcripts(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	limit, err := listLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Store.ListTranscripts(r.Context(), sess.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[types.Transcript]{Data: nonNil(out)})
}

// Suggestions handles GET /v1/sessions/{id}/suggestions.
func (h SessionsHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	limit, err := listLimit(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out, err := h.Store.ListSuggestions(r.Context(), sess.ID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[types.Suggestion]{Data: nonNil(out)})
}

// Resolve handles POST /v1/sessions/{id}/suggestions/{suggestionID}/resolve.
// The body may set {"resolved": false} to reopen a suggestion.
func (h SessionsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.owned(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	resolved := true
	if req.Resolved != nil {
		resolved = *req.Resolved
	}
	sug, err := h.Store.SetSuggestionResolved(r.Context(), sess.ID, r.PathValue("suggestionID"), resolved)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sug)
}

func (h SessionsHandler) principal(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeError(w, r, core.NewAuthenticationError(core.AuthMissingToken, "missing bearer token"))
		return nil, false
	}
	return p, true
}

// owned loads {id} and checks it belongs to the caller.
func (h SessionsHandler) owned(w http.ResponseWriter, r *http.Request) (*types.Session, bool) {
	p, ok := h.principal(w, r)
	if !ok {
		return nil, false
	}
	sess, err := h.Store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if sess.UserID != p.UserID {
		reqID := requestIDFromContext(r.Context())
		writeCoreErrorJSON(w, reqID, &core.Error{
			Type:    core.ErrPermission,
			Message: "session belongs to another user",
			Code:    string(core.AuthSessionMismatch),
		}, http.StatusForbidden)
		return nil, false
	}
	return sess, true
}

func (h SessionsHandler) decode(r *http.Request, v any) error {
	body := io.Reader(r.Body)
	if h.Config.MaxBodyBytes > 0 {
		body = io.LimitReader(r.Body, h.Config.MaxBodyBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return core.NewInvalidRequestError("failed to read request body")
	}
	if h.Config.MaxBodyBytes > 0 && int64(len(data)) > h.Config.MaxBodyBytes {
		return &core.Error{Type: core.ErrInvalidRequest, Message: "request body too large", Code: "body_too_large"}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		var syntax *json.SyntaxError
		if errors.As(err, &syntax) {
			return core.NewInvalidRequestError("request body is not valid JSON")
		}
		return core.NewInvalidRequestError("invalid request body: " + err.Error())
	}
	return nil
}

func (h SessionsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func listLimit(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return defaultListLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, core.NewInvalidRequestErrorWithParam("limit must be a positive integer", "limit")
	}
	return min(n, maxListLimit), nil
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
