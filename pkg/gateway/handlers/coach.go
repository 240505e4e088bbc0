package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/callcoach/pkg/coach/speaker"
	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
	"github.com/vango-go/callcoach/pkg/gateway/auth"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/lifecycle"
	"github.com/vango-go/callcoach/pkg/gateway/live/protocol"
	"github.com/vango-go/callcoach/pkg/gateway/live/session"
	"github.com/vango-go/callcoach/pkg/gateway/live/sessions"
	"github.com/vango-go/callcoach/pkg/gateway/metrics"
	"github.com/vango-go/callcoach/pkg/gateway/mw"
	"github.com/vango-go/callcoach/pkg/gateway/principal"
	"github.com/vango-go/callcoach/pkg/gateway/ratelimit"
)

// Pipeline bundles the coaching stages shared by every live connection.
type Pipeline struct {
	Transcriber     session.Transcriber
	TranscriberName string
	Classifier      speaker.Classifier
	Contexts        session.ContextBuilder
	Suggestions     session.SuggestionGenerator
}

// CoachHandler handles GET /v1/coach/ws?sessionId=... websocket sessions.
//
// Authentication happens after the upgrade so that rejections carry a close
// code: 1008 for identity and authorization failures, 1011 for setup errors.
type CoachHandler struct {
	Config    config.Config
	Verifier  auth.Verifier
	Store     session.Store
	Registry  *sessions.Registry
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Pipeline  Pipeline

	// PipelineCtx outlives individual connections; it is cancelled on
	// forced shutdown.
	PipelineCtx context.Context
}

func (h CoachHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	reqID := requestIDFromContext(r.Context())
	if h.Lifecycle.IsDraining() {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrOverloaded, Message: "gateway is draining", Code: "draining", RequestID: reqID}, http.StatusServiceUnavailable)
		return
	}
	if !mw.OriginAllowed(h.Config.CORSAllowedOrigins, r.Header.Get("Origin")) {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrPermission, Message: "origin is not allowed", Param: "Origin", RequestID: reqID}, http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		HandshakeTimeout: h.Config.WSHandshakeTimeout,
		CheckOrigin:      func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	logger := h.logger().With("request_id", reqID)
	sessionID := strings.TrimSpace(r.URL.Query().Get("sessionId"))

	sess, err := h.authorize(r, sessionID)
	if err != nil {
		h.reject(conn, logger, sessionID, err)
		return
	}

	permit, ok := h.acquireLiveSession(sess)
	if !ok {
		h.Metrics.RecordRejectedSession("rate_limited")
		h.Metrics.RecordRateLimitHit("live_sessions")
		logger.Info("live session rejected", "session_id", sessionID, "reason", "rate_limited")
		h.closeWithError(conn, sessionID, websocket.ClosePolicyViolation, "rate_limited", "too many active live sessions")
		return
	}
	defer permit.Release()

	if sess.Status != types.StatusListening {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		updated, err := h.Store.UpdateSessionStatus(ctx, sess.ID, types.StatusListening)
		cancel()
		if err != nil {
			h.reject(conn, logger, sessionID, &core.SessionSetupError{Op: "start listening", Err: err})
			return
		}
		sess = updated
	}

	live, err := session.New(session.Dependencies{
		Conn:            conn,
		Logger:          logger,
		Store:           h.Store,
		Registry:        h.Registry,
		Metrics:         h.Metrics,
		Transcriber:     h.Pipeline.Transcriber,
		TranscriberName: h.Pipeline.TranscriberName,
		Classifier:      h.Pipeline.Classifier,
		Contexts:        h.Pipeline.Contexts,
		Suggestions:     h.Pipeline.Suggestions,
		Session:         *sess,
		RequestID:       reqID,
		PipelineCtx:     h.PipelineCtx,
		Release:         permit.Release,
		Config: session.Config{
			DebounceWindow:           h.Config.DebounceWindow,
			MinAudioBytes:            h.Config.MinAudioBytes,
			MaxAudioBytes:            h.Config.MaxAudioBytes,
			MaxTranscriptionFailures: h.Config.MaxTranscriptionFailures,
			RecentTranscripts:        h.Config.RecentTranscripts,
			WriteTimeout:             h.Config.WSWriteTimeout,
			MaxMessageBytes:          h.Config.WSMaxMessageBytes,
			OutboundQueueSize:        128,
		},
	})
	if err != nil {
		h.reject(conn, logger, sessionID, &core.SessionSetupError{Op: "create live session", Err: err})
		return
	}

	if err := live.Run(); err != nil {
		logger.Warn("live session ended with error", "session_id", sess.ID, "error", err)
	}
}

// acquireLiveSession reserves a per-user connection slot. A reconnect for a
// session that is still registered takes over the slot of the connection it
// replaces instead of counting against the cap twice.
func (h CoachHandler) acquireLiveSession(sess *types.Session) (*ratelimit.Permit, bool) {
	if h.Limiter == nil || h.Config.MaxSessionsPerUser <= 0 {
		return nil, true
	}
	key := principal.ForUser(sess.UserID).Key
	dec := h.Limiter.AcquireLiveSession(key, time.Now())
	if !dec.Allowed && h.Registry.Evict(sess.ID, sess.UserID) {
		dec = h.Limiter.AcquireLiveSession(key, time.Now())
	}
	return dec.Permit, dec.Allowed
}

// authorize resolves the identity token and checks that the session exists,
// belongs to the caller and has not ended.
func (h CoachHandler) authorize(r *http.Request, sessionID string) (*types.Session, error) {
	if sessionID == "" {
		return nil, core.NewAuthenticationError(core.AuthMissingSession, "sessionId is required")
	}
	p, err := auth.Authenticate(r, h.Verifier)
	if err != nil {
		return nil, err
	}
	if h.Store == nil {
		return nil, &core.SessionSetupError{Op: "load session", Err: errors.New("no store configured")}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	sess, err := h.Store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, core.ErrNotFoundRecord) {
			return nil, core.NewAuthenticationError(core.AuthUnknownSession, "session not found")
		}
		return nil, &core.SessionSetupError{Op: "load session", Err: err}
	}
	if sess.UserID != p.UserID {
		return nil, core.NewAuthenticationError(core.AuthSessionMismatch, "session belongs to another user")
	}
	if sess.Status == types.StatusEnded {
		return nil, core.NewAuthenticationError(core.AuthSessionEnded, "session has ended")
	}
	return sess, nil
}

func (h CoachHandler) reject(conn *websocket.Conn, logger *slog.Logger, sessionID string, err error) {
	var authErr *core.AuthenticationError
	if errors.As(err, &authErr) {
		h.Metrics.RecordRejectedSession("unauthorized")
		logger.Info("live session rejected", "session_id", sessionID, "reason", authErr.Reason)
		h.closeWithError(conn, sessionID, websocket.ClosePolicyViolation, string(authErr.Reason), authErr.Message)
		return
	}
	h.Metrics.RecordRejectedSession("setup_failed")
	h.Metrics.RecordError("setup")
	logger.Error("live session setup failed", "session_id", sessionID, "error", err)
	h.closeWithError(conn, sessionID, websocket.CloseInternalServerErr, "setup_failed", "session setup failed")
}

func (h CoachHandler) closeWithError(conn *websocket.Conn, sessionID string, closeCode int, code, message string) {
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.WriteJSON(protocol.Error(sessionID, code, message, "", time.Now()))
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(closeCode, code), deadline)
}

func (h CoachHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
