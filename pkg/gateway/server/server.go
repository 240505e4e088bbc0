package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/callcoach/pkg/gateway/auth"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/handlers"
	"github.com/vango-go/callcoach/pkg/gateway/lifecycle"
	"github.com/vango-go/callcoach/pkg/gateway/live/protocol"
	"github.com/vango-go/callcoach/pkg/gateway/live/sessions"
	"github.com/vango-go/callcoach/pkg/gateway/metrics"
	"github.com/vango-go/callcoach/pkg/gateway/mw"
	"github.com/vango-go/callcoach/pkg/gateway/ratelimit"
	"github.com/vango-go/callcoach/pkg/store"
)

// Deps are the long-lived collaborators the gateway routes to.
type Deps struct {
	Store    store.Store
	Pipeline handlers.Pipeline
	Metrics  *metrics.Metrics

	// PipelineCtx bounds in-flight transcription and suggestion work. It
	// defaults to a context that is never cancelled.
	PipelineCtx context.Context
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps

	verifier  auth.Verifier
	limiter   *ratelimit.Limiter
	registry  *sessions.Registry
	lifecycle *lifecycle.Lifecycle
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.PipelineCtx == nil {
		deps.PipelineCtx = context.Background()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New("")
	}

	var verifier auth.Verifier
	if cfg.AuthMode != config.AuthModeDisabled {
		verifier = auth.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTLeeway)
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		deps:     deps,
		verifier: verifier,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                   cfg.LimitRPS,
			Burst:                 cfg.LimitBurst,
			MaxConcurrentRequests: cfg.LimitMaxConcurrentRequests,
			MaxLiveSessions:       cfg.MaxSessionsPerUser,
		}),
		registry:  sessions.NewRegistry(),
		lifecycle: &lifecycle.Lifecycle{},
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:       s.cfg,
		Store:        s.deps.Store,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.registry.Count,
	})
	s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())

	s.mux.Handle("/v1/coach/ws", handlers.CoachHandler{
		Config:      s.cfg,
		Verifier:    s.verifier,
		Store:       s.deps.Store,
		Registry:    s.registry,
		Limiter:     s.limiter,
		Lifecycle:   s.lifecycle,
		Metrics:     s.deps.Metrics,
		Logger:      s.logger,
		Pipeline:    s.deps.Pipeline,
		PipelineCtx: s.deps.PipelineCtx,
	})

	rest := handlers.SessionsHandler{
		Config:   s.cfg,
		Store:    s.deps.Store,
		Registry: s.registry,
		Logger:   s.logger,
	}
	s.handleREST("POST /v1/sessions", rest.Create)
	s.handleREST("GET /v1/sessions", rest.List)
	s.handleREST("GET /v1/sessions/{id}", rest.Get)
	s.handleREST("POST /v1/sessions/{id}/end", rest.End)
	s.handleREST("GET /v1/sessions/{id}/transcripts", rest.Transcripts)
	s.handleREST("GET /v1/sessions/{id}/suggestions", rest.Suggestions)
	s.handleREST("POST /v1/sessions/{id}/suggestions/{suggestionID}/resolve", rest.Resolve)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// handleREST bounds plain request/response routes by HandlerTimeout. The
// websocket route is left out because http.TimeoutHandler cannot hijack.
func (s *Server) handleREST(pattern string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.cfg.HandlerTimeout > 0 {
		h = http.TimeoutHandler(h, s.cfg.HandlerTimeout, `{"error":{"type":"api_error","message":"request timeout"}}`)
	}
	s.mux.Handle(pattern, h)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.cfg, s.limiter, s.deps.Metrics, h)
	h = mw.Auth(s.verifier, h)
	h = mw.ProtocolVersion(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = s.deps.Metrics.Instrument(h)
	h = mw.RequestID(h)
	return h
}

// Registry exposes the live connection registry.
func (s *Server) Registry() *sessions.Registry { return s.registry }

// RunHeartbeat pings live connections until ctx is done.
func (s *Server) RunHeartbeat(ctx context.Context) {
	hb := sessions.NewHeartbeat(s.registry, s.cfg.HeartbeatInterval, s.logger)
	hb.OnTerminate = func(*sessions.Entry) { s.deps.Metrics.RecordHeartbeatTermination() }
	hb.Run(ctx)
}

func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

func (s *Server) WarnLiveSessionsDraining() int {
	return s.registry.WarnAll(protocol.CodeShuttingDown, "server is shutting down")
}

func (s *Server) WaitLiveSessions(ctx context.Context) bool {
	return s.registry.Wait(ctx)
}

func (s *Server) CancelLiveSessions() int {
	return s.registry.CancelAll()
}
