package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config    config.Config
	Store     Pinger
	Lifecycle *lifecycle.Lifecycle
	// LiveSessions reports the number of registered live connections.
	LiveSessions func() int
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool       `json:"ok"`
		AuthMode      string     `json:"auth_mode"`
		Store         string     `json:"store"`
		Draining      bool       `json:"draining"`
		DrainingSince *time.Time `json:"draining_since,omitempty"`
		LiveSessions  int        `json:"live_sessions"`
		Issues        []string   `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && h.Config.JWTSecret == "" {
		issues = append(issues, "auth_mode=required but no jwt secret configured")
	}
	if h.Config.MaxBodyBytes <= 0 {
		issues = append(issues, "max_body_bytes must be > 0")
	}
	if h.Config.DebounceWindow <= 0 {
		issues = append(issues, "debounce window must be > 0")
	}
	if h.Config.HeartbeatInterval <= 0 {
		issues = append(issues, "heartbeat interval must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	storeState := "ok"
	if h.Store == nil {
		storeState = "missing"
		issues = append(issues, "no store configured")
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.Store.Ping(ctx)
		cancel()
		if err != nil {
			storeState = "unreachable"
			issues = append(issues, "store ping failed: "+err.Error())
		}
	}

	since, draining := h.Lifecycle.DrainingSince()
	var drainingSince *time.Time
	if draining {
		drainingSince = &since
		issues = append(issues, "draining")
	}

	live := 0
	if h.LiveSessions != nil {
		live = h.LiveSessions()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:            ok,
		AuthMode:      string(h.Config.AuthMode),
		Store:         storeState,
		Draining:      draining,
		DrainingSince: drainingSince,
		LiveSessions:  live,
		Issues:        issues,
	})
}
