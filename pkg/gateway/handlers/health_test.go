package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/lifecycle"
)

type pingerFunc func(context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func readyConfig() config.Config {
	return config.Config{
		AuthMode:          config.AuthModeRequired,
		JWTSecret:         "secret",
		MaxBodyBytes:      1,
		DebounceWindow:    2 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Second,
		HandlerTimeout:    time.Second,
	}
}

func serveReady(t *testing.T, h ReadyHandler) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v body=%q", err, rr.Body.String())
	}
	return rr.Code, resp
}

func TestReadyHandler_Ready(t *testing.T) {
	code, resp := serveReady(t, ReadyHandler{
		Config:       readyConfig(),
		Store:        pingerFunc(func(context.Context) error { return nil }),
		Lifecycle:    &lifecycle.Lifecycle{},
		LiveSessions: func() int { return 3 },
	})
	if code != http.StatusOK {
		t.Fatalf("status=%d resp=%v", code, resp)
	}
	if resp["live_sessions"] != float64(3) {
		t.Fatalf("live_sessions=%v", resp["live_sessions"])
	}
}

func TestReadyHandler_RequiredAuthWithoutSecret_NotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.JWTSecret = ""
	code, resp := serveReady(t, ReadyHandler{Config: cfg, Store: pingerFunc(func(context.Context) error { return nil })})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", code)
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false")
	}
}

func TestReadyHandler_StorePingFailure_NotReady(t *testing.T) {
	code, resp := serveReady(t, ReadyHandler{
		Config: readyConfig(),
		Store:  pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", code)
	}
	if resp["store"] != "unreachable" {
		t.Fatalf("store=%v", resp["store"])
	}
}

func TestReadyHandler_Draining_NotReady(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	code, resp := serveReady(t, ReadyHandler{
		Config:    readyConfig(),
		Store:     pingerFunc(func(context.Context) error { return nil }),
		Lifecycle: lc,
	})
	if code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", code)
	}
	if resp["draining"] != true {
		t.Fatalf("draining=%v", resp["draining"])
	}
	if v, _ := resp["draining_since"].(string); v == "" {
		t.Fatalf("draining_since=%v", resp["draining_since"])
	}
}

func TestNotFoundHandler_JSON(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rr.Code)
	}
	var env struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Error.Type != "not_found_error" {
		t.Fatalf("type=%q", env.Error.Type)
	}
}
