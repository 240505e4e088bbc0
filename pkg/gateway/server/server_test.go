package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vango-go/callcoach/pkg/coach/suggest"
	"github.com/vango-go/callcoach/pkg/core/types"
	"github.com/vango-go/callcoach/pkg/gateway/auth"
	"github.com/vango-go/callcoach/pkg/gateway/config"
	"github.com/vango-go/callcoach/pkg/gateway/handlers"
	"github.com/vango-go/callcoach/pkg/store"
)

const testSecret = "server-test-secret"

type silentTranscriber struct{}

func (silentTranscriber) Transcribe(context.Context, []byte) (string, bool, error) {
	return "", false, nil
}

func testConfig(mode config.AuthMode) config.Config {
	return config.Config{
		AuthMode:                 mode,
		JWTSecret:                testSecret,
		MaxBodyBytes:             1 << 16,
		CORSAllowedOrigins:       map[string]struct{}{},
		DebounceWindow:           time.Second,
		MinAudioBytes:            8,
		MaxAudioBytes:            1 << 20,
		MaxTranscriptionFailures: 3,
		RecentTranscripts:        10,
		HeartbeatInterval:        time.Minute,
		WSWriteTimeout:           time.Second,
		WSMaxMessageBytes:        1 << 20,
		WSHandshakeTimeout:       time.Second,
		ReadHeaderTimeout:        time.Second,
		ReadTimeout:              time.Second,
		HandlerTimeout:           5 * time.Second,
	}
}

func newTestServer(mode config.AuthMode) (*Server, *store.Memory) {
	st := store.NewMemory()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	s := New(testConfig(mode), logger, Deps{
		Store: st,
		Pipeline: handlers.Pipeline{
			Transcriber: silentTranscriber{},
			Suggestions: suggest.NewGenerator(nil, suggest.Config{}, logger),
		},
	})
	return s, st
}

func TestServer_UnknownRoute_ReturnsJSON404(t *testing.T) {
	s, _ := newTestServer(config.AuthModeDisabled)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	req.Header.Set("X-User-ID", "u1")
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"not_found_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("missing request id header")
	}
}

func TestServer_PublicRoutesSkipAuth(t *testing.T) {
	s, _ := newTestServer(config.AuthModeRequired)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d body=%q", path, rr.Code, rr.Body.String())
		}
	}
}

func TestServer_RESTRequiresBearer(t *testing.T) {
	s, _ := newTestServer(config.AuthModeRequired)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/sessions", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rr.Code)
	}

	tok, err := auth.SignToken(testSecret, "", "u1", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}
	rr = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", strings.NewReader(`{"callId":"c1"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%q", rr.Code, rr.Body.String())
	}
	var sess types.Session
	if err := json.Unmarshal(rr.Body.Bytes(), &sess); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sess.UserID != "u1" {
		t.Fatalf("user_id=%q", sess.UserID)
	}
}

func TestServer_UnsupportedProtocolVersion(t *testing.T) {
	s, _ := newTestServer(config.AuthModeDisabled)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set("X-User-ID", "u1")
	req.Header.Set("X-Coach-Version", "9")
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestServer_WebSocketRejectsUnsupportedProtocolVersion(t *testing.T) {
	s, st := newTestServer(config.AuthModeRequired)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	sess := &types.Session{UserID: "u1"}
	if err := st.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	tok, err := auth.SignToken(testSecret, "", "u1", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/coach/ws?v=9&sessionId=" + sess.ID + "&token=" + tok
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("dial succeeded for unsupported version")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp=%v, want 400", resp)
	}
	if n := s.Registry().Count(); n != 0 {
		t.Fatalf("registry count=%d", n)
	}
}

func TestServer_EndSessionClosesLiveSocketNormally(t *testing.T) {
	s, st := newTestServer(config.AuthModeRequired)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	sess := &types.Session{UserID: "u1"}
	if err := st.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	tok, err := auth.SignToken(testSecret, "", "u1", time.Hour, time.Now())
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/coach/ws?sessionId=" + sess.ID + "&token=" + tok
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, data, err := conn.ReadMessage(); err != nil || !strings.Contains(string(data), `"type":"status"`) || !strings.Contains(string(data), `"protocol":"1"`) {
		t.Fatalf("first frame=%q err=%v", data, err)
	}
	if n := s.Registry().Count(); n != 1 {
		t.Fatalf("registry count=%d", n)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/sessions/"+sess.ID+"/end", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("end status=%d", resp.StatusCode)
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("read err=%v, want close", err)
		}
		if ce.Code != websocket.CloseNormalClosure {
			t.Fatalf("close code=%d, want 1000", ce.Code)
		}
		break
	}

	waitCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !s.WaitLiveSessions(waitCtx) {
		t.Fatalf("live sessions did not drain")
	}
}

func TestServer_DrainingFlipsReadiness(t *testing.T) {
	s, _ := newTestServer(config.AuthModeDisabled)
	s.SetDraining()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	if n := s.WarnLiveSessionsDraining(); n != 0 {
		t.Fatalf("warned=%d with no live sessions", n)
	}
	if n := s.CancelLiveSessions(); n != 0 {
		t.Fatalf("canceled=%d with no live sessions", n)
	}
}
