package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vango-go/callcoach/pkg/core"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(context.Background(), " "); err == nil {
		t.Fatalf("expected error")
	}
}

func TestComplete_GeneratesContent(t *testing.T) {
	var (
		gotPath string
		body    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"suggestions\":[]}"}]},"finishReason":"STOP"}]}`))
	}))
	defer srv.Close()

	p, err := New(context.Background(), "gk", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithModel("gemini-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := p.Complete(context.Background(), core.CompletionRequest{System: "sys", Prompt: "hi", JSON: true, MaxTokens: 64})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"suggestions":[]}` {
		t.Fatalf("out=%q", out)
	}
	if !strings.HasSuffix(gotPath, "models/gemini-test:generateContent") {
		t.Fatalf("path=%q", gotPath)
	}
	gc, _ := body["generationConfig"].(map[string]any)
	if gc["responseMimeType"] != "application/json" {
		t.Fatalf("generationConfig=%v", body["generationConfig"])
	}
	if _, ok := body["systemInstruction"]; !ok {
		t.Fatalf("missing systemInstruction: %v", body)
	}
}

func TestComplete_MapsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	p, err := New(context.Background(), "gk", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Complete(context.Background(), core.CompletionRequest{Prompt: "hi"})
	var ce *core.Error
	if !errors.As(err, &ce) || ce.Type != core.ErrRateLimit {
		t.Fatalf("err=%v", err)
	}
}
