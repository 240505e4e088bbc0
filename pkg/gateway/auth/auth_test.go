package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/callcoach/pkg/core"
)

func reasonOf(t *testing.T, err error) core.AuthReason {
	t.Helper()
	var authErr *core.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("err=%T %v, want *core.AuthenticationError", err, err)
	}
	return authErr.Reason
}

func TestJWTVerifier_AcceptsSignedToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := SignToken("s3cret", "coach", "user_1", time.Hour, now)
	if err != nil {
		t.Fatalf("SignToken: %v", err)
	}

	v := NewJWTVerifier("s3cret", "coach", 0)
	v.now = func() time.Time { return now.Add(time.Minute) }
	p, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.UserID != "user_1" {
		t.Fatalf("user=%q", p.UserID)
	}
}

func TestJWTVerifier_RejectsBadTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	valid, _ := SignToken("s3cret", "", "user_1", time.Minute, now)
	otherIssuer, _ := SignToken("s3cret", "someone-else", "user_1", time.Minute, now)
	wrongKey, _ := SignToken("other", "", "user_1", time.Minute, now)

	cases := []struct {
		name   string
		issuer string
		token  string
		at     time.Time
		want   core.AuthReason
	}{
		{name: "empty", token: "", at: now, want: core.AuthMissingToken},
		{name: "garbage", token: "not-a-jwt", at: now, want: core.AuthInvalidToken},
		{name: "wrong key", token: wrongKey, at: now, want: core.AuthInvalidToken},
		{name: "expired", token: valid, at: now.Add(2 * time.Minute), want: core.AuthExpiredToken},
		{name: "issuer mismatch", issuer: "coach", token: otherIssuer, at: now, want: core.AuthInvalidToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := NewJWTVerifier("s3cret", tc.issuer, 0)
			at := tc.at
			v.now = func() time.Time { return at }
			_, err := v.Verify(tc.token)
			if got := reasonOf(t, err); got != tc.want {
				t.Fatalf("reason=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestJWTVerifier_LeewayAllowsClockSkew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token, _ := SignToken("s3cret", "", "user_1", time.Minute, now)

	v := NewJWTVerifier("s3cret", "", 30*time.Second)
	v.now = func() time.Time { return now.Add(time.Minute + 10*time.Second) }
	if _, err := v.Verify(token); err != nil {
		t.Fatalf("Verify within leeway: %v", err)
	}
}

func TestSignToken_RequiresUserAndTTL(t *testing.T) {
	if _, err := SignToken("s", "", " ", time.Minute, time.Now()); err == nil {
		t.Fatalf("expected error for empty user")
	}
	if _, err := SignToken("s", "", "u", 0, time.Now()); err == nil {
		t.Fatalf("expected error for zero ttl")
	}
}

func TestTokenFromRequest_HeaderThenQuery(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/coach?token=from-query", nil)
	if tok, ok := TokenFromRequest(r); !ok || tok != "from-query" {
		t.Fatalf("query token=%q ok=%v", tok, ok)
	}
	r.Header.Set("Authorization", "Bearer from-header")
	if tok, ok := TokenFromRequest(r); !ok || tok != "from-header" {
		t.Fatalf("header token=%q ok=%v", tok, ok)
	}

	bare := httptest.NewRequest("GET", "/v1/coach", nil)
	bare.Header.Set("Authorization", "Basic abc")
	if _, ok := TokenFromRequest(bare); ok {
		t.Fatalf("expected no token for basic auth")
	}
}

func TestAuthenticate_DisabledModeUsesUserID(t *testing.T) {
	r := httptest.NewRequest("GET", "/v1/coach?userId=dev", nil)
	p, err := Authenticate(r, nil)
	if err != nil || p.UserID != "dev" {
		t.Fatalf("p=%+v err=%v", p, err)
	}

	h := httptest.NewRequest("GET", "/v1/sessions", nil)
	h.Header.Set("X-User-ID", "dev2")
	if p, err := Authenticate(h, nil); err != nil || p.UserID != "dev2" {
		t.Fatalf("header p=%+v err=%v", p, err)
	}

	_, err = Authenticate(httptest.NewRequest("GET", "/v1/sessions", nil), nil)
	if got := reasonOf(t, err); got != core.AuthMissingToken {
		t.Fatalf("reason=%q", got)
	}
}

func TestAuthenticate_RequiredModeVerifies(t *testing.T) {
	now := time.Now()
	token, _ := SignToken("k", "", "user_9", time.Hour, now)
	v := NewJWTVerifier("k", "", 0)

	r := httptest.NewRequest("GET", "/v1/coach?token="+token, nil)
	p, err := Authenticate(r, v)
	if err != nil || p.UserID != "user_9" {
		t.Fatalf("p=%+v err=%v", p, err)
	}

	_, err = Authenticate(httptest.NewRequest("GET", "/v1/coach?userId=user_9", nil), v)
	if got := reasonOf(t, err); got != core.AuthMissingToken {
		t.Fatalf("reason=%q, userId must not bypass verification", got)
	}
}
