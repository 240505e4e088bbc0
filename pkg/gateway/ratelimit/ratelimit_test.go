package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireLiveSession_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxLiveSessions: 1})
	now := time.Now()

	first := l.AcquireLiveSession("p1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireLiveSession("p1", now)
	if second.Allowed {
		t.Fatalf("second should be denied")
	}

	other := l.AcquireLiveSession("p2", now)
	if !other.Allowed {
		t.Fatalf("other principal should be allowed")
	}

	first.Permit.Release()
	third := l.AcquireLiveSession("p1", now)
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
}

func TestAcquireLiveSession_ZeroMeansUnlimited(t *testing.T) {
	l := New(Config{})
	now := time.Now()
	for i := 0; i < 5; i++ {
		if dec := l.AcquireLiveSession("p1", now); !dec.Allowed {
			t.Fatalf("attempt %d denied", i)
		}
	}
}

func TestAcquireRequest_TokenBucket(t *testing.T) {
	l := New(Config{RPS: 1, Burst: 2})
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 2; i++ {
		dec := l.AcquireRequest("p1", now)
		if !dec.Allowed {
			t.Fatalf("burst request %d denied", i)
		}
		dec.Permit.Release()
	}
	dec := l.AcquireRequest("p1", now)
	if dec.Allowed || dec.RetryAfter < 1 {
		t.Fatalf("third request allowed=%v retry_after=%d", dec.Allowed, dec.RetryAfter)
	}

	later := l.AcquireRequest("p1", now.Add(time.Second))
	if !later.Allowed {
		t.Fatalf("refilled request denied")
	}
}

func TestPermitRelease_Idempotent(t *testing.T) {
	l := New(Config{MaxConcurrentRequests: 1})
	now := time.Now()
	dec := l.AcquireRequest("p1", now)
	dec.Permit.Release()
	dec.Permit.Release()

	a := l.AcquireRequest("p1", now)
	if !a.Allowed {
		t.Fatalf("expected slot after release")
	}
	if b := l.AcquireRequest("p1", now); b.Allowed {
		t.Fatalf("double release must not free two slots")
	}
}

func TestPrincipalKeyFromUser_Stable(t *testing.T) {
	a := PrincipalKeyFromUser("user_1")
	if a != PrincipalKeyFromUser("user_1") || a == PrincipalKeyFromUser("user_2") {
		t.Fatalf("unstable key %q", a)
	}
	if len(a) != 2+32 {
		t.Fatalf("len=%d", len(a))
	}
}
