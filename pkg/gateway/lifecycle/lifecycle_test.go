package lifecycle

import (
	"testing"
	"time"
)

func TestLifecycle_DrainingSinceKeepsFirstStart(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := start
	l := &Lifecycle{now: func() time.Time { return current }}

	if l.IsDraining() {
		t.Fatalf("new lifecycle is draining")
	}
	if _, ok := l.DrainingSince(); ok {
		t.Fatalf("DrainingSince ok while serving")
	}

	l.SetDraining(true)
	current = start.Add(time.Minute)
	l.SetDraining(true)
	since, ok := l.DrainingSince()
	if !ok || !since.Equal(start) {
		t.Fatalf("since=%v ok=%v, want %v", since, ok, start)
	}

	l.SetDraining(false)
	if l.IsDraining() {
		t.Fatalf("still draining after SetDraining(false)")
	}
}

func TestLifecycle_NilIsServing(t *testing.T) {
	var l *Lifecycle
	l.SetDraining(true)
	if l.IsDraining() {
		t.Fatalf("nil lifecycle reported draining")
	}
}
