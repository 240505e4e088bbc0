package sessions

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vango-go/callcoach/pkg/core/voice"
)

type manualTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *manualTimer) fire() {
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if !stopped {
		t.f()
	}
}

type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(_ time.Duration, f func()) voice.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) last() *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.timers) == 0 {
		return nil
	}
	return c.timers[len(c.timers)-1]
}

func ingestConfig(clock *manualClock) voice.IngestConfig {
	return voice.IngestConfig{Window: time.Second, MinBytes: 1, AfterFunc: clock.AfterFunc}
}

func TestRegistry_RegisterUnregister_CountAndWait(t *testing.T) {
	reg := NewRegistry()
	if reg.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", reg.Count())
	}

	e1 := reg.Register("s1", Handle{}, voice.IngestConfig{}, nil)
	e2 := reg.Register("s2", Handle{}, voice.IngestConfig{}, nil)
	if reg.Count() != 2 {
		t.Fatalf("count=%d, want 2", reg.Count())
	}

	e1.Unregister()
	if reg.Count() != 1 {
		t.Fatalf("count=%d, want 1", reg.Count())
	}

	e2.Unregister()
	e2.Unregister()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := reg.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if reg.Count() != 0 {
		t.Fatalf("count=%d, want 0", reg.Count())
	}
}

func TestRegistry_DisconnectCancelsTimerAndIgnoresLateAudio(t *testing.T) {
	clock := &manualClock{}
	reg := NewRegistry()
	var flushes atomic.Int64
	entry := reg.Register("s1", Handle{UserID: "u1"}, ingestConfig(clock), func(*Entry, []byte) {
		flushes.Add(1)
	})

	if !reg.Append("s1", []byte("abc")) {
		t.Fatalf("append to live session rejected")
	}
	timer := clock.last()
	if timer == nil || !entry.Buffer().TimerArmed() {
		t.Fatalf("expected armed debounce timer")
	}

	if dropped := entry.Unregister(); dropped != 3 {
		t.Fatalf("dropped=%d, want 3", dropped)
	}
	if !timer.stopped {
		t.Fatalf("debounce timer not cancelled")
	}
	if _, ok := reg.Lookup("s1"); ok {
		t.Fatalf("session still registered after disconnect")
	}

	if reg.Append("s1", []byte("late")) {
		t.Fatalf("late audio accepted by registry")
	}
	if entry.Append([]byte("late")) {
		t.Fatalf("late audio accepted by stale entry")
	}
	timer.fire()
	if flushes.Load() != 0 {
		t.Fatalf("flushes=%d after disconnect, want 0", flushes.Load())
	}
}

func TestRegistry_ReplaceCancelsOlderConnection(t *testing.T) {
	reg := NewRegistry()
	var oldCancelled atomic.Int64
	old := reg.Register("s1", Handle{Cancel: func() { oldCancelled.Add(1) }}, voice.IngestConfig{}, nil)
	old.Append([]byte("pending"))

	fresh := reg.Register("s1", Handle{}, voice.IngestConfig{}, nil)
	if oldCancelled.Load() != 1 {
		t.Fatalf("old cancel calls=%d, want 1", oldCancelled.Load())
	}
	if old.Registered() || !fresh.Registered() {
		t.Fatalf("registered old=%v fresh=%v", old.Registered(), fresh.Registered())
	}
	if got, _ := reg.Lookup("s1"); got != fresh {
		t.Fatalf("lookup returned stale entry")
	}

	// The old connection's cleanup must not evict its replacement.
	old.Unregister()
	if reg.Count() != 1 {
		t.Fatalf("count=%d, want 1", reg.Count())
	}
	fresh.Unregister()
}

func TestRegistry_FlushSkippedForUnregisteredEntry(t *testing.T) {
	clock := &manualClock{}
	reg := NewRegistry()
	got := make(chan []byte, 1)
	entry := reg.Register("s1", Handle{}, ingestConfig(clock), func(e *Entry, audio []byte) {
		got <- audio
	})
	entry.Append([]byte("hello"))
	clock.last().fire()

	select {
	case audio := <-got:
		if string(audio) != "hello" {
			t.Fatalf("audio=%q", audio)
		}
	default:
		t.Fatalf("expected flush for registered entry")
	}
	entry.Unregister()
}

func TestRegistry_CancelAll_CallsCancel(t *testing.T) {
	reg := NewRegistry()
	var c1, c2 atomic.Int64
	reg.Register("s1", Handle{Cancel: func() { c1.Add(1) }}, voice.IngestConfig{}, nil)
	reg.Register("s2", Handle{Cancel: func() { c2.Add(1) }}, voice.IngestConfig{}, nil)

	if n := reg.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if c1.Load() != 1 || c2.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", c1.Load(), c2.Load())
	}
}

func TestRegistry_WarnAll_BestEffort(t *testing.T) {
	reg := NewRegistry()
	var w1, w2 atomic.Int64
	reg.Register("s1", Handle{Warn: func(code, message string) error {
		w1.Add(1)
		return nil
	}}, voice.IngestConfig{}, nil)
	reg.Register("s2", Handle{Warn: func(code, message string) error {
		w2.Add(1)
		return errors.New("nope")
	}}, voice.IngestConfig{}, nil)

	if sent := reg.WarnAll("shutting_down", "test"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if w1.Load() != 1 || w2.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", w1.Load(), w2.Load())
	}
}

func TestRegistry_WaitTimesOutWhileRegistered(t *testing.T) {
	reg := NewRegistry()
	e := reg.Register("s1", Handle{}, voice.IngestConfig{}, nil)
	defer e.Unregister()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if reg.Wait(ctx) {
		t.Fatalf("Wait returned true with a live session")
	}
}

func TestRegistry_UnregisterReleasesOnceAndKeepsDroppedCount(t *testing.T) {
	clock := &manualClock{}
	reg := NewRegistry()
	var released atomic.Int64
	entry := reg.Register("s1", Handle{Release: func() { released.Add(1) }}, ingestConfig(clock), nil)
	entry.Append([]byte("abcd"))

	if dropped := entry.Unregister(); dropped != 4 {
		t.Fatalf("dropped=%d, want 4", dropped)
	}
	if again := entry.Unregister(); again != 0 {
		t.Fatalf("second Unregister=%d, want 0", again)
	}
	if got := entry.DroppedBytes(); got != 4 {
		t.Fatalf("DroppedBytes=%d, want 4 for every caller", got)
	}
	if n := released.Load(); n != 1 {
		t.Fatalf("release calls=%d, want 1", n)
	}
}

func TestRegistry_EvictOnlyForOwner(t *testing.T) {
	reg := NewRegistry()
	var cancels, released atomic.Int64
	entry := reg.Register("s1", Handle{
		UserID:  "u1",
		Cancel:  func() { cancels.Add(1) },
		Release: func() { released.Add(1) },
	}, voice.IngestConfig{}, nil)

	if reg.Evict("s1", "u2") {
		t.Fatalf("evicted another user's connection")
	}
	if reg.Evict("missing", "u1") {
		t.Fatalf("evicted an unknown session")
	}
	if !entry.Registered() || released.Load() != 0 {
		t.Fatalf("entry disturbed by refused evictions")
	}

	if !reg.Evict("s1", "u1") {
		t.Fatalf("Evict returned false for the owner")
	}
	if entry.Registered() || reg.Count() != 0 {
		t.Fatalf("entry still registered after Evict")
	}
	if cancels.Load() != 1 || released.Load() != 1 {
		t.Fatalf("cancels=%d released=%d", cancels.Load(), released.Load())
	}
}
