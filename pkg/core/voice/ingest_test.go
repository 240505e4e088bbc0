package voice

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTimers struct {
	mu      sync.Mutex
	now     time.Duration
	pending []*fakeTimer
}

type fakeTimer struct {
	c       *fakeTimers
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now + d, f: f}
	c.pending = append(c.pending, t)
	return t
}

// Advance moves the clock and runs due timers on the caller's goroutine.
func (c *fakeTimers) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	keep := c.pending[:0]
	for _, t := range c.pending {
		switch {
		case t.stopped || t.fired:
		case t.at <= c.now:
			t.fired = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.pending = keep
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.f()
	}
}

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]byte
}

func (r *flushRecorder) flush(audio []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, audio)
}

func (r *flushRecorder) snapshot() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.batches))
	copy(out, r.batches)
	return out
}

func chunkOf(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestIngestBuffer_ChunksInsideWindowNeverFlush(t *testing.T) {
	clock := &fakeTimers{}
	rec := &flushRecorder{}
	buf := NewIngestBuffer(IngestConfig{Window: 2 * time.Second, MinBytes: 1, AfterFunc: clock.AfterFunc}, rec.flush)

	var want []byte
	for i := 0; i < 10; i++ {
		c := chunkOf(byte('a'+i), 100)
		want = append(want, c...)
		if !buf.Append(c) {
			t.Fatalf("append %d rejected", i)
		}
		clock.Advance(1900 * time.Millisecond)
	}
	if got := len(rec.snapshot()); got != 0 {
		t.Fatalf("flushes=%d before quiet period, want 0", got)
	}

	clock.Advance(100 * time.Millisecond)
	batches := rec.snapshot()
	if len(batches) != 1 {
		t.Fatalf("flushes=%d after quiet period, want 1", len(batches))
	}
	if !bytes.Equal(batches[0], want) {
		t.Fatalf("batch len=%d, want %d in append order", len(batches[0]), len(want))
	}
	if buf.Pending() != 0 {
		t.Fatalf("pending=%d after flush", buf.Pending())
	}
}

func TestIngestBuffer_GapLongerThanWindowFlushesEachBurstOnce(t *testing.T) {
	clock := &fakeTimers{}
	rec := &flushRecorder{}
	buf := NewIngestBuffer(IngestConfig{Window: 2 * time.Second, MinBytes: 1, AfterFunc: clock.AfterFunc}, rec.flush)

	buf.Append(chunkOf('x', 10))
	buf.Append(chunkOf('x', 10))
	clock.Advance(3 * time.Second)
	buf.Append(chunkOf('y', 5))
	clock.Advance(3 * time.Second)
	clock.Advance(10 * time.Second)

	batches := rec.snapshot()
	if len(batches) != 2 {
		t.Fatalf("flushes=%d, want 2", len(batches))
	}
	if !bytes.Equal(batches[0], chunkOf('x', 20)) {
		t.Fatalf("first batch=%q", batches[0])
	}
	if !bytes.Equal(batches[1], chunkOf('y', 5)) {
		t.Fatalf("second batch=%q", batches[1])
	}
}

func TestIngestBuffer_BackToBackFlushesNeverOverlap(t *testing.T) {
	clock := &fakeTimers{}
	release := make(chan struct{})
	entered := make(chan struct{}, 4)

	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		mu      sync.Mutex
		batches [][]byte
	)
	flush := func(audio []byte) {
		n := active.Add(1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		mu.Lock()
		batches = append(batches, audio)
		mu.Unlock()
		entered <- struct{}{}
		<-release
		active.Add(-1)
	}
	buf := NewIngestBuffer(IngestConfig{Window: time.Second, MinBytes: 1, AfterFunc: clock.AfterFunc}, flush)

	buf.Append(chunkOf('a', 8))
	firstDone := make(chan FlushResult, 1)
	go func() { firstDone <- buf.Flush() }()
	<-entered

	buf.Append(chunkOf('b', 4))
	if res := buf.Flush(); res != FlushDeferred {
		t.Fatalf("second flush=%v, want deferred", res)
	}

	close(release)
	if res := <-firstDone; res != FlushDone {
		t.Fatalf("first flush=%v, want done", res)
	}
	if maxSeen.Load() != 1 {
		t.Fatalf("max concurrent flushes=%d, want 1", maxSeen.Load())
	}
	if !buf.TimerArmed() {
		t.Fatalf("expected timer armed for bytes appended during flight")
	}

	clock.Advance(time.Second)
	<-entered

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("batches=%d, want 2", len(batches))
	}
	if !bytes.Equal(batches[0], chunkOf('a', 8)) || !bytes.Equal(batches[1], chunkOf('b', 4)) {
		t.Fatalf("batches share bytes: %q / %q", batches[0], batches[1])
	}
}

func TestIngestBuffer_BelowThresholdIsNoop(t *testing.T) {
	clock := &fakeTimers{}
	rec := &flushRecorder{}
	buf := NewIngestBuffer(IngestConfig{Window: time.Second, MinBytes: 1024, AfterFunc: clock.AfterFunc}, rec.flush)

	buf.Append(chunkOf('s', 100))
	if res := buf.Flush(); res != FlushBelowThreshold {
		t.Fatalf("flush=%v, want below_threshold", res)
	}
	clock.Advance(5 * time.Second)
	if got := len(rec.snapshot()); got != 0 {
		t.Fatalf("flushes=%d, want 0", got)
	}
	if buf.Pending() != 0 {
		t.Fatalf("pending=%d, want cleared", buf.Pending())
	}
	if res := buf.Flush(); res != FlushEmpty {
		t.Fatalf("empty flush=%v", res)
	}
}

func TestIngestBuffer_CloseCancelsTimerAndDropsAudio(t *testing.T) {
	clock := &fakeTimers{}
	rec := &flushRecorder{}
	buf := NewIngestBuffer(IngestConfig{Window: time.Second, MinBytes: 1, AfterFunc: clock.AfterFunc}, rec.flush)

	buf.Append(chunkOf('z', 64))
	if !buf.TimerArmed() {
		t.Fatalf("expected timer armed")
	}
	if dropped := buf.Close(); dropped != 64 {
		t.Fatalf("dropped=%d, want 64", dropped)
	}
	if buf.TimerArmed() {
		t.Fatalf("timer still armed after close")
	}
	clock.Advance(10 * time.Second)
	if got := len(rec.snapshot()); got != 0 {
		t.Fatalf("flushes=%d after close, want 0", got)
	}
	if buf.Append(chunkOf('z', 1)) {
		t.Fatalf("append accepted after close")
	}
	if res := buf.Flush(); res != FlushClosed {
		t.Fatalf("flush after close=%v", res)
	}
	if dropped := buf.Close(); dropped != 0 {
		t.Fatalf("second close dropped=%d", dropped)
	}
}

func TestIngestBuffer_MaxBytesFlushesImmediately(t *testing.T) {
	clock := &fakeTimers{}
	rec := &flushRecorder{}
	buf := NewIngestBuffer(IngestConfig{Window: time.Hour, MinBytes: 1, MaxBytes: 32, AfterFunc: clock.AfterFunc}, rec.flush)

	buf.Append(chunkOf('m', 40))
	clock.Advance(0)
	if got := len(rec.snapshot()); got != 1 {
		t.Fatalf("flushes=%d, want 1", got)
	}
}

func TestIngestBuffer_AppendCopiesChunk(t *testing.T) {
	clock := &fakeTimers{}
	rec := &flushRecorder{}
	buf := NewIngestBuffer(IngestConfig{Window: time.Second, MinBytes: 1, AfterFunc: clock.AfterFunc}, rec.flush)

	chunk := []byte("abcd")
	buf.Append(chunk)
	chunk[0] = 'X'
	clock.Advance(time.Second)

	batches := rec.snapshot()
	if len(batches) != 1 || string(batches[0]) != "abcd" {
		t.Fatalf("batches=%q", batches)
	}
}

func TestIngestBuffer_RealTimerFlushes(t *testing.T) {
	done := make(chan []byte, 1)
	buf := NewIngestBuffer(IngestConfig{Window: 20 * time.Millisecond, MinBytes: 1}, func(audio []byte) {
		done <- audio
	})
	defer buf.Close()

	buf.Append([]byte("hello"))
	select {
	case got := <-done:
		if string(got) != "hello" {
			t.Fatalf("got=%q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for debounce flush")
	}
}
