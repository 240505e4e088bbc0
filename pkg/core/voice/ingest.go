// Package voice provides the audio side of the coaching pipeline: debounced
// chunk ingestion and batch transcription.
package voice

import (
	"sync"
	"time"
)

const (
	DefaultDebounceWindow = 2 * time.Second
	DefaultMinAudioBytes  = 4096
	DefaultMaxAudioBytes  = 8 << 20
)

// Timer is the subset of *time.Timer the buffer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

// FlushFunc receives one batch of concatenated audio. It runs on the
// goroutine that triggered the flush; a new flush cannot start until it
// returns.
type FlushFunc func(audio []byte)

// IngestConfig configures an IngestBuffer.
type IngestConfig struct {
	// Window is the quiet period after the last chunk before a flush.
	Window time.Duration
	// MinBytes is the smallest batch worth transcribing.
	MinBytes int
	// MaxBytes forces an immediate flush once reached.
	MaxBytes int
	// AfterFunc overrides the timer source (tests).
	AfterFunc AfterFunc
}

// FlushResult describes what a Flush call did.
type FlushResult int

const (
	FlushDone FlushResult = iota
	FlushEmpty
	FlushBelowThreshold
	FlushDeferred
	FlushClosed
)

func (r FlushResult) String() string {
	switch r {
	case FlushDone:
		return "done"
	case FlushEmpty:
		return "empty"
	case FlushBelowThreshold:
		return "below_threshold"
	case FlushDeferred:
		return "deferred"
	case FlushClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IngestBuffer accumulates raw audio chunks for one session and flushes them
// after a quiet period. Every Append restarts the debounce timer.
//
// The buffer is cleared atomically when a flush starts, so chunks arriving
// during transcription begin a fresh batch. At most one FlushFunc call is in
// flight at a time; a flush requested meanwhile is deferred, and audio left
// in the buffer re-arms the timer once the in-flight call returns.
type IngestBuffer struct {
	cfg   IngestConfig
	flush FlushFunc

	mu       sync.Mutex
	chunks   [][]byte
	size     int
	timer    Timer
	gen      uint64
	inFlight bool
	closed   bool
}

// NewIngestBuffer creates a buffer that hands batches to flush.
func NewIngestBuffer(cfg IngestConfig, flush FlushFunc) *IngestBuffer {
	if cfg.Window <= 0 {
		cfg.Window = DefaultDebounceWindow
	}
	if cfg.MinBytes < 0 {
		cfg.MinBytes = 0
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxAudioBytes
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &IngestBuffer{cfg: cfg, flush: flush}
}

// Append copies chunk into the buffer and restarts the debounce timer.
// It returns false once the buffer is closed.
func (b *IngestBuffer) Append(chunk []byte) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	if len(chunk) == 0 {
		return true
	}
	buf := make([]byte, len(chunk))
	copy(buf, chunk)
	b.chunks = append(b.chunks, buf)
	b.size += len(buf)

	if b.size >= b.cfg.MaxBytes {
		b.armLocked(0)
		return true
	}
	b.armLocked(b.cfg.Window)
	return true
}

// Flush concatenates and clears the buffer, then runs the flush function
// unless the batch is empty or below MinBytes.
func (b *IngestBuffer) Flush() FlushResult {
	if b == nil {
		return FlushClosed
	}
	b.mu.Lock()
	return b.flushLocked()
}

// flushLocked is entered with b.mu held and releases it.
func (b *IngestBuffer) flushLocked() FlushResult {
	if b.closed {
		b.mu.Unlock()
		return FlushClosed
	}
	if b.inFlight {
		b.mu.Unlock()
		return FlushDeferred
	}
	b.stopLocked()
	audio := b.takeLocked()
	if len(audio) == 0 {
		b.mu.Unlock()
		return FlushEmpty
	}
	if len(audio) < b.cfg.MinBytes {
		b.mu.Unlock()
		return FlushBelowThreshold
	}
	b.inFlight = true
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.inFlight = false
		if !b.closed && b.size > 0 && b.timer == nil {
			b.armLocked(b.cfg.Window)
		}
		b.mu.Unlock()
	}()

	if b.flush != nil {
		b.flush(audio)
	}
	return FlushDone
}

// Close stops the timer and drops buffered audio. It returns the number of
// bytes dropped. Close is idempotent.
func (b *IngestBuffer) Close() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.closed = true
	b.stopLocked()
	dropped := b.size
	b.chunks = nil
	b.size = 0
	return dropped
}

// Pending returns the number of buffered bytes not yet flushed.
func (b *IngestBuffer) Pending() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// TimerArmed reports whether a debounce timer is pending.
func (b *IngestBuffer) TimerArmed() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil
}

// InFlight reports whether a flush function call is running.
func (b *IngestBuffer) InFlight() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}

func (b *IngestBuffer) armLocked(d time.Duration) {
	b.stopLocked()
	b.gen++
	gen := b.gen
	b.timer = b.cfg.AfterFunc(d, func() { b.fire(gen) })
}

func (b *IngestBuffer) stopLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	// A fire that already left the timer queue sees a newer generation and
	// returns without flushing.
	b.gen++
}

func (b *IngestBuffer) fire(gen uint64) {
	b.mu.Lock()
	if b.closed || gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.flushLocked()
}

func (b *IngestBuffer) takeLocked() []byte {
	if b.size == 0 {
		b.chunks = nil
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	b.chunks = nil
	b.size = 0
	return out
}
