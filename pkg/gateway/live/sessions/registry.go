// Package sessions is the process-wide registry of live coaching
// connections. Each entry owns its session's audio buffer, debounce timer
// and heartbeat flag, so no parallel per-session maps exist.
package sessions

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/callcoach/pkg/core/voice"
)

// Handle is how the registry reaches back into a connection.
type Handle struct {
	UserID string
	// Cancel tears the connection down. It must be safe to call more than once.
	Cancel func()
	// End closes the connection normally after the session ended.
	End  func()
	Warn func(code, message string) error
	Ping func() error
	// Release frees the connection's live-session slot. It runs once, when
	// the entry is unregistered.
	Release func()
}

// FlushFunc receives a debounced audio batch for the entry that owns it.
type FlushFunc func(e *Entry, audio []byte)

// Entry is one registered live connection.
type Entry struct {
	SessionID    string
	UserID       string
	RegisteredAt time.Time

	handle Handle
	buffer *voice.IngestBuffer
	reg    *Registry

	alive      atomic.Bool
	registered atomic.Bool
	once       sync.Once
	dropped    atomic.Int64
}

// Registered reports whether the entry is still the live connection for
// its session. Pipeline results for an unregistered entry are discarded.
func (e *Entry) Registered() bool {
	return e != nil && e.registered.Load()
}

// Append hands an audio chunk to the entry's buffer. It is a no-op once the
// entry has been unregistered.
func (e *Entry) Append(chunk []byte) bool {
	if !e.Registered() {
		return false
	}
	return e.buffer.Append(chunk)
}

// Buffer exposes the entry's ingest buffer.
func (e *Entry) Buffer() *voice.IngestBuffer {
	if e == nil {
		return nil
	}
	return e.buffer
}

// MarkAlive records a pong (or any inbound traffic).
func (e *Entry) MarkAlive() {
	if e != nil {
		e.alive.Store(true)
	}
}

// Warn sends a best-effort warning to the client.
func (e *Entry) Warn(code, message string) error {
	if e == nil || e.handle.Warn == nil {
		return nil
	}
	return e.handle.Warn(code, message)
}

// Cancel tears down the connection behind the entry.
func (e *Entry) Cancel() {
	if e != nil && e.handle.Cancel != nil {
		e.handle.Cancel()
	}
}

// End closes the connection behind the entry with a normal closure. It falls
// back to Cancel when the handle has no End hook.
func (e *Entry) End() {
	if e == nil {
		return
	}
	if e.handle.End != nil {
		e.handle.End()
		return
	}
	e.Cancel()
}

// Ping sends a heartbeat ping.
func (e *Entry) Ping() error {
	if e == nil || e.handle.Ping == nil {
		return nil
	}
	return e.handle.Ping()
}

// Unregister removes the entry, cancels its debounce timer and drops any
// buffered audio. It returns the number of bytes dropped by the first call
// and 0 afterwards.
func (e *Entry) Unregister() int {
	if e == nil {
		return 0
	}
	first := false
	e.once.Do(func() {
		first = true
		e.registered.Store(false)
		if e.reg != nil {
			e.reg.remove(e)
		}
		e.dropped.Store(int64(e.buffer.Close()))
		if e.handle.Release != nil {
			e.handle.Release()
		}
		if e.reg != nil {
			e.reg.wg.Done()
		}
	})
	if !first {
		return 0
	}
	return int(e.dropped.Load())
}

// DroppedBytes reports how much buffered audio was discarded when the entry
// was unregistered, whichever caller did it.
func (e *Entry) DroppedBytes() int {
	if e == nil {
		return 0
	}
	return int(e.dropped.Load())
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Entry
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Entry),
		now:      time.Now,
	}
}

// Register makes h the live connection for sessionID and creates the
// entry's ingest buffer. An existing entry for the same session is
// unregistered and its connection cancelled.
func (r *Registry) Register(sessionID string, h Handle, ingest voice.IngestConfig, flush FlushFunc) *Entry {
	entry := &Entry{
		SessionID: sessionID,
		UserID:    h.UserID,
		handle:    h,
		reg:       r,
	}
	entry.buffer = voice.NewIngestBuffer(ingest, func(audio []byte) {
		if flush != nil && entry.Registered() {
			flush(entry, audio)
		}
	})
	entry.alive.Store(true)
	entry.registered.Store(true)
	if r == nil {
		entry.RegisteredAt = time.Now()
		return entry
	}
	entry.RegisteredAt = r.now()

	r.mu.Lock()
	if r.sessions == nil {
		r.sessions = make(map[string]*Entry)
	}
	old := r.sessions[sessionID]
	r.sessions[sessionID] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	if old != nil {
		old.Unregister()
		old.Cancel()
	}
	return entry
}

func (r *Registry) remove(e *Entry) {
	r.mu.Lock()
	if r.sessions != nil && r.sessions[e.SessionID] == e {
		delete(r.sessions, e.SessionID)
	}
	r.mu.Unlock()
}

// Lookup returns the live entry for sessionID.
func (r *Registry) Lookup(sessionID string) (*Entry, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	return e, ok
}

// Evict unregisters and cancels the live entry for sessionID when it belongs
// to userID, freeing its slot for a reconnecting client.
func (r *Registry) Evict(sessionID, userID string) bool {
	e, ok := r.Lookup(sessionID)
	if !ok || e.UserID != userID {
		return false
	}
	e.Unregister()
	e.Cancel()
	return true
}

// Append routes an audio chunk to the live entry for sessionID. Chunks for
// sessions that are not registered are ignored.
func (r *Registry) Append(sessionID string, chunk []byte) bool {
	e, ok := r.Lookup(sessionID)
	if !ok {
		return false
	}
	return e.Append(chunk)
}

func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Entries returns a snapshot of the registered entries.
func (r *Registry) Entries() []*Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e)
	}
	return out
}

func (r *Registry) WarnAll(code, message string) (sent int) {
	for _, e := range r.Entries() {
		if e.handle.Warn == nil {
			continue
		}
		_ = e.handle.Warn(code, message)
		sent++
	}
	return sent
}

func (r *Registry) CancelAll() (canceled int) {
	for _, e := range r.Entries() {
		if e.handle.Cancel == nil {
			continue
		}
		e.handle.Cancel()
		canceled++
	}
	return canceled
}

func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	if ctx == nil {
		r.wg.Wait()
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
