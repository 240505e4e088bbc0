package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Memory is an in-process Store. It is used when no database is configured
// and in tests.
type Memory struct {
	mu          sync.RWMutex
	sessions    map[string]*types.Session
	transcripts map[string][]types.Transcript
	suggestions map[string][]types.Suggestion
	calls       map[string]types.Call
	crm         map[string]types.CRMContext
	now         func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:    make(map[string]*types.Session),
		transcripts: make(map[string][]types.Transcript),
		suggestions: make(map[string][]types.Suggestion),
		calls:       make(map[string]types.Call),
		crm:         make(map[string]types.CRMContext),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// PutCall seeds call and CRM data. crm may be nil.
func (m *Memory) PutCall(call types.Call, crm *types.CRMContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[call.ID] = call
	if crm != nil {
		m.crm[call.ID] = cloneCRM(*crm)
	} else {
		delete(m.crm, call.ID)
	}
}

func (m *Memory) CreateSession(_ context.Context, s *types.Session) error {
	if s == nil || s.UserID == "" {
		return fmt.Errorf("create session: user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	prepareSession(s, m.now())
	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("create session %s: %w", s.ID, core.ErrDuplicateRecord)
	}
	cp := cloneSession(*s)
	m.sessions[s.ID] = &cp
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrNotFoundRecord
	}
	cp := cloneSession(*s)
	return &cp, nil
}

func (m *Memory) UpdateSessionStatus(_ context.Context, id string, status types.SessionStatus) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrNotFoundRecord
	}
	if !types.CanTransition(s.Status, status) {
		return nil, fmt.Errorf("%s -> %s: %w", s.Status, status, core.ErrInvalidTransition)
	}
	if s.Status != status {
		applyStatus(s, status, m.now())
	}
	cp := cloneSession(*s)
	return &cp, nil
}

func (m *Memory) ListSessions(_ context.Context, userID string, limit int) ([]types.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Session, 0)
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, cloneSession(*s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if n := limitOr(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *Memory) AppendTranscript(_ context.Context, t *types.Transcript) error {
	if t == nil {
		return fmt.Errorf("append transcript: nil transcript")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[t.SessionID]; !ok {
		return core.ErrNotFoundRecord
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = m.now()
	}
	m.transcripts[t.SessionID] = append(m.transcripts[t.SessionID], *t)
	return nil
}

func (m *Memory) ListTranscripts(_ context.Context, sessionID string, limit int) ([]types.Transcript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.transcripts[sessionID]
	n := limitOr(limit)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]types.Transcript, len(all))
	copy(out, all)
	return out, nil
}

func (m *Memory) AppendSuggestions(_ context.Context, in []types.Suggestion) error {
	if len(in) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range in {
		if _, ok := m.sessions[in[i].SessionID]; !ok {
			return core.ErrNotFoundRecord
		}
	}
	now := m.now()
	for _, s := range in {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.Timestamp.IsZero() {
			s.Timestamp = now
		}
		m.suggestions[s.SessionID] = append(m.suggestions[s.SessionID], s)
	}
	return nil
}

func (m *Memory) ListSuggestions(_ context.Context, sessionID string, limit int) ([]types.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.suggestions[sessionID]
	n := limitOr(limit)
	if len(all) > n {
		all = all[len(all)-n:]
	}
	out := make([]types.Suggestion, len(all))
	copy(out, all)
	return out, nil
}

func (m *Memory) SetSuggestionResolved(_ context.Context, sessionID, suggestionID string, resolved bool) (*types.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.suggestions[sessionID]
	for i := range list {
		if list[i].ID == suggestionID {
			list[i].Resolved = resolved
			cp := list[i]
			return &cp, nil
		}
	}
	return nil, core.ErrNotFoundRecord
}

func (m *Memory) Call(_ context.Context, callID string) (*types.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil, core.ErrNotFoundRecord
	}
	return &c, nil
}

func (m *Memory) ResolveCallContext(_ context.Context, callID string) (*types.CRMContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.crm[callID]
	if !ok {
		return nil, core.ErrNotFoundRecord
	}
	cp := cloneCRM(c)
	return &cp, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func cloneSession(s types.Session) types.Session {
	if s.StartedAt != nil {
		t := *s.StartedAt
		s.StartedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		s.EndedAt = &t
	}
	return s
}

func cloneCRM(c types.CRMContext) types.CRMContext {
	if c.Company != nil {
		v := *c.Company
		c.Company = &v
	}
	if c.Opportunity != nil {
		v := *c.Opportunity
		c.Opportunity = &v
	}
	if c.Contacts != nil {
		c.Contacts = append([]types.Contact(nil), c.Contacts...)
	}
	return c
}
