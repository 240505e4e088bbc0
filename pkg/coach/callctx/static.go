package callctx

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// StaticRecord is one call and its optional CRM data.
type StaticRecord struct {
	Call types.Call        `json:"call"`
	CRM  *types.CRMContext `json:"crm,omitempty"`
}

// Static is a fixed Provider, typically loaded from a JSON fixture for demos
// and local development.
type Static struct {
	calls map[string]StaticRecord
}

// NewStatic indexes records by call id. Later duplicates win.
func NewStatic(records []StaticRecord) *Static {
	s := &Static{calls: make(map[string]StaticRecord, len(records))}
	for _, r := range records {
		if r.Call.ID == "" {
			continue
		}
		s.calls[r.Call.ID] = r
	}
	return s
}

// LoadStatic reads a JSON file of the form {"calls":[{"call":{...},"crm":{...}}]}.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read context file: %w", err)
	}
	var doc struct {
		Calls []StaticRecord `json:"calls"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse context file %q: %w", path, err)
	}
	return NewStatic(doc.Calls), nil
}

func (s *Static) Call(_ context.Context, callID string) (*types.Call, error) {
	r, ok := s.calls[callID]
	if !ok {
		return nil, core.ErrNotFoundRecord
	}
	c := r.Call
	return &c, nil
}

func (s *Static) ResolveCallContext(_ context.Context, callID string) (*types.CRMContext, error) {
	r, ok := s.calls[callID]
	if !ok || r.CRM == nil {
		return nil, core.ErrNotFoundRecord
	}
	crm := *r.CRM
	crm.Contacts = append([]types.Contact(nil), r.CRM.Contacts...)
	return &crm, nil
}
