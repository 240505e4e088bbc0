// Package callctx builds the call context and methodology weighting used to
// steer suggestion generation.
package callctx

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vango-go/callcoach/pkg/core"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// Provider is the read-only source of call and CRM data. Either lookup may
// return core.ErrNotFoundRecord or partial data.
type Provider interface {
	Call(ctx context.Context, callID string) (*types.Call, error)
	ResolveCallContext(ctx context.Context, callID string) (*types.CRMContext, error)
}

// Aggregator builds CallContext values. It never fails: upstream errors are
// logged and the context is built from whatever data arrived.
type Aggregator struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. provider may be nil.
func NewAggregator(provider Provider, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{provider: provider, timeout: timeout, logger: logger}
}

// BuildContext fetches the call record and CRM data for sess in parallel and
// classifies the call.
func (a *Aggregator) BuildContext(ctx context.Context, sess types.Session) types.CallContext {
	var (
		call *types.Call
		crm  *types.CRMContext
	)
	if a != nil && a.provider != nil && sess.CallID != "" {
		fetchCtx := ctx
		if a.timeout > 0 {
			var cancel context.CancelFunc
			fetchCtx, cancel = context.WithTimeout(ctx, a.timeout)
			defer cancel()
		}

		var g errgroup.Group
		g.Go(func() error {
			c, err := a.provider.Call(fetchCtx, sess.CallID)
			if err != nil {
				a.logLookup("call", sess, err)
				return nil
			}
			call = c
			return nil
		})
		g.Go(func() error {
			c, err := a.provider.ResolveCallContext(fetchCtx, sess.CallID)
			if err != nil {
				a.logLookup("crm", sess, err)
				return nil
			}
			crm = c
			return nil
		})
		_ = g.Wait()
	}
	return Classify(sess.CallID, call, crm)
}

func (a *Aggregator) logLookup(source string, sess types.Session, err error) {
	level := slog.LevelWarn
	if errors.Is(err, core.ErrNotFoundRecord) {
		level = slog.LevelDebug
	}
	a.logger.Log(context.Background(), level, "call context lookup failed",
		"source", source,
		"session_id", sess.ID,
		"call_id", sess.CallID,
		"error", err,
	)
}

// Classify derives a CallContext from whatever records are available. All
// arguments may be nil.
func Classify(callID string, call *types.Call, crm *types.CRMContext) types.CallContext {
	cc := types.CallContext{
		CallID:     callID,
		CallType:   types.CallUnknown,
		DealStage:  types.StageUnknown,
		Complexity: types.ComplexityLow,
	}
	if call != nil {
		cc.Title = call.Title
		cc.Sources = append(cc.Sources, "call")
	}
	if crm != nil && (crm.Company != nil || crm.Opportunity != nil || len(crm.Contacts) > 0) {
		cc.Company = crm.Company
		cc.Opportunity = crm.Opportunity
		cc.Contacts = crm.Contacts
		cc.Sources = append(cc.Sources, "crm")
	}

	if cc.Opportunity != nil {
		cc.DealStage = stageFromCRM(cc.Opportunity.Stage)
	}
	if call != nil {
		cc.CallType = callTypeFromText(call.Title + " " + call.Description)
	}
	if cc.CallType == types.CallUnknown {
		cc.CallType = callTypeFromStage(cc.DealStage)
	}
	if cc.DealStage == types.StageUnknown {
		cc.DealStage = stageFromCallType(cc.CallType)
	}
	cc.Complexity = complexityOf(cc)
	return cc
}

var callTypeKeywords = []struct {
	typ   types.CallType
	words []string
}{
	{types.CallNegotiation, []string{"negotiat", "pricing", "contract", "proposal", "redline"}},
	{types.CallDemo, []string{"demo", "walkthrough", "walk-through", "presentation", "showcase"}},
	{types.CallFollowUp, []string{"follow up", "follow-up", "followup", "check-in", "check in", "recap"}},
	{types.CallDiscovery, []string{"discovery", "intro", "qualif", "first call", "exploratory"}},
}

func callTypeFromText(s string) types.CallType {
	s = strings.ToLower(s)
	for _, k := range callTypeKeywords {
		for _, w := range k.words {
			if strings.Contains(s, w) {
				return k.typ
			}
		}
	}
	return types.CallUnknown
}

func stageFromCRM(raw string) types.DealStage {
	s := strings.ToLower(raw)
	switch {
	case s == "":
		return types.StageUnknown
	case strings.Contains(s, "prospect"), strings.Contains(s, "lead"):
		return types.StageProspecting
	case strings.Contains(s, "qualif"), strings.Contains(s, "discovery"):
		return types.StageQualification
	case strings.Contains(s, "evaluat"), strings.Contains(s, "demo"), strings.Contains(s, "proposal"), strings.Contains(s, "solution"):
		return types.StageEvaluation
	case strings.Contains(s, "negotiat"), strings.Contains(s, "contract"):
		return types.StageNegotiation
	case strings.Contains(s, "clos"), strings.Contains(s, "commit"), strings.Contains(s, "won"):
		return types.StageClosing
	default:
		return types.StageUnknown
	}
}

func callTypeFromStage(stage types.DealStage) types.CallType {
	switch stage {
	case types.StageProspecting, types.StageQualification:
		return types.CallDiscovery
	case types.StageEvaluation:
		return types.CallDemo
	case types.StageNegotiation, types.StageClosing:
		return types.CallNegotiation
	default:
		return types.CallUnknown
	}
}

func stageFromCallType(ct types.CallType) types.DealStage {
	switch ct {
	case types.CallDiscovery:
		return types.StageProspecting
	case types.CallDemo:
		return types.StageEvaluation
	case types.CallNegotiation:
		return types.StageNegotiation
	default:
		return types.StageUnknown
	}
}

func complexityOf(cc types.CallContext) types.Complexity {
	score := 0
	switch n := len(cc.Contacts); {
	case n >= 4:
		score += 2
	case n >= 2:
		score++
	}
	if cc.Opportunity != nil {
		switch amt := cc.Opportunity.Amount; {
		case amt >= 100_000:
			score += 2
		case amt >= 25_000:
			score++
		}
	}
	if cc.Company != nil && cc.Company.Employees >= 1000 {
		score++
	}
	switch {
	case score >= 3:
		return types.ComplexityHigh
	case score >= 1:
		return types.ComplexityMedium
	default:
		return types.ComplexityLow
	}
}
