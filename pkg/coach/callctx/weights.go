package callctx

import (
	"sort"

	"github.com/vango-go/callcoach/pkg/core/types"
)

type boosts map[types.Methodology]float64

var (
	callTypeBoosts = map[types.CallType]boosts{
		types.CallDiscovery:   {types.MethodSPIN: 2, types.MethodBANT: 1},
		types.CallDemo:        {types.MethodChallenger: 1.5, types.MethodSPIN: 0.5},
		types.CallNegotiation: {types.MethodSandler: 2, types.MethodMEDDIC: 1},
		types.CallFollowUp:    {types.MethodMEDDIC: 1, types.MethodSandler: 0.5},
	}
	stageBoosts = map[types.DealStage]boosts{
		types.StageProspecting:   {types.MethodBANT: 1, types.MethodSPIN: 0.5},
		types.StageQualification: {types.MethodMEDDIC: 1, types.MethodBANT: 1},
		types.StageEvaluation:    {types.MethodChallenger: 1, types.MethodMEDDIC: 0.5},
		types.StageNegotiation:   {types.MethodSandler: 1},
		types.StageClosing:       {types.MethodMEDDIC: 1, types.MethodSandler: 0.5},
	}
	complexityBoosts = map[types.Complexity]boosts{
		types.ComplexityHigh:   {types.MethodMEDDIC: 2, types.MethodChallenger: 0.5},
		types.ComplexityMedium: {types.MethodMEDDIC: 0.5},
		types.ComplexityLow:    {types.MethodBANT: 0.5, types.MethodSPIN: 0.5},
	}
)

// ComputeWeights maps a CallContext to a distribution over
// types.Methodologies. Every methodology keeps a base weight so the result
// is never degenerate; unknown attributes add nothing.
func ComputeWeights(cc types.CallContext) types.MethodologyWeights {
	raw := make(map[types.Methodology]float64, len(types.Methodologies))
	for _, m := range types.Methodologies {
		raw[m] = 1
	}
	for _, b := range []boosts{callTypeBoosts[cc.CallType], stageBoosts[cc.DealStage], complexityBoosts[cc.Complexity]} {
		for m, v := range b {
			raw[m] += v
		}
	}

	var sum float64
	for _, m := range types.Methodologies {
		sum += raw[m]
	}
	out := make(types.MethodologyWeights, len(raw))
	for _, m := range types.Methodologies {
		out[m] = raw[m] / sum
	}
	return out
}

// Ranked is one methodology and its weight.
type Ranked struct {
	Methodology types.Methodology
	Weight      float64
}

// Rank orders weights from heaviest to lightest, breaking ties by catalogue
// order.
func Rank(w types.MethodologyWeights) []Ranked {
	out := make([]Ranked, 0, len(types.Methodologies))
	for _, m := range types.Methodologies {
		out = append(out, Ranked{Methodology: m, Weight: w[m]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}
