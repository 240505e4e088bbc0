package suggest

import (
	"fmt"
	"strings"

	"github.com/vango-go/callcoach/pkg/coach/callctx"
	"github.com/vango-go/callcoach/pkg/core/types"
)

// MaxSuggestions caps how many suggestions one cycle may emit.
const MaxSuggestions = 2

const systemPrompt = `You are a real-time sales coach listening to a live call.
Give the rep short, actionable guidance they can use in the next few seconds.
Respond with JSON only.`

// BuildPrompt renders the user prompt for one suggestion cycle. It is a pure
// function of its inputs.
func BuildPrompt(cc types.CallContext, weights types.MethodologyWeights, recent []types.Transcript, latest types.Transcript) string {
	var b strings.Builder

	b.WriteString("## Call context\n")
	fmt.Fprintf(&b, "- Call type: %s\n", cc.CallType)
	fmt.Fprintf(&b, "- Deal stage: %s\n", cc.DealStage)
	fmt.Fprintf(&b, "- Complexity: %s\n", cc.Complexity)
	if cc.Title != "" {
		fmt.Fprintf(&b, "- Meeting: %s\n", cc.Title)
	}
	if c := cc.Company; c != nil {
		fmt.Fprintf(&b, "- Company: %s", c.Name)
		if c.Industry != "" {
			fmt.Fprintf(&b, " (%s)", c.Industry)
		}
		if c.Employees > 0 {
			fmt.Fprintf(&b, ", %d employees", c.Employees)
		}
		b.WriteString("\n")
	}
	if o := cc.Opportunity; o != nil {
		fmt.Fprintf(&b, "- Opportunity: %s", o.Name)
		if o.Stage != "" {
			fmt.Fprintf(&b, ", stage %q", o.Stage)
		}
		if o.Amount > 0 {
			fmt.Fprintf(&b, ", amount %.0f", o.Amount)
		}
		b.WriteString("\n")
	}
	for _, c := range cc.Contacts {
		fmt.Fprintf(&b, "- Attendee: %s", c.Name)
		if c.Title != "" {
			fmt.Fprintf(&b, ", %s", c.Title)
		}
		if c.Role != "" {
			fmt.Fprintf(&b, " [%s]", c.Role)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n## Methodology weighting\n")
	b.WriteString("Weight your guidance by these coaching frameworks:\n")
	for _, r := range callctx.Rank(weights) {
		fmt.Fprintf(&b, "- %s: %.0f%%\n", strings.ToUpper(string(r.Methodology)), r.Weight*100)
	}

	b.WriteString("\n## Recent conversation\n")
	if len(recent) == 0 {
		b.WriteString("(no earlier utterances)\n")
	}
	for _, t := range recent {
		fmt.Fprintf(&b, "[%s] %s\n", t.Speaker, t.Text)
	}

	b.WriteString("\n## Latest utterance\n")
	fmt.Fprintf(&b, "[%s] %s\n", latest.Speaker, latest.Text)

	fmt.Fprintf(&b, "\n## Output\nReturn at most %d suggestions as JSON:\n", MaxSuggestions)
	b.WriteString(`{"suggestions":[{"type":"suggestion|objection|opportunity|warning","priority":"high|medium|low","title":"short headline","body":"one or two sentences"}]}`)
	b.WriteString("\n")
	return b.String()
}
