// Package dispatch turns an inbound message into zero or more replies:
// gate chain, rule matcher, response resolver and generative fallback.
package dispatch

import (
	"github.com/roelfdiedericks/autoreply/internal/rules"
)

// StepKind is one action in a reply plan.
type StepKind string

const (
	// StepLiteral sends Step.Text verbatim.
	StepLiteral StepKind = "literal"
	// StepGenerate sends the generative fallback's output for the inbound body.
	StepGenerate StepKind = "generate"
)

// Step is a single planned send.
type Step struct {
	Kind StepKind
	Text string
}

// Plan is the ordered list of sends for one message. An empty plan means
// stay silent.
type Plan struct {
	Steps []Step
	Rule  *rules.Rule // nil when nothing matched
}

// Silent reports whether the plan sends nothing.
func (p Plan) Silent() bool {
	return len(p.Steps) == 0
}

// Resolve maps a matcher outcome to a plan. A match error is treated as no
// match so the sender still gets a generated reply.
func Resolve(outcome rules.Outcome, matchErr error) Plan {
	if matchErr != nil || !outcome.Matched() {
		return Plan{Steps: []Step{{Kind: StepGenerate}}}
	}

	r := outcome.Rule
	switch r.Response.Type {
	case rules.ResponseText:
		steps := []Step{{Kind: StepLiteral, Text: r.Response.Content}}
		if r.Response.UseAI {
			steps = append(steps, Step{Kind: StepGenerate})
		}
		return Plan{Steps: steps, Rule: r}
	case rules.ResponseAI:
		return Plan{Steps: []Step{{Kind: StepGenerate}}, Rule: r}
	case rules.ResponseNone:
		return Plan{Rule: r}
	default:
		// validated rules never get here
		return Plan{Steps: []Step{{Kind: StepGenerate}}, Rule: r}
	}
}
