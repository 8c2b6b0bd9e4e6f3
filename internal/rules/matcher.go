package rules

import (
	"fmt"
	"sort"
)

// Outcome is the matcher result. Rule is nil when nothing matched.
type Outcome struct {
	Rule *Rule
}

// Matched reports whether a rule was found.
func (o Outcome) Matched() bool {
	return o.Rule != nil
}

// Matches reports whether every condition holds. Rules without conditions
// never match.
func (r *Rule) Matches(mc MessageContext) bool {
	return matchAll(r.Conditions, mc, EvaluateCondition)
}

func matchAll(conds []Condition, mc MessageContext, eval func(Condition, MessageContext) bool) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !eval(c, mc) {
			return false
		}
	}
	return true
}

// Matcher finds the first rule whose conditions all hold.
type Matcher struct {
	eval func(Condition, MessageContext) bool
}

// NewMatcher returns a matcher using the standard evaluator table.
func NewMatcher() *Matcher {
	return &Matcher{eval: EvaluateCondition}
}

// Match walks rules in the given order, which must already be
// (priority desc, createdAt desc). The first full match wins.
// A panic during evaluation is returned as an error.
func (m *Matcher) Match(rules []Rule, mc MessageContext) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{}
			err = fmt.Errorf("rule evaluation panicked: %v", r)
		}
	}()

	for i := range rules {
		if !rules[i].Enabled {
			continue
		}
		if matchAll(rules[i].Conditions, mc, m.eval) {
			return Outcome{Rule: &rules[i]}, nil
		}
	}
	return Outcome{}, nil
}

// SortRules orders rules by priority desc, then newest first.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.After(rules[j].CreatedAt)
	})
}
