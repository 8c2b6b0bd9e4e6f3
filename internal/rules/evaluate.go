package rules

import "strings"

// Evaluator decides a single condition against a message. Evaluators are
// pure and return false on malformed input instead of failing.
type Evaluator func(c Condition, mc MessageContext) bool

// evaluators is the dispatch table keyed by condition type.
var evaluators = map[ConditionType]Evaluator{
	ConditionKeyword:     evalKeyword,
	ConditionTime:        evalTime,
	ConditionContact:     evalContact,
	ConditionMessageType: evalMessageType,
}

// EvaluateCondition runs the evaluator registered for c.Type.
// Unknown types never match.
func EvaluateCondition(c Condition, mc MessageContext) bool {
	eval, ok := evaluators[c.Type]
	if !ok {
		return false
	}
	return eval(c, mc)
}

// matchString applies one of the four string operators.
func matchString(op Operator, subject, candidate string) bool {
	switch op {
	case OpContains:
		return strings.Contains(subject, candidate)
	case OpEquals:
		return subject == candidate
	case OpStartsWith:
		return strings.HasPrefix(subject, candidate)
	case OpEndsWith:
		return strings.HasSuffix(subject, candidate)
	default:
		return false
	}
}

func evalKeyword(c Condition, mc MessageContext) bool {
	body := mc.Body
	if !c.CaseSensitive {
		body = strings.ToLower(body)
	}
	for _, v := range c.Value {
		if !c.CaseSensitive {
			v = strings.ToLower(v)
		}
		if matchString(c.Operator, body, v) {
			return true
		}
	}
	return false
}

// evalContact compares against the sender id, always case-sensitive.
func evalContact(c Condition, mc MessageContext) bool {
	for _, v := range c.Value {
		if matchString(c.Operator, mc.From, v) {
			return true
		}
	}
	return false
}

func evalTime(c Condition, mc MessageContext) bool {
	if c.Operator != OpBetween || len(c.Value) != 2 {
		return false
	}
	w, err := ParseWindow(c.Value[0], c.Value[1])
	if err != nil {
		return false
	}
	return w.Includes(MinuteOfDay(mc.Timestamp))
}

func evalMessageType(c Condition, mc MessageContext) bool {
	if len(c.Value) != 1 {
		return false
	}
	switch c.Value[0] {
	case "group":
		return mc.IsGroup
	case "personal":
		return !mc.IsGroup
	default:
		return false
	}
}
