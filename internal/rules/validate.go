package rules

import (
	"errors"
	"fmt"
)

// ErrInvalidRule is wrapped by every validation failure.
var ErrInvalidRule = errors.New("invalid rule")

const (
	maxNameLen        = 100
	maxDescriptionLen = 500
	maxContentLen     = 2000
	MinPriority       = 1
	MaxPriority       = 100
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, fmt.Sprintf(format, args...))
}

// Normalize fills defaults that the management interface may omit.
func (r *Rule) Normalize() {
	if r.Priority == 0 {
		r.Priority = MinPriority
	}
}

// Validate checks the invariants a rule must satisfy before it is stored.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return invalid("name is required")
	}
	if len(r.Name) > maxNameLen {
		return invalid("name longer than %d characters", maxNameLen)
	}
	if len(r.Description) > maxDescriptionLen {
		return invalid("description longer than %d characters", maxDescriptionLen)
	}
	if r.Priority < MinPriority || r.Priority > MaxPriority {
		return invalid("priority %d outside %d..%d", r.Priority, MinPriority, MaxPriority)
	}
	if len(r.Conditions) == 0 {
		return invalid("at least one condition is required")
	}
	for i, c := range r.Conditions {
		if err := c.validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i+1, err)
		}
	}
	return r.Response.validate()
}

func (c Condition) validate() error {
	switch c.Operator {
	case OpContains, OpEquals, OpStartsWith, OpEndsWith, OpBetween:
	default:
		return invalid("unknown operator %q", c.Operator)
	}
	if len(c.Value) == 0 {
		return invalid("value is required")
	}

	switch c.Type {
	case ConditionKeyword, ConditionContact:
		if c.Operator == OpBetween {
			return invalid("operator between only applies to time conditions")
		}
		for _, v := range c.Value {
			if v == "" {
				return invalid("empty %s value", c.Type)
			}
		}
	case ConditionTime:
		if c.Operator != OpBetween {
			return invalid("time conditions require operator between")
		}
		if len(c.Value) != 2 {
			return invalid("between requires exactly two HH:MM values")
		}
		if _, err := ParseWindow(c.Value[0], c.Value[1]); err != nil {
			return invalid("%v", err)
		}
	case ConditionMessageType:
		if c.Operator == OpBetween {
			return invalid("operator between only applies to time conditions")
		}
		if len(c.Value) != 1 || (c.Value[0] != "group" && c.Value[0] != "personal") {
			return invalid("message_type value must be group or personal")
		}
	default:
		return invalid("unknown condition type %q", c.Type)
	}
	return nil
}

func (r Response) validate() error {
	switch r.Type {
	case ResponseText:
		if r.Content == "" {
			return invalid("text response requires content")
		}
		if len(r.Content) > maxContentLen {
			return invalid("response content longer than %d characters", maxContentLen)
		}
	case ResponseAI, ResponseNone:
	default:
		return invalid("unknown response type %q", r.Type)
	}
	return nil
}
