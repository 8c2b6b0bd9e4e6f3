// Package rules holds the rule model and the matching engine that decides
// which canned response (if any) an inbound message gets.
package rules

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ConditionType tags the evaluator a condition is dispatched to.
type ConditionType string

const (
	ConditionKeyword     ConditionType = "keyword"
	ConditionTime        ConditionType = "time"
	ConditionContact     ConditionType = "contact"
	ConditionMessageType ConditionType = "message_type"
)

// Operator is the comparison a condition applies.
type Operator string

const (
	OpContains   Operator = "contains"
	OpEquals     Operator = "equals"
	OpStartsWith Operator = "starts_with"
	OpEndsWith   Operator = "ends_with"
	OpBetween    Operator = "between"
)

// ResponseType selects how a matched rule replies.
type ResponseType string

const (
	ResponseText ResponseType = "text"
	ResponseAI   ResponseType = "ai"
	ResponseNone ResponseType = "none"
)

// MessageContext is built once per inbound message and never modified.
// Timestamp is the receipt instant already converted to the reference zone.
type MessageContext struct {
	Body      string
	From      string
	IsGroup   bool
	Timestamp time.Time
}

// Values is a condition value list. It decodes from a single string or a
// list of strings; a single string becomes a one-element list.
type Values []string

// UnmarshalJSON accepts "x" or ["x", "y"].
func (v *Values) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = Values{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("condition value must be a string or list of strings: %w", err)
	}
	*v = Values(list)
	return nil
}

// UnmarshalYAML accepts a scalar or a sequence.
func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*v = Values{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*v = Values(list)
		return nil
	default:
		return fmt.Errorf("condition value must be a string or list of strings (line %d)", node.Line)
	}
}

// Condition is a single predicate clause within a rule.
type Condition struct {
	Type          ConditionType `json:"type" yaml:"type"`
	Operator      Operator      `json:"operator" yaml:"operator"`
	Value         Values        `json:"value" yaml:"value"`
	CaseSensitive bool          `json:"caseSensitive,omitempty" yaml:"caseSensitive,omitempty"`
}

// Response is the action a matched rule requests.
type Response struct {
	Type    ResponseType `json:"type" yaml:"type"`
	Content string       `json:"content,omitempty" yaml:"content,omitempty"`
	UseAI   bool         `json:"useAI,omitempty" yaml:"useAI,omitempty"`
}

// Rule is a prioritized automation entry. All conditions must hold.
type Rule struct {
	ID          string      `json:"id" yaml:"id,omitempty"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled     bool        `json:"enabled" yaml:"enabled"`
	Priority    int         `json:"priority" yaml:"priority"`
	Conditions  []Condition `json:"conditions" yaml:"conditions"`
	Response    Response    `json:"response" yaml:"response"`
	CreatedAt   time.Time   `json:"createdAt" yaml:"-"`
	UpdatedAt   time.Time   `json:"updatedAt" yaml:"-"`
}

// UnmarshalYAML defaults Enabled to true when the key is absent.
func (r *Rule) UnmarshalYAML(node *yaml.Node) error {
	type plain Rule
	p := plain{Enabled: true}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*r = Rule(p)
	return nil
}

// Settings is the singleton bot configuration read before every gate evaluation.
// Empty SleepStart/SleepEnd/Timezone mean "unset".
type Settings struct {
	BotEnabled           bool   `json:"botEnabled"`
	SleepStart           string `json:"sleepStart,omitempty"`
	SleepEnd             string `json:"sleepEnd,omitempty"`
	Timezone             string `json:"timezone,omitempty"`
	ReplyToPersonalChats bool   `json:"replyToPersonalChats"`
	ReplyToGroupChats    bool   `json:"replyToGroupChats"`
}

// DefaultSettings applies when no settings record exists.
func DefaultSettings() Settings {
	return Settings{
		BotEnabled:           true,
		ReplyToPersonalChats: true,
		ReplyToGroupChats:    false,
	}
}

// HasSleepWindow reports whether both sleep bounds are configured.
func (s Settings) HasSleepWindow() bool {
	return s.SleepStart != "" && s.SleepEnd != ""
}
