// Package gate decides whether an inbound message may be answered at all,
// before any rule is consulted.
package gate

import (
	"github.com/roelfdiedericks/autoreply/internal/rules"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

// DropReason names the gate that suppressed a reply.
type DropReason string

const (
	ReasonNone             DropReason = ""
	ReasonBotDisabled      DropReason = "bot_disabled"
	ReasonGroupDisabled    DropReason = "group_disabled"
	ReasonPersonalDisabled DropReason = "personal_disabled"
	ReasonSleepWindow      DropReason = "sleep_window"
)

// Verdict is the chain result. Reason is set only when Pass is false.
type Verdict struct {
	Pass   bool
	Reason DropReason
}

func pass() Verdict                 { return Verdict{Pass: true} }
func drop(reason DropReason) Verdict { return Verdict{Reason: reason} }

// Gate is one named check. Check returns true to suppress the reply.
type Gate struct {
	Name  DropReason
	Check func(s rules.Settings, mc rules.MessageContext) bool
}

// Chain runs gates in order and stops at the first one that fires.
type Chain struct {
	gates []Gate
}

// NewChain returns the standard chain: bot switch, chat type, then sleep window.
func NewChain() *Chain {
	return &Chain{gates: []Gate{
		{Name: ReasonBotDisabled, Check: botDisabled},
		{Name: ReasonGroupDisabled, Check: groupDisabled},
		{Name: ReasonPersonalDisabled, Check: personalDisabled},
		{Name: ReasonSleepWindow, Check: inSleepWindow},
	}}
}

// Evaluate returns the first firing gate, or a passing verdict.
func (c *Chain) Evaluate(s rules.Settings, mc rules.MessageContext) Verdict {
	for _, g := range c.gates {
		if g.Check(s, mc) {
			return drop(g.Name)
		}
	}
	return pass()
}

// Reasons lists the gate names in evaluation order.
func (c *Chain) Reasons() []DropReason {
	out := make([]DropReason, len(c.gates))
	for i, g := range c.gates {
		out[i] = g.Name
	}
	return out
}

func botDisabled(s rules.Settings, _ rules.MessageContext) bool {
	return !s.BotEnabled
}

func groupDisabled(s rules.Settings, mc rules.MessageContext) bool {
	return mc.IsGroup && !s.ReplyToGroupChats
}

func personalDisabled(s rules.Settings, mc rules.MessageContext) bool {
	return !mc.IsGroup && !s.ReplyToPersonalChats
}

// inSleepWindow applies only when both bounds are set. Unparseable bounds
// disable the gate.
func inSleepWindow(s rules.Settings, mc rules.MessageContext) bool {
	if !s.HasSleepWindow() {
		return false
	}
	w, err := rules.ParseWindow(s.SleepStart, s.SleepEnd)
	if err != nil {
		L_warn("gate: ignoring malformed sleep window", "start", s.SleepStart, "end", s.SleepEnd, "error", err)
		return false
	}
	return w.Contains(rules.MinuteOfDay(mc.Timestamp))
}
