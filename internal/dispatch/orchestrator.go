package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roelfdiedericks/autoreply/internal/bus"
	"github.com/roelfdiedericks/autoreply/internal/gate"
	"github.com/roelfdiedericks/autoreply/internal/llm"
	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/metrics"
	"github.com/roelfdiedericks/autoreply/internal/rules"
	"github.com/roelfdiedericks/autoreply/internal/status"
	"github.com/roelfdiedericks/autoreply/internal/store"
	"github.com/roelfdiedericks/autoreply/internal/transport"
)

// DefaultHandlerTimeout bounds one inbound message end to end.
const DefaultHandlerTimeout = 8 * time.Second

// Sender values recorded on outbound messages.
const (
	FromBot       = "bot"
	FromDashboard = "dashboard"
)

// ErrNotConnected is returned by SendManual when the session is down.
var ErrNotConnected = errors.New("whatsapp client not connected")

// Sender is the part of the transport the orchestrator sends through.
type Sender interface {
	Send(ctx context.Context, target, text string) error
}

// Generator produces fallback text. It never fails.
type Generator interface {
	Generate(ctx context.Context, text string) string
}

// Config holds orchestrator tuning.
type Config struct {
	HandlerTimeout time.Duration
	// Location is the reference zone when settings carry no usable timezone.
	Location *time.Location
}

// Deps are the collaborators. Store and Sender are required.
type Deps struct {
	Store    store.Store
	Sender   Sender
	Fallback Generator
	Status   *status.State
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	Gates    *gate.Chain
	Matcher  *rules.Matcher
	// Format rewrites generated text for the transport. Literal rule
	// content is always sent as written.
	Format func(string) string
}

// Result describes what HandleInbound did.
type Result struct {
	Verdict     gate.Verdict
	Rule        *rules.Rule
	MatchErr    error
	Plan        Plan
	Sends       int
	SessionLost bool
	Errors      []error
}

// Orchestrator runs the reply pipeline for each inbound message.
type Orchestrator struct {
	cfg      Config
	store    store.Store
	sender   Sender
	fallback Generator
	status   *status.State
	bus      *bus.Bus
	metrics  *metrics.Metrics
	gates    *gate.Chain
	matcher  *rules.Matcher
	format   func(string) string

	zones sync.Map // timezone name -> *time.Location
	now   func() time.Time
}

// New wires an orchestrator, filling defaults for optional deps.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("dispatch: store is required")
	}
	if deps.Sender == nil {
		return nil, fmt.Errorf("dispatch: sender is required")
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = DefaultHandlerTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Fallback == nil {
		deps.Fallback = llm.NewFallback(nil, llm.FallbackConfig{})
	}
	if deps.Status == nil {
		deps.Status = status.New(deps.Bus)
	}
	if deps.Gates == nil {
		deps.Gates = gate.NewChain()
	}
	if deps.Matcher == nil {
		deps.Matcher = rules.NewMatcher()
	}

	return &Orchestrator{
		cfg:      cfg,
		store:    deps.Store,
		sender:   deps.Sender,
		fallback: deps.Fallback,
		status:   deps.Status,
		bus:      deps.Bus,
		metrics:  deps.Metrics,
		gates:    deps.Gates,
		matcher:  deps.Matcher,
		format:   deps.Format,
		now:      time.Now,
	}, nil
}

// Status returns the shared connection state.
func (o *Orchestrator) Status() *status.State {
	return o.status
}

// HandleInbound processes one message. Errors are logged and reported in
// the Result, never returned.
func (o *Orchestrator) HandleInbound(ctx context.Context, in transport.Inbound) Result {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.HandlerTimeout)
	defer cancel()

	o.metrics.Inbound()
	var res Result

	received := in.Timestamp
	if received.IsZero() {
		received = o.now()
	}

	settings := o.loadSettings(ctx)
	mc := rules.MessageContext{
		Body:      in.Body,
		From:      in.From,
		IsGroup:   in.IsGroup,
		Timestamp: received.In(o.location(settings)),
	}

	L_info("dispatch: inbound", "from", in.From, "group", in.IsGroup, "body", Truncate(in.Body, 60))

	if err := o.record(ctx, inboundRecord(in, received)); err != nil {
		res.Errors = append(res.Errors, err)
	}

	res.Verdict = o.gates.Evaluate(settings, mc)
	if !res.Verdict.Pass {
		L_info("dispatch: reply suppressed", "from", in.From, "reason", res.Verdict.Reason)
		o.metrics.GateDrop(string(res.Verdict.Reason))
		return res
	}

	outcome, matchErr := o.match(ctx, mc)
	res.MatchErr = matchErr
	res.Rule = outcome.Rule
	if matchErr != nil {
		L_warn("dispatch: rule matching failed, using fallback", "error", matchErr)
		res.Errors = append(res.Errors, matchErr)
	}
	if outcome.Matched() {
		L_info("dispatch: rule matched", "rule", outcome.Rule.Name, "response", outcome.Rule.Response.Type)
		o.metrics.RuleMatch(outcome.Rule.Name)
	} else {
		o.metrics.RuleMatch("")
	}

	res.Plan = Resolve(outcome, matchErr)
	if res.Plan.Silent() {
		L_debug("dispatch: rule requests silence", "rule", outcome.Rule.Name)
		return res
	}

	ruleID := ""
	if outcome.Matched() {
		ruleID = outcome.Rule.ID
	}

	for _, step := range res.Plan.Steps {
		o.metrics.PlanStep(string(step.Kind))

		text := step.Text
		if step.Kind == StepGenerate {
			text = o.fallback.Generate(ctx, in.Body)
			if o.format != nil {
				text = o.format(text)
			}
		}

		err := o.send(ctx, in.From, text)
		if err != nil {
			res.Errors = append(res.Errors, err)
			if transport.IsSessionClosed(err) {
				res.SessionLost = true
				break
			}
			continue
		}
		res.Sends++

		out := &store.Message{
			ChatID:    in.From,
			From:      FromBot,
			To:        in.From,
			Body:      text,
			Direction: store.Outbound,
			IsGroup:   in.IsGroup,
			RuleID:    ruleID,
			Status:    "sent",
		}
		if err := o.record(ctx, out); err != nil {
			res.Errors = append(res.Errors, err)
		}
	}

	return res
}

// SendManual sends text on behalf of the operator and records it.
func (o *Orchestrator) SendManual(ctx context.Context, to, text string) (*store.Message, error) {
	if to == "" || text == "" {
		return nil, fmt.Errorf("recipient and message are required")
	}
	if !o.status.IsConnected() {
		return nil, ErrNotConnected
	}

	if err := o.send(ctx, to, text); err != nil {
		return nil, err
	}

	msg := &store.Message{
		ChatID:    to,
		From:      FromDashboard,
		To:        to,
		Body:      text,
		Direction: store.Outbound,
		Status:    "sent",
	}
	// the message went out; a record failure is only logged
	_ = o.record(ctx, msg)
	return msg, nil
}

// HandleLifecycle maps transport connection events onto the shared state.
func (o *Orchestrator) HandleLifecycle(ev transport.Lifecycle) {
	switch ev.Kind {
	case transport.LifecycleConnected:
		L_info("dispatch: whatsapp connected")
		o.status.SetConnected()
		o.metrics.SetConnected(true)
	case transport.LifecycleQR:
		L_info("dispatch: QR code ready for pairing")
		o.status.SetQR(ev.QR)
		o.metrics.SetConnected(false)
	case transport.LifecycleDisconnected, transport.LifecycleAuthFailed, transport.LifecycleLoggedOut:
		reason := ev.Reason
		if reason == "" {
			reason = string(ev.Kind)
		}
		L_warn("dispatch: whatsapp not connected", "event", ev.Kind, "reason", reason)
		o.status.SetDisconnected(reason)
		o.metrics.SetConnected(false)
	default:
		L_debug("dispatch: ignoring lifecycle event", "kind", ev.Kind)
	}
}

// send delivers one message and classifies failures. Session loss flips
// the connection state; nothing is retried.
func (o *Orchestrator) send(ctx context.Context, target, text string) error {
	err := o.sender.Send(ctx, target, text)
	if err == nil {
		L_info("dispatch: replied", "to", target, "text", Truncate(text, 80))
		o.metrics.Send("ok")
		return nil
	}

	if transport.IsSessionClosed(err) {
		L_warn("dispatch: session closed during send, marking not connected", "to", target, "error", err)
		o.metrics.Send("session_closed")
		o.status.SetDisconnected("session closed: " + err.Error())
		o.metrics.SetConnected(false)
		return fmt.Errorf("send to %s: %w", target, err)
	}

	L_error("dispatch: send failed", "to", target, "error", err)
	o.metrics.Send("error")
	return fmt.Errorf("send to %s: %w", target, err)
}

// record persists a message and publishes it. Failures are logged and
// returned for the Result only.
func (o *Orchestrator) record(ctx context.Context, m *store.Message) error {
	// a handler past its deadline still records what happened
	if err := o.store.CreateMessage(context.WithoutCancel(ctx), m); err != nil {
		L_error("dispatch: failed to record message", "direction", m.Direction, "chat", m.ChatID, "error", err)
		o.metrics.RecordFailure(string(m.Direction))
		return fmt.Errorf("record %s message: %w", m.Direction, err)
	}
	if o.bus != nil {
		o.bus.PublishWithSource(bus.TopicMessageRecorded, *m, "dispatch")
	}
	return nil
}

func (o *Orchestrator) loadSettings(ctx context.Context) rules.Settings {
	s, err := o.store.GetSettings(ctx)
	if err != nil {
		L_warn("dispatch: failed to read settings, using defaults", "error", err)
		return rules.DefaultSettings()
	}
	if s == nil {
		return rules.DefaultSettings()
	}
	return *s
}

// match lists enabled rules and runs the matcher. A listing failure is
// reported as a match error.
func (o *Orchestrator) match(ctx context.Context, mc rules.MessageContext) (rules.Outcome, error) {
	list, err := o.store.ListEnabledRules(ctx)
	if err != nil {
		return rules.Outcome{}, fmt.Errorf("list rules: %w", err)
	}
	return o.matcher.Match(list, mc)
}

// location resolves the reference zone: settings timezone, then config,
// then local.
func (o *Orchestrator) location(s rules.Settings) *time.Location {
	if s.Timezone == "" {
		return o.cfg.Location
	}
	if loc, ok := o.zones.Load(s.Timezone); ok {
		return loc.(*time.Location)
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		L_warn("dispatch: unknown timezone in settings, using default", "timezone", s.Timezone, "error", err)
		return o.cfg.Location
	}
	o.zones.Store(s.Timezone, loc)
	return loc
}

func inboundRecord(in transport.Inbound, received time.Time) *store.Message {
	from := in.Sender
	if from == "" {
		from = in.From
	}
	to := in.To
	if to == "" {
		to = FromBot
	}
	return &store.Message{
		ChatID:    in.From,
		From:      from,
		To:        to,
		Body:      in.Body,
		Direction: store.Inbound,
		IsGroup:   in.IsGroup,
		Status:    "received",
		Timestamp: received,
	}
}
