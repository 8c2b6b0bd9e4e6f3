package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/huh"

	"github.com/roelfdiedericks/autoreply/internal/rules"
	"github.com/roelfdiedericks/autoreply/internal/store"
)

// RulesCmd groups rule management commands.
type RulesCmd struct {
	List    RulesListCmd   `cmd:"" help:"List rules in matching order."`
	Import  RulesImportCmd `cmd:"" help:"Import a YAML rules file (upsert by name)."`
	Add     RulesAddCmd    `cmd:"" help:"Add a rule interactively."`
	Enable  RulesToggleCmd `cmd:"" help:"Enable a rule by id or name."`
	Disable RulesToggleCmd `cmd:"" help:"Disable a rule by id or name."`
	Delete  RulesDeleteCmd `cmd:"" help:"Delete a rule by id or name."`
}

type RulesListCmd struct {
	All bool `short:"a" help:"Include disabled rules."`
}

func (c *RulesListCmd) Run(g *Globals) error {
	_, st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	var list []rules.Rule
	if c.All {
		list, err = st.ListRules(ctx)
	} else {
		list, err = st.ListEnabledRules(ctx)
	}
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No rules. Unmatched messages get a generated reply.")
		return nil
	}
	fmt.Println(renderRules(list))
	return nil
}

type RulesImportCmd struct {
	File   string `arg:"" type:"existingfile" help:"Rules file."`
	DryRun bool   `help:"Validate only."`
}

func (c *RulesImportCmd) Run(g *Globals) error {
	if c.DryRun {
		list, err := store.LoadRulesFile(c.File)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d valid rule(s)\n", c.File, len(list))
		return nil
	}

	_, st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.ImportRulesFile(context.Background(), c.File)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %s: %d created, %d updated\n", c.File, res.Created, res.Updated)
	return nil
}

type RulesToggleCmd struct {
	Rule string `arg:"" help:"Rule id or name."`
}

// Run serves both enable and disable; the selected command name decides.
func (c *RulesToggleCmd) Run(g *Globals, kctx *kong.Context) error {
	_, st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	r, err := lookupRule(ctx, st, c.Rule)
	if err != nil {
		return err
	}
	enable := kctx.Selected().Name == "enable"
	if err := st.SetRuleEnabled(ctx, r.ID, enable); err != nil {
		return err
	}
	state := "disabled"
	if enable {
		state = "enabled"
	}
	fmt.Printf("Rule %q %s\n", r.Name, state)
	return nil
}

type RulesDeleteCmd struct {
	Rule string `arg:"" help:"Rule id or name."`
	Yes  bool   `short:"y" help:"Do not ask for confirmation."`
}

func (c *RulesDeleteCmd) Run(g *Globals) error {
	_, st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	r, err := lookupRule(ctx, st, c.Rule)
	if err != nil {
		return err
	}
	if !c.Yes {
		confirm := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Delete rule %q?", r.Name)).
			Value(&confirm).
			Run()
		if err != nil {
			return err
		}
		if !confirm {
			return nil
		}
	}
	if err := st.DeleteRule(ctx, r.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted rule %q\n", r.Name)
	return nil
}

// lookupRule resolves an id first, then a name.
func lookupRule(ctx context.Context, st *store.SQLiteStore, ref string) (*rules.Rule, error) {
	r, err := st.GetRule(ctx, ref)
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	r, err = st.FindRuleByName(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no rule with id or name %q", ref)
	}
	return r, err
}

type RulesAddCmd struct{}

func (c *RulesAddCmd) Run(g *Globals) error {
	_, st, err := g.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var f ruleForm
	if err := f.run(); err != nil {
		return err
	}
	r, err := f.build()
	if err != nil {
		return err
	}
	if err := st.CreateRule(context.Background(), &r); err != nil {
		return err
	}
	fmt.Printf("Created rule %q (%s)\n", r.Name, r.ID)
	return nil
}

// conditionForm holds one condition as typed into the form.
type conditionForm struct {
	Type          string
	Operator      string
	Value         string // comma separated; "HH:MM-HH:MM" for time
	CaseSensitive bool
}

// ruleForm holds the raw form answers.
type ruleForm struct {
	Name        string
	Description string
	Priority    string
	Conditions  []conditionForm
	Response    string
	Content     string
	UseAI       bool
}

func (f *ruleForm) run() error {
	f.Priority = "1"
	head := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("Name").Value(&f.Name).Validate(required),
		huh.NewInput().Title("Description").Value(&f.Description),
		huh.NewInput().Title("Priority (1-100, higher wins)").Value(&f.Priority).Validate(func(s string) error {
			_, err := parsePriority(s)
			return err
		}),
	))
	if err := head.Run(); err != nil {
		return err
	}

	for {
		var cf conditionForm
		more := false
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().Title("Condition").
					Options(huh.NewOptions("keyword", "time", "contact", "message_type")...).
					Value(&cf.Type),
			),
			huh.NewGroup(
				huh.NewSelect[string]().Title("Operator").
					Options(huh.NewOptions("contains", "equals", "starts_with", "ends_with")...).
					Value(&cf.Operator),
				huh.NewInput().Title("Values (comma separated)").Value(&cf.Value).Validate(required),
				huh.NewConfirm().Title("Case sensitive?").Value(&cf.CaseSensitive),
			).WithHideFunc(func() bool { return cf.Type == "time" || cf.Type == "message_type" }),
			huh.NewGroup(
				huh.NewInput().Title("Window (HH:MM-HH:MM)").Value(&cf.Value).Validate(func(s string) error {
					_, _, err := parseSleep(s)
					return err
				}),
			).WithHideFunc(func() bool { return cf.Type != "time" }),
			huh.NewGroup(
				huh.NewSelect[string]().Title("Chat type").
					Options(huh.NewOptions("personal", "group")...).
					Value(&cf.Value),
			).WithHideFunc(func() bool { return cf.Type != "message_type" }),
			huh.NewGroup(
				huh.NewConfirm().Title("Add another condition?").Value(&more),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}
		f.Conditions = append(f.Conditions, cf)
		if !more {
			break
		}
	}

	f.Response = string(rules.ResponseText)
	tail := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().Title("Response").
				Options(
					huh.NewOption("Fixed text", string(rules.ResponseText)),
					huh.NewOption("Generated reply", string(rules.ResponseAI)),
					huh.NewOption("Stay silent", string(rules.ResponseNone)),
				).
				Value(&f.Response),
		),
		huh.NewGroup(
			huh.NewText().Title("Reply text").Value(&f.Content).Validate(required),
			huh.NewConfirm().Title("Follow up with a generated reply?").Value(&f.UseAI),
		).WithHideFunc(func() bool { return f.Response != string(rules.ResponseText) }),
	)
	return tail.Run()
}

// build converts form answers into a validated rule.
func (f *ruleForm) build() (rules.Rule, error) {
	prio, err := parsePriority(f.Priority)
	if err != nil {
		return rules.Rule{}, err
	}
	r := rules.Rule{
		Name:        strings.TrimSpace(f.Name),
		Description: strings.TrimSpace(f.Description),
		Enabled:     true,
		Priority:    prio,
		Response:    rules.Response{Type: rules.ResponseType(f.Response)},
	}
	if r.Response.Type == rules.ResponseText {
		r.Response.Content = f.Content
		r.Response.UseAI = f.UseAI
	}

	for _, cf := range f.Conditions {
		c := rules.Condition{
			Type:          rules.ConditionType(cf.Type),
			Operator:      rules.Operator(cf.Operator),
			CaseSensitive: cf.CaseSensitive,
		}
		switch c.Type {
		case rules.ConditionTime:
			start, end, err := parseSleep(cf.Value)
			if err != nil {
				return rules.Rule{}, err
			}
			c.Operator = rules.OpBetween
			c.Value = rules.Values{start, end}
		case rules.ConditionMessageType:
			c.Operator = rules.OpEquals
			c.Value = rules.Values{cf.Value}
		default:
			c.Value = splitValues(cf.Value)
		}
		r.Conditions = append(r.Conditions, c)
	}
	if err := r.Validate(); err != nil {
		return rules.Rule{}, err
	}
	return r, nil
}

func parsePriority(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < rules.MinPriority || n > rules.MaxPriority {
		return 0, fmt.Errorf("priority must be a number from %d to %d", rules.MinPriority, rules.MaxPriority)
	}
	return n, nil
}

func splitValues(s string) rules.Values {
	var out rules.Values
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func required(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("required")
	}
	return nil
}
