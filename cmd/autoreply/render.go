package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/rules"
	"github.com/roelfdiedericks/autoreply/internal/store"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("241"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	labelStyle  = lipgloss.NewStyle().Bold(true).Width(22)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers(headers...)
}

// ruleRows flattens rules into table rows.
func ruleRows(list []rules.Rule) [][]string {
	rows := make([][]string, 0, len(list))
	for _, r := range list {
		enabled := "yes"
		if !r.Enabled {
			enabled = "no"
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Priority),
			r.Name,
			enabled,
			describeConditions(r.Conditions),
			describeResponse(r.Response),
			shortID(r.ID),
		})
	}
	return rows
}

func renderRules(list []rules.Rule) string {
	rows := ruleRows(list)
	t := newTable("PRIO", "NAME", "ON", "WHEN", "REPLY", "ID").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row >= 0 && row < len(rows) && rows[row][2] == "no" {
				return dimStyle
			}
			return cellStyle
		})
	return t.String()
}

func describeConditions(conds []rules.Condition) string {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		switch c.Type {
		case rules.ConditionTime:
			parts = append(parts, fmt.Sprintf("time %s", strings.Join(c.Value, "-")))
		case rules.ConditionMessageType:
			parts = append(parts, fmt.Sprintf("%s chat", strings.Join(c.Value, "")))
		default:
			vals := make([]string, len(c.Value))
			for i, v := range c.Value {
				vals[i] = strconv.Quote(v)
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", c.Type, c.Operator, strings.Join(vals, "|")))
		}
	}
	return strings.Join(parts, " & ")
}

func describeResponse(r rules.Response) string {
	switch r.Type {
	case rules.ResponseText:
		s := strconv.Quote(Truncate(r.Content, 40))
		if r.UseAI {
			s += " + ai"
		}
		return s
	case rules.ResponseAI:
		return "ai"
	default:
		return "silent"
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// messageRows flattens messages into table rows.
func messageRows(msgs []store.Message) [][]string {
	rows := make([][]string, 0, len(msgs))
	for _, m := range msgs {
		dir := "<-"
		if m.Direction == store.Outbound {
			dir = "->"
		}
		rows = append(rows, []string{
			m.Timestamp.Local().Format("01-02 15:04:05"),
			dir,
			m.ChatID,
			m.From,
			Truncate(strings.ReplaceAll(m.Body, "\n", " "), 60),
		})
	}
	return rows
}

func renderMessages(msgs []store.Message) string {
	t := newTable("TIME", "", "CHAT", "FROM", "BODY").
		Rows(messageRows(msgs)...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	return t.String()
}

func renderSettings(s rules.Settings) string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	sleep := "off"
	if s.HasSleepWindow() {
		sleep = s.SleepStart + "-" + s.SleepEnd
	}
	tz := s.Timezone
	if tz == "" {
		tz = "(server default)"
	}

	lines := [][2]string{
		{"bot", onOff(s.BotEnabled)},
		{"personal chats", onOff(s.ReplyToPersonalChats)},
		{"group chats", onOff(s.ReplyToGroupChats)},
		{"quiet hours", sleep},
		{"timezone", tz},
	}
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(labelStyle.Render(l[0]) + l[1])
	}
	return b.String()
}
