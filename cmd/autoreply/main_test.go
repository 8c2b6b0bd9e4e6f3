package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roelfdiedericks/autoreply/internal/rules"
	"github.com/roelfdiedericks/autoreply/internal/store"
)

func TestParseSwitch(t *testing.T) {
	for _, s := range []string{"on", "ON", "true", "yes", "1"} {
		v, err := parseSwitch(s)
		require.NoError(t, err, s)
		assert.True(t, v, s)
	}
	for _, s := range []string{"off", "false", "no", "0"} {
		v, err := parseSwitch(s)
		require.NoError(t, err, s)
		assert.False(t, v, s)
	}
	_, err := parseSwitch("maybe")
	assert.Error(t, err)
}

func TestParseSleep(t *testing.T) {
	start, end, err := parseSleep("22:00-07:00")
	require.NoError(t, err)
	assert.Equal(t, "22:00", start)
	assert.Equal(t, "07:00", end)

	start, end, err = parseSleep(" 09:30 - 17:00 ")
	require.NoError(t, err)
	assert.Equal(t, "09:30", start)
	assert.Equal(t, "17:00", end)

	start, end, err = parseSleep("OFF")
	require.NoError(t, err)
	assert.Empty(t, start)
	assert.Empty(t, end)

	_, _, err = parseSleep("22:00")
	assert.Error(t, err)
	_, _, err = parseSleep("25:00-07:00")
	assert.Error(t, err)
}

func TestSettingsSetApply(t *testing.T) {
	cur := rules.DefaultSettings()
	cur.Timezone = "Europe/London"

	next, err := (&SettingsSetCmd{Groups: "on", Sleep: "23:00-06:30"}).apply(cur)
	require.NoError(t, err)
	assert.True(t, next.BotEnabled, "untouched")
	assert.True(t, next.ReplyToGroupChats)
	assert.Equal(t, "23:00", next.SleepStart)
	assert.Equal(t, "06:30", next.SleepEnd)
	assert.Equal(t, "Europe/London", next.Timezone)

	next, err = (&SettingsSetCmd{Bot: "off", Sleep: "off", Timezone: "none"}).apply(next)
	require.NoError(t, err)
	assert.False(t, next.BotEnabled)
	assert.False(t, next.HasSleepWindow())
	assert.Empty(t, next.Timezone)

	_, err = (&SettingsSetCmd{Timezone: "Mars/Olympus"}).apply(cur)
	assert.Error(t, err)
	_, err = (&SettingsSetCmd{Personal: "sometimes"}).apply(cur)
	assert.Error(t, err)
}

func TestRuleFormBuild(t *testing.T) {
	f := ruleForm{
		Name:     " pricing ",
		Priority: "10",
		Conditions: []conditionForm{
			{Type: "keyword", Operator: "contains", Value: "price, cost ,"},
			{Type: "time", Value: "09:00-17:00"},
			{Type: "message_type", Value: "personal"},
		},
		Response: "text",
		Content:  "Our prices are on the website.",
		UseAI:    true,
	}
	r, err := f.build()
	require.NoError(t, err)
	assert.Equal(t, "pricing", r.Name)
	assert.Equal(t, 10, r.Priority)
	assert.True(t, r.Enabled)
	require.Len(t, r.Conditions, 3)
	assert.Equal(t, rules.Values{"price", "cost"}, r.Conditions[0].Value)
	assert.Equal(t, rules.OpBetween, r.Conditions[1].Operator)
	assert.Equal(t, rules.Values{"09:00", "17:00"}, r.Conditions[1].Value)
	assert.Equal(t, rules.OpEquals, r.Conditions[2].Operator)
	assert.True(t, r.Response.UseAI)

	// content is dropped for non-text responses
	f.Response = "ai"
	r, err = f.build()
	require.NoError(t, err)
	assert.Empty(t, r.Response.Content)
	assert.False(t, r.Response.UseAI)

	f.Priority = "500"
	_, err = f.build()
	assert.Error(t, err)

	f.Priority = "5"
	f.Conditions = nil
	_, err = f.build()
	assert.ErrorIs(t, err, rules.ErrInvalidRule)
}

func TestRuleRows(t *testing.T) {
	list := []rules.Rule{
		{
			ID: "0123456789abcdef", Name: "greet", Enabled: true, Priority: 5,
			Conditions: []rules.Condition{{Type: rules.ConditionKeyword, Operator: rules.OpContains, Value: rules.Values{"hi", "hello"}}},
			Response:   rules.Response{Type: rules.ResponseText, Content: "Hello!", UseAI: true},
		},
		{
			ID: "abc", Name: "night", Enabled: false, Priority: 1,
			Conditions: []rules.Condition{
				{Type: rules.ConditionTime, Operator: rules.OpBetween, Value: rules.Values{"22:00", "06:00"}},
				{Type: rules.ConditionMessageType, Operator: rules.OpEquals, Value: rules.Values{"group"}},
			},
			Response: rules.Response{Type: rules.ResponseNone},
		},
	}

	rows := ruleRows(list)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"5", "greet", "yes", `keyword contains "hi"|"hello"`, `"Hello!" + ai`, "01234567"}, rows[0])
	assert.Equal(t, []string{"1", "night", "no", "time 22:00-06:00 & group chat", "silent", "abc"}, rows[1])

	assert.Contains(t, renderRules(list), "greet")
}

func TestChronological(t *testing.T) {
	msgs := []store.Message{{ID: "3"}, {ID: "2"}, {ID: "1"}}
	chronological(msgs)
	assert.Equal(t, "1", msgs[0].ID)
	assert.Equal(t, "3", msgs[2].ID)

	chronological(nil)
}

func TestRenderSettings(t *testing.T) {
	out := renderSettings(rules.DefaultSettings())
	assert.Contains(t, out, "quiet hours")
	assert.Contains(t, out, "(server default)")
}
