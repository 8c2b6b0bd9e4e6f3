package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 14, hh, mm, 0, 0, time.UTC)
}

func TestKeywordCondition(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		body string
		want bool
	}{
		{"contains any, case-insensitive", Condition{Type: ConditionKeyword, Operator: OpContains, Value: Values{"hi", "hello"}}, "Hello there", true},
		{"contains none", Condition{Type: ConditionKeyword, Operator: OpContains, Value: Values{"bye"}}, "Hello there", false},
		{"case-sensitive miss", Condition{Type: ConditionKeyword, Operator: OpContains, Value: Values{"hello"}, CaseSensitive: true}, "Hello there", false},
		{"case-sensitive hit", Condition{Type: ConditionKeyword, Operator: OpContains, Value: Values{"Hello"}, CaseSensitive: true}, "Hello there", true},
		{"equals", Condition{Type: ConditionKeyword, Operator: OpEquals, Value: Values{"PRICE"}}, "price", true},
		{"equals partial", Condition{Type: ConditionKeyword, Operator: OpEquals, Value: Values{"price"}}, "price list", false},
		{"starts_with", Condition{Type: ConditionKeyword, Operator: OpStartsWith, Value: Values{"order"}}, "Order #42", true},
		{"ends_with", Condition{Type: ConditionKeyword, Operator: OpEndsWith, Value: Values{"?"}}, "are you there?", true},
		{"between is not a keyword operator", Condition{Type: ConditionKeyword, Operator: OpBetween, Value: Values{"a", "b"}}, "a b", false},
		{"no values", Condition{Type: ConditionKeyword, Operator: OpContains}, "anything", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateCondition(tt.cond, MessageContext{Body: tt.body})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeCondition(t *testing.T) {
	night := Condition{Type: ConditionTime, Operator: OpBetween, Value: Values{"22:00", "06:00"}}
	office := Condition{Type: ConditionTime, Operator: OpBetween, Value: Values{"09:00", "18:00"}}

	tests := []struct {
		name string
		cond Condition
		now  time.Time
		want bool
	}{
		{"wrap late evening", night, at(23, 30), true},
		{"wrap early morning", night, at(5, 59), true},
		{"wrap end inclusive", night, at(6, 0), true},
		{"wrap midday", night, at(12, 0), false},
		{"same-day inside", office, at(12, 0), true},
		{"same-day start inclusive", office, at(9, 0), true},
		{"same-day end inclusive", office, at(18, 0), true},
		{"same-day outside", office, at(18, 1), false},
		{"equal bounds match that minute", Condition{Type: ConditionTime, Operator: OpBetween, Value: Values{"10:00", "10:00"}}, at(10, 0), true},
		{"equal bounds miss next minute", Condition{Type: ConditionTime, Operator: OpBetween, Value: Values{"10:00", "10:00"}}, at(10, 1), false},
		{"wrong operator", Condition{Type: ConditionTime, Operator: OpEquals, Value: Values{"09:00", "18:00"}}, at(12, 0), false},
		{"one value", Condition{Type: ConditionTime, Operator: OpBetween, Value: Values{"09:00"}}, at(12, 0), false},
		{"missing minutes", Condition{Type: ConditionTime, Operator: OpBetween, Value: Values{"09", "18:00"}}, at(12, 0), false},
		{"garbage", Condition{Type: ConditionTime, Operator: OpBetween, Value: Values{"nine", "six"}}, at(12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateCondition(tt.cond, MessageContext{Timestamp: tt.now})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeConditionUsesTimestampZone(t *testing.T) {
	kolkata := time.FixedZone("IST", 5*3600+30*60)
	cond := Condition{Type: ConditionTime, Operator: OpBetween, Value: Values{"22:00", "06:00"}}

	// 18:00 UTC is 23:30 IST
	ts := time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC).In(kolkata)
	assert.True(t, EvaluateCondition(cond, MessageContext{Timestamp: ts}))
}

func TestContactCondition(t *testing.T) {
	from := "27821234567@s.whatsapp.net"
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"starts_with country code", Condition{Type: ConditionContact, Operator: OpStartsWith, Value: Values{"27"}}, true},
		{"equals one of list", Condition{Type: ConditionContact, Operator: OpEquals, Value: Values{"x", from}}, true},
		{"ends_with server", Condition{Type: ConditionContact, Operator: OpEndsWith, Value: Values{"@s.whatsapp.net"}}, true},
		{"always case-sensitive", Condition{Type: ConditionContact, Operator: OpContains, Value: Values{"S.WHATSAPP"}}, false},
		{"caseSensitive flag ignored", Condition{Type: ConditionContact, Operator: OpContains, Value: Values{"S.WHATSAPP"}, CaseSensitive: false}, false},
		{"no match", Condition{Type: ConditionContact, Operator: OpContains, Value: Values{"4420"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EvaluateCondition(tt.cond, MessageContext{From: from}))
		})
	}
}

func TestMessageTypeCondition(t *testing.T) {
	group := Condition{Type: ConditionMessageType, Operator: OpEquals, Value: Values{"group"}}
	personal := Condition{Type: ConditionMessageType, Operator: OpEquals, Value: Values{"personal"}}
	other := Condition{Type: ConditionMessageType, Operator: OpEquals, Value: Values{"broadcast"}}

	assert.True(t, EvaluateCondition(group, MessageContext{IsGroup: true}))
	assert.False(t, EvaluateCondition(group, MessageContext{IsGroup: false}))
	assert.True(t, EvaluateCondition(personal, MessageContext{IsGroup: false}))
	assert.False(t, EvaluateCondition(personal, MessageContext{IsGroup: true}))
	assert.False(t, EvaluateCondition(other, MessageContext{IsGroup: true}))
	assert.False(t, EvaluateCondition(other, MessageContext{IsGroup: false}))
}

func TestUnknownConditionType(t *testing.T) {
	c := Condition{Type: "sentiment", Operator: OpContains, Value: Values{"happy"}}
	assert.False(t, EvaluateCondition(c, MessageContext{Body: "happy"}))
}

func TestWindow(t *testing.T) {
	w, err := ParseWindow("23:00", "07:00")
	assert.NoError(t, err)
	assert.Equal(t, "23:00-07:00", w.String())
	assert.True(t, w.Contains(23*60+30))
	assert.False(t, w.Contains(12*60))

	same := Window{Start: 10 * 60, End: 10 * 60}
	assert.True(t, same.Includes(10*60))
	assert.False(t, same.Contains(10*60), "empty sleep window")

	_, err = ParseClock("24:00")
	assert.Error(t, err)
	_, err = ParseClock("12:60")
	assert.Error(t, err)
	m, err := ParseClock(" 07:05 ")
	assert.NoError(t, err)
	assert.Equal(t, 425, m)
}
