package rules

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func keywordRule(name string, priority int, created time.Time, words ...string) Rule {
	return Rule{
		ID:         name,
		Name:       name,
		Enabled:    true,
		Priority:   priority,
		CreatedAt:  created,
		Conditions: []Condition{{Type: ConditionKeyword, Operator: OpContains, Value: Values(words)}},
		Response:   Response{Type: ResponseText, Content: "reply from " + name},
	}
}

func TestMatchFirstWins(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := []Rule{
		keywordRule("low", 1, base, "hello"),
		keywordRule("high", 50, base, "hello"),
		keywordRule("high-newer", 50, base.Add(time.Hour), "hello"),
		keywordRule("unrelated", 99, base, "invoice"),
	}
	SortRules(rs)

	out, err := NewMatcher().Match(rs, MessageContext{Body: "hello there"})
	require.NoError(t, err)
	require.True(t, out.Matched())
	assert.Equal(t, "high-newer", out.Rule.Name)
}

func TestMatchNone(t *testing.T) {
	rs := []Rule{keywordRule("a", 10, time.Now(), "price")}
	out, err := NewMatcher().Match(rs, MessageContext{Body: "good morning"})
	require.NoError(t, err)
	assert.False(t, out.Matched())
	assert.Nil(t, out.Rule)
}

func TestMatchRequiresAllConditions(t *testing.T) {
	r := keywordRule("groups-only", 10, time.Now(), "hello")
	r.Conditions = append(r.Conditions, Condition{Type: ConditionMessageType, Operator: OpEquals, Value: Values{"group"}})

	out, err := NewMatcher().Match([]Rule{r}, MessageContext{Body: "hello", IsGroup: false})
	require.NoError(t, err)
	assert.False(t, out.Matched())

	out, err = NewMatcher().Match([]Rule{r}, MessageContext{Body: "hello", IsGroup: true})
	require.NoError(t, err)
	assert.True(t, out.Matched())
}

func TestMatchSkipsMalformedRule(t *testing.T) {
	broken := Rule{
		Name: "broken", Enabled: true, Priority: 100,
		Conditions: []Condition{{Type: ConditionTime, Operator: OpBetween, Value: Values{"nonsense"}}},
		Response:   Response{Type: ResponseText, Content: "never"},
	}
	ok := keywordRule("ok", 1, time.Now(), "hi")

	out, err := NewMatcher().Match([]Rule{broken, ok}, MessageContext{Body: "hi", Timestamp: at(12, 0)})
	require.NoError(t, err)
	require.True(t, out.Matched())
	assert.Equal(t, "ok", out.Rule.Name)
}

func TestMatchEmptyConditionsNeverMatch(t *testing.T) {
	r := Rule{Name: "empty", Enabled: true, Priority: 1, Response: Response{Type: ResponseAI}}
	out, err := NewMatcher().Match([]Rule{r}, MessageContext{Body: "x"})
	require.NoError(t, err)
	assert.False(t, out.Matched())
}

func TestMatchRecoversPanic(t *testing.T) {
	m := &Matcher{eval: func(Condition, MessageContext) bool { panic("boom") }}
	out, err := m.Match([]Rule{keywordRule("a", 1, time.Now(), "x")}, MessageContext{Body: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.False(t, out.Matched())
}

// For any rule set, the winner is the highest (priority, createdAt) among
// rules whose conditions hold.
func TestMatchPicksHighestOrderedCandidate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	words := []string{"alpha", "beta", "gamma"}

	for iter := 0; iter < 200; iter++ {
		var rs []Rule
		n := 1 + rng.Intn(8)
		for i := 0; i < n; i++ {
			rs = append(rs, keywordRule(
				string(rune('a'+i)),
				1+rng.Intn(3),
				base.Add(time.Duration(rng.Intn(1000))*time.Minute),
				words[rng.Intn(len(words))],
			))
		}
		body := words[rng.Intn(len(words))]

		var want *Rule
		for i := range rs {
			if !rs[i].Matches(MessageContext{Body: body}) {
				continue
			}
			if want == nil || rs[i].Priority > want.Priority ||
				(rs[i].Priority == want.Priority && rs[i].CreatedAt.After(want.CreatedAt)) {
				want = &rs[i]
			}
		}

		sorted := append([]Rule(nil), rs...)
		SortRules(sorted)
		out, err := NewMatcher().Match(sorted, MessageContext{Body: body})
		require.NoError(t, err)

		if want == nil {
			assert.False(t, out.Matched())
			continue
		}
		require.True(t, out.Matched())
		assert.Equal(t, want.Priority, out.Rule.Priority)
		assert.True(t, want.CreatedAt.Equal(out.Rule.CreatedAt))
	}
}

func TestValuesDecode(t *testing.T) {
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(`{"type":"keyword","operator":"contains","value":"hi"}`), &c))
	assert.Equal(t, Values{"hi"}, c.Value)

	require.NoError(t, json.Unmarshal([]byte(`{"type":"keyword","operator":"contains","value":["hi","hello"]}`), &c))
	assert.Equal(t, Values{"hi", "hello"}, c.Value)

	assert.Error(t, json.Unmarshal([]byte(`{"value":42}`), &c))

	var y Condition
	require.NoError(t, yaml.Unmarshal([]byte("type: time\noperator: between\nvalue: [\"22:00\", \"06:00\"]\n"), &y))
	assert.Equal(t, Values{"22:00", "06:00"}, y.Value)
	require.NoError(t, yaml.Unmarshal([]byte("type: message_type\noperator: equals\nvalue: group\n"), &y))
	assert.Equal(t, Values{"group"}, y.Value)
}
