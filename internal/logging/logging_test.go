package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"debug", LevelDebug},
		{"TRACE", LevelDebug},
		{"warn", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"info", LevelInfo},
		{"", LevelInfo},
		{"bogus", LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestLogFormats(t *testing.T) {
	var buf bytes.Buffer
	InitLogging(&LogConfig{Level: LevelDebug, Output: &buf})
	defer InitLogging(nil)

	L_info("plain message")
	L_info("count is %d", 42)
	L_warn("structured", "key", "value")
	L_debug("hidden?")

	out := buf.String()
	assert.Contains(t, out, "plain message")
	assert.Contains(t, out, "count is 42")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, out, "hidden?")
}

func TestLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	InitLogging(&LogConfig{Level: LevelWarn, Output: &buf})
	defer InitLogging(nil)

	L_info("should not appear")
	L_error("should appear")

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", Truncate("hello", 10))
	assert.Equal(t, "hel...", Truncate("hello", 3))
	assert.Equal(t, "hello", Truncate("hello", 0))
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, LevelInfo, cfg.Level)
	assert.Nil(t, cfg.Output)
}
