package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LLM_API_KEY", "GEMINI_API_KEY", "LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL",
		"PORT", "MESSAGE_TTL_DAYS", "AUTOREPLY_DB", "LOG_LEVEL", "AUTOREPLY_TZ", "AUTOREPLY_CONFIG"} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "autoreply.yaml", `
llm:
  provider: gemini
  apiKey: from-file
  timeout: 5s
responder:
  timezone: Africa/Johannesburg
http:
  listen: ":9000"
`)

	cfg, used, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "from-file", cfg.LLM.APIKey)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, ":9000", cfg.HTTP.Listen)
	// untouched sections keep defaults
	assert.Equal(t, 30, cfg.Store.MessageTTLDays)
	assert.Equal(t, "gemini-1.5-flash", cfg.LLM.Model)
	assert.True(t, cfg.HTTP.Enabled)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "Africa/Johannesburg", cfg.Location().String())
}

func TestLoadTOML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "autoreply.toml", `
[llm]
provider = "anthropic"
model = "claude-3-5-haiku-latest"
timeout = "3s"

[store]
messageTTLDays = 14
`)

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 3*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 14, cfg.Store.MessageTTLDays)
}

func TestLoadRejectsUnknownYAMLField(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "autoreply.yaml", "llm:\n  temperature: 0.3\n")
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, _, err := Load(writeFile(t, "autoreply.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gem-key")
	t.Setenv("LLM_MODEL", "gemini-2.0-flash")
	t.Setenv("PORT", "8080")
	t.Setenv("MESSAGE_TTL_DAYS", "7")
	t.Setenv("LOG_LEVEL", "debug")

	path := writeFile(t, "autoreply.yaml", "llm:\n  apiKey: from-file\n  model: other\n")
	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gem-key", cfg.LLM.APIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Model)
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, 7, cfg.Store.MessageTTLDays)
	assert.Equal(t, "debug", cfg.Logging.Level)

	t.Setenv("LLM_API_KEY", "primary")
	cfg, _, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "primary", cfg.LLM.APIKey)
}

func TestDotEnvNextToConfig(t *testing.T) {
	clearEnv(t)
	// .env never overrides variables that are already set, even when empty
	os.Unsetenv("LLM_PROVIDER")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LLM_PROVIDER=gemini\n"), 0600))
	path := filepath.Join(dir, "autoreply.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  enabled: false\n"), 0600))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.False(t, cfg.HTTP.Enabled)
}

func TestInvalidEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")

	_, _, err := Load(writeFile(t, "autoreply.yaml", ""))
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "PORT", ce.Field)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"timeout equals budget", func(c *Config) { c.LLM.Timeout = 8 * time.Second }, "llm.timeout"},
		{"timeout exceeds budget", func(c *Config) { c.LLM.Timeout = 10 * time.Second }, "llm.timeout"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "mystery" }, "llm.provider"},
		{"bad timezone", func(c *Config) { c.Responder.Timezone = "Nowhere/Special" }, "responder.timezone"},
		{"bad cron", func(c *Config) { c.Store.RetentionSchedule = "every day" }, "store.retentionSchedule"},
		{"ttl", func(c *Config) { c.Store.MessageTTLDays = 0 }, "store.messageTTLDays"},
		{"watch without file", func(c *Config) { c.Rules.Watch = true }, "rules.watch"},
		{"listen", func(c *Config) { c.HTTP.Listen = "" }, "http.listen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var ce *ConfigError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.field, ce.Field)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestRequireAPIKey(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.RequireAPIKey())
	cfg.LLM.APIKey = "k"
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestInitWritesLoadableConfig(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "autoreply.yaml")

	require.NoError(t, Init(path, false))
	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 7*time.Second, cfg.LLM.Timeout)

	assert.Error(t, Init(path, false), "refuses to overwrite")
	assert.Empty(t, ListBackups(path))

	require.NoError(t, Init(path, true))
	require.NoError(t, Init(path, true))
	backups := ListBackups(path)
	require.Len(t, backups, 2)
	assert.Equal(t, 0, backups[0].Index)
	assert.Equal(t, 1, backups[1].Index)
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.yaml")
	require.NoError(t, AtomicWrite(path, []byte("a: 1\n"), 0600))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x.yaml", entries[0].Name())
}
