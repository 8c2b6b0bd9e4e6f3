package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// ConfigError describes one invalid setting. It is fatal at startup.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

var knownProviders = map[string]bool{"openai": true, "anthropic": true, "gemini": true}

// Validate checks the settings every command relies on.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Store.Path == "" {
		add("store.path", "is required")
	}
	if c.Store.MessageTTLDays <= 0 {
		add("store.messageTTLDays", "must be positive, got %d", c.Store.MessageTTLDays)
	}
	if c.Store.SettingsCacheTTL < 0 {
		add("store.settingsCacheTTL", "must not be negative")
	}
	if c.Store.RetentionSchedule != "" {
		if _, err := cronlib.ParseStandard(c.Store.RetentionSchedule); err != nil {
			add("store.retentionSchedule", "invalid cron expression: %v", err)
		}
	}

	if !knownProviders[strings.ToLower(c.LLM.Provider)] {
		add("llm.provider", "unknown provider %q (want openai, anthropic or gemini)", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 0 {
		add("llm.maxTokens", "must not be negative")
	}
	if c.LLM.Timeout <= 0 {
		add("llm.timeout", "must be positive")
	}
	if c.Responder.HandlerTimeout <= 0 {
		add("responder.handlerTimeout", "must be positive")
	} else if c.LLM.Timeout >= c.Responder.HandlerTimeout {
		add("llm.timeout", "%s must be shorter than responder.handlerTimeout %s", c.LLM.Timeout, c.Responder.HandlerTimeout)
	}
	if c.Responder.Timezone != "" {
		if _, err := time.LoadLocation(c.Responder.Timezone); err != nil {
			add("responder.timezone", "unknown timezone %q", c.Responder.Timezone)
		}
	}

	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		add("http.listen", "is required when http is enabled")
	}
	if c.WhatsApp.Enabled && c.WhatsApp.SessionPath == "" {
		add("whatsapp.sessionPath", "is required when whatsapp is enabled")
	}
	if c.Rules.Watch && c.Rules.File == "" {
		add("rules.watch", "requires rules.file")
	}

	return errors.Join(errs...)
}

// RequireAPIKey fails when the generative fallback has no credentials.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return &ConfigError{Field: "llm.apiKey", Message: "is required (set llm.apiKey, LLM_API_KEY or GEMINI_API_KEY)"}
	}
	return nil
}
