// Package config loads autoreply.yaml (or .toml), applies .env and
// environment overrides, and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
	"github.com/roelfdiedericks/autoreply/internal/paths"
)

// Config is the merged autoreply configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Store     StoreConfig     `yaml:"store" toml:"store"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp" toml:"whatsapp"`
	LLM       LLMConfig       `yaml:"llm" toml:"llm"`
	Responder ResponderConfig `yaml:"responder" toml:"responder"`
	HTTP      HTTPConfig      `yaml:"http" toml:"http"`
	Rules     RulesConfig     `yaml:"rules" toml:"rules"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"` // debug|info|warn|error
	ShowCaller bool   `yaml:"showCaller" toml:"showCaller"`
}

type StoreConfig struct {
	Path              string        `yaml:"path" toml:"path"`
	SettingsCacheTTL  time.Duration `yaml:"settingsCacheTTL" toml:"settingsCacheTTL"`
	MessageTTLDays    int           `yaml:"messageTTLDays" toml:"messageTTLDays"`
	RetentionSchedule string        `yaml:"retentionSchedule" toml:"retentionSchedule"`
}

type WhatsAppConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	SessionPath string `yaml:"sessionPath" toml:"sessionPath"` // whatsmeow device store
}

type LLMConfig struct {
	Provider    string        `yaml:"provider" toml:"provider"` // openai|anthropic|gemini
	BaseURL     string        `yaml:"baseURL" toml:"baseURL"`
	APIKey      string        `yaml:"apiKey" toml:"apiKey"`
	Model       string        `yaml:"model" toml:"model"`
	MaxTokens   int           `yaml:"maxTokens" toml:"maxTokens"`
	Timeout     time.Duration `yaml:"timeout" toml:"timeout"`
	Instruction string        `yaml:"instruction" toml:"instruction"`
	FailureText string        `yaml:"failureText" toml:"failureText"`
	EmptyText   string        `yaml:"emptyText" toml:"emptyText"`
}

type ResponderConfig struct {
	Timezone       string        `yaml:"timezone" toml:"timezone"` // default reference zone; empty = local
	HandlerTimeout time.Duration `yaml:"handlerTimeout" toml:"handlerTimeout"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Listen  string `yaml:"listen" toml:"listen"`
}

type RulesConfig struct {
	File  string `yaml:"file" toml:"file"`   // optional YAML rules file imported at startup
	Watch bool   `yaml:"watch" toml:"watch"` // re-import on change
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Store: StoreConfig{
			Path:              "~/.autoreply/autoreply.db",
			SettingsCacheTTL:  5 * time.Second,
			MessageTTLDays:    30,
			RetentionSchedule: "@daily",
		},
		WhatsApp: WhatsAppConfig{
			Enabled:     true,
			SessionPath: "~/.autoreply/whatsapp.db",
		},
		LLM: LLMConfig{
			Provider:  "openai",
			Model:     "gemini-1.5-flash",
			MaxTokens: 512,
			Timeout:   7 * time.Second,
		},
		Responder: ResponderConfig{
			HandlerTimeout: 8 * time.Second,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  ":5000",
		},
	}
}

// Load reads the config file (missing file = defaults), then .env and
// environment overrides. It returns the path it looked at.
func Load(explicit string) (*Config, string, error) {
	cfg := Default()

	path, err := paths.ConfigPath(explicit)
	if err != nil {
		return nil, "", err
	}

	if path == "" {
		L_debug("config: no config file, using defaults")
		return finish(cfg, path)
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(path, data, cfg); err != nil {
			return nil, path, fmt.Errorf("parse %s: %w", path, err)
		}
		L_debug("config: loaded", "path", path)
	case errors.Is(err, os.ErrNotExist):
		if explicit != "" {
			return nil, path, fmt.Errorf("config file not found: %s", path)
		}
		L_debug("config: no config file, using defaults", "path", path)
	default:
		return nil, path, fmt.Errorf("read %s: %w", path, err)
	}

	return finish(cfg, path)
}

// finish applies .env and environment overrides.
func finish(cfg *Config, path string) (*Config, string, error) {
	dir := ""
	if path != "" {
		dir = filepath.Dir(path)
	}
	loadDotEnv(dir)

	env, err := fromEnv()
	if err != nil {
		return nil, path, err
	}
	if err := mergo.Merge(cfg, env, mergo.WithOverride); err != nil {
		return nil, path, fmt.Errorf("apply environment overrides: %w", err)
	}

	return cfg, path, nil
}

// decode fills cfg from YAML or TOML by file extension.
func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		_, err := toml.Decode(string(data), cfg)
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// loadDotEnv loads ./.env and a .env next to the config file. Existing
// environment variables win.
func loadDotEnv(configDir string) {
	candidates := []string{".env"}
	if configDir != "" && configDir != "." {
		candidates = append(candidates, filepath.Join(configDir, ".env"))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			L_warn("config: failed to load .env", "path", p, "error", err)
			continue
		}
		L_debug("config: loaded .env", "path", p)
	}
}

// fromEnv builds an override config from environment variables. Unset
// variables stay zero and are skipped by the merge.
func fromEnv() (*Config, error) {
	env := &Config{}

	if v := firstEnv("LLM_API_KEY", "GEMINI_API_KEY"); v != "" {
		env.LLM.APIKey = v
	}
	env.LLM.Provider = os.Getenv("LLM_PROVIDER")
	env.LLM.Model = os.Getenv("LLM_MODEL")
	env.LLM.BaseURL = os.Getenv("LLM_BASE_URL")
	env.Store.Path = os.Getenv("AUTOREPLY_DB")
	env.Logging.Level = os.Getenv("LOG_LEVEL")
	env.Responder.Timezone = os.Getenv("AUTOREPLY_TZ")

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return nil, &ConfigError{Field: "PORT", Message: fmt.Sprintf("invalid port %q", v)}
		}
		env.HTTP.Listen = ":" + strconv.Itoa(port)
	}
	if v := os.Getenv("MESSAGE_TTL_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return nil, &ConfigError{Field: "MESSAGE_TTL_DAYS", Message: fmt.Sprintf("invalid day count %q", v)}
		}
		env.Store.MessageTTLDays = days
	}
	return env, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// Location returns the configured reference zone, or local.
func (c *Config) Location() *time.Location {
	if c.Responder.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Responder.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ResolvePaths expands ~ in the file paths.
func (c *Config) ResolvePaths() error {
	for _, p := range []*string{&c.Store.Path, &c.WhatsApp.SessionPath, &c.Rules.File} {
		if *p == "" {
			continue
		}
		resolved, err := paths.Resolve(*p)
		if err != nil {
			return err
		}
		*p = resolved
	}
	return nil
}
