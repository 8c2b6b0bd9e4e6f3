// Package llm provides the generative fallback: a small provider interface,
// drivers for OpenAI-compatible, Anthropic and Gemini endpoints, and the
// Fallback invoker that turns any failure into a canned reply.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Provider is a single-turn text completion backend.
type Provider interface {
	Name() string  // driver name, e.g. "openai"
	Model() string // model identifier sent upstream

	// SimpleMessage sends one user message with a system instruction and
	// returns the completion text. An empty string with nil error means the
	// backend answered with no text.
	SimpleMessage(ctx context.Context, userMessage, systemPrompt string) (string, error)
}

// ProviderConfig configures one provider instance.
type ProviderConfig struct {
	Driver    string // "openai", "anthropic", "gemini"
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int

	// HTTPClient overrides the transport (tests). Nil uses a default client.
	HTTPClient *http.Client
}

// Driver names.
const (
	DriverOpenAI    = "openai"
	DriverAnthropic = "anthropic"
	DriverGemini    = "gemini"
)

// Defaults for the OpenAI-compatible driver: Gemini's OpenAI endpoint.
const (
	DefaultOpenAIBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultModel         = "gemini-1.5-flash"
	DefaultMaxTokens     = 512
)

// NewProvider creates a provider instance from config.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.HTTPClient == nil {
		// the Fallback deadline bounds every call; this is a backstop
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	switch cfg.Driver {
	case DriverOpenAI, "":
		return NewOpenAIProvider(cfg)
	case DriverAnthropic:
		return NewAnthropicProvider(cfg)
	case DriverGemini:
		return NewGeminiProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown provider driver: %s", cfg.Driver)
	}
}

// HTTPError is returned by drivers that talk HTTP directly on a non-2xx reply.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ErrMalformedResponse is wrapped when a 2xx reply cannot be interpreted.
var ErrMalformedResponse = errors.New("malformed response")
