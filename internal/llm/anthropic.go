package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

const defaultAnthropicModel = "claude-3-5-haiku-latest"

// AnthropicProvider uses the Anthropic Messages API.
type AnthropicProvider struct {
	client    *anthropic.Client
	model     string
	maxTokens int
}

// NewAnthropicProvider creates the provider.
func NewAnthropicProvider(cfg ProviderConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key not configured")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		// the caller's deadline is the only retry budget
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" || model == DefaultModel {
		model = defaultAnthropicModel
	}

	L_debug("anthropic provider created", "model", model, "maxTokens", cfg.MaxTokens)

	return &AnthropicProvider{
		client:    &client,
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Name returns the driver name.
func (c *AnthropicProvider) Name() string { return DriverAnthropic }

// Model returns the configured model.
func (c *AnthropicProvider) Model() string { return c.model }

// SimpleMessage sends one user message with a system prompt.
func (c *AnthropicProvider) SimpleMessage(ctx context.Context, userMessage, systemPrompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(c.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userMessage)),
		},
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	L_debug("anthropic: completion received", "model", c.model,
		"inputTokens", msg.Usage.InputTokens, "outputTokens", msg.Usage.OutputTokens,
		"stopReason", msg.StopReason)
	return sb.String(), nil
}
