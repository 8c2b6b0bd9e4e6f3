package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
	baseURL   string
}

// NewOpenAIProvider creates the provider. An empty base URL selects
// Gemini's OpenAI-compatible endpoint.
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key not configured")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	// go-openai joins paths without a separator
	baseURL = strings.TrimSuffix(baseURL, "/")

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = baseURL
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	L_debug("openai provider created", "baseURL", baseURL, "model", model, "maxTokens", cfg.MaxTokens)

	return &OpenAIProvider{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		maxTokens: cfg.MaxTokens,
		baseURL:   baseURL,
	}, nil
}

// Name returns the driver name.
func (p *OpenAIProvider) Name() string { return DriverOpenAI }

// Model returns the configured model.
func (p *OpenAIProvider) Model() string { return p.model }

// SimpleMessage sends one user message with a system prompt.
func (p *OpenAIProvider) SimpleMessage(ctx context.Context, userMessage, systemPrompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userMessage})

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices: %w", ErrMalformedResponse)
	}

	L_debug("openai: completion received", "model", p.model,
		"inputTokens", resp.Usage.PromptTokens, "outputTokens", resp.Usage.CompletionTokens,
		"finishReason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
