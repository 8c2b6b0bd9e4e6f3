package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	. "github.com/roelfdiedericks/autoreply/internal/logging"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiProvider calls the native generateContent REST endpoint and reads
// the reply as untyped JSON.
type GeminiProvider struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	model     string
	maxTokens int
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

// NewGeminiProvider creates the provider.
func NewGeminiProvider(cfg ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key not configured")
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGeminiBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	L_debug("gemini provider created", "baseURL", baseURL, "model", model)

	return &GeminiProvider{
		client:    client,
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

// Name returns the driver name.
func (g *GeminiProvider) Name() string { return DriverGemini }

// Model returns the configured model.
func (g *GeminiProvider) Model() string { return g.model }

// SimpleMessage sends one user message with a system instruction.
func (g *GeminiProvider) SimpleMessage(ctx context.Context, userMessage, systemPrompt string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: userMessage}}}},
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: systemPrompt}}}
	}
	reqBody.GenerationConfig.MaxOutputTokens = g.maxTokens

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, url.PathEscape(g.model), url.QueryEscape(g.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		L_warn("gemini: request failed", "status", resp.StatusCode, "body", Truncate(string(body), 300))
		return "", &HTTPError{Provider: DriverGemini, StatusCode: resp.StatusCode, Body: Truncate(string(body), 300)}
	}

	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("gemini: %w: not JSON", ErrMalformedResponse)
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.Get("candidates").Exists() {
		if reason := parsed.Get("promptFeedback.blockReason"); reason.Exists() {
			L_info("gemini: prompt blocked", "reason", reason.String())
			return "", nil
		}
		return "", fmt.Errorf("gemini: %w: no candidates", ErrMalformedResponse)
	}

	text := parsed.Get("candidates.0.content.parts.0.text")
	L_debug("gemini: completion received", "model", g.model,
		"finishReason", parsed.Get("candidates.0.finishReason").String(),
		"outputTokens", parsed.Get("usageMetadata.candidatesTokenCount").Int())
	return text.String(), nil
}
