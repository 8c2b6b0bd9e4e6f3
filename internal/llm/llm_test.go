package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	reply string
	err   error
	delay time.Duration
	calls atomic.Int32

	lastUser   string
	lastSystem string
}

func (f *fakeProvider) Name() string  { return "fake" }
func (f *fakeProvider) Model() string { return "fake-1" }

func (f *fakeProvider) SimpleMessage(ctx context.Context, user, system string) (string, error) {
	f.calls.Add(1)
	f.lastUser, f.lastSystem = user, system
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

// stubbornProvider ignores context cancellation.
type stubbornProvider struct{ release chan struct{} }

func (s *stubbornProvider) Name() string  { return "stubborn" }
func (s *stubbornProvider) Model() string { return "stubborn-1" }
func (s *stubbornProvider) SimpleMessage(context.Context, string, string) (string, error) {
	<-s.release
	return "late", nil
}

func TestFallbackReturnsTrimmedReply(t *testing.T) {
	p := &fakeProvider{reply: "  Hello there!\n"}
	f := NewFallback(p, FallbackConfig{})

	var got Outcome
	f.SetObserver(func(o Outcome, _ ErrorType, _ time.Duration) { got = o })

	assert.Equal(t, "Hello there!", f.Generate(context.Background(), "hi"))
	assert.Equal(t, OutcomeOK, got)
	assert.Equal(t, int32(1), p.calls.Load())
	assert.Equal(t, "hi", p.lastUser)
	assert.Equal(t, DefaultInstruction, p.lastSystem)
}

func TestFallbackEmptyAndWhitespace(t *testing.T) {
	for _, reply := range []string{"", "   ", "\n\t"} {
		f := NewFallback(&fakeProvider{reply: reply}, FallbackConfig{})
		var got Outcome
		f.SetObserver(func(o Outcome, _ ErrorType, _ time.Duration) { got = o })
		assert.Equal(t, DefaultEmptyText, f.Generate(context.Background(), "hi"), "reply %q", reply)
		assert.Equal(t, OutcomeEmpty, got)
	}
}

func TestFallbackErrorUsesFailureText(t *testing.T) {
	p := &fakeProvider{err: &HTTPError{Provider: "fake", StatusCode: 429, Body: "slow down"}}
	f := NewFallback(p, FallbackConfig{})

	var gotType ErrorType
	f.SetObserver(func(_ Outcome, et ErrorType, _ time.Duration) { gotType = et })

	assert.Equal(t, DefaultFailureText, f.Generate(context.Background(), "hi"))
	assert.Equal(t, ErrorTypeRateLimit, gotType)
	assert.Equal(t, int32(1), p.calls.Load(), "no retries")
}

func TestFallbackTimeout(t *testing.T) {
	p := &fakeProvider{reply: "too late", delay: time.Second}
	f := NewFallback(p, FallbackConfig{Timeout: 30 * time.Millisecond})

	var gotType ErrorType
	f.SetObserver(func(_ Outcome, et ErrorType, _ time.Duration) { gotType = et })

	start := time.Now()
	assert.Equal(t, DefaultFailureText, f.Generate(context.Background(), "hi"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, ErrorTypeTimeout, gotType)
}

func TestFallbackTimeoutWithProviderIgnoringContext(t *testing.T) {
	p := &stubbornProvider{release: make(chan struct{})}
	defer close(p.release)
	f := NewFallback(p, FallbackConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	assert.Equal(t, DefaultFailureText, f.Generate(context.Background(), "hi"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestFallbackCustomTexts(t *testing.T) {
	f := NewFallback(&fakeProvider{err: errors.New("boom")}, FallbackConfig{FailureText: "later", EmptyText: "nothing"})
	assert.Equal(t, "later", f.Generate(context.Background(), "hi"))

	f = NewFallback(&fakeProvider{}, FallbackConfig{FailureText: "later", EmptyText: "nothing"})
	assert.Equal(t, "nothing", f.Generate(context.Background(), "hi"))
}

func TestFallbackNilProvider(t *testing.T) {
	f := NewFallback(nil, FallbackConfig{})
	assert.Equal(t, DefaultFailureText, f.Generate(context.Background(), "hi"))
	assert.Equal(t, DefaultTimeout, f.Timeout())
}

func TestGeminiProvider(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"Hola!"}],"role":"model"},"finishReason":"STOP"}],"usageMetadata":{"candidatesTokenCount":2}}`)
	}))
	defer srv.Close()

	p, err := NewProvider(ProviderConfig{Driver: DriverGemini, APIKey: "secret", BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, DriverGemini, p.Name())

	out, err := p.SimpleMessage(context.Background(), "hola", "be nice")
	require.NoError(t, err)
	assert.Equal(t, "Hola!", out)

	sys := gotBody["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)["text"]
	assert.Equal(t, "be nice", sys)
	gen := gotBody["generationConfig"].(map[string]any)
	assert.EqualValues(t, DefaultMaxTokens, gen["maxOutputTokens"])
}

func TestGeminiProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorType
	}{
		{"rate limited", 429, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, ErrorTypeRateLimit},
		{"bad key", 403, `{"error":{"status":"PERMISSION_DENIED"}}`, ErrorTypeAuth},
		{"upstream", 503, `overloaded`, ErrorTypeServer},
		{"not json", 200, `<html>`, ErrorTypeFormat},
		{"no candidates", 200, `{"foo":1}`, ErrorTypeFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p, err := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})
			require.NoError(t, err)
			_, err = p.SimpleMessage(context.Background(), "hi", "")
			require.Error(t, err)
			assert.Equal(t, tt.want, ClassifyError(err))
		})
	}
}

func TestGeminiBlockedPromptIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer srv.Close()

	p, err := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := p.SimpleMessage(context.Background(), "hi", "")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestOpenAIProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/openai/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultModel, req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, "what time is it", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"gemini-1.5-flash","choices":[{"index":0,"message":{"role":"assistant","content":"Lunch time."},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	p, err := NewProvider(ProviderConfig{APIKey: "secret", BaseURL: srv.URL + "/v1beta/openai/"})
	require.NoError(t, err)
	assert.Equal(t, DriverOpenAI, p.Name())

	out, err := p.SimpleMessage(context.Background(), "what time is it", "sys")
	require.NoError(t, err)
	assert.Equal(t, "Lunch time.", out)
}

func TestOpenAIProviderRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota","type":"rate_limit_error","code":"rate_limit"}}`)
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	_, err = p.SimpleMessage(context.Background(), "hi", "")
	require.Error(t, err)
	assert.Equal(t, ErrorTypeRateLimit, ClassifyError(err))
}

func TestNewProviderValidation(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Driver: "mystery", APIKey: "k"})
	assert.Error(t, err)

	for _, d := range []string{DriverOpenAI, DriverAnthropic, DriverGemini} {
		_, err := NewProvider(ProviderConfig{Driver: d})
		assert.Error(t, err, "driver %s without key", d)
	}

	p, err := NewProvider(ProviderConfig{Driver: DriverAnthropic, APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, defaultAnthropicModel, p.Model())
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ErrorTypeUnknown},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ErrorTypeTimeout},
		{"malformed", fmt.Errorf("x: %w", ErrMalformedResponse), ErrorTypeFormat},
		{"http 429", &HTTPError{StatusCode: 429}, ErrorTypeRateLimit},
		{"http 401", &HTTPError{StatusCode: 401}, ErrorTypeAuth},
		{"http 504", &HTTPError{StatusCode: 504}, ErrorTypeTimeout},
		{"http 500", &HTTPError{StatusCode: 500}, ErrorTypeServer},
		{"http 404", &HTTPError{StatusCode: 404}, ErrorTypeFormat},
		{"openai api", &openai.APIError{HTTPStatusCode: 503}, ErrorTypeServer},
		{"message quota", errors.New("You exceeded your current quota"), ErrorTypeRateLimit},
		{"message key", errors.New("API key not valid. Please pass a valid API key."), ErrorTypeAuth},
		{"message reset", errors.New("read: connection reset by peer"), ErrorTypeTimeout},
		{"message other", errors.New("something odd"), ErrorTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}

func TestClassifyMessageOrder(t *testing.T) {
	// rate limit wins over server when both appear
	assert.Equal(t, ErrorTypeRateLimit, ClassifyMessage("503: too many requests"))
	assert.Equal(t, ErrorTypeRateLimit, ClassifyMessage("RESOURCE_EXHAUSTED"))
	assert.Equal(t, ErrorTypeUnknown, ClassifyMessage(""))
}
