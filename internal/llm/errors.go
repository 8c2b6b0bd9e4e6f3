package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	openai "github.com/sashabaranov/go-openai"
)

// ErrorType categorizes provider errors for logs and metrics.
type ErrorType string

const (
	ErrorTypeUnknown   ErrorType = "unknown"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeFormat    ErrorType = "format"
)

// ClassifyError determines the error type, preferring structured status
// codes and falling back to message patterns.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTypeTimeout
	}
	if errors.Is(err, ErrMalformedResponse) {
		return ErrorTypeFormat
	}
	if code := statusCode(err); code != 0 {
		if t := classifyStatus(code); t != ErrorTypeUnknown {
			return t
		}
	}
	return ClassifyMessage(err.Error())
}

// statusCode extracts an HTTP status from the driver error types.
func statusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return oaiErr.HTTPStatusCode
	}
	var oaiReqErr *openai.RequestError
	if errors.As(err, &oaiReqErr) {
		return oaiReqErr.HTTPStatusCode
	}
	var antErr *anthropic.Error
	if errors.As(err, &antErr) {
		return antErr.StatusCode
	}
	return 0
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == 408 || code == 504:
		return ErrorTypeTimeout
	case code == 429:
		return ErrorTypeRateLimit
	case code == 401 || code == 403:
		return ErrorTypeAuth
	case code >= 500:
		return ErrorTypeServer
	case code == 400 || code == 404 || code == 422:
		return ErrorTypeFormat
	default:
		return ErrorTypeUnknown
	}
}

// ClassifyMessage determines the error type from an error message.
// Returns ErrorTypeUnknown if the message doesn't match any known pattern.
func ClassifyMessage(msg string) ErrorType {
	if msg == "" {
		return ErrorTypeUnknown
	}
	// Check in order of specificity
	if IsRateLimitMessage(msg) {
		return ErrorTypeRateLimit
	}
	if IsAuthMessage(msg) {
		return ErrorTypeAuth
	}
	if IsTimeoutMessage(msg) {
		return ErrorTypeTimeout
	}
	if IsServerMessage(msg) {
		return ErrorTypeServer
	}
	if IsFormatMessage(msg) {
		return ErrorTypeFormat
	}
	return ErrorTypeUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsRateLimitMessage checks if a message indicates rate limiting or quota exhaustion.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"429",
		"rate_limit",
		"rate limit",
		"too many requests",
		"exceeded your current quota",
		"quota exceeded",
		"resource_exhausted",
		"resource has been exhausted",
		"requests per minute",
	)
}

// IsAuthMessage checks if a message indicates authentication failure.
func IsAuthMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"401",
		"403",
		"invalid api key",
		"invalid_api_key",
		"api key not valid",
		"incorrect api key",
		"unauthorized",
		"permission_denied",
		"forbidden",
		"authentication",
	)
}

// IsTimeoutMessage checks if a message indicates a timeout.
func IsTimeoutMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"timeout",
		"timed out",
		"deadline exceeded",
		"context canceled",
		"connection reset",
	)
}

// IsServerMessage checks if a message indicates an upstream failure.
func IsServerMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"500",
		"502",
		"503",
		"internal server error",
		"bad gateway",
		"overloaded",
		"temporarily unavailable",
		"server is busy",
	)
}

// IsFormatMessage checks if a message indicates an invalid request or reply.
func IsFormatMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return containsAny(lower,
		"invalid_request_error",
		"invalid argument",
		"invalid_argument",
		"malformed",
		"unexpected end of json",
		"cannot unmarshal",
		"model not found",
	)
}
