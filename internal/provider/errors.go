package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies provider failures.
type ErrorCode string

const (
	ErrCodeAuthFailed            ErrorCode = "AUTH_FAILED"
	ErrCodeRateLimited           ErrorCode = "RATE_LIMITED"
	ErrCodeQuotaExceeded         ErrorCode = "QUOTA_EXCEEDED"
	ErrCodeServiceUnavailable    ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeModelNotFound         ErrorCode = "MODEL_NOT_FOUND"
	ErrCodeNetworkError          ErrorCode = "NETWORK_ERROR"
	ErrCodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	ErrCodeTimeout               ErrorCode = "TIMEOUT"
	ErrCodeContextWindowExceeded ErrorCode = "CONTEXT_WINDOW_EXCEEDED"
	ErrCodeEmptyResponse         ErrorCode = "EMPTY_RESPONSE"
	ErrCodeUnknown               ErrorCode = "UNKNOWN"
)

// ErrTimeout is returned when a call outlives its deadline.
var ErrTimeout = errors.New("provider call timed out")

// ProviderError is a structured error for provider operations.
type ProviderError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	StatusCode int       `json:"status_code,omitempty"`
	Retryable  bool      `json:"retryable"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("[%s] %s (%d): %s", e.Provider, e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

// NewProviderError creates a ProviderError.
func NewProviderError(code ErrorCode, message, provider string, retryable bool) *ProviderError {
	return &ProviderError{
		Code:      code,
		Message:   message,
		Provider:  provider,
		Retryable: retryable,
	}
}

// FromStatus maps an HTTP status and vendor message to a ProviderError.
func FromStatus(provider string, status int, message string) *ProviderError {
	pe := &ProviderError{Provider: provider, StatusCode: status, Message: message, Code: ErrCodeUnknown}
	lower := strings.ToLower(message)
	switch {
	case status == http.StatusTooManyRequests:
		pe.Code, pe.Retryable = ErrCodeRateLimited, true
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Code = ErrCodeAuthFailed
	case status == http.StatusPaymentRequired:
		pe.Code = ErrCodeQuotaExceeded
	case status == http.StatusNotFound:
		pe.Code = ErrCodeModelNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		pe.Code, pe.Retryable = ErrCodeTimeout, true
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		pe.Code, pe.Retryable = ErrCodeServiceUnavailable, true
	case containsAny(lower, contextWindowPhrases):
		pe.Code = ErrCodeContextWindowExceeded
	case status == http.StatusBadRequest:
		pe.Code = ErrCodeInvalidRequest
	}
	if pe.Code != ErrCodeRateLimited && containsAny(message, rateLimitPhrases) {
		pe.Code, pe.Retryable = ErrCodeRateLimited, true
	}
	return pe
}

// Vendor phrases for rate limiting, used when no structured signal exists.
var rateLimitPhrases = []string{
	"Rate limit reached for requests",
	"当前API请求过多，请稍后重试",
	"please try again after 1 seconds",
	"RateLimitError: 429",
}

var contextWindowPhrases = []string{
	"context window",
	"context length exceeded",
	"maximum context length",
	"token limit exceeded",
	"too many tokens",
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// IsRateLimited reports whether err is a rate-limit rejection. A typed
// ProviderError decides by code or HTTP 429; untyped errors fall back to the
// known vendor phrases.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Code == ErrCodeRateLimited || pe.StatusCode == http.StatusTooManyRequests {
			return true
		}
	}
	return containsAny(err.Error(), rateLimitPhrases)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == ErrCodeTimeout
}

// IsContextWindowExceeded reports whether the input exceeded the model's
// context window.
func IsContextWindowExceeded(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code == ErrCodeContextWindowExceeded
	}
	return containsAny(strings.ToLower(err.Error()), contextWindowPhrases)
}

// IsRetryable reports whether err is a transient provider error.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
