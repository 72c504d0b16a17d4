package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Resolution errors.
var (
	ErrProfileNotFound   = errors.New("provider: profile not found")
	ErrProfileDisabled   = errors.New("provider: profile disabled")
	ErrModelNotAllowed   = errors.New("provider: model not allowed for profile")
	ErrNoModel           = errors.New("provider: no model given and profile has no default")
	ErrUnknownAdapter    = errors.New("provider: no adapter registered for provider kind")
	ErrMissingCredential = errors.New("provider: credential unavailable")
)

// ErrorCode classifies upstream failures.
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
	ErrCodeUnknown               ErrorCode = "UNKNOWN"
)

// ProviderError is a structured error raised by adapters.
type ProviderError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Provider   string    `json:"provider"`
	StatusCode int       `json:"statusCode,omitempty"`
	Retryable  bool      `json:"retryable"`
	Err        error     `json:"-"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError creates a new ProviderError.
func NewProviderError(code ErrorCode, message, provider string, retryable bool) *ProviderError {
	return &ProviderError{Code: code, Message: message, Provider: provider, Retryable: retryable}
}

// FromStatus classifies an HTTP status returned by an upstream.
func FromStatus(provider string, status int, message string, cause error) *ProviderError {
	code := ErrCodeUnknown
	retryable := false
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = ErrCodeAuthFailed
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimited
		retryable = true
	case status == http.StatusPaymentRequired:
		code = ErrCodeQuotaExceeded
	case status == http.StatusNotFound:
		code = ErrCodeModelNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		code = ErrCodeInvalidRequest
		if IsContextWindowExceeded(errors.New(message)) {
			code = ErrCodeContextWindowExceeded
		}
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		code = ErrCodeTimeout
		retryable = true
	case status >= 500:
		code = ErrCodeServiceUnavailable
		retryable = true
	}
	return &ProviderError{Code: code, Message: message, Provider: provider, StatusCode: status, Retryable: retryable, Err: cause}
}

// IsContextWindowExceeded checks if the error indicates that the input
// exceeded the model's context window, by type first and by message second.
func IsContextWindowExceeded(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Code == ErrCodeContextWindowExceeded {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context window") ||
		strings.Contains(msg, "context length exceeded") ||
		strings.Contains(msg, "maximum context length") ||
		strings.Contains(msg, "prompt is too long") ||
		strings.Contains(msg, "too many tokens")
}

// IsResolutionError reports whether err came from profile/model resolution
// rather than from talking to the upstream.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrProfileDisabled) ||
		errors.Is(err, ErrModelNotAllowed) ||
		errors.Is(err, ErrNoModel) ||
		errors.Is(err, ErrUnknownAdapter) ||
		errors.Is(err, ErrMissingCredential)
}
