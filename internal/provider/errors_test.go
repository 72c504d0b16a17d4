package provider

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status    int
		msg       string
		code      ErrorCode
		retryable bool
	}{
		{http.StatusUnauthorized, "bad key", ErrCodeAuthFailed, false},
		{http.StatusForbidden, "nope", ErrCodeAuthFailed, false},
		{http.StatusTooManyRequests, "slow down", ErrCodeRateLimited, true},
		{http.StatusPaymentRequired, "pay", ErrCodeQuotaExceeded, false},
		{http.StatusNotFound, "no model", ErrCodeModelNotFound, false},
		{http.StatusBadRequest, "invalid", ErrCodeInvalidRequest, false},
		{http.StatusBadRequest, "maximum context length is 8192", ErrCodeContextWindowExceeded, false},
		{http.StatusGatewayTimeout, "late", ErrCodeTimeout, true},
		{http.StatusBadGateway, "down", ErrCodeServiceUnavailable, true},
		{418, "teapot", ErrCodeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", tt.status, tt.msg), func(t *testing.T) {
			err := FromStatus("openai", tt.status, tt.msg, nil)
			if err.Code != tt.code {
				t.Errorf("code = %s, want %s", err.Code, tt.code)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("retryable = %v, want %v", err.Retryable, tt.retryable)
			}
		})
	}
}

func TestProviderError_Unwrap(t *testing.T) {
	cause := errors.New("socket closed")
	err := FromStatus("anthropic", 503, "overloaded", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find cause")
	}
	if got := err.Error(); got != "[anthropic] SERVICE_UNAVAILABLE: overloaded" {
		t.Errorf("Error() = %q", got)
	}
}

func TestIsContextWindowExceeded(t *testing.T) {
	if !IsContextWindowExceeded(NewProviderError(ErrCodeContextWindowExceeded, "x", "p", false)) {
		t.Error("typed error not detected")
	}
	if !IsContextWindowExceeded(errors.New("prompt is too long: 210000 tokens")) {
		t.Error("message not detected")
	}
	if IsContextWindowExceeded(nil) || IsContextWindowExceeded(errors.New("boom")) {
		t.Error("false positive")
	}
}

func TestMessageText(t *testing.T) {
	m := Message{Role: RoleAssistant, Content: "intro", Parts: []Part{
		{Type: "text", Text: "hello"},
		{Type: "tool-call", ToolName: "search", Args: []byte(`{"q":"go"}`)},
		{Type: "image", URL: "http://x"},
	}}
	want := "intro\nhello\nsearch {\"q\":\"go\"}"
	if got := m.Text(); got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	if got := (Message{Content: "plain"}).Text(); got != "plain" {
		t.Errorf("Text() = %q", got)
	}
}

func TestProfileAllowsModel(t *testing.T) {
	open := Profile{ID: "a"}
	if !open.AllowsModel("anything") {
		t.Error("empty allow-list should admit every model")
	}
	strict := Profile{ID: "b", AllowedModels: []string{"m1"}}
	if strict.AllowsModel("m2") || !strict.AllowsModel("m1") {
		t.Error("allow-list not enforced")
	}
}
