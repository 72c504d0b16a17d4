// Package handlers provides the HTTP handlers of the gateway.
package handlers

import (
	"encoding/json"
	"net/http"

	"chatroute/internal/orchestrator"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error code and message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RouteFailureResponse is the body sent when every route target failed.
type RouteFailureResponse struct {
	Error         string                       `json:"error"`
	RouteFailures []orchestrator.AttemptRecord `json:"routeFailures"`
}

// SendJSON writes a JSON response with the given status code.
func SendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// SendError writes an error response with the given status code, error code, and message.
func SendError(w http.ResponseWriter, status int, code, message string) {
	SendJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// SendRouteFailure writes a 502 carrying every failed attempt.
func SendRouteFailure(w http.ResponseWriter, err *orchestrator.TotalFailureError) {
	attempts := err.Attempts
	if attempts == nil {
		attempts = []orchestrator.AttemptRecord{}
	}
	SendJSON(w, http.StatusBadGateway, RouteFailureResponse{
		Error:         err.Error(),
		RouteFailures: attempts,
	})
}

// Common error codes.
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeInternalError  = "INTERNAL_ERROR"
	ErrCodeConfigError    = "CONFIG_ERROR"
)
