package model

import (
	"fmt"
	"regexp"
	"time"
)

// Recorrido identifier limits.
const (
	MinRecorridoIDLen = 3
	MaxRecorridoIDLen = 64
)

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidateRecorridoID checks that id is a lowercase slug of 3 to 64 characters
// starting with a letter.
func ValidateRecorridoID(id string) error {
	if len(id) < MinRecorridoIDLen || len(id) > MaxRecorridoIDLen {
		return fmt.Errorf("recorrido_id must be between %d and %d characters", MinRecorridoIDLen, MaxRecorridoIDLen)
	}
	if !slugPattern.MatchString(id) {
		return fmt.Errorf("recorrido_id must match %s", slugPattern.String())
	}
	return nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// SubmitStepRequest is the body of POST /v1/runs/{run_id}/steps/{step_id}/submit.
type SubmitStepRequest struct {
	Input Object `json:"input"`
}

// AbandonRunRequest is the body of POST /v1/runs/{run_id}/abandon.
type AbandonRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StartRunResponse is returned by startRun.
type StartRunResponse struct {
	RunID string      `json:"run_id"`
	Step  *RenderSpec `json:"step"`
}

// RunStepResponse is returned by getCurrentStep and submitStep. A nil Step on
// submit means the journey is complete.
type RunStepResponse struct {
	Run  *Run        `json:"run"`
	Step *RenderSpec `json:"step"`
}

// AbandonRunResponse is returned by abandonRun.
type AbandonRunResponse struct {
	OK bool `json:"ok"`
}

// ActiveRunResponse is returned by GET /v1/recorridos/{recorrido_id}/active-run.
type ActiveRunResponse struct {
	Run *Run `json:"run"`
}

// AuthTokenRequest is the body of POST /auth/token. Level is optional.
type AuthTokenRequest struct {
	UserID string `json:"user_id"`
	Level  int    `json:"level,omitempty"`
}

// AuthTokenResponse carries a student token issued by POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Store    string `json:"store"`
	Database string `json:"database"`
	Uptime   int64  `json:"uptime_seconds"`
}
