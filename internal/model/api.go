package model

import (
	"fmt"
	"time"
)

// Field length limits for caller-supplied text. These keep a single
// oversized field from bloating every snapshot and resource read of a run.
const (
	MaxTaskPromptLen = 16 * 1024 // 16 KB
	MaxThoughtLen    = 8 * 1024  // 8 KB
	MaxReasoningLen  = 16 * 1024 // 16 KB
	MaxConstraints   = 64
)

// ValidateCandidateText checks per-field length limits on a candidate's text.
func ValidateCandidateText(c Candidate) error {
	if len(c.Thought) > MaxThoughtLen {
		return fmt.Errorf("thought exceeds maximum length of %d bytes", MaxThoughtLen)
	}
	if len(c.Reasoning) > MaxReasoningLen {
		return fmt.Errorf("reasoning exceeds maximum length of %d bytes", MaxReasoningLen)
	}
	return nil
}

// APIResponse wraps all successful HTTP responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError wraps all HTTP error responses.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries request metadata.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes shared by the HTTP envelope and MCP tool errors.
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeEmptyFrontier       = "EMPTY_FRONTIER"
	ErrCodeEnforcementNotMet   = "ENFORCEMENT_NOT_MET"
	ErrCodeEmptyRun            = "EMPTY_RUN"
	ErrCodeInternalError       = "INTERNAL_ERROR"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeRequestBodyTooLarge = "REQUEST_TOO_LARGE"
)

// ToolError is the JSON body of an MCP tool error result.
type ToolError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Transport  string `json:"transport"`
	ActiveRuns int    `json:"active_runs"`
	TotalNodes int64  `json:"total_nodes"`
	Ledger     string `json:"ledger,omitempty"`
	Uptime     int64  `json:"uptime_seconds"`
}
