package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType represents the type of LLM error
type ErrorType string

const (
	ErrorTypeUnknown           ErrorType = "unknown"
	ErrorTypeUnconfigured      ErrorType = "unconfigured"
	ErrorTypeInvalidRequest    ErrorType = "invalid_request"
	ErrorTypeAuthentication    ErrorType = "authentication_error"
	ErrorTypePermission        ErrorType = "permission_error"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeRateLimit         ErrorType = "rate_limit_exceeded"
	ErrorTypeInsufficientQuota ErrorType = "insufficient_quota"
	ErrorTypeInvalidModel      ErrorType = "invalid_model"
	ErrorTypeContextLength     ErrorType = "context_length_exceeded"
	ErrorTypeContentFilter     ErrorType = "content_filter"
	ErrorTypeServerError       ErrorType = "server_error"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeConnectionError   ErrorType = "connection_error"
	ErrorTypeInvalidResponse   ErrorType = "invalid_response"
)

// LLMError represents an error from an upstream provider
type LLMError struct {
	Type       ErrorType         `json:"type"`
	Message    string            `json:"message"`
	Code       string            `json:"code,omitempty"`
	Provider   string            `json:"provider"`
	Model      string            `json:"model,omitempty"`
	HTTPStatus int               `json:"http_status,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
	Cause      error             `json:"-"`
}

// Error implements the error interface
func (e *LLMError) Error() string {
	if e.HTTPStatus != 0 {
		return fmt.Sprintf("%s [%d]: %s", e.Provider, e.HTTPStatus, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error
func (e *LLMError) Unwrap() error {
	return e.Cause
}

// NewLLMError creates a new LLM error
func NewLLMError(provider string, errorType ErrorType, message string) *LLMError {
	return &LLMError{
		Type:     errorType,
		Message:  message,
		Provider: provider,
	}
}

// NewLLMErrorWithCause creates a new LLM error with an underlying cause
func NewLLMErrorWithCause(provider string, errorType ErrorType, message string, cause error) *LLMError {
	err := NewLLMError(provider, errorType, message)
	err.Cause = cause
	return err
}

// NewUnconfiguredError reports a Generate call on a provider lacking credentials
func NewUnconfiguredError(provider string) *LLMError {
	return NewLLMError(provider, ErrorTypeUnconfigured, "provider is not configured")
}

// ParseHTTPError parses a non-2xx status and the provider-supplied message
// into an LLMError.
func ParseHTTPError(provider string, statusCode int, body string) *LLMError {
	var errorType ErrorType
	var message string

	switch statusCode {
	case http.StatusBadRequest:
		errorType = ErrorTypeInvalidRequest
		message = "Invalid request parameters"
	case http.StatusUnauthorized:
		errorType = ErrorTypeAuthentication
		message = "Invalid API key or authentication failed"
	case http.StatusForbidden:
		errorType = ErrorTypePermission
		message = "Permission denied"
	case http.StatusNotFound:
		errorType = ErrorTypeNotFound
		message = "Resource not found"
	case http.StatusTooManyRequests:
		errorType = ErrorTypeRateLimit
		message = "Rate limit exceeded"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		errorType = ErrorTypeServerError
		message = "Server error occurred"
	default:
		errorType = ErrorTypeUnknown
		message = fmt.Sprintf("HTTP %d error", statusCode)
	}

	if body != "" {
		if specificError := extractSpecificError(provider, body); specificError != nil {
			specificError.HTTPStatus = statusCode
			return specificError
		}
		message = fmt.Sprintf("%s: %s", message, truncateBody(body, 200))
	}

	return &LLMError{
		Type:       errorType,
		Message:    message,
		Provider:   provider,
		HTTPStatus: statusCode,
	}
}

// extractSpecificError recognises common provider error wording
func extractSpecificError(provider string, body string) *LLMError {
	lowerBody := strings.ToLower(body)

	if strings.Contains(lowerBody, "rate limit") || strings.Contains(lowerBody, "too many requests") {
		return &LLMError{Type: ErrorTypeRateLimit, Message: "Rate limit exceeded: " + truncateBody(body, 200), Provider: provider}
	}
	if strings.Contains(lowerBody, "insufficient quota") || strings.Contains(lowerBody, "quota exceeded") {
		return &LLMError{Type: ErrorTypeInsufficientQuota, Message: "Insufficient quota or credits: " + truncateBody(body, 200), Provider: provider}
	}
	if strings.Contains(lowerBody, "context length") || strings.Contains(lowerBody, "token limit") {
		return &LLMError{Type: ErrorTypeContextLength, Message: "Context length exceeded: " + truncateBody(body, 200), Provider: provider}
	}
	if strings.Contains(lowerBody, "content filter") || strings.Contains(lowerBody, "safety") {
		return &LLMError{Type: ErrorTypeContentFilter, Message: "Content filtered by safety system: " + truncateBody(body, 200), Provider: provider}
	}
	if strings.Contains(lowerBody, "model") && (strings.Contains(lowerBody, "not found") || strings.Contains(lowerBody, "invalid")) {
		return &LLMError{Type: ErrorTypeInvalidModel, Message: "Invalid or unavailable model: " + truncateBody(body, 200), Provider: provider}
	}
	return nil
}

// truncateBody truncates response body for error messages
func truncateBody(body string, maxLength int) string {
	if len(body) <= maxLength {
		return body
	}
	return body[:maxLength] + "..."
}

// IsLLMError reports whether err wraps an *LLMError and returns it
func IsLLMError(err error) (*LLMError, bool) {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr, true
	}
	return nil, false
}

// IsUnconfiguredError checks if an error reports missing credentials
func IsUnconfiguredError(err error) bool {
	if llmErr, ok := IsLLMError(err); ok {
		return llmErr.Type == ErrorTypeUnconfigured
	}
	return false
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	if llmErr, ok := IsLLMError(err); ok {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsAuthenticationError checks if an error is an authentication error
func IsAuthenticationError(err error) bool {
	if llmErr, ok := IsLLMError(err); ok {
		return llmErr.Type == ErrorTypeAuthentication
	}
	return false
}
