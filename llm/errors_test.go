package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestLLMError(t *testing.T) {
	tests := []struct {
		name         string
		err          *LLMError
		expectedText string
	}{
		{
			name:         "Basic error",
			err:          &LLMError{Type: ErrorTypeRateLimit, Message: "Rate limit exceeded", Provider: ProviderGroq},
			expectedText: "groq: Rate limit exceeded",
		},
		{
			name:         "Error with code",
			err:          &LLMError{Type: ErrorTypeInvalidRequest, Message: "Invalid request", Code: "invalid_request_error", Provider: ProviderGemini},
			expectedText: "gemini [invalid_request_error]: Invalid request",
		},
		{
			name:         "Error with status",
			err:          &LLMError{Type: ErrorTypeServerError, Message: "boom", Provider: ProviderRetrieval, HTTPStatus: 502},
			expectedText: "rag [502]: boom",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.err.Error() != test.expectedText {
				t.Errorf("Expected error text %q, got %q", test.expectedText, test.err.Error())
			}
		})
	}
}

func TestParseHTTPError(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		wantType ErrorType
	}{
		{http.StatusBadRequest, "", ErrorTypeInvalidRequest},
		{http.StatusUnauthorized, "", ErrorTypeAuthentication},
		{http.StatusForbidden, "", ErrorTypePermission},
		{http.StatusNotFound, "", ErrorTypeNotFound},
		{http.StatusTooManyRequests, "", ErrorTypeRateLimit},
		{http.StatusBadGateway, "", ErrorTypeServerError},
		{418, "", ErrorTypeUnknown},
		{http.StatusBadRequest, "This model's maximum context length is exceeded", ErrorTypeContextLength},
		{http.StatusBadRequest, "model xyz not found", ErrorTypeInvalidModel},
		{http.StatusForbidden, "quota exceeded for project", ErrorTypeInsufficientQuota},
	}

	for _, test := range tests {
		t.Run(fmt.Sprintf("%d_%s", test.status, test.wantType), func(t *testing.T) {
			err := ParseHTTPError(ProviderGemini, test.status, test.body)
			if err.Type != test.wantType {
				t.Errorf("Expected type %s, got %s", test.wantType, err.Type)
			}
			if err.HTTPStatus != test.status {
				t.Errorf("Expected status %d, got %d", test.status, err.HTTPStatus)
			}
			if err.Provider != ProviderGemini {
				t.Errorf("Expected provider gemini, got %s", err.Provider)
			}
		})
	}
}

func TestParseHTTPErrorKeepsProviderMessage(t *testing.T) {
	err := ParseHTTPError(ProviderRetrieval, http.StatusInternalServerError, "index offline")
	if !strings.Contains(err.Message, "index offline") {
		t.Fatalf("provider message lost: %q", err.Message)
	}

	long := strings.Repeat("x", 500)
	err = ParseHTTPError(ProviderRetrieval, http.StatusInternalServerError, long)
	if len(err.Message) > 260 {
		t.Fatalf("message not truncated: %d chars", len(err.Message))
	}
}

func TestErrorHelpers(t *testing.T) {
	unconfigured := NewUnconfiguredError(ProviderGroq)
	wrapped := fmt.Errorf("generate: %w", unconfigured)

	if !IsUnconfiguredError(wrapped) {
		t.Fatal("wrapped unconfigured error not recognised")
	}
	if got, ok := IsLLMError(wrapped); !ok || got != unconfigured {
		t.Fatal("IsLLMError should unwrap")
	}
	if IsUnconfiguredError(errors.New("plain")) {
		t.Fatal("plain error misclassified")
	}
	if !IsRateLimitError(ParseHTTPError(ProviderGroq, http.StatusTooManyRequests, "")) {
		t.Fatal("rate limit not recognised")
	}
	if !IsAuthenticationError(ParseHTTPError(ProviderGroq, http.StatusUnauthorized, "")) {
		t.Fatal("auth error not recognised")
	}

	cause := errors.New("dial tcp: refused")
	withCause := NewLLMErrorWithCause(ProviderGroq, ErrorTypeConnectionError, "connection error", cause)
	if !errors.Is(withCause, cause) {
		t.Fatal("cause not unwrapped")
	}
}
