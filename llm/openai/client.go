package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/KamdynS/chatwithme/llm"
)

// Groq speaks the OpenAI chat-completions dialect
const (
	DefaultBaseURL = "https://api.groq.com/openai/v1"
	DefaultModel   = "meta-llama/llama-4-scout-17b-16e-instruct"
)

// Client implements llm.Provider for the fast inference provider
type Client struct {
	client *openai.Client
	config llm.Config
}

// NewClient creates a new client. A missing API key is not an error: the
// client reports itself unconfigured and the router falls back.
func NewClient(config llm.Config) (*Client, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Set defaults
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1000
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	oaiConfig := openai.DefaultConfig(config.APIKey)
	oaiConfig.BaseURL = strings.TrimRight(config.BaseURL, "/")
	oaiConfig.HTTPClient = &http.Client{
		Timeout: config.Timeout,
	}

	return &Client{
		client: openai.NewClientWithConfig(oaiConfig),
		config: config,
	}, nil
}

// validateConfig validates the client configuration
func validateConfig(config llm.Config) error {
	if config.Temperature < 0 || config.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be non-negative")
	}
	return nil
}

// Name implements llm.Provider
func (c *Client) Name() string { return llm.ProviderGroq }

// Model returns the upstream model identifier
func (c *Client) Model() string { return c.config.Model }

// Configured implements llm.Provider
func (c *Client) Configured() bool {
	return llm.HasCredential(c.config.APIKey)
}

// Generate implements llm.Provider
func (c *Client) Generate(ctx context.Context, message string, history []llm.Message) (string, error) {
	if !c.Configured() {
		return "", llm.NewUnconfiguredError(c.Name())
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: llm.SystemPrompt,
	})
	for _, msg := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	return c.complete(ctx, messages, c.config.MaxTokens, float32(c.config.Temperature))
}

// complete performs one chat completion and returns the trimmed text
func (c *Client) complete(ctx context.Context, messages []openai.ChatCompletionMessage, maxTokens int, temperature float32) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", c.convertError(err)
	}

	if len(resp.Choices) == 0 {
		return "", llm.NewLLMError(c.Name(), llm.ErrorTypeInvalidResponse, "no choices returned")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", llm.NewLLMError(c.Name(), llm.ErrorTypeInvalidResponse, "empty completion")
	}
	return content, nil
}

func convertRole(role string) string {
	switch role {
	case llm.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

// convertError converts SDK errors to LLM errors
func (c *Client) convertError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		llmErr := llm.ParseHTTPError(c.Name(), apiErr.HTTPStatusCode, apiErr.Message)
		if code, ok := apiErr.Code.(string); ok {
			llmErr.Code = code
		}
		llmErr.Model = c.config.Model
		llmErr.Cause = err
		return llmErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		llmErr := llm.ParseHTTPError(c.Name(), reqErr.HTTPStatusCode, string(reqErr.Body))
		llmErr.Model = c.config.Model
		llmErr.Cause = err
		return llmErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeTimeout, "request timeout", err)
	}
	if errors.Is(err, context.Canceled) {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeUnknown, "request cancelled", err)
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection") || strings.Contains(lower, "network") {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeConnectionError, "connection error", err)
	}
	return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeUnknown, err.Error(), err)
}

var _ llm.Provider = (*Client)(nil)
