// Package gemini implements llm.Provider for the hosted Google Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/KamdynS/chatwithme/llm"
)

const (
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultModel   = "gemini-pro"
)

// Client talks to the Gemini REST API
type Client struct {
	http   *http.Client
	config llm.Config
}

// NewClient creates a Gemini client from config. Zero values get defaults.
func NewClient(config llm.Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      *content `json:"content"`
		FinishReason string   `json:"finishReason"`
	} `json:"candidates"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Name implements llm.Provider
func (c *Client) Name() string { return llm.ProviderGemini }

// Configured implements llm.Provider
func (c *Client) Configured() bool {
	return llm.HasCredential(c.config.APIKey)
}

// Generate implements llm.Provider
func (c *Client) Generate(ctx context.Context, message string, history []llm.Message) (string, error) {
	if !c.Configured() {
		return "", llm.NewUnconfiguredError(c.Name())
	}

	contents := make([]content, 0, len(history)+1)
	for _, msg := range history {
		contents = append(contents, content{Role: convertRole(msg.Role), Parts: []part{{Text: msg.Content}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: message}}})

	body, err := json.Marshal(generateRequest{
		Contents:          contents,
		SystemInstruction: &content{Parts: []part{{Text: llm.SystemPrompt}}},
		GenerationConfig: generationConfig{
			Temperature:     c.config.Temperature,
			TopK:            40,
			TopP:            0.95,
			MaxOutputTokens: c.config.MaxTokens,
		},
	})
	if err != nil {
		return "", llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeInvalidRequest, "encode request", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		strings.TrimRight(c.config.BaseURL, "/"), url.PathEscape(c.config.Model), url.QueryEscape(c.config.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeInvalidRequest, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", c.transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeConnectionError, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "Unknown error"
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		llmErr := llm.ParseHTTPError(c.Name(), resp.StatusCode, msg)
		llmErr.Model = c.config.Model
		return "", llmErr
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeInvalidResponse, "invalid response format", err)
	}
	if len(out.Candidates) == 0 || out.Candidates[0].Content == nil || len(out.Candidates[0].Content.Parts) == 0 {
		return "", llm.NewLLMError(c.Name(), llm.ErrorTypeInvalidResponse, "invalid response format: no candidates")
	}

	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", llm.NewLLMError(c.Name(), llm.ErrorTypeInvalidResponse, "empty completion")
	}
	return text, nil
}

// Gemini names the assistant role "model"
func convertRole(role string) string {
	if role == llm.RoleAssistant {
		return "model"
	}
	return "user"
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeTimeout, "request timeout", err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeTimeout, "request timeout", err)
	}
	return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeConnectionError, "connection error", err)
}

var _ llm.Provider = (*Client)(nil)
