// Package retrieval implements llm.Provider for a retrieval-augmented
// generation backend that answers queries over an indexed document set.
package retrieval

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

// DefaultTopK is the number of documents the backend retrieves per query
const DefaultTopK = 5

// Client talks to the RAG backend. Both the API key and the endpoint URL
// must be set for the client to be usable.
type Client struct {
	http   *http.Client
	config llm.Config
}

// NewClient creates a retrieval client from config
func NewClient(config llm.Config) *Client {
	if config.Temperature == 0 {
		config.Temperature = 0.7
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		http:   &http.Client{Timeout: config.Timeout},
		config: config,
	}
}

type options struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopK        int     `json:"top_k"`
}

type queryRequest struct {
	Query   string        `json:"query"`
	History []llm.Message `json:"history"`
	Options options       `json:"options"`
}

type queryResponse struct {
	Response string `json:"response"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Documents []Document `json:"documents"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Document is a single search hit returned by the backend
type Document struct {
	ID       string         `json:"id,omitempty"`
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Name implements llm.Provider
func (c *Client) Name() string { return llm.ProviderRetrieval }

// Configured implements llm.Provider
func (c *Client) Configured() bool {
	return llm.HasCredential(c.config.APIKey) && llm.HasCredential(c.config.BaseURL)
}

// Generate implements llm.Provider. The backend owns its own prompt, so no
// persona preamble is sent.
func (c *Client) Generate(ctx context.Context, message string, history []llm.Message) (string, error) {
	if !c.Configured() {
		return "", llm.NewUnconfiguredError(c.Name())
	}
	if history == nil {
		history = []llm.Message{}
	}

	var out queryResponse
	err := c.post(ctx, c.config.BaseURL, queryRequest{
		Query:   message,
		History: history,
		Options: options{
			Temperature: c.config.Temperature,
			MaxTokens:   c.config.MaxTokens,
			TopK:        DefaultTopK,
		},
	}, &out)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", llm.NewLLMError(c.Name(), llm.ErrorTypeInvalidResponse, "invalid response format")
	}
	return text, nil
}

// SearchDocuments returns up to limit documents relevant to query.
func (c *Client) SearchDocuments(ctx context.Context, query string, limit int) ([]Document, error) {
	if !c.Configured() {
		return nil, llm.NewUnconfiguredError(c.Name())
	}
	if limit <= 0 {
		limit = DefaultTopK
	}

	var out searchResponse
	if err := c.post(ctx, c.config.BaseURL+"/search", searchRequest{Query: query, Limit: limit}, &out); err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	if out.Documents == nil {
		return []Document{}, nil
	}
	return out.Documents, nil
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeInvalidRequest, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeInvalidRequest, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &urlErr) && urlErr.Timeout()) {
			return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeTimeout, "request timeout", err)
		}
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeConnectionError, "connection error", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeConnectionError, "read response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := "Unknown error"
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			msg = er.Error
		}
		return llm.ParseHTTPError(c.Name(), resp.StatusCode, msg)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return llm.NewLLMErrorWithCause(c.Name(), llm.ErrorTypeInvalidResponse, "invalid response format", err)
	}
	return nil
}

var _ llm.Provider = (*Client)(nil)
