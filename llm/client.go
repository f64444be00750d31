package llm

import (
	"context"
	"strings"
	"time"
)

// Message roles understood by every provider adapter
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// MaxHistory is the number of trailing turns handed to a provider as context
const MaxHistory = 10

// SystemPrompt is the persona preamble injected by adapters whose upstream
// API accepts a system role or instruction.
const SystemPrompt = "You are ChatWithMe, a helpful and friendly AI assistant. You provide clear, concise, and helpful responses to user questions. Be conversational, accurate, and supportive."

// Message represents one conversation turn
type Message struct {
	Role    string `json:"role"`    // "user" or "assistant"
	Content string `json:"content"` // Message content
}

// Provider wraps a single upstream chat-completion API behind a uniform contract.
type Provider interface {
	// Name returns the provider name used in logs and metrics
	Name() string

	// Configured reports whether the credentials/endpoint the provider needs
	// are present. It must not touch the network.
	Configured() bool

	// Generate sends message with the given history (oldest first) and
	// returns the single best completion text. Failures are *LLMError.
	Generate(ctx context.Context, message string, history []Message) (string, error)
}

// Result is what the router hands back for one message
type Result struct {
	Text      string  `json:"text"`
	ModelUsed ModelID `json:"model_used"`
	// Fallback is true when the text came from the Responder instead of a provider
	Fallback bool          `json:"fallback"`
	Latency  time.Duration `json:"latency,omitempty"`
}

// Config holds the options shared by HTTP-backed adapters
type Config struct {
	APIKey      string        `json:"api_key"`
	Model       string        `json:"model"`
	BaseURL     string        `json:"base_url,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// TrimHistory returns the most recent limit turns, oldest first.
// The result is always a copy.
func TrimHistory(history []Message, limit int) []Message {
	if limit <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) <= limit {
		out := make([]Message, len(history))
		copy(out, history)
		return out
	}
	out := make([]Message, limit)
	copy(out, history[len(history)-limit:])
	return out
}

// HasCredential reports whether v holds a real value rather than being
// empty or a template placeholder such as "your-groq-api-key-here".
func HasCredential(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	lower := strings.ToLower(v)
	return !(strings.HasPrefix(lower, "your-") && strings.HasSuffix(lower, "-here"))
}
