package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// cannedReply pairs a trigger phrase with its response
type cannedReply struct {
	trigger  string
	response string
}

// Order matters: the first trigger contained in the message wins.
var cannedReplies = []cannedReply{
	{"hello", "Hello! How can I assist you today?"},
	{"how are you", "I'm doing great! Thanks for asking. How can I help you?"},
	{"what is your name", "I'm ChatWithMe, your AI assistant! What would you like to know?"},
	{"help", "I'm here to help! You can ask me questions about anything, and I'll do my best to provide helpful answers."},
	{"bye", "Goodbye! Have a wonderful day! Feel free to come back anytime you need assistance."},
}

const defaultReplyFormat = "I understand you're saying \"%s\". That's an interesting point! I'm here to help with any questions or tasks you might have. What would you like to explore together?"

// Responder produces canned replies without touching the network. It is used
// whenever no real provider answer is available.
type Responder struct {
	// Delay simulates provider latency. It never affects the returned text.
	Delay time.Duration
}

// NewResponder creates a Responder with the given artificial delay
func NewResponder(delay time.Duration) *Responder {
	return &Responder{Delay: delay}
}

// Generate returns the canned reply for message. The same message always
// yields the same text.
func (r *Responder) Generate(ctx context.Context, message string) string {
	if r != nil && r.Delay > 0 {
		t := time.NewTimer(r.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	return CannedReply(message)
}

// CannedReply is the pure keyword lookup behind Responder.Generate
func CannedReply(message string) string {
	lower := strings.ToLower(message)
	for _, c := range cannedReplies {
		if strings.Contains(lower, c.trigger) {
			return c.response
		}
	}
	return fmt.Sprintf(defaultReplyFormat, message)
}
