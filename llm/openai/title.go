package openai

import (
	"context"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/KamdynS/chatwithme/llm"
)

const titlePrompt = "Generate a short, descriptive title (max 6 words) for a chat that starts with the following message. Only return the title, nothing else."

// Title asks the model for a short conversation title derived from the
// first message of a chat.
func (c *Client) Title(ctx context.Context, firstMessage string) (string, error) {
	if !c.Configured() {
		return "", llm.NewUnconfiguredError(c.Name())
	}
	title, err := c.complete(ctx, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: titlePrompt},
		{Role: openai.ChatMessageRoleUser, Content: firstMessage},
	}, 20, 0.5)
	if err != nil {
		return "", err
	}
	return strings.Trim(title, "\"' "), nil
}
