package memory

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a conversation does not exist or is not owned
// by the requesting user.
var ErrNotFound = errors.New("memory: conversation not found")

// Message roles persisted by the store
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TitleMaxLength is the number of characters kept by TitleFromMessage
const TitleMaxLength = 50

// Preference values reported for a user who has never saved any
const (
	DefaultTheme    = "dark"
	DefaultLanguage = "en"
)

// DefaultKeepConversations is how many conversations a cleanup keeps when
// the caller does not say.
const DefaultKeepConversations = 50

// ErrInvalidKeep is returned by CleanupConversations for a negative keep
var ErrInvalidKeep = errors.New("memory: keep count cannot be negative")

// Store persists conversations and their messages. Every operation is scoped
// to a user: a conversation belonging to someone else behaves as absent.
type Store interface {
	// CreateConversation creates an empty conversation. An empty titleHint
	// yields DefaultTitle.
	CreateConversation(ctx context.Context, userID, titleHint string) (*Conversation, error)

	// GetConversation returns the conversation or ErrNotFound
	GetConversation(ctx context.Context, conversationID, userID string) (*Conversation, error)

	// GetConversationHistory returns the most recent limit messages, oldest
	// first. limit <= 0 returns every message.
	GetConversationHistory(ctx context.Context, conversationID, userID string, limit int) ([]Message, error)

	// GetMessages returns every message of the conversation, oldest first
	GetMessages(ctx context.Context, conversationID, userID string) ([]Message, error)

	// AddMessage appends a message and bumps the conversation's UpdatedAt.
	// model is empty for user turns.
	AddMessage(ctx context.Context, conversationID, userID, content, role, model string) (*Message, error)

	// GetUserConversations summarises the user's conversations, most recent
	// activity first.
	GetUserConversations(ctx context.Context, userID string) ([]Summary, error)

	// UpdateConversationTitle renames a conversation
	UpdateConversationTitle(ctx context.Context, conversationID, userID, title string) error

	// DeleteConversation removes a conversation and its messages
	DeleteConversation(ctx context.Context, conversationID, userID string) error

	// CleanupConversations deletes all but the keep most recently active
	// conversations of userID and returns how many were removed.
	CleanupConversations(ctx context.Context, userID string, keep int) (int, error)

	// GetPreferences returns the user's saved preferences, or
	// DefaultPreferences when nothing has been saved.
	GetPreferences(ctx context.Context, userID string) (*Preferences, error)

	// UpdatePreferences applies the non-nil fields of update, creating the
	// record from DefaultPreferences on first use.
	UpdatePreferences(ctx context.Context, userID string, update PreferencesUpdate) (*Preferences, error)

	// Close releases the underlying connection(s)
	Close() error
}

// Conversation is a titled, user-owned thread of messages
type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one persisted turn
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Summary is the sidebar view of a conversation
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastMessage  string    `json:"lastMessage"`
	Timestamp    time.Time `json:"timestamp"`
	MessageCount int       `json:"messageCount"`
}

// Preferences are per-user settings. An empty DefaultModel means the user
// has not picked one.
type Preferences struct {
	UserID       string    `json:"userId"`
	DefaultModel string    `json:"defaultModel"`
	Theme        string    `json:"theme"`
	Language     string    `json:"language"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// PreferencesUpdate is a partial update; nil fields are left unchanged.
type PreferencesUpdate struct {
	DefaultModel *string `json:"defaultModel,omitempty"`
	Theme        *string `json:"theme,omitempty"`
	Language     *string `json:"language,omitempty"`
}

// DefaultPreferences returns the settings of a user with nothing saved
func DefaultPreferences(userID string) Preferences {
	return Preferences{UserID: userID, Theme: DefaultTheme, Language: DefaultLanguage}
}

// Apply returns p with the fields set in u
func (u PreferencesUpdate) Apply(p Preferences) Preferences {
	if u.DefaultModel != nil {
		p.DefaultModel = *u.DefaultModel
	}
	if u.Theme != nil {
		p.Theme = *u.Theme
	}
	if u.Language != nil {
		p.Language = *u.Language
	}
	return p
}

// ValidRole reports whether role can be persisted
func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAssistant
}

// DefaultTitle names a conversation created without a title hint
func DefaultTitle(now time.Time) string {
	return "New Chat " + now.Format("2006-01-02")
}

// TitleFromMessage derives a conversation title from its first message:
// the first TitleMaxLength characters, with "..." appended when cut.
func TitleFromMessage(message string) string {
	message = strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(message) <= TitleMaxLength {
		return message
	}
	runes := []rune(message)
	return string(runes[:TitleMaxLength]) + "..."
}

// Tail returns the last limit messages. limit <= 0 keeps everything.
func Tail(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) <= limit {
		return msgs
	}
	return msgs[len(msgs)-limit:]
}
