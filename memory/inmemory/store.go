package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KamdynS/chatwithme/memory"
)

type conversation struct {
	memory.Conversation
	messages []memory.Message
	// activity breaks UpdatedAt ties between conversations
	activity uint64
}

// Store implements memory.Store in process memory. Data is lost on restart.
type Store struct {
	mu    sync.RWMutex
	convs map[string]*conversation
	prefs map[string]memory.Preferences
	seq   uint64
	now   func() time.Time
}

// NewStore creates a new in-memory store
func NewStore() *Store {
	return &Store{
		convs: make(map[string]*conversation),
		prefs: make(map[string]memory.Preferences),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// lookup returns the conversation if userID owns it. Caller holds mu.
func (s *Store) lookup(id, userID string) (*conversation, error) {
	c, ok := s.convs[id]
	if !ok || c.UserID != userID {
		return nil, memory.ErrNotFound
	}
	return c, nil
}

// CreateConversation implements memory.Store
func (s *Store) CreateConversation(ctx context.Context, userID, titleHint string) (*memory.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if titleHint == "" {
		titleHint = memory.DefaultTitle(now)
	}
	s.seq++
	c := &conversation{
		Conversation: memory.Conversation{
			ID:        uuid.NewString(),
			UserID:    userID,
			Title:     titleHint,
			CreatedAt: now,
			UpdatedAt: now,
		},
		activity: s.seq,
	}
	s.convs[c.ID] = c

	out := c.Conversation
	return &out, nil
}

// GetConversation implements memory.Store
func (s *Store) GetConversation(ctx context.Context, conversationID, userID string) (*memory.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.lookup(conversationID, userID)
	if err != nil {
		return nil, err
	}
	out := c.Conversation
	return &out, nil
}

// GetConversationHistory implements memory.Store
func (s *Store) GetConversationHistory(ctx context.Context, conversationID, userID string, limit int) ([]memory.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := s.lookup(conversationID, userID)
	if err != nil {
		return nil, err
	}
	tail := memory.Tail(c.messages, limit)
	out := make([]memory.Message, len(tail))
	copy(out, tail)
	return out, nil
}

// GetMessages implements memory.Store
func (s *Store) GetMessages(ctx context.Context, conversationID, userID string) ([]memory.Message, error) {
	return s.GetConversationHistory(ctx, conversationID, userID, 0)
}

// AddMessage implements memory.Store
func (s *Store) AddMessage(ctx context.Context, conversationID, userID, content, role, model string) (*memory.Message, error) {
	if !memory.ValidRole(role) {
		return nil, fmt.Errorf("invalid role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.lookup(conversationID, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := memory.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		Model:          model,
		CreatedAt:      now,
	}
	c.messages = append(c.messages, msg)
	c.UpdatedAt = now
	s.seq++
	c.activity = s.seq

	return &msg, nil
}

// owned returns userID's conversations, most recent activity first. Caller holds mu.
func (s *Store) owned(userID string) []*conversation {
	out := make([]*conversation, 0)
	for _, c := range s.convs {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].activity > out[j].activity })
	return out
}

// GetUserConversations implements memory.Store
func (s *Store) GetUserConversations(ctx context.Context, userID string) ([]memory.Summary, error) {
	s.mu.RLock()
	owned := s.owned(userID)

	out := make([]memory.Summary, 0, len(owned))
	for _, c := range owned {
		sum := memory.Summary{
			ID:           c.ID,
			Title:        c.Title,
			Timestamp:    c.UpdatedAt,
			MessageCount: len(c.messages),
		}
		if n := len(c.messages); n > 0 {
			sum.LastMessage = c.messages[n-1].Content
		}
		out = append(out, sum)
	}
	s.mu.RUnlock()

	return out, nil
}

// UpdateConversationTitle implements memory.Store
func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID, userID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.lookup(conversationID, userID)
	if err != nil {
		return err
	}
	c.Title = title
	c.UpdatedAt = s.now()
	s.seq++
	c.activity = s.seq
	return nil
}

// DeleteConversation implements memory.Store
func (s *Store) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.lookup(conversationID, userID); err != nil {
		return err
	}
	delete(s.convs, conversationID)
	return nil
}

// CleanupConversations implements memory.Store
func (s *Store) CleanupConversations(ctx context.Context, userID string, keep int) (int, error) {
	if keep < 0 {
		return 0, memory.ErrInvalidKeep
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.owned(userID)
	if len(owned) <= keep {
		return 0, nil
	}
	for _, c := range owned[keep:] {
		delete(s.convs, c.ID)
	}
	return len(owned) - keep, nil
}

// GetPreferences implements memory.Store
func (s *Store) GetPreferences(ctx context.Context, userID string) (*memory.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[userID]
	if !ok {
		p = memory.DefaultPreferences(userID)
	}
	return &p, nil
}

// UpdatePreferences implements memory.Store
func (s *Store) UpdatePreferences(ctx context.Context, userID string, update memory.PreferencesUpdate) (*memory.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.prefs[userID]
	if !ok {
		p = memory.DefaultPreferences(userID)
	}
	p = update.Apply(p)
	p.UpdatedAt = s.now()
	s.prefs[userID] = p
	return &p, nil
}

// Close implements memory.Store
func (s *Store) Close() error { return nil }

var _ memory.Store = (*Store)(nil)
