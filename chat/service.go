// Package chat orchestrates a chat request: authenticate, resolve the
// conversation, load context, route the message to a model and persist both
// turns.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/KamdynS/chatwithme/auth"
	"github.com/KamdynS/chatwithme/llm"
	"github.com/KamdynS/chatwithme/llm/retrieval"
	"github.com/KamdynS/chatwithme/memory"
	"github.com/KamdynS/chatwithme/observability"
)

var (
	// ErrUnauthenticated is returned when no session is present
	ErrUnauthenticated = errors.New("authentication required")

	// ErrInvalidRequest is returned for empty or malformed input
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound is returned when a conversation is absent or not owned
	ErrNotFound = errors.New("conversation not found")

	// ErrSearchUnavailable is returned by Search when no document backend is configured
	ErrSearchUnavailable = errors.New("document search is not configured")
)

// MaxSearchResults caps the limit accepted by Search
const MaxSearchResults = 20

// Router picks a model and always produces a reply
type Router interface {
	Route(ctx context.Context, requested string, message string, history []llm.Message) llm.Result
}

// Titler names a new conversation from its first message. It runs on the
// fast model's credentials, so it is only consulted for fast requests.
type Titler interface {
	Configured() bool
	Title(ctx context.Context, firstMessage string) (string, error)
}

// Searcher looks up documents in the retrieval backend
type Searcher interface {
	Configured() bool
	SearchDocuments(ctx context.Context, query string, limit int) ([]retrieval.Document, error)
}

// Config wires the service's collaborators
type Config struct {
	Store  memory.Store
	Router Router
	// Titler is optional; without it titles are cut from the first message
	Titler Titler
	// Searcher is optional; without it Search reports ErrSearchUnavailable
	Searcher Searcher
	Logger   logrus.FieldLogger
	// HistoryLimit bounds the context handed to the router (llm.MaxHistory when zero)
	HistoryLimit int
}

// Service implements the chat operations
type Service struct {
	store        memory.Store
	router       Router
	titler       Titler
	searcher     Searcher
	logger       logrus.FieldLogger
	historyLimit int
}

// NewService validates cfg and returns a Service
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if cfg.Router == nil {
		return nil, errors.New("chat: router is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = llm.MaxHistory
	}
	return &Service{
		store:        cfg.Store,
		router:       cfg.Router,
		titler:       cfg.Titler,
		searcher:     cfg.Searcher,
		logger:       cfg.Logger,
		historyLimit: cfg.HistoryLimit,
	}, nil
}

// SendRequest is one user message. An empty Model falls back to the user's
// saved default model.
type SendRequest struct {
	Message        string
	ConversationID string
	Model          string
}

// SendResponse carries both persisted turns
type SendResponse struct {
	ConversationID string
	// Created is true when the request started a new conversation
	Created   bool
	User      memory.Message
	Assistant memory.Message
	ModelUsed llm.ModelID
	Fallback  bool
}

// Send handles one chat message end to end. The user turn is persisted
// before the model is called and is kept even if a later step fails.
func (s *Service) Send(ctx context.Context, session *auth.Session, req SendRequest) (*SendResponse, error) {
	if session == nil || session.UserID == "" {
		return nil, ErrUnauthenticated
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidRequest)
	}

	log := s.entry(ctx).WithField("user_id", session.UserID)

	requested := req.Model
	if requested == "" {
		requested = s.savedModel(ctx, session.UserID)
	}

	conv, created, err := s.resolveConversation(ctx, session.UserID, req.ConversationID, message, llm.NormalizeModel(requested))
	if err != nil {
		return nil, err
	}
	log = log.WithField("conversation_id", conv.ID)

	stored, err := s.store.GetConversationHistory(ctx, conv.ID, session.UserID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history := make([]llm.Message, len(stored))
	for i, m := range stored {
		history[i] = llm.Message{Role: m.Role, Content: m.Content}
	}

	userMsg, err := s.store.AddMessage(ctx, conv.ID, session.UserID, message, memory.RoleUser, "")
	if err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	result := s.router.Route(ctx, requested, message, history)

	assistantMsg, err := s.store.AddMessage(ctx, conv.ID, session.UserID, result.Text, memory.RoleAssistant, result.ModelUsed.String())
	if err != nil {
		log.WithError(err).Error("assistant reply not persisted; conversation ends with an unanswered user message")
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	log.WithFields(logrus.Fields{
		"model":    result.ModelUsed,
		"fallback": result.Fallback,
		"created":  created,
		"history":  len(history),
	}).Info("chat message handled")

	return &SendResponse{
		ConversationID: conv.ID,
		Created:        created,
		User:           *userMsg,
		Assistant:      *assistantMsg,
		ModelUsed:      result.ModelUsed,
		Fallback:       result.Fallback,
	}, nil
}

// savedModel returns the user's preferred model, or "" when none is saved
// or the preferences cannot be read.
func (s *Service) savedModel(ctx context.Context, userID string) string {
	prefs, err := s.store.GetPreferences(ctx, userID)
	if err != nil {
		s.entry(ctx).WithError(err).Warn("preferences unavailable, using the default model")
		return ""
	}
	return prefs.DefaultModel
}

// resolveConversation returns the user's conversation id, or creates a new
// one when id is empty, unknown or owned by someone else.
func (s *Service) resolveConversation(ctx context.Context, userID, id, firstMessage string, model llm.ModelID) (*memory.Conversation, bool, error) {
	if id != "" {
		conv, err := s.store.GetConversation(ctx, id, userID)
		if err == nil {
			return conv, false, nil
		}
		if !errors.Is(err, memory.ErrNotFound) {
			return nil, false, fmt.Errorf("load conversation: %w", err)
		}
		s.entry(ctx).WithField("conversation_id", id).Debug("conversation not found, starting a new one")
	}

	conv, err := s.store.CreateConversation(ctx, userID, s.title(ctx, firstMessage, model))
	if err != nil {
		return nil, false, fmt.Errorf("create conversation: %w", err)
	}
	return conv, true, nil
}

func (s *Service) title(ctx context.Context, firstMessage string, model llm.ModelID) string {
	fallback := memory.TitleFromMessage(firstMessage)
	if s.titler == nil || model != llm.ModelFast || !s.titler.Configured() {
		return fallback
	}
	title, err := s.titler.Title(ctx, firstMessage)
	if err != nil {
		s.entry(ctx).WithError(err).Debug("title generation failed")
		return fallback
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fallback
	}
	return title
}

// History lists the user's conversations, most recent activity first
func (s *Service) History(ctx context.Context, session *auth.Session) ([]memory.Summary, error) {
	if session == nil || session.UserID == "" {
		return nil, ErrUnauthenticated
	}
	sums, err := s.store.GetUserConversations(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return sums, nil
}

// Thread is a conversation with all of its messages
type Thread struct {
	Conversation memory.Conversation
	Messages     []memory.Message
}

// Conversation returns one conversation and its messages, oldest first
func (s *Service) Conversation(ctx context.Context, session *auth.Session, id string) (*Thread, error) {
	if session == nil || session.UserID == "" {
		return nil, ErrUnauthenticated
	}
	conv, err := s.store.GetConversation(ctx, id, session.UserID)
	if err != nil {
		return nil, storeError("load conversation", err)
	}
	msgs, err := s.store.GetMessages(ctx, id, session.UserID)
	if err != nil {
		return nil, storeError("load messages", err)
	}
	return &Thread{Conversation: *conv, Messages: msgs}, nil
}

// Rename sets a conversation's title
func (s *Service) Rename(ctx context.Context, session *auth.Session, id, title string) error {
	if session == nil || session.UserID == "" {
		return ErrUnauthenticated
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidRequest)
	}
	if err := s.store.UpdateConversationTitle(ctx, id, session.UserID, title); err != nil {
		return storeError("rename conversation", err)
	}
	return nil
}

// Delete removes a conversation and its messages
func (s *Service) Delete(ctx context.Context, session *auth.Session, id string) error {
	if session == nil || session.UserID == "" {
		return ErrUnauthenticated
	}
	if err := s.store.DeleteConversation(ctx, id, session.UserID); err != nil {
		return storeError("delete conversation", err)
	}
	s.entry(ctx).WithFields(logrus.Fields{"user_id": session.UserID, "conversation_id": id}).Info("conversation deleted")
	return nil
}

// Cleanup deletes all but the keep most recently active conversations of
// the user and returns how many were removed.
func (s *Service) Cleanup(ctx context.Context, session *auth.Session, keep int) (int, error) {
	if session == nil || session.UserID == "" {
		return 0, ErrUnauthenticated
	}
	if keep < 0 {
		return 0, fmt.Errorf("%w: keep cannot be negative", ErrInvalidRequest)
	}
	n, err := s.store.CleanupConversations(ctx, session.UserID, keep)
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	s.entry(ctx).WithFields(logrus.Fields{"user_id": session.UserID, "keep": keep, "deleted": n}).Info("conversations cleaned up")
	return n, nil
}

// Preferences returns the user's settings. A user without a saved model
// reports the router default.
func (s *Service) Preferences(ctx context.Context, session *auth.Session) (*memory.Preferences, error) {
	if session == nil || session.UserID == "" {
		return nil, ErrUnauthenticated
	}
	prefs, err := s.store.GetPreferences(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}
	if prefs.DefaultModel == "" {
		prefs.DefaultModel = llm.DefaultModel.String()
	}
	return prefs, nil
}

// UpdatePreferences saves the fields set in update. The model must be one of
// the known identifiers; theme and language must not be blank.
func (s *Service) UpdatePreferences(ctx context.Context, session *auth.Session, update memory.PreferencesUpdate) (*memory.Preferences, error) {
	if session == nil || session.UserID == "" {
		return nil, ErrUnauthenticated
	}
	if update.DefaultModel == nil && update.Theme == nil && update.Language == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidRequest)
	}
	if update.DefaultModel != nil {
		if _, err := llm.ParseModel(*update.DefaultModel); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	var err error
	if update.Theme, err = nonBlank("theme", update.Theme); err != nil {
		return nil, err
	}
	if update.Language, err = nonBlank("language", update.Language); err != nil {
		return nil, err
	}

	prefs, err := s.store.UpdatePreferences(ctx, session.UserID, update)
	if err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return prefs, nil
}

// nonBlank trims *v, rejecting values that are only whitespace
func nonBlank(name string, v *string) (*string, error) {
	if v == nil {
		return nil, nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: %s cannot be blank", ErrInvalidRequest, name)
	}
	return &trimmed, nil
}

// Search returns documents from the retrieval backend relevant to query.
// limit <= 0 uses the backend default; larger values are capped at
// MaxSearchResults.
func (s *Service) Search(ctx context.Context, session *auth.Session, query string, limit int) ([]retrieval.Document, error) {
	if session == nil || session.UserID == "" {
		return nil, ErrUnauthenticated
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if s.searcher == nil || !s.searcher.Configured() {
		return nil, ErrSearchUnavailable
	}
	if limit > MaxSearchResults {
		limit = MaxSearchResults
	}

	docs, err := s.searcher.SearchDocuments(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	s.entry(ctx).WithFields(logrus.Fields{"user_id": session.UserID, "results": len(docs)}).Debug("documents searched")
	return docs, nil
}

func storeError(op string, err error) error {
	if errors.Is(err, memory.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) entry(ctx context.Context) *logrus.Entry {
	e := s.logger.WithField("component", "chat")
	if id, ok := observability.RequestIDFromContext(ctx); ok {
		e = e.WithField("request_id", id)
	}
	return e
}
