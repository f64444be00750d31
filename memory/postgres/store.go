// Package postgres implements memory.Store on PostgreSQL through a pgx
// connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KamdynS/chatwithme/memory"
)

// Schema is applied by Migrate. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         text PRIMARY KEY,
	user_id    text NOT NULL,
	title      text NOT NULL,
	created_at timestamptz NOT NULL,
	updated_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations (user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	seq             bigserial PRIMARY KEY,
	id              text NOT NULL UNIQUE,
	conversation_id text NOT NULL REFERENCES conversations (id) ON DELETE CASCADE,
	user_id         text NOT NULL,
	role            text NOT NULL CHECK (role IN ('user', 'assistant')),
	content         text NOT NULL,
	model           text NOT NULL DEFAULT '',
	created_at      timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, seq);

CREATE TABLE IF NOT EXISTS preferences (
	user_id       text PRIMARY KEY,
	default_model text NOT NULL DEFAULT '',
	theme         text NOT NULL,
	language      text NOT NULL,
	updated_at    timestamptz NOT NULL
);
`

// Store implements memory.Store on PostgreSQL
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// Connect opens a pool for dsn, verifies it and applies the schema.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	s := New(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The caller is responsible for Migrate.
func New(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		// timestamptz keeps microseconds
		now: func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// CreateConversation implements memory.Store
func (s *Store) CreateConversation(ctx context.Context, userID, titleHint string) (*memory.Conversation, error) {
	now := s.now()
	if titleHint == "" {
		titleHint = memory.DefaultTitle(now)
	}
	conv := &memory.Conversation{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     titleHint,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.pool.Exec(ctx,
		"INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)",
		conv.ID, conv.UserID, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation implements memory.Store
func (s *Store) GetConversation(ctx context.Context, conversationID, userID string) (*memory.Conversation, error) {
	var conv memory.Conversation
	err := s.pool.QueryRow(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = $1 AND user_id = $2",
		conversationID, userID).Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.UpdatedAt.UTC()
	return &conv, nil
}

// GetConversationHistory implements memory.Store
func (s *Store) GetConversationHistory(ctx context.Context, conversationID, userID string, limit int) ([]memory.Message, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		"SELECT 1 FROM conversations WHERE id = $1 AND user_id = $2", conversationID, userID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	// LIMIT NULL means no limit
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, user_id, role, content, model, created_at FROM (
			SELECT * FROM messages WHERE conversation_id = $1 ORDER BY seq DESC LIMIT $2
		) recent ORDER BY seq ASC`, conversationID, lim)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	msgs := make([]memory.Message, 0)
	for rows.Next() {
		var m memory.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &m.Model, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	now := s.now()
	tag, err := tx.Exec(ctx,
		"UPDATE conversations SET updated_at = GREATEST(updated_at, $3) WHERE id = $1 AND user_id = $2",
		conversationID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, memory.ErrNotFound
	}

	msg := &memory.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		Model:          model,
		CreatedAt:      now,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, role, content, model, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.Content, msg.Model, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// GetUserConversations implements memory.Store
func (s *Store) GetUserConversations(ctx context.Context, userID string) ([]memory.Summary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.title, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			COALESCE((SELECT m.content FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1), '')
		FROM conversations c
		WHERE c.user_id = $1
		ORDER BY c.updated_at DESC, c.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]memory.Summary, 0)
	for rows.Next() {
		var sum memory.Summary
		var count int64
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Timestamp, &count, &sum.LastMessage); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Timestamp = sum.Timestamp.UTC()
		sum.MessageCount = int(count)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// UpdateConversationTitle implements memory.Store
func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID, userID, title string) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE conversations SET title = $3, updated_at = $4 WHERE id = $1 AND user_id = $2",
		conversationID, userID, title, s.now())
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// DeleteConversation implements memory.Store
func (s *Store) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		"DELETE FROM conversations WHERE id = $1 AND user_id = $2", conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// CleanupConversations implements memory.Store
func (s *Store) CleanupConversations(ctx context.Context, userID string, keep int) (int, error) {
	if keep < 0 {
		return 0, memory.ErrInvalidKeep
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations WHERE user_id = $1
			ORDER BY updated_at DESC, created_at DESC OFFSET $2
		)`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanPreferences(row pgx.Row, userID string) (*memory.Preferences, error) {
	p := memory.DefaultPreferences(userID)
	var updated time.Time
	err := row.Scan(&p.DefaultModel, &p.Theme, &p.Language, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	p.UpdatedAt = updated.UTC()
	return &p, nil
}

// GetPreferences implements memory.Store
func (s *Store) GetPreferences(ctx context.Context, userID string) (*memory.Preferences, error) {
	return scanPreferences(s.pool.QueryRow(ctx,
		"SELECT default_model, theme, language, updated_at FROM preferences WHERE user_id = $1", userID), userID)
}

// UpdatePreferences implements memory.Store
func (s *Store) UpdatePreferences(ctx context.Context, userID string, update memory.PreferencesUpdate) (*memory.Preferences, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanPreferences(tx.QueryRow(ctx,
		"SELECT default_model, theme, language, updated_at FROM preferences WHERE user_id = $1 FOR UPDATE", userID), userID)
	if err != nil {
		return nil, err
	}
	p := update.Apply(*current)
	p.UpdatedAt = s.now()

	if _, err := tx.Exec(ctx, `
		INSERT INTO preferences (user_id, default_model, theme, language, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			default_model = EXCLUDED.default_model,
			theme = EXCLUDED.theme,
			language = EXCLUDED.language,
			updated_at = EXCLUDED.updated_at`,
		userID, p.DefaultModel, p.Theme, p.Language, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &p, nil
}

// Close implements memory.Store
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

var _ memory.Store = (*Store)(nil)
