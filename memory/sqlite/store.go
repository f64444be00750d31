// Package sqlite implements memory.Store on an embedded SQLite database
// using the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/KamdynS/chatwithme/memory"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	title      TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	id              TEXT NOT NULL UNIQUE,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	user_id         TEXT NOT NULL,
	role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content         TEXT NOT NULL,
	model           TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, seq);

CREATE TABLE IF NOT EXISTS preferences (
	user_id       TEXT PRIMARY KEY,
	default_model TEXT NOT NULL DEFAULT '',
	theme         TEXT NOT NULL,
	language      TEXT NOT NULL,
	updated_at    INTEGER NOT NULL
);
`

// Store implements memory.Store on SQLite
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens (creating if needed) the database at path and applies the schema.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: path cannot be empty")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single connection also keeps :memory: shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

// owned reports ErrNotFound unless userID owns the conversation
func owned(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, conversationID, userID string) error {
	var one int
	err := q.QueryRowContext(ctx,
		"SELECT 1 FROM conversations WHERE id = ? AND user_id = ?", conversationID, userID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.ErrNotFound
	}
	return err
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
		CreatedAt: fromNanos(now.UnixNano()),
		UpdatedAt: fromNanos(now.UnixNano()),
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		conv.ID, conv.UserID, conv.Title, now.UnixNano(), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation implements memory.Store
func (s *Store) GetConversation(ctx context.Context, conversationID, userID string) (*memory.Conversation, error) {
	var conv memory.Conversation
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ? AND user_id = ?",
		conversationID, userID).Scan(&conv.ID, &conv.UserID, &conv.Title, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv.CreatedAt = fromNanos(created)
	conv.UpdatedAt = fromNanos(updated)
	return &conv, nil
}

// GetConversationHistory implements memory.Store
func (s *Store) GetConversationHistory(ctx context.Context, conversationID, userID string, limit int) ([]memory.Message, error) {
	if err := owned(ctx, s.db, conversationID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, model, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY seq DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	msgs := make([]memory.Message, 0)
	for rows.Next() {
		var m memory.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &m.Model, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = fromNanos(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := owned(ctx, tx, conversationID, userID); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &memory.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		Model:          model,
		CreatedAt:      fromNanos(now.UnixNano()),
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, role, content, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, msg.Role, msg.Content, msg.Model, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?", now.UnixNano(), conversationID); err != nil {
		return nil, fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// GetUserConversations implements memory.Store
func (s *Store) GetUserConversations(ctx context.Context, userID string) ([]memory.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.updated_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			COALESCE((SELECT m.content FROM messages m WHERE m.conversation_id = c.id ORDER BY m.seq DESC LIMIT 1), '')
		FROM conversations c
		WHERE c.user_id = ?
		ORDER BY c.updated_at DESC, c.rowid DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	out := make([]memory.Summary, 0)
	for rows.Next() {
		var sum memory.Summary
		var updated int64
		if err := rows.Scan(&sum.ID, &sum.Title, &updated, &sum.MessageCount, &sum.LastMessage); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		sum.Timestamp = fromNanos(updated)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return out, nil
}

// UpdateConversationTitle implements memory.Store
func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID, userID, title string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE conversations SET title = ?, updated_at = ? WHERE id = ? AND user_id = ?",
		title, s.now().UnixNano(), conversationID, userID)
	if err != nil {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return affected(res)
}

// DeleteConversation implements memory.Store
func (s *Store) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM conversations WHERE id = ? AND user_id = ?", conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return affected(res)
}

// CleanupConversations implements memory.Store
func (s *Store) CleanupConversations(ctx context.Context, userID string, keep int) (int, error) {
	if keep < 0 {
		return 0, memory.ErrInvalidKeep
	}
	// LIMIT -1 means no limit; the ordering matches GetUserConversations
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM conversations WHERE id IN (
			SELECT id FROM conversations WHERE user_id = ?
			ORDER BY updated_at DESC, rowid DESC LIMIT -1 OFFSET ?
		)`, userID, keep)
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func scanPreferences(row *sql.Row, userID string) (*memory.Preferences, error) {
	p := memory.DefaultPreferences(userID)
	var updated int64
	err := row.Scan(&p.DefaultModel, &p.Theme, &p.Language, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	p.UpdatedAt = fromNanos(updated)
	return &p, nil
}

const selectPreferences = "SELECT default_model, theme, language, updated_at FROM preferences WHERE user_id = ?"

// GetPreferences implements memory.Store
func (s *Store) GetPreferences(ctx context.Context, userID string) (*memory.Preferences, error) {
	return scanPreferences(s.db.QueryRowContext(ctx, selectPreferences, userID), userID)
}

// UpdatePreferences implements memory.Store
func (s *Store) UpdatePreferences(ctx context.Context, userID string, update memory.PreferencesUpdate) (*memory.Preferences, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	current, err := scanPreferences(tx.QueryRowContext(ctx, selectPreferences, userID), userID)
	if err != nil {
		return nil, err
	}
	p := update.Apply(*current)
	now := s.now()
	p.UpdatedAt = fromNanos(now.UnixNano())

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO preferences (user_id, default_model, theme, language, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			default_model = excluded.default_model,
			theme = excluded.theme,
			language = excluded.language,
			updated_at = excluded.updated_at`,
		userID, p.DefaultModel, p.Theme, p.Language, now.UnixNano()); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &p, nil
}

func affected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

// Close implements memory.Store
func (s *Store) Close() error {
	return s.db.Close()
}

var _ memory.Store = (*Store)(nil)
