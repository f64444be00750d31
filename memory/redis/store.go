// Package redis implements memory.Store on Redis. Each conversation is a
// hash plus a message list; a per-user sorted set orders conversations by
// activity.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	rds "github.com/redis/go-redis/v9"

	"github.com/KamdynS/chatwithme/memory"
)

// DefaultPrefix namespaces every key written by the store
const DefaultPrefix = "chatwithme"

// maxWatchRetries bounds how often an optimistic transaction is retried
// after another client changed the watched conversation.
const maxWatchRetries = 100

// Store implements memory.Store on Redis. Writes that depend on ownership
// run under WATCH on the conversation hash.
type Store struct {
	client *rds.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// Connect parses a redis:// URL, pings the server and returns a store.
func Connect(ctx context.Context, url, prefix string, ttl time.Duration) (*Store, error) {
	opts, err := rds.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	client := rds.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewStore(client, prefix, ttl), nil
}

// NewStore wraps client. A zero ttl keeps conversations forever.
func NewStore(client *rds.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) convKey(id string) string     { return fmt.Sprintf("%s:conv:%s", s.prefix, id) }
func (s *Store) messagesKey(id string) string { return fmt.Sprintf("%s:conv:%s:messages", s.prefix, id) }
func (s *Store) userKey(userID string) string { return fmt.Sprintf("%s:user:%s:convs", s.prefix, userID) }
func (s *Store) prefsKey(userID string) string { return fmt.Sprintf("%s:user:%s:prefs", s.prefix, userID) }
func (s *Store) activityKey() string          { return s.prefix + ":activity" }

// load reads a conversation hash through c and checks ownership
func (s *Store) load(ctx context.Context, c rds.Cmdable, id, userID string) (*memory.Conversation, error) {
	fields, err := c.HGetAll(ctx, s.convKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if len(fields) == 0 || fields["user_id"] != userID {
		return nil, memory.ErrNotFound
	}
	return decodeConversation(fields)
}

// watched runs fn as an optimistic transaction on key, retrying while other
// clients keep modifying it.
func (s *Store) watched(ctx context.Context, key string, fn func(tx *rds.Tx) error) error {
	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, fn, key)
		if err != rds.TxFailedErr {
			return err
		}
	}
	return fmt.Errorf("%s: %w", key, rds.TxFailedErr)
}

func decodeConversation(fields map[string]string) (*memory.Conversation, error) {
	created, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt conversation %s: %w", fields["id"], err)
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt conversation %s: %w", fields["id"], err)
	}
	return &memory.Conversation{
		ID:        fields["id"],
		UserID:    fields["user_id"],
		Title:     fields["title"],
		CreatedAt: time.Unix(0, created).UTC(),
		UpdatedAt: time.Unix(0, updated).UTC(),
	}, nil
}

// touch records activity on a conversation inside pipe
func (s *Store) touch(ctx context.Context, pipe rds.Pipeliner, conv *memory.Conversation, now time.Time) error {
	score, err := s.client.Incr(ctx, s.activityKey()).Result()
	if err != nil {
		return fmt.Errorf("activity counter: %w", err)
	}
	pipe.HSet(ctx, s.convKey(conv.ID), "updated_at", now.UnixNano())
	pipe.ZAdd(ctx, s.userKey(conv.UserID), rds.Z{Score: float64(score), Member: conv.ID})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.convKey(conv.ID), s.ttl)
		pipe.Expire(ctx, s.messagesKey(conv.ID), s.ttl)
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

	_, err := s.client.TxPipelined(ctx, func(pipe rds.Pipeliner) error {
		pipe.HSet(ctx, s.convKey(conv.ID),
			"id", conv.ID,
			"user_id", conv.UserID,
			"title", conv.Title,
			"created_at", now.UnixNano(),
		)
		return s.touch(ctx, pipe, conv, now)
	})
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation implements memory.Store
func (s *Store) GetConversation(ctx context.Context, conversationID, userID string) (*memory.Conversation, error) {
	return s.load(ctx, s.client, conversationID, userID)
}

// GetConversationHistory implements memory.Store
func (s *Store) GetConversationHistory(ctx context.Context, conversationID, userID string, limit int) ([]memory.Message, error) {
	if _, err := s.load(ctx, s.client, conversationID, userID); err != nil {
		return nil, err
	}

	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	vals, err := s.client.LRange(ctx, s.messagesKey(conversationID), start, -1).Result()
	if err != nil && !errors.Is(err, rds.Nil) {
		return nil, fmt.Errorf("get history: %w", err)
	}

	msgs := make([]memory.Message, 0, len(vals))
	for _, v := range vals {
		var m memory.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		msgs = append(msgs, m)
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

	var msg *memory.Message
	err := s.watched(ctx, s.convKey(conversationID), func(tx *rds.Tx) error {
		conv, err := s.load(ctx, tx, conversationID, userID)
		if err != nil {
			return err
		}

		now := s.now()
		msg = &memory.Message{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			UserID:         userID,
			Role:           role,
			Content:        content,
			Model:          model,
			CreatedAt:      now,
		}
		b, err := json.Marshal(msg)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe rds.Pipeliner) error {
			pipe.RPush(ctx, s.messagesKey(conversationID), b)
			return s.touch(ctx, pipe, conv, now)
		})
		return err
	})
	if errors.Is(err, memory.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("add message: %w", err)
	}
	return msg, nil
}

// GetUserConversations implements memory.Store
func (s *Store) GetUserConversations(ctx context.Context, userID string) ([]memory.Summary, error) {
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	type pending struct {
		conv  *rds.MapStringStringCmd
		count *rds.IntCmd
		last  *rds.StringCmd
	}
	cmds := make([]pending, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe rds.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pending{
				conv:  pipe.HGetAll(ctx, s.convKey(id)),
				count: pipe.LLen(ctx, s.messagesKey(id)),
				last:  pipe.LIndex(ctx, s.messagesKey(id), -1),
			}
		}
		return nil
	})
	// LIndex on an empty list yields rds.Nil
	if err != nil && !errors.Is(err, rds.Nil) {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]memory.Summary, 0, len(ids))
	var stale []any
	for i, id := range ids {
		fields := cmds[i].conv.Val()
		if len(fields) == 0 {
			// expired or deleted elsewhere
			stale = append(stale, id)
			continue
		}
		conv, err := decodeConversation(fields)
		if err != nil {
			return nil, err
		}
		sum := memory.Summary{
			ID:           conv.ID,
			Title:        conv.Title,
			Timestamp:    conv.UpdatedAt,
			MessageCount: int(cmds[i].count.Val()),
		}
		if raw, err := cmds[i].last.Result(); err == nil {
			var m memory.Message
			if json.Unmarshal([]byte(raw), &m) == nil {
				sum.LastMessage = m.Content
			}
		}
		out = append(out, sum)
	}
	if len(stale) > 0 {
		_ = s.client.ZRem(ctx, s.userKey(userID), stale...).Err()
	}
	return out, nil
}

// UpdateConversationTitle implements memory.Store
func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID, userID, title string) error {
	err := s.watched(ctx, s.convKey(conversationID), func(tx *rds.Tx) error {
		conv, err := s.load(ctx, tx, conversationID, userID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe rds.Pipeliner) error {
			pipe.HSet(ctx, s.convKey(conversationID), "title", title)
			return s.touch(ctx, pipe, conv, s.now())
		})
		return err
	})
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		return fmt.Errorf("rename conversation: %w", err)
	}
	return err
}

// DeleteConversation implements memory.Store
func (s *Store) DeleteConversation(ctx context.Context, conversationID, userID string) error {
	err := s.watched(ctx, s.convKey(conversationID), func(tx *rds.Tx) error {
		if _, err := s.load(ctx, tx, conversationID, userID); err != nil {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe rds.Pipeliner) error {
			s.remove(ctx, pipe, conversationID, userID)
			return nil
		})
		return err
	})
	if err != nil && !errors.Is(err, memory.ErrNotFound) {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return err
}

// remove queues the deletion of a conversation's keys and index entry
func (s *Store) remove(ctx context.Context, pipe rds.Pipeliner, conversationID, userID string) *rds.IntCmd {
	deleted := pipe.Del(ctx, s.convKey(conversationID))
	pipe.Del(ctx, s.messagesKey(conversationID))
	pipe.ZRem(ctx, s.userKey(userID), conversationID)
	return deleted
}

// CleanupConversations implements memory.Store
func (s *Store) CleanupConversations(ctx context.Context, userID string, keep int) (int, error) {
	if keep < 0 {
		return 0, memory.ErrInvalidKeep
	}
	ids, err := s.client.ZRevRange(ctx, s.userKey(userID), int64(keep), -1).Result()
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted := make([]*rds.IntCmd, len(ids))
	_, err = s.client.TxPipelined(ctx, func(pipe rds.Pipeliner) error {
		for i, id := range ids {
			deleted[i] = s.remove(ctx, pipe, id, userID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cleanup conversations: %w", err)
	}

	// expired entries were only stale index members
	n := 0
	for _, cmd := range deleted {
		if cmd.Val() > 0 {
			n++
		}
	}
	return n, nil
}

// GetPreferences implements memory.Store
func (s *Store) GetPreferences(ctx context.Context, userID string) (*memory.Preferences, error) {
	fields, err := s.client.HGetAll(ctx, s.prefsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get preferences: %w", err)
	}
	return decodePreferences(userID, fields)
}

// UpdatePreferences implements memory.Store
func (s *Store) UpdatePreferences(ctx context.Context, userID string, update memory.PreferencesUpdate) (*memory.Preferences, error) {
	key := s.prefsKey(userID)
	var prefs memory.Preferences
	err := s.watched(ctx, key, func(tx *rds.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		current, err := decodePreferences(userID, fields)
		if err != nil {
			return err
		}
		now := s.now()
		prefs = update.Apply(*current)
		prefs.UpdatedAt = now

		// every field is written so the hash never holds a partial record
		_, err = tx.TxPipelined(ctx, func(pipe rds.Pipeliner) error {
			pipe.HSet(ctx, key,
				"default_model", prefs.DefaultModel,
				"theme", prefs.Theme,
				"language", prefs.Language,
				"updated_at", now.UnixNano(),
			)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return &prefs, nil
}

func decodePreferences(userID string, fields map[string]string) (*memory.Preferences, error) {
	p := memory.DefaultPreferences(userID)
	if len(fields) == 0 {
		return &p, nil
	}
	updated, err := strconv.ParseInt(fields["updated_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt preferences for %s: %w", userID, err)
	}
	p.DefaultModel = fields["default_model"]
	p.Theme = fields["theme"]
	p.Language = fields["language"]
	p.UpdatedAt = time.Unix(0, updated).UTC()
	return &p, nil
}

// Close implements memory.Store
func (s *Store) Close() error {
	return s.client.Close()
}

var _ memory.Store = (*Store)(nil)
