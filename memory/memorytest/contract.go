// Package memorytest holds the behavioural contract every memory.Store
// backend must satisfy. Backends call RunStoreContract from their own tests.
package memorytest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/KamdynS/chatwithme/memory"
)

// Factory returns a fresh, empty store. It is called once per subtest.
type Factory func(t *testing.T) memory.Store

// RunStoreContract exercises s against the memory.Store contract.
func RunStoreContract(t *testing.T, makeStore Factory) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, makeStore(t)) })
	t.Run("Ownership", func(t *testing.T) { testOwnership(t, makeStore(t)) })
	t.Run("MessageOrderAndLimit", func(t *testing.T) { testMessageOrder(t, makeStore(t)) })
	t.Run("InvalidRole", func(t *testing.T) { testInvalidRole(t, makeStore(t)) })
	t.Run("Summaries", func(t *testing.T) { testSummaries(t, makeStore(t)) })
	t.Run("RenameAndDelete", func(t *testing.T) { testRenameDelete(t, makeStore(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, makeStore(t)) })
	t.Run("Cleanup", func(t *testing.T) { testCleanup(t, makeStore(t)) })
	t.Run("Preferences", func(t *testing.T) { testPreferences(t, makeStore(t)) })
}

func testCreateAndGet(t *testing.T, s memory.Store) {
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "u1", "Trip planning")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.ID == "" || conv.UserID != "u1" || conv.Title != "Trip planning" {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	if conv.CreatedAt.IsZero() || conv.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", conv)
	}

	got, err := s.GetConversation(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != conv.ID || got.Title != conv.Title {
		t.Fatalf("want %+v got %+v", conv, got)
	}

	untitled, err := s.CreateConversation(ctx, "u1", "")
	if err != nil {
		t.Fatalf("create untitled: %v", err)
	}
	if untitled.Title == "" {
		t.Fatal("untitled conversation should get a default title")
	}

	if _, err := s.GetConversation(ctx, "does-not-exist", "u1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func testOwnership(t *testing.T, s memory.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "alice", "private")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AddMessage(ctx, conv.ID, "alice", "secret", memory.RoleUser, ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := s.GetConversation(ctx, conv.ID, "bob"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("get as other user: want ErrNotFound, got %v", err)
	}
	if _, err := s.GetConversationHistory(ctx, conv.ID, "bob", 10); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("history as other user: want ErrNotFound, got %v", err)
	}
	if _, err := s.GetMessages(ctx, conv.ID, "bob"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("messages as other user: want ErrNotFound, got %v", err)
	}
	if _, err := s.AddMessage(ctx, conv.ID, "bob", "hi", memory.RoleUser, ""); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("add as other user: want ErrNotFound, got %v", err)
	}
	if err := s.UpdateConversationTitle(ctx, conv.ID, "bob", "mine now"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("rename as other user: want ErrNotFound, got %v", err)
	}
	if err := s.DeleteConversation(ctx, conv.ID, "bob"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("delete as other user: want ErrNotFound, got %v", err)
	}

	summaries, err := s.GetUserConversations(ctx, "bob")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("bob should see no conversations, got %+v", summaries)
	}

	msgs, err := s.GetMessages(ctx, conv.ID, "alice")
	if err != nil || len(msgs) != 1 {
		t.Fatalf("owner messages: %v %+v", err, msgs)
	}
}

func testMessageOrder(t *testing.T, s memory.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "u1", "count")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 12; i++ {
		role, model := memory.RoleUser, ""
		if i%2 == 1 {
			role, model = memory.RoleAssistant, "fast"
		}
		m, err := s.AddMessage(ctx, conv.ID, "u1", fmt.Sprintf("m%02d", i), role, model)
		if err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
		if m.ID == "" || m.ConversationID != conv.ID || m.Role != role || m.Model != model {
			t.Fatalf("unexpected message: %+v", m)
		}
	}

	all, err := s.GetMessages(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(all) != 12 {
		t.Fatalf("want 12 messages got %d", len(all))
	}
	for i, m := range all {
		if m.Content != fmt.Sprintf("m%02d", i) {
			t.Fatalf("message %d out of order: %q", i, m.Content)
		}
	}
	if all[1].Model != "fast" || all[0].Model != "" {
		t.Fatalf("model not persisted: %+v %+v", all[0], all[1])
	}

	hist, err := s.GetConversationHistory(ctx, conv.ID, "u1", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 10 {
		t.Fatalf("want 10 history entries got %d", len(hist))
	}
	if hist[0].Content != "m02" || hist[9].Content != "m11" {
		t.Fatalf("history should be the last 10 oldest first, got %q..%q", hist[0].Content, hist[9].Content)
	}

	unbounded, err := s.GetConversationHistory(ctx, conv.ID, "u1", 0)
	if err != nil || len(unbounded) != 12 {
		t.Fatalf("unbounded history: %v len=%d", err, len(unbounded))
	}

	empty, err := s.CreateConversation(ctx, "u1", "empty")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	none, err := s.GetConversationHistory(ctx, empty.ID, "u1", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("empty history: %v %+v", err, none)
	}
}

func testInvalidRole(t *testing.T, s memory.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "u1", "roles")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AddMessage(ctx, conv.ID, "u1", "x", "system", ""); err == nil {
		t.Fatal("expected error for invalid role")
	}
	msgs, _ := s.GetMessages(ctx, conv.ID, "u1")
	if len(msgs) != 0 {
		t.Fatalf("invalid role must not persist, got %+v", msgs)
	}
}

func testSummaries(t *testing.T, s memory.Store) {
	ctx := context.Background()

	first, err := s.CreateConversation(ctx, "u1", "first")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pause()
	second, err := s.CreateConversation(ctx, "u1", "second")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	pause()
	if _, err := s.AddMessage(ctx, second.ID, "u1", "q", memory.RoleUser, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	pause()
	// Activity on the older conversation moves it to the top.
	if _, err := s.AddMessage(ctx, first.ID, "u1", "hello", memory.RoleUser, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	pause()
	if _, err := s.AddMessage(ctx, first.ID, "u1", "Hello! How can I assist you today?", memory.RoleAssistant, "fast"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := s.CreateConversation(ctx, "u2", "someone else"); err != nil {
		t.Fatalf("create: %v", err)
	}

	sums, err := s.GetUserConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("want 2 summaries got %d", len(sums))
	}
	if sums[0].ID != first.ID || sums[1].ID != second.ID {
		t.Fatalf("want most recent activity first, got %s then %s", sums[0].Title, sums[1].Title)
	}
	if sums[0].MessageCount != 2 || sums[0].LastMessage != "Hello! How can I assist you today?" {
		t.Fatalf("unexpected summary: %+v", sums[0])
	}
	if sums[1].MessageCount != 1 || sums[1].LastMessage != "q" {
		t.Fatalf("unexpected summary: %+v", sums[1])
	}
	if !sums[0].Timestamp.After(sums[1].Timestamp) {
		t.Fatalf("timestamps not ordered: %v <= %v", sums[0].Timestamp, sums[1].Timestamp)
	}

	none, err := s.GetUserConversations(ctx, "nobody")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("want none, got %+v", none)
	}
}

func testRenameDelete(t *testing.T, s memory.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "u1", "old")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AddMessage(ctx, conv.ID, "u1", "hi", memory.RoleUser, ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := s.UpdateConversationTitle(ctx, conv.ID, "u1", "new"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got, err := s.GetConversation(ctx, conv.ID, "u1")
	if err != nil || got.Title != "new" {
		t.Fatalf("rename not applied: %v %+v", err, got)
	}

	if err := s.DeleteConversation(ctx, conv.ID, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetConversation(ctx, conv.ID, "u1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("want ErrNotFound after delete, got %v", err)
	}
	if _, err := s.GetMessages(ctx, conv.ID, "u1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("messages should be gone, got %v", err)
	}
	if err := s.DeleteConversation(ctx, conv.ID, "u1"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("second delete: want ErrNotFound, got %v", err)
	}
	if err := s.UpdateConversationTitle(ctx, "missing", "u1", "x"); !errors.Is(err, memory.ErrNotFound) {
		t.Fatalf("rename missing: want ErrNotFound, got %v", err)
	}
}

func testConcurrentAppend(t *testing.T, s memory.Store) {
	ctx := context.Background()
	conv, err := s.CreateConversation(ctx, "u1", "busy")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.AddMessage(ctx, conv.ID, "u1", fmt.Sprintf("c%d", i), memory.RoleUser, ""); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent add: %v", err)
	}

	msgs, err := s.GetMessages(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != n {
		t.Fatalf("want %d messages got %d", n, len(msgs))
	}
	seen := make(map[string]bool, n)
	for _, m := range msgs {
		seen[m.Content] = true
	}
	if len(seen) != n {
		t.Fatalf("duplicate or lost messages: %d distinct", len(seen))
	}
}

func testCleanup(t *testing.T, s memory.Store) {
	ctx := context.Background()

	var convs []*memory.Conversation
	for i := 0; i < 4; i++ {
		c, err := s.CreateConversation(ctx, "u1", fmt.Sprintf("c%d", i))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if _, err := s.AddMessage(ctx, c.ID, "u1", "hi", memory.RoleUser, ""); err != nil {
			t.Fatalf("add: %v", err)
		}
		convs = append(convs, c)
		pause()
	}
	// the oldest conversation becomes the most recently active
	if _, err := s.AddMessage(ctx, convs[0].ID, "u1", "again", memory.RoleUser, ""); err != nil {
		t.Fatalf("add: %v", err)
	}
	other, err := s.CreateConversation(ctx, "u2", "not yours")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.CleanupConversations(ctx, "u1", -1); !errors.Is(err, memory.ErrInvalidKeep) {
		t.Fatalf("negative keep: want ErrInvalidKeep, got %v", err)
	}

	n, err := s.CleanupConversations(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Fatalf("want 2 removed, got %d", n)
	}

	sums, err := s.GetUserConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 || sums[0].ID != convs[0].ID || sums[1].ID != convs[3].ID {
		t.Fatalf("cleanup kept the wrong conversations: %+v", sums)
	}
	for _, gone := range []*memory.Conversation{convs[1], convs[2]} {
		if _, err := s.GetMessages(ctx, gone.ID, "u1"); !errors.Is(err, memory.ErrNotFound) {
			t.Fatalf("%s should be deleted, got %v", gone.Title, err)
		}
	}
	if _, err := s.GetConversation(ctx, other.ID, "u2"); err != nil {
		t.Fatalf("other user's conversation must survive: %v", err)
	}

	if n, err := s.CleanupConversations(ctx, "u1", 2); err != nil || n != 0 {
		t.Fatalf("second cleanup: n=%d err=%v", n, err)
	}
	if n, err := s.CleanupConversations(ctx, "nobody", 0); err != nil || n != 0 {
		t.Fatalf("cleanup for unknown user: n=%d err=%v", n, err)
	}
	if n, err := s.CleanupConversations(ctx, "u1", 0); err != nil || n != 2 {
		t.Fatalf("keep 0 should remove everything: n=%d err=%v", n, err)
	}
}

func testPreferences(t *testing.T, s memory.Store) {
	ctx := context.Background()

	p, err := s.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if *p != memory.DefaultPreferences("u1") {
		t.Fatalf("want defaults, got %+v", p)
	}

	model := "hosted"
	p, err = s.UpdatePreferences(ctx, "u1", memory.PreferencesUpdate{DefaultModel: &model})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if p.DefaultModel != "hosted" || p.Theme != memory.DefaultTheme || p.Language != memory.DefaultLanguage {
		t.Fatalf("first update should start from defaults: %+v", p)
	}
	if p.UpdatedAt.IsZero() {
		t.Fatal("updatedAt not set")
	}

	theme, lang := "light", "fr"
	if _, err := s.UpdatePreferences(ctx, "u1", memory.PreferencesUpdate{Theme: &theme, Language: &lang}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := s.GetPreferences(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserID != "u1" || got.DefaultModel != "hosted" || got.Theme != "light" || got.Language != "fr" {
		t.Fatalf("partial update not merged: %+v", got)
	}

	others, err := s.GetPreferences(ctx, "u2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if others.DefaultModel != "" || others.Theme != memory.DefaultTheme {
		t.Fatalf("preferences leaked across users: %+v", others)
	}
}

// Backends may store timestamps at microsecond precision.
func pause() { time.Sleep(5 * time.Millisecond) }
