package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/KamdynS/chatwithme/memory"
	"github.com/KamdynS/chatwithme/memory/memorytest"
)

func TestStoreContract_InMemory(t *testing.T) {
	memorytest.RunStoreContract(t, func(t *testing.T) memory.Store { return NewStore() })
}

func TestNewStore(t *testing.T) {
	store := NewStore()
	if store == nil {
		t.Fatal("NewStore() returned nil")
	}
	if store.convs == nil {
		t.Error("conversation map should be initialized")
	}
}

func TestStore_DefaultTitleUsesClock(t *testing.T) {
	store := NewStore()
	store.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	conv, err := store.CreateConversation(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if conv.Title != "New Chat 2025-01-02" {
		t.Errorf("unexpected default title %q", conv.Title)
	}
}

func TestStore_SameInstantOrdersByActivity(t *testing.T) {
	store := NewStore()
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()

	a, _ := store.CreateConversation(ctx, "u1", "a")
	b, _ := store.CreateConversation(ctx, "u1", "b")
	if _, err := store.AddMessage(ctx, a.ID, "u1", "bump", memory.RoleUser, ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	sums, err := store.GetUserConversations(ctx, "u1")
	if err != nil {
		t.Fatalf("summaries: %v", err)
	}
	if len(sums) != 2 || sums[0].ID != a.ID || sums[1].ID != b.ID {
		t.Fatalf("unexpected order: %+v", sums)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "u1", "t")
	_, _ = store.AddMessage(ctx, conv.ID, "u1", "original", memory.RoleUser, "")

	msgs, _ := store.GetMessages(ctx, conv.ID, "u1")
	msgs[0].Content = "mutated"
	conv.Title = "mutated"

	again, _ := store.GetMessages(ctx, conv.ID, "u1")
	if again[0].Content != "original" {
		t.Error("caller mutation leaked into the store")
	}
	got, _ := store.GetConversation(ctx, conv.ID, "u1")
	if got.Title != "t" {
		t.Error("caller mutation of conversation leaked into the store")
	}
}

func TestStore_ImplementsInterface(t *testing.T) {
	var _ memory.Store = NewStore()
}
