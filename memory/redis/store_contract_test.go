//go:build adapters_redis

package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/KamdynS/chatwithme/memory"
	"github.com/KamdynS/chatwithme/memory/memorytest"
)

func redisURL() string {
	if u := os.Getenv("REDIS_URL"); u != "" {
		return u
	}
	return "redis://localhost:6379/0"
}

func TestStoreContract_Redis(t *testing.T) {
	ctx := context.Background()
	ping, err := Connect(ctx, redisURL(), "ping", 0)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	_ = ping.Close()

	memorytest.RunStoreContract(t, func(t *testing.T) memory.Store {
		// a fresh prefix per subtest isolates keys without FLUSHDB
		s, err := Connect(ctx, redisURL(), "test-"+uuid.NewString(), time.Minute)
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestAddMessageRacingDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Connect(ctx, redisURL(), "test-"+uuid.NewString(), time.Minute)
	if err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer s.Close()

	for round := 0; round < 10; round++ {
		conv, err := s.CreateConversation(ctx, "u1", "race")
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := s.AddMessage(ctx, conv.ID, "u1", fmt.Sprintf("m%d", i), memory.RoleUser, "")
				if err != nil && !errors.Is(err, memory.ErrNotFound) {
					t.Errorf("add: %v", err)
				}
			}(i)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.DeleteConversation(ctx, conv.ID, "u1"); err != nil {
				t.Errorf("delete: %v", err)
			}
		}()
		wg.Wait()

		// nothing may be left behind once the conversation is gone
		n, err := s.client.Exists(ctx, s.convKey(conv.ID), s.messagesKey(conv.ID)).Result()
		if err != nil {
			t.Fatalf("exists: %v", err)
		}
		if n != 0 {
			t.Fatalf("round %d: %d orphaned keys after delete", round, n)
		}
		if _, err := s.client.ZScore(ctx, s.userKey("u1"), conv.ID).Result(); err == nil {
			t.Fatalf("round %d: deleted conversation still indexed", round)
		}
	}
}
