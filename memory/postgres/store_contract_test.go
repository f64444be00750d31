//go:build adapters_postgres

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/KamdynS/chatwithme/memory"
	"github.com/KamdynS/chatwithme/memory/memorytest"
)

func TestStoreContract_Postgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := Connect(ctx, dsn)
	if err != nil {
		t.Skipf("connect: %v", err)
	}
	defer s.Close()

	memorytest.RunStoreContract(t, func(t *testing.T) memory.Store {
		if _, err := s.pool.Exec(ctx, "TRUNCATE conversations CASCADE"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
