//go:build integration

package store

import (
	"context"
	"os"
	"testing"
)

// Run with: DATABASE_URL=postgres://... go test -tags integration ./internal/store
func TestPostgresStore(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()

	pool, err := OpenPostgres(ctx, dbURL)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	runStoreSuite(t, func(t *testing.T) Store {
		if _, err := pool.Exec(ctx, `TRUNCATE profiles, transactions RESTART IDENTITY`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
