package journal

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPostgresJournalLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	j, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}
	defer j.Close()

	if _, err := j.pool.Exec(ctx, `TRUNCATE escrow_records, escrow_events, escrow_counter`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	e := exercise(t, j)
	requireRestored(t, e, j)
}
