package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlog/voxlog/internal/transcript"
	"github.com/voxlog/voxlog/internal/transcript/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOXLOG_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOXLOG_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOXLOG_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(cleanPool.Close)
	if _, err := cleanPool.Exec(ctx, "DROP TABLE IF EXISTS transcript_entries CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_WriteAndReadEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	entries := []transcript.Entry{
		{Timestamp: base, SpeakerID: "user-1", SpeakerName: "alice", Text: "first line"},
		{Timestamp: base.Add(2 * time.Second), SpeakerID: "user-2", SpeakerName: "bob", Text: "second line"},
		{Timestamp: base.Add(5 * time.Second), SpeakerID: "user-1", SpeakerName: "alice", Text: "third line"},
	}
	// Insert out of order; SessionEntries must sort by timestamp.
	for _, idx := range []int{2, 0, 1} {
		if err := store.WriteEntry(ctx, "rec-test-1", entries[idx]); err != nil {
			t.Fatalf("WriteEntry: %v", err)
		}
	}
	// An entry under a different session must not leak in.
	other := transcript.Entry{Timestamp: base, SpeakerID: "user-3", SpeakerName: "carol", Text: "other session"}
	if err := store.WriteEntry(ctx, "rec-test-2", other); err != nil {
		t.Fatalf("WriteEntry: %v", err)
	}

	got, err := store.SessionEntries(ctx, "rec-test-1")
	if err != nil {
		t.Fatalf("SessionEntries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	for i, want := range entries {
		if got[i].Text != want.Text || got[i].SpeakerName != want.SpeakerName {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want)
		}
	}
}

func TestStore_SessionEntriesEmpty(t *testing.T) {
	store := newTestStore(t)

	got, err := store.SessionEntries(context.Background(), "rec-missing")
	if err != nil {
		t.Fatalf("SessionEntries: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("entries = %d, want 0", len(got))
	}
}

func TestStore_Ping(t *testing.T) {
	store := newTestStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
