// Package postgres provides a PostgreSQL-backed [transcript.Archive] that
// mirrors session transcript entries into a transcript_entries table so past
// sessions can be queried after their text files rotate away.
//
// All operations share a single [pgxpool.Pool]. [New] runs [Migrate] on
// startup; the DDL is idempotent and safe to apply on every boot.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxlog/voxlog/internal/transcript"
)

// Compile-time interface check.
var _ transcript.Archive = (*Store)(nil)

// Store is the PostgreSQL transcript archive. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, and runs [Migrate] to ensure the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("transcript archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("transcript archive: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// WriteEntry implements [transcript.Archive]. It appends entry to the
// transcript_entries table under sessionID.
func (s *Store) WriteEntry(ctx context.Context, sessionID string, entry transcript.Entry) error {
	const q = `
		INSERT INTO transcript_entries
		    (session_id, speaker_id, speaker_name, text, timestamp)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q,
		sessionID,
		entry.SpeakerID,
		entry.SpeakerName,
		entry.Text,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("transcript archive: write entry: %w", err)
	}
	return nil
}

// SessionEntries returns all archived entries for sessionID ordered
// chronologically (oldest first).
func (s *Store) SessionEntries(ctx context.Context, sessionID string) ([]transcript.Entry, error) {
	const q = `
		SELECT speaker_id, speaker_name, text, timestamp
		FROM   transcript_entries
		WHERE  session_id = $1
		ORDER  BY timestamp, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("transcript archive: session entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcript.Entry, error) {
		var e transcript.Entry
		if err := row.Scan(&e.SpeakerID, &e.SpeakerName, &e.Text, &e.Timestamp); err != nil {
			return transcript.Entry{}, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript archive: scan rows: %w", err)
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	return entries, nil
}

// Ping verifies database connectivity. Used by the readiness endpoint.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("transcript archive: ping: %w", err)
	}
	return nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
