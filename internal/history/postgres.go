package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/document"
	"ingest/internal/report"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS ingest_schema_version (
    version INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS status_events (
    id BIGSERIAL PRIMARY KEY,
    stage TEXT NOT NULL,
    document_id TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_events_document ON status_events(document_id);
CREATE INDEX IF NOT EXISTS idx_status_events_recorded ON status_events(recorded_at);
CREATE INDEX IF NOT EXISTS idx_status_events_status ON status_events(status);`

// PostgresStore keeps status history in a shared Postgres database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and prepares the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// Close releases every pooled connection.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	var version int
	err = tx.QueryRow(ctx, "SELECT version FROM ingest_schema_version LIMIT 1").Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := tx.Exec(ctx, "INSERT INTO ingest_schema_version (version) VALUES ($1)", schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version != schemaVersion:
		return fmt.Errorf("%w: database has version %d, expected %d", ErrSchemaMismatch, version, schemaVersion)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record implements report.Recorder.
func (s *PostgresStore) Record(ctx context.Context, evt report.Event) error {
	entry := entryFromEvent(evt)
	if err := validateEntry(entry); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO status_events (stage, document_id, source, status, message, recorded_at)
         VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Stage, entry.DocumentID, entry.Source, string(entry.Status), entry.Message, entry.At,
	)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

// List implements Store.
func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query, args := buildListQuery(filter,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(t time.Time) any { return t },
	)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list status events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			status string
		)
		if err := rows.Scan(&e.ID, &e.Stage, &e.DocumentID, &e.Source, &status, &e.Message, &e.At); err != nil {
			return nil, fmt.Errorf("scan status event: %w", err)
		}
		e.Status = document.Status(status)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats implements Store.
func (s *PostgresStore) Stats(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.pool.Query(ctx, latestStatusQuery)
	if err != nil {
		return nil, fmt.Errorf("status stats: %w", err)
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status stats: %w", err)
		}
		out = append(out, StatusCount{Status: document.Status(status), Count: count})
	}
	return out, rows.Err()
}

// Prune implements Store.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM status_events WHERE recorded_at < $1", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune status events: %w", err)
	}
	return tag.RowsAffected(), nil
}
