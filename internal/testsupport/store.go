package testsupport

import (
	"context"
	"path/filepath"
	"testing"

	"ingest/internal/history"
)

// MustOpenStore opens a SQLite history store in a temp dir and closes it on cleanup.
func MustOpenStore(t testing.TB) *history.SQLiteStore {
	t.Helper()

	store, err := history.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}
