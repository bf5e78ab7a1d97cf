package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/safehome/internal/persistence/sqlite"
)

// SQLiteHarness wraps a migrated SQLite store living in a temporary file.
type SQLiteHarness struct {
	Store *sqlite.Storage
	Path  string

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness opens and migrates a store in tb.TempDir. Callers may
// invoke Close early; a cleanup callback is registered either way.
func NewSQLiteHarness(tb testing.TB, opts ...sqlite.Option) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "safehome.db")

	storage, err := sqlite.Open(path, opts...)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}

	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}

	harness := &SQLiteHarness{
		Store: storage,
		Path:  path,
		cleanup: func() {
			_ = storage.Close()
		},
	}

	tb.Cleanup(harness.Close)
	return harness
}
