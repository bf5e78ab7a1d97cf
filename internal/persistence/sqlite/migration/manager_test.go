package migration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openTestDB(t *testing.T) *SQLiteExecutor {
	t.Helper()
	db, err := Open(DefaultSQLiteConfig(filepath.Join(t.TempDir(), "nested", "migrate.db")))
	if err != nil {
		t.Fatalf("Open returned error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteExecutor(db)
}

func TestManager_Run(t *testing.T) {
	ctx := context.Background()
	files := fstest.MapFS{
		"001_zones.sql": {Data: []byte("CREATE TABLE zones (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
		"002_seed.sql":  {Data: []byte("INSERT INTO zones (id, name) VALUES (1, 'Living Room');\nINSERT INTO zones (id, name) VALUES (2, 'Bedroom');")},
	}

	executor := openTestDB(t)
	manager := NewManager(NewScanner(files, "."), executor, nil)

	if err := manager.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	// Re-running is a no-op.
	if err := manager.Run(ctx); err != nil {
		t.Fatalf("second Run returned error: %v", err)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.CurrentVersion != "002" || len(status.Pending) != 0 || len(status.Applied) != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}

	var count int
	if err := executor.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM zones").Scan(&count); err != nil {
		t.Fatalf("count zones: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected seeded rows once, got %d", count)
	}
}

func TestManager_RunRollsBackFailedMigration(t *testing.T) {
	ctx := context.Background()
	files := fstest.MapFS{
		"001_ok.sql":     {Data: []byte("CREATE TABLE a (id INTEGER PRIMARY KEY);")},
		"002_broken.sql": {Data: []byte("INSERT INTO a (id) VALUES (1);\nINSERT INTO missing_table (id) VALUES (1);")},
	}

	executor := openTestDB(t)
	manager := NewManager(NewScanner(files, "."), executor, nil)

	err := manager.Run(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}

	var count int
	if err := executor.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM a").Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected failed migration to roll back, found %d rows", count)
	}

	applied, err := executor.AppliedVersions(ctx)
	if err != nil {
		t.Fatalf("AppliedVersions returned error: %v", err)
	}
	if len(applied) != 1 || applied[0].Version != "001" {
		t.Fatalf("unexpected applied versions: %+v", applied)
	}
}

func TestValidateSequence(t *testing.T) {
	t.Run("detects gaps", func(t *testing.T) {
		available := []Migration{{Version: "001"}, {Version: "003"}}
		if err := validateSequence(available, nil); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("detects applied versions without files", func(t *testing.T) {
		available := []Migration{{Version: "001"}}
		applied := []AppliedMigration{{Version: "001"}, {Version: "002"}}
		if err := validateSequence(available, applied); !errors.Is(err, ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("accepts a continuous sequence", func(t *testing.T) {
		available := []Migration{{Version: "001"}, {Version: "002"}}
		if err := validateSequence(available, []AppliedMigration{{Version: "001"}}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}
