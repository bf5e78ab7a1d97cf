package migration

import (
	"context"
	"time"
)

// Migration is a single versioned SQL file.
type Migration struct {
	Version     string // numeric prefix, e.g. "001"
	Description string
	SQL         string
	FilePath    string
	Checksum    string // hex sha256 of SQL
}

// AppliedMigration is a row of the schema_migrations table.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}

// Status summarises applied and pending migrations.
type Status struct {
	CurrentVersion string
	Applied        []AppliedMigration
	Pending        []Migration
}

// Source lists the migrations available to the manager.
type Source interface {
	Scan() ([]Migration, error)
}

// Executor applies migrations and tracks which versions have run.
type Executor interface {
	InitializeVersionTable(ctx context.Context) error
	// ExecuteMigration runs the migration and records it in one transaction.
	ExecuteMigration(ctx context.Context, migration Migration) error
	AppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}
