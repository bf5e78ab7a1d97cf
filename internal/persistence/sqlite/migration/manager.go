package migration

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
)

// Manager orchestrates scanning, validation and execution of migrations.
type Manager struct {
	source   Source
	executor Executor
	logger   *slog.Logger
}

// NewManager creates a Manager. A nil logger discards output.
func NewManager(source Source, executor Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{source: source, executor: executor, logger: logger.With("component", "migration")}
}

// Run applies every pending migration in version order. It stops at the
// first failure; migrations applied before it stay applied.
func (m *Manager) Run(ctx context.Context) error {
	status, err := m.Status(ctx)
	if err != nil {
		return err
	}

	if len(status.Pending) == 0 {
		m.logger.DebugContext(ctx, "schema up to date", "version", status.CurrentVersion)
		return nil
	}

	m.logger.InfoContext(ctx, "applying migrations",
		"current_version", status.CurrentVersion,
		"pending", len(status.Pending),
	)

	for _, migration := range status.Pending {
		if err := m.executor.ExecuteMigration(ctx, migration); err != nil {
			m.logger.ErrorContext(ctx, "migration failed",
				"version", migration.Version,
				"file", migration.FilePath,
				"error", err,
			)
			return NewMigrationError(migration.Version, migration.FilePath, "execute migration",
				fmt.Errorf("%w: %w", ErrMigrationFailed, err))
		}
		m.logger.InfoContext(ctx, "migration applied",
			"version", migration.Version,
			"description", migration.Description,
		)
	}

	return nil
}

// Status reports the current schema version and the migrations still pending.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.InitializeVersionTable(ctx); err != nil {
		return Status{}, fmt.Errorf("failed to initialize version table: %w", err)
	}

	available, err := m.source.Scan()
	if err != nil {
		return Status{}, fmt.Errorf("failed to scan migrations: %w", err)
	}

	applied, err := m.executor.AppliedVersions(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("failed to get applied versions: %w", err)
	}

	if err := validateSequence(available, applied); err != nil {
		return Status{}, fmt.Errorf("migration sequence validation failed: %w", err)
	}

	appliedByVersion := make(map[string]AppliedMigration, len(applied))
	for _, a := range applied {
		appliedByVersion[a.Version] = a
	}

	status := Status{Applied: applied}
	for _, migration := range available {
		record, ok := appliedByVersion[migration.Version]
		if !ok {
			status.Pending = append(status.Pending, migration)
			continue
		}
		if record.Checksum != "" && record.Checksum != migration.Checksum {
			m.logger.WarnContext(ctx, "applied migration changed on disk",
				"version", migration.Version,
				"error", ErrChecksumMismatch,
			)
		}
	}

	highest := -1
	for _, a := range applied {
		if v, err := strconv.Atoi(a.Version); err == nil && v > highest {
			highest = v
			status.CurrentVersion = a.Version
		}
	}

	return status, nil
}

// validateSequence rejects gaps among available versions and applied versions
// that no longer have a file.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	versions := make(map[int]bool, len(available))
	minVersion, maxVersion := 0, 0
	for i, migration := range available {
		v, err := strconv.Atoi(migration.Version)
		if err != nil {
			return NewMigrationError(migration.Version, migration.FilePath, "validate sequence",
				fmt.Errorf("%w: version '%s' is not numeric", ErrInvalidVersion, migration.Version))
		}
		versions[v] = true
		if i == 0 || v < minVersion {
			minVersion = v
		}
		if i == 0 || v > maxVersion {
			maxVersion = v
		}
	}

	if len(available) > 0 {
		for v := minVersion; v <= maxVersion; v++ {
			if !versions[v] {
				return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, v)
			}
		}
	}

	for _, a := range applied {
		v, err := strconv.Atoi(a.Version)
		if err != nil || !versions[v] {
			return fmt.Errorf("%w: applied migration %s not found in available migrations",
				ErrVersionConflict, a.Version)
		}
	}

	return nil
}
