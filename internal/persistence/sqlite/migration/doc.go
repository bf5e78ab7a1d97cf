// Package migration applies versioned SQL migrations to a SQLite database.
//
// Migration files follow the naming convention {version}_{description}.sql
// (for example "001_initial_schema.sql") and are read from an fs.FS, which is
// usually an embed.FS compiled into the binary. Applied versions are tracked
// in the schema_migrations table so each file runs exactly once.
//
//	manager := NewManager(NewScanner(files, "migrations"), NewSQLiteExecutor(db), logger)
//	if err := manager.Run(ctx); err != nil {
//		return err
//	}
package migration
