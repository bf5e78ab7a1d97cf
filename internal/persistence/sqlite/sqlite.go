package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/safehome/internal/persistence"
	"github.com/example/safehome/internal/persistence/sqlite/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// timestampLayout is fixed width so that stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Storage implements persistence.Store on top of SQLite.
//
// A Storage returned by Open talks to the connection pool directly. The
// Storage handed to a WithinTx callback is bound to that transaction; it
// must not be retained after the callback returns.
type Storage struct {
	pool   *ConnectionPool
	q      queryer
	inTx   bool
	mapper *ErrorMapper
	retry  *RetryHelper
	logger *slog.Logger
	now    func() time.Time
}

var _ persistence.Store = (*Storage)(nil)

// Option customises a Storage.
type Option func(*Storage)

// WithLogger sets the logger used for migrations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Storage) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the time source used for updated_at and seen_at columns.
func WithNow(now func() time.Time) Option {
	return func(s *Storage) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens the database file at path with the default configuration.
func Open(path string, opts ...Option) (*Storage, error) {
	return OpenConfig(migration.DefaultSQLiteConfig(path), opts...)
}

// OpenConfig opens a database using config.
func OpenConfig(config migration.SQLiteConfig, opts ...Option) (*Storage, error) {
	pool, err := NewConnectionPool(config)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		pool:   pool,
		q:      pool.DB(),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the connection pool. Closing a transaction-bound Storage is a no-op.
func (s *Storage) Close() error {
	if s == nil || s.inTx || s.pool == nil {
		return nil
	}
	return s.pool.Close()
}

// Migrate applies the embedded schema migrations.
func (s *Storage) Migrate(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("sqlite: storage is nil")
	}
	manager := migration.NewManager(
		migration.NewScanner(migrationFiles, "migrations"),
		migration.NewSQLiteExecutor(s.pool.DB()),
		s.logger,
	)
	if err := manager.Run(ctx); err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

// WithinTx runs fn inside a single transaction. Nested calls on a bound
// Storage reuse the outer transaction.
func (s *Storage) WithinTx(ctx context.Context, fn func(persistence.Store) error) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("sqlite: storage is nil")
	}
	if s.inTx {
		return fn(s)
	}
	return s.retry.WithRetry(ctx, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			return fn(s.bind(tx))
		})
	})
}

// Backup writes a consistent copy of the database to path, which must not exist.
func (s *Storage) Backup(ctx context.Context, path string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("sqlite: storage is nil")
	}
	if _, err := s.pool.DB().ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("sqlite: backup to %s: %w", path, s.mapper.MapError(err))
	}
	return nil
}

func (s *Storage) bind(tx *sql.Tx) *Storage {
	bound := *s
	bound.q = tx
	bound.inTx = true
	return &bound
}

// exec runs a write statement. Outside a transaction it takes the pool's
// writer lock so it cannot interleave with an open transaction.
func (s *Storage) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !s.inTx {
		s.pool.writeMu.Lock()
		defer s.pool.writeMu.Unlock()
	}
	result, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	return result, nil
}

func (s *Storage) execAffecting(ctx context.Context, query string, args ...any) error {
	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

// --- Helpers ---

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func durationFromSeconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	v := n.String
	return &v
}

func emptyAsNull(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
