package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/safehome/internal/logging"
	"github.com/example/safehome/internal/persistence"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// ErrorKind maps sentinel and validation errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case errors.Is(err, ErrBadCredential):
		return "bad_credential"
	case errors.Is(err, ErrLocked):
		return "locked"
	case errors.Is(err, ErrBadFormat):
		return "bad_format"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrBoundaryReached):
		return "boundary_reached"
	case errors.Is(err, ErrNoBackingStore):
		return "no_backing_store"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, ErrConfigInvalid):
		return "config_invalid"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrCameraDisabled):
		return "camera_disabled"
	case errors.Is(err, ErrPanicActive):
		return "panic_active"
	}
	return "unexpected"
}

// storeError translates a repository error. Writes the fallback store cannot
// hold are dropped so the core keeps running in memory.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNoBackingStore):
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
}

// readError translates a repository error on a read path, keeping
// ErrNoBackingStore visible to the caller.
func readError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNoBackingStore):
		return ErrNoBackingStore
	default:
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
}
