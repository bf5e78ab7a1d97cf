package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrConstraintViolation is returned when a write breaks a schema constraint.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
	// ErrNoBackingStore is returned by stores that cannot hold the requested entity,
	// such as the settings-only JSON fallback.
	ErrNoBackingStore = errors.New("persistence: no backing store")
)
