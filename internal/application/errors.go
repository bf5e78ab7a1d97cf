package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrNotReady is returned when arming is refused because doors or windows are open.
	ErrNotReady = errors.New("application: not ready")
	// ErrBadCredential is returned when a PIN or password does not match.
	ErrBadCredential = errors.New("application: bad credential")
	// ErrLocked is returned while an interface or camera is locked out.
	ErrLocked = errors.New("application: locked")
	// ErrBadFormat is returned for malformed input such as an unknown mode or a short web password.
	ErrBadFormat = errors.New("application: bad format")
	// ErrNotFound is returned when the requested zone, sensor or camera does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrPermissionDenied is returned when the acting principal lacks the admin role.
	ErrPermissionDenied = errors.New("application: permission denied")
	// ErrBoundaryReached is returned when a camera is already at its pan, tilt or zoom limit.
	ErrBoundaryReached = errors.New("application: boundary reached")
	// ErrNoBackingStore is returned when an operation needs the database but only the fallback file is available.
	ErrNoBackingStore = errors.New("application: no backing store")
	// ErrPersistenceFailure wraps unexpected store errors.
	ErrPersistenceFailure = errors.New("application: persistence failure")
	// ErrConfigInvalid is returned when settings fail validation.
	ErrConfigInvalid = errors.New("application: invalid configuration")
	// ErrAccessDenied is returned when a camera password is missing or wrong.
	ErrAccessDenied = errors.New("application: access denied")
	// ErrCameraDisabled is returned when a disabled camera is accessed.
	ErrCameraDisabled = errors.New("application: camera disabled")
	// ErrPanicActive is returned when arming is attempted during a panic alarm.
	ErrPanicActive = errors.New("application: panic active")
)

// NotReadyError lists the door and window sensors that blocked arming.
type NotReadyError struct {
	OpenSensors []int
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("application: not ready: windows/doors open (sensors %s)", joinIDs(e.OpenSensors))
}

// Is reports whether target is ErrNotReady.
func (e *NotReadyError) Is(target error) bool {
	return target == ErrNotReady
}

// LockedError identifies what is locked and until when.
type LockedError struct {
	Subject string
	Until   time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("application: %s locked until %s", e.Subject, e.Until.Format(time.RFC3339))
}

// Is reports whether target is ErrLocked.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	ID     int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("application: %s %d not found", e.Entity, e.ID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// PermissionDeniedError names the rejected role and action.
type PermissionDeniedError struct {
	Role   Role
	Action string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("application: role %q may not %s", e.Role, e.Action)
}

// Is reports whether target is ErrPermissionDenied.
func (e *PermissionDeniedError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// BoundaryError names the camera axis that is already at its limit.
type BoundaryError struct {
	Axis string
}

func (e *BoundaryError) Error() string {
	return fmt.Sprintf("application: %s limit reached", e.Axis)
}

// Is reports whether target is ErrBoundaryReached.
func (e *BoundaryError) Is(target error) bool {
	return target == ErrBoundaryReached
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field, msg := range v.FieldErrors {
		fields = append(fields, field+": "+msg)
	}
	sort.Strings(fields)
	return "validation failed: " + strings.Join(fields, "; ")
}

// Is reports whether target is ErrConfigInvalid.
func (v *ValidationError) Is(target error) bool {
	return target == ErrConfigInvalid
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
