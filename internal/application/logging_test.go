package application

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/example/safehome/internal/persistence"
)

func TestErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{&NotReadyError{OpenSensors: []int{1}}, "not_ready"},
		{ErrBadCredential, "bad_credential"},
		{&LockedError{Subject: "WEB", Until: time.Now()}, "locked"},
		{fmt.Errorf("wrapped: %w", ErrBadFormat), "bad_format"},
		{&NotFoundError{Entity: "zone", ID: 9}, "not_found"},
		{&PermissionDeniedError{Role: RoleGuest, Action: "reset"}, "permission_denied"},
		{&BoundaryError{Axis: "zoom"}, "boundary_reached"},
		{ErrNoBackingStore, "no_backing_store"},
		{storeError(errors.New("disk full")), "persistence_failure"},
		{&ValidationError{FieldErrors: map[string]string{"max_attempts": "must be at least 1"}}, "config_invalid"},
		{ErrAccessDenied, "access_denied"},
		{ErrCameraDisabled, "camera_disabled"},
		{ErrPanicActive, "panic_active"},
		{errors.New("boom"), "unexpected"},
	}
	for _, tc := range cases {
		if got := ErrorKind(tc.err); got != tc.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestStoreErrorTranslation(t *testing.T) {
	if err := storeError(persistence.ErrNoBackingStore); err != nil {
		t.Fatalf("fallback writes must be dropped, got %v", err)
	}
	if err := readError(persistence.ErrNoBackingStore); !errors.Is(err, ErrNoBackingStore) {
		t.Fatalf("expected ErrNoBackingStore, got %v", err)
	}
	cause := errors.New("disk full")
	err := storeError(cause)
	if !errors.Is(err, ErrPersistenceFailure) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped persistence failure, got %v", err)
	}
}

func TestTypedErrorMessages(t *testing.T) {
	err := &NotReadyError{OpenSensors: []int{2, 5}}
	if err.Error() != "application: not ready: windows/doors open (sensors 2, 5)" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	v := &ValidationError{}
	if v.HasErrors() {
		t.Fatal("empty validation error must not report errors")
	}
	v.add("b", "bad")
	v.add("a", "worse")
	if v.Error() != "validation failed: a: worse; b: bad" {
		t.Fatalf("unexpected message %q", v.Error())
	}
}
