package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/safehome/internal/clock"
	"github.com/example/safehome/internal/persistence"
)

// cameraLock tracks failed password attempts against one camera.
type cameraLock struct {
	failedAttempts int
	lockedUntil    time.Time
}

// AccessGuard centralises the admin-role check and the camera password
// policy: a camera opens when it is enabled, not locked out and the supplied
// password matches.
type AccessGuard struct {
	clock    clock.Clock
	settings *SettingsRegistry
	events   *EventLog
	logger   *slog.Logger
}

// NewAccessGuard constructs an AccessGuard.
func NewAccessGuard(c clock.Clock, settings *SettingsRegistry, events *EventLog, logger *slog.Logger) *AccessGuard {
	return &AccessGuard{clock: clock.OrReal(c), settings: settings, events: events, logger: defaultLogger(logger)}
}

// RequireAdmin rejects principals without the admin role and records a WARNING event.
func (g *AccessGuard) RequireAdmin(ctx context.Context, principal Principal, action string) error {
	if principal.IsAdmin() {
		return nil
	}
	g.events.Warning(ctx, "access", fmt.Sprintf("Permission denied: %s may not %s", roleLabel(principal.Role), action), EventRefs{})
	return &PermissionDeniedError{Role: principal.Role, Action: action}
}

// cameraLocked reports whether the lockout is in force, clearing it once
// it has expired.
func (g *AccessGuard) cameraLocked(l *cameraLock) bool {
	if l.lockedUntil.IsZero() {
		return false
	}
	if !g.clock.Now().Before(l.lockedUntil) {
		l.lockedUntil = time.Time{}
		l.failedAttempts = 0
		return false
	}
	return true
}

// authorizeCamera applies the camera policy. The caller holds the camera's lock.
func (g *AccessGuard) authorizeCamera(ctx context.Context, cam persistence.Camera, l *cameraLock, supplied string) error {
	if !cam.Enabled {
		return ErrCameraDisabled
	}
	if cam.Password == nil {
		return nil
	}
	return g.checkCameraPassword(ctx, cam, l, supplied)
}

// checkCameraPassword verifies supplied against the stored password,
// counting failures towards the lockout threshold.
func (g *AccessGuard) checkCameraPassword(ctx context.Context, cam persistence.Camera, l *cameraLock, supplied string) error {
	if g.cameraLocked(l) {
		return &LockedError{Subject: fmt.Sprintf("camera %d", cam.ID), Until: l.lockedUntil}
	}
	if cam.Password == nil || credentialMatches(*cam.Password, supplied) {
		l.failedAttempts = 0
		return nil
	}

	settings := g.settings.Get()
	l.failedAttempts++
	if l.failedAttempts >= settings.MaxAttempts {
		l.failedAttempts = settings.MaxAttempts
		l.lockedUntil = g.clock.Now().Add(settings.CameraLockTime)
		g.events.Warning(ctx, "camera",
			fmt.Sprintf("Camera %d locked after %d failed attempts", cam.ID, l.failedAttempts), CameraRef(cam.ID))
	} else {
		g.events.Warning(ctx, "camera", fmt.Sprintf("Access denied to camera %d", cam.ID), CameraRef(cam.ID))
	}
	return ErrAccessDenied
}

func roleLabel(role Role) string {
	if role == "" {
		return "anonymous"
	}
	return string(role)
}
