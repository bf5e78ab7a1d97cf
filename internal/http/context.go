package http

import (
	"context"
	"log/slog"

	"github.com/example/safehome/internal/application"
	"github.com/example/safehome/internal/logging"
)

type contextKey string

const (
	principalContextKey contextKey = "principal"
	cameraIDContextKey  contextKey = "camera_id"
)

// ContextWithPrincipal returns a derived context containing the authenticated principal.
func ContextWithPrincipal(ctx context.Context, principal application.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}

// PrincipalFromContext extracts the authenticated principal from context if available.
func PrincipalFromContext(ctx context.Context) (application.Principal, bool) {
	principal, ok := ctx.Value(principalContextKey).(application.Principal)
	return principal, ok
}

// ContextWithCameraID injects the camera identifier resolved from the request path.
func ContextWithCameraID(ctx context.Context, cameraID int) context.Context {
	return context.WithValue(ctx, cameraIDContextKey, cameraID)
}

// CameraIDFromContext extracts a camera identifier previously associated with the context.
func CameraIDFromContext(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(cameraIDContextKey).(int)
	return id, ok
}

// ContextWithLogger attaches a request scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return logging.ContextWithLogger(ctx, logger)
}

// LoggerFromContext returns the request scoped logger, or nil.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx)
}
