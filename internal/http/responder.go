package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/safehome/internal/application"
)

var (
	errBadRequestBody  = errors.New("request body is malformed")
	errInvalidCameraID = errors.New("camera id must be a positive integer")
	errMissingPassword = errors.New("X-Password-1 and X-Password-2 are required")
)

type responder struct {
	logger *slog.Logger
	now    func() time.Time
}

func newResponder(logger *slog.Logger) responder {
	if logger == nil {
		logger = slog.Default()
	}
	return responder{logger: logger, now: time.Now}
}

func (r responder) writeJSON(ctx context.Context, w http.ResponseWriter, status int, payload any) {
	if w == nil {
		return
	}

	if status == http.StatusNoContent || payload == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.loggerFor(ctx).ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (r responder) writeError(ctx context.Context, w http.ResponseWriter, status int, err error) {
	message := statusMessage(status)
	if err != nil {
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			message = msg
		}
		r.loggerFor(ctx).ErrorContext(ctx, "request failed", "status", status, "error", err)
	}

	r.writeJSON(ctx, w, status, errorResponse{Message: message})
}

func (r responder) handleServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		r.writeError(ctx, w, http.StatusInternalServerError, errors.New("unknown error"))
		return
	}

	kind := strings.ToUpper(application.ErrorKind(err))

	var (
		notReady *application.NotReadyError
		locked   *application.LockedError
		vErr     *application.ValidationError
	)
	switch {
	case errors.As(err, &notReady):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{
			ErrorCode:   kind,
			Message:     "windows or doors are open",
			OpenSensors: notReady.OpenSensors,
		})
	case errors.As(err, &locked):
		if wait := locked.Until.Sub(r.now()); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(wait.Round(time.Second)/time.Second)))
		}
		r.writeJSON(ctx, w, http.StatusLocked, errorResponse{ErrorCode: kind, Message: "locked after too many failed attempts"})
	case errors.As(err, &vErr):
		r.writeJSON(ctx, w, http.StatusUnprocessableEntity, errorResponse{
			ErrorCode: kind,
			Message:   "settings are invalid",
			Errors:    vErr.FieldErrors,
		})
	case errors.Is(err, application.ErrBadCredential):
		r.writeJSON(ctx, w, http.StatusUnauthorized, errorResponse{ErrorCode: kind, Message: "wrong password"})
	case errors.Is(err, application.ErrBadFormat):
		r.writeJSON(ctx, w, http.StatusBadRequest, errorResponse{ErrorCode: kind, Message: trimPrefix(err)})
	case errors.Is(err, application.ErrPermissionDenied):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{ErrorCode: kind, Message: "operation requires the master role"})
	case errors.Is(err, application.ErrAccessDenied):
		r.writeJSON(ctx, w, http.StatusForbidden, errorResponse{ErrorCode: kind, Message: "camera password required"})
	case errors.Is(err, application.ErrNotFound):
		r.writeJSON(ctx, w, http.StatusNotFound, errorResponse{ErrorCode: kind, Message: trimPrefix(err)})
	case errors.Is(err, application.ErrCameraDisabled),
		errors.Is(err, application.ErrPanicActive),
		errors.Is(err, application.ErrBoundaryReached):
		r.writeJSON(ctx, w, http.StatusConflict, errorResponse{ErrorCode: kind, Message: trimPrefix(err)})
	case errors.Is(err, application.ErrNoBackingStore):
		r.writeJSON(ctx, w, http.StatusServiceUnavailable, errorResponse{ErrorCode: kind, Message: "history is unavailable without the database"})
	default:
		r.writeJSON(ctx, w, http.StatusInternalServerError, errorResponse{Message: statusMessage(http.StatusInternalServerError)})
	}
}

func (r responder) loggerFor(ctx context.Context) *slog.Logger {
	if logger := LoggerFromContext(ctx); logger != nil {
		return logger
	}
	return r.logger
}

// trimPrefix drops the package prefix the application errors carry.
func trimPrefix(err error) string {
	return strings.TrimPrefix(err.Error(), "application: ")
}

func statusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "the request is malformed"
	case http.StatusUnauthorized:
		return "authentication required"
	case http.StatusForbidden:
		return "operation not permitted"
	case http.StatusNotFound:
		return "resource not found"
	case http.StatusConflict:
		return "request conflicts with the current system state"
	case http.StatusLocked:
		return "locked after too many failed attempts"
	default:
		return "internal server error"
	}
}

type errorResponse struct {
	ErrorCode   string            `json:"error_code,omitempty"`
	Message     string            `json:"message"`
	Errors      map[string]string `json:"errors,omitempty"`
	OpenSensors []int             `json:"open_sensors,omitempty"`
}
