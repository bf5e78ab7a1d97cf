package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/safehome/internal/application"
	"github.com/example/safehome/internal/persistence"
)

const defaultEventPageSize = 50

type securityService interface {
	Status() application.Status
	Arm(ctx context.Context, mode application.Mode) error
	Disarm(ctx context.Context) error
	Panic(ctx context.Context)
	ChangePassword(ctx context.Context, old, newCredential string, iface application.Interface) error
	Events(ctx context.Context, filter persistence.EventFilter) ([]persistence.EventLogEntry, error)
	ViewCamera(ctx context.Context, id int, password string) (application.Frame, error)
}

// SecurityHandler serves the arming, status, history and camera routes.
type SecurityHandler struct {
	service   securityService
	responder responder
	logger    *slog.Logger
}

func NewSecurityHandler(service securityService, logger *slog.Logger) *SecurityHandler {
	base := defaultLogger(logger)
	return &SecurityHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *SecurityHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "SecurityHandler", operation, attrs...)
}

func (h *SecurityHandler) ready(w http.ResponseWriter) bool {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *SecurityHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toStatusDTO(h.service.Status()))
}

func (h *SecurityHandler) Arm(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	var req armRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "Arm", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode arm request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "Arm", "mode", req.Mode)

	mode, err := application.ParseMode(req.Mode)
	if err == nil && !mode.Armable() {
		err = fmt.Errorf("%w: mode %s cannot be armed", application.ErrBadFormat, mode)
	}
	if err == nil {
		err = h.service.Arm(r.Context(), mode)
	}
	if err != nil {
		logger.WarnContext(r.Context(), "arming refused", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "armed from web")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toStatusDTO(h.service.Status()))
}

func (h *SecurityHandler) Disarm(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	logger := h.log(r.Context(), "Disarm")
	if err := h.service.Disarm(r.Context()); err != nil {
		logger.ErrorContext(r.Context(), "disarm failed", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "disarmed from web")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *SecurityHandler) Panic(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	h.service.Panic(r.Context())
	h.log(r.Context(), "Panic").WarnContext(r.Context(), "panic raised from web")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// ChangePassword replaces both web passwords. The current pair comes from the
// request headers that already authenticated the call.
func (h *SecurityHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	old, ok := webCredential(r)
	if !ok {
		h.responder.writeError(r.Context(), w, http.StatusUnauthorized, errMissingPassword)
		return
	}

	var req passwordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log(r.Context(), "ChangePassword", "error_kind", "bad_request").ErrorContext(r.Context(), "failed to decode password request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	logger := h.log(r.Context(), "ChangePassword")
	if err := h.service.ChangePassword(r.Context(), old, req.Password1+":"+req.Password2, application.InterfaceWeb); err != nil {
		logger.WarnContext(r.Context(), "password change refused", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "web passwords changed")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *SecurityHandler) Events(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		h.log(r.Context(), "Events", "error_kind", "bad_request").WarnContext(r.Context(), "invalid event query", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	entries, err := h.service.Events(r.Context(), filter)
	if err != nil {
		h.log(r.Context(), "Events").ErrorContext(r.Context(), "failed to list events", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := eventsResponse{Events: make([]eventDTO, 0, len(entries))}
	for _, entry := range entries {
		resp.Events = append(resp.Events, toEventDTO(entry))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

// ViewCamera writes the current frame of the camera named in the path.
func (h *SecurityHandler) ViewCamera(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}

	id, ok := CameraIDFromContext(r.Context())
	if !ok || id <= 0 {
		h.log(r.Context(), "ViewCamera", "error_kind", "bad_request").ErrorContext(r.Context(), "missing camera id")
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidCameraID)
		return
	}

	logger := h.log(r.Context(), "ViewCamera", "camera_id", id)
	frame, err := h.service.ViewCamera(r.Context(), id, r.Header.Get(headerCameraPassword))
	if err != nil {
		logger.WarnContext(r.Context(), "camera view refused", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	contentType := frame.ContentType
	if contentType == "" {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Camera-Pan", strconv.Itoa(frame.Pan))
	w.Header().Set("X-Camera-Tilt", strconv.Itoa(frame.Tilt))
	w.Header().Set("X-Camera-Zoom", strconv.Itoa(frame.Zoom))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame.Data); err != nil {
		logger.ErrorContext(r.Context(), "failed to write camera frame", "error", err)
	}
}

func parseEventFilter(r *http.Request) (persistence.EventFilter, error) {
	query := r.URL.Query()
	filter := persistence.EventFilter{Limit: defaultEventPageSize}

	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, fmt.Errorf("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	for _, raw := range query["level"] {
		level := strings.ToUpper(strings.TrimSpace(raw))
		switch application.Level(level) {
		case application.LevelInfo, application.LevelWarning, application.LevelAlarm, application.LevelError:
			filter.Levels = append(filter.Levels, level)
		default:
			return filter, fmt.Errorf("unknown level %q", raw)
		}
	}
	filter.UnseenOnly = query.Get("unseen") == "true"
	return filter, nil
}

type armRequest struct {
	Mode string `json:"mode"`
}

type passwordRequest struct {
	Password1 string `json:"password_1"`
	Password2 string `json:"password_2"`
}

type statusDTO struct {
	Running          bool   `json:"running"`
	Locked           bool   `json:"locked"`
	Mode             string `json:"mode"`
	AlarmActive      bool   `json:"alarm_active"`
	NumSensors       int    `json:"num_sensors"`
	NumCameras       int    `json:"num_cameras"`
	NumActiveSensors int    `json:"num_active_sensors"`
}

func toStatusDTO(s application.Status) statusDTO {
	return statusDTO{
		Running:          s.Running,
		Locked:           s.Locked,
		Mode:             string(s.Mode),
		AlarmActive:      s.AlarmActive,
		NumSensors:       s.NumSensors,
		NumCameras:       s.NumCameras,
		NumActiveSensors: s.NumActiveSensors,
	}
}

type eventDTO struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"`
	Message   string    `json:"message"`
	SensorID  *int      `json:"sensor_id,omitempty"`
	CameraID  *int      `json:"camera_id,omitempty"`
	ZoneID    *int      `json:"zone_id,omitempty"`
	Seen      bool      `json:"seen"`
}

func toEventDTO(e persistence.EventLogEntry) eventDTO {
	return eventDTO{
		ID:        e.ID,
		Timestamp: e.Timestamp.UTC(),
		Level:     e.Level,
		Source:    e.Source,
		Message:   e.Message,
		SensorID:  e.SensorID,
		CameraID:  e.CameraID,
		ZoneID:    e.ZoneID,
		Seen:      e.Seen,
	}
}

type eventsResponse struct {
	Events []eventDTO `json:"events"`
}
