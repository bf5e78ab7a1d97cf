package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/safehome/internal/persistence"
)

// Factory defaults kept bit-exact with existing installations.
const (
	DefaultMasterPIN      = "1234"
	DefaultGuestPIN       = "0000"
	DefaultWebPassword1   = "webpass1"
	DefaultWebPassword2   = "webpass2"
	DefaultEntryDelay     = 300 * time.Second
	DefaultExitDelay      = 45 * time.Second
	DefaultAlarmDuration  = 180 * time.Second
	DefaultLockTime       = 300 * time.Second
	DefaultCameraLockTime = 300 * time.Second
	DefaultMaxAttempts    = 3
	DefaultMonitorPhone   = "911"
)

// DefaultSettings returns the factory configuration.
func DefaultSettings() persistence.Settings {
	return persistence.Settings{
		MasterPIN:      DefaultMasterPIN,
		WebPassword1:   DefaultWebPassword1,
		WebPassword2:   DefaultWebPassword2,
		EntryDelay:     DefaultEntryDelay,
		ExitDelay:      DefaultExitDelay,
		AlarmDuration:  DefaultAlarmDuration,
		LockTime:       DefaultLockTime,
		CameraLockTime: DefaultCameraLockTime,
		MaxAttempts:    DefaultMaxAttempts,
		MonitorPhone:   DefaultMonitorPhone,
	}
}

// SettingsUpdate lists the fields to change. Nil fields are left untouched.
type SettingsUpdate struct {
	MasterPIN      *string
	GuestPIN       *string
	WebPassword1   *string
	WebPassword2   *string
	EntryDelay     *time.Duration
	ExitDelay      *time.Duration
	AlarmDuration  *time.Duration
	LockTime       *time.Duration
	CameraLockTime *time.Duration
	MaxAttempts    *int
	MonitorPhone   *string
	HomePhone      *string
	AlertEmail     *string
	SMTPHost       *string
	SMTPPort       *int
	SMTPUser       *string
	SMTPPassword   *string
}

func (u SettingsUpdate) apply(s *persistence.Settings) {
	setString(&s.MasterPIN, u.MasterPIN)
	setString(&s.GuestPIN, u.GuestPIN)
	setString(&s.WebPassword1, u.WebPassword1)
	setString(&s.WebPassword2, u.WebPassword2)
	setDuration(&s.EntryDelay, u.EntryDelay)
	setDuration(&s.ExitDelay, u.ExitDelay)
	setDuration(&s.AlarmDuration, u.AlarmDuration)
	setDuration(&s.LockTime, u.LockTime)
	setDuration(&s.CameraLockTime, u.CameraLockTime)
	if u.MaxAttempts != nil {
		s.MaxAttempts = *u.MaxAttempts
	}
	setString(&s.MonitorPhone, u.MonitorPhone)
	setString(&s.HomePhone, u.HomePhone)
	setString(&s.AlertEmail, u.AlertEmail)
	setString(&s.SMTPHost, u.SMTPHost)
	if u.SMTPPort != nil {
		s.SMTPPort = *u.SMTPPort
	}
	setString(&s.SMTPUser, u.SMTPUser)
	setString(&s.SMTPPassword, u.SMTPPassword)
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}

func validateSettings(s persistence.Settings) *ValidationError {
	vErr := &ValidationError{}
	if s.MasterPIN == "" {
		vErr.add("master_pin", "cannot be empty")
	}
	if s.WebPassword1 == "" || s.WebPassword2 == "" {
		vErr.add("web_password", "cannot be empty")
	}
	if s.MaxAttempts < 1 {
		vErr.add("max_attempts", "must be at least 1")
	}
	for field, d := range map[string]time.Duration{
		"entry_delay":      s.EntryDelay,
		"exit_delay":       s.ExitDelay,
		"alarm_duration":   s.AlarmDuration,
		"system_lock_time": s.LockTime,
		"camera_lock_time": s.CameraLockTime,
	} {
		if d < 0 {
			vErr.add(field, "cannot be negative")
		}
	}
	if s.SMTPPort < 0 || s.SMTPPort > 65535 {
		vErr.add("smtp_port", "must be between 0 and 65535")
	}
	return vErr
}

// SettingsRegistry owns the in-memory copy of the settings record and keeps
// it in step with the store.
type SettingsRegistry struct {
	repo   persistence.SettingsRepository
	alerts *alertHook
	events *EventLog
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	current persistence.Settings
}

// NewSettingsRegistry constructs a registry holding the factory defaults until Load runs.
func NewSettingsRegistry(repo persistence.SettingsRepository, alerts *alertHook, events *EventLog, now func() time.Time, logger *slog.Logger) *SettingsRegistry {
	if now == nil {
		now = time.Now
	}
	return &SettingsRegistry{
		repo:    repo,
		alerts:  alerts,
		events:  events,
		now:     now,
		logger:  defaultLogger(logger),
		current: DefaultSettings(),
	}
}

func (r *SettingsRegistry) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, r.logger, "SettingsRegistry", operation, attrs...)
}

// Get returns a snapshot of the current settings.
func (r *SettingsRegistry) Get() persistence.Settings {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Load reads settings from the store. When none exist yet the defaults are
// written so the next start finds them.
func (r *SettingsRegistry) Load(ctx context.Context) (err error) {
	logger := r.loggerWith(ctx, "Load")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to load settings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "settings loaded")
	}()

	loaded, getErr := r.repo.GetSettings(ctx)
	switch {
	case getErr == nil:
		if vErr := validateSettings(loaded); vErr.HasErrors() {
			logger.WarnContext(ctx, "stored settings invalid, using defaults", "error", vErr)
			loaded = DefaultSettings()
		}
		r.mu.Lock()
		r.current = loaded
		r.mu.Unlock()
		return nil
	case errors.Is(getErr, persistence.ErrNotFound):
		return r.Save(ctx)
	default:
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, getErr)
	}
}

// Save writes the current settings to the store.
func (r *SettingsRegistry) Save(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current.UpdatedAt = r.now()
	return storeError(r.repo.PutSettings(ctx, r.current))
}

// Update validates and applies upd on behalf of an administrator.
func (r *SettingsRegistry) Update(ctx context.Context, principal Principal, upd SettingsUpdate) (settings persistence.Settings, err error) {
	if r == nil {
		err = fmt.Errorf("SettingsRegistry is nil")
		return
	}

	logger := r.loggerWith(ctx, "Update", "role", principal.Role)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update settings", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "settings updated")
	}()

	if !principal.IsAdmin() {
		err = &PermissionDeniedError{Role: principal.Role, Action: "update settings"}
		r.events.Warning(ctx, "settings", "Settings update rejected for guest", EventRefs{})
		return
	}

	settings, err = r.mutate(ctx, upd.apply)
	return
}

// mutate applies fn to a copy, validates and persists it, then publishes
// it. A changed master PIN raises an alert and an INFO event.
func (r *SettingsRegistry) mutate(ctx context.Context, fn func(*persistence.Settings)) (persistence.Settings, error) {
	r.mu.Lock()
	previous := r.current
	next := previous
	fn(&next)

	if vErr := validateSettings(next); vErr.HasErrors() {
		r.mu.Unlock()
		return previous, vErr
	}

	next.UpdatedAt = r.now()
	if err := storeError(r.repo.PutSettings(ctx, next)); err != nil {
		r.mu.Unlock()
		return previous, err
	}
	r.current = next
	r.mu.Unlock()

	if next.MasterPIN != previous.MasterPIN {
		r.events.Info(ctx, "settings", "Master password changed", EventRefs{})
		r.alerts.send(ctx, next.AlertEmail, "SafeHome password changed",
			fmt.Sprintf("The control panel master password was changed at %s.", next.UpdatedAt.Format(time.RFC1123)))
	}
	return next, nil
}

// adopt replaces the in-memory record without persisting it.
func (r *SettingsRegistry) adopt(settings persistence.Settings) {
	r.mu.Lock()
	r.current = settings
	r.mu.Unlock()
}
