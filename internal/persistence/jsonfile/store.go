// Package jsonfile is the fallback store used when no database is available.
// It persists Settings to a single JSON document; every other repository
// operation fails with persistence.ErrNoBackingStore.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/example/safehome/internal/persistence"
)

// document is the on-disk layout. Durations are stored in seconds.
type document struct {
	MasterPIN      string  `json:"master_pin"`
	GuestPIN       string  `json:"guest_pin,omitempty"`
	WebPassword1   string  `json:"web_pw1"`
	WebPassword2   string  `json:"web_pw2"`
	EntryDelay     float64 `json:"entry_delay"`
	ExitDelay      float64 `json:"exit_delay"`
	AlarmDuration  float64 `json:"alarm_duration"`
	LockTime       float64 `json:"system_lock_time"`
	CameraLockTime float64 `json:"camera_lock_time"`
	MaxAttempts    int     `json:"max_attempts"`
	MonitorPhone   string  `json:"monitor_phone"`
	HomePhone      string  `json:"home_phone,omitempty"`
	AlertEmail     string  `json:"alert_email,omitempty"`
	SMTPHost       string  `json:"smtp_host,omitempty"`
	SMTPPort       int     `json:"smtp_port,omitempty"`
	SMTPUser       string  `json:"smtp_user,omitempty"`
	SMTPPassword   string  `json:"smtp_pwd,omitempty"`
	UpdatedAt      string  `json:"updated_at,omitempty"`
}

// Store implements persistence.Store over a JSON settings file.
type Store struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

var _ persistence.Store = (*Store)(nil)

// Open prepares a Store writing to path. The file itself is created on the
// first PutSettings.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("jsonfile: path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create directory: %w", err)
	}
	return &Store{path: path, now: time.Now}, nil
}

// Path returns the settings file location.
func (s *Store) Path() string {
	return s.path
}

// GetSettings reads the settings document. Unknown fields are ignored.
func (s *Store) GetSettings(ctx context.Context) (persistence.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.Settings{}, persistence.ErrNotFound
		}
		return persistence.Settings{}, fmt.Errorf("jsonfile: read settings: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return persistence.Settings{}, fmt.Errorf("jsonfile: decode settings: %w", err)
	}

	settings := persistence.Settings{
		MasterPIN:      doc.MasterPIN,
		GuestPIN:       doc.GuestPIN,
		WebPassword1:   doc.WebPassword1,
		WebPassword2:   doc.WebPassword2,
		EntryDelay:     fromSeconds(doc.EntryDelay),
		ExitDelay:      fromSeconds(doc.ExitDelay),
		AlarmDuration:  fromSeconds(doc.AlarmDuration),
		LockTime:       fromSeconds(doc.LockTime),
		CameraLockTime: fromSeconds(doc.CameraLockTime),
		MaxAttempts:    doc.MaxAttempts,
		MonitorPhone:   doc.MonitorPhone,
		HomePhone:      doc.HomePhone,
		AlertEmail:     doc.AlertEmail,
		SMTPHost:       doc.SMTPHost,
		SMTPPort:       doc.SMTPPort,
		SMTPUser:       doc.SMTPUser,
		SMTPPassword:   doc.SMTPPassword,
	}
	if doc.UpdatedAt != "" {
		if settings.UpdatedAt, err = time.Parse(time.RFC3339Nano, doc.UpdatedAt); err != nil {
			return persistence.Settings{}, fmt.Errorf("jsonfile: parse updated_at: %w", err)
		}
	}
	return settings, nil
}

// PutSettings replaces the settings document atomically.
func (s *Store) PutSettings(ctx context.Context, settings persistence.Settings) error {
	if settings.MaxAttempts < 1 {
		return persistence.ErrConstraintViolation
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = s.now()
	}

	doc := document{
		MasterPIN:      settings.MasterPIN,
		GuestPIN:       settings.GuestPIN,
		WebPassword1:   settings.WebPassword1,
		WebPassword2:   settings.WebPassword2,
		EntryDelay:     settings.EntryDelay.Seconds(),
		ExitDelay:      settings.ExitDelay.Seconds(),
		AlarmDuration:  settings.AlarmDuration.Seconds(),
		LockTime:       settings.LockTime.Seconds(),
		CameraLockTime: settings.CameraLockTime.Seconds(),
		MaxAttempts:    settings.MaxAttempts,
		MonitorPhone:   settings.MonitorPhone,
		HomePhone:      settings.HomePhone,
		AlertEmail:     settings.AlertEmail,
		SMTPHost:       settings.SMTPHost,
		SMTPPort:       settings.SMTPPort,
		SMTPUser:       settings.SMTPUser,
		SMTPPassword:   settings.SMTPPassword,
		UpdatedAt:      settings.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode settings: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("jsonfile: write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("jsonfile: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("jsonfile: replace settings: %w", err)
	}
	return nil
}

// WithinTx runs fn against the store itself. Settings writes are atomic on
// their own; nothing else can be written.
func (s *Store) WithinTx(ctx context.Context, fn func(persistence.Store) error) error {
	return fn(s)
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func fromSeconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}

func (s *Store) CreateZone(context.Context, persistence.Zone) (persistence.Zone, error) {
	return persistence.Zone{}, persistence.ErrNoBackingStore
}

func (s *Store) UpdateZone(context.Context, persistence.Zone) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) GetZone(context.Context, int) (persistence.Zone, error) {
	return persistence.Zone{}, persistence.ErrNoBackingStore
}

func (s *Store) ListZones(context.Context) ([]persistence.Zone, error) {
	return nil, persistence.ErrNoBackingStore
}

func (s *Store) DeleteZone(context.Context, int) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) CreateSensor(context.Context, persistence.Sensor) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) UpdateSensor(context.Context, persistence.Sensor) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) GetSensor(context.Context, int) (persistence.Sensor, error) {
	return persistence.Sensor{}, persistence.ErrNoBackingStore
}

func (s *Store) ListSensors(context.Context) ([]persistence.Sensor, error) {
	return nil, persistence.ErrNoBackingStore
}

func (s *Store) DeleteSensor(context.Context, int) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) CreateCamera(context.Context, persistence.Camera) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) UpdateCamera(context.Context, persistence.Camera) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) GetCamera(context.Context, int) (persistence.Camera, error) {
	return persistence.Camera{}, persistence.ErrNoBackingStore
}

func (s *Store) ListCameras(context.Context) ([]persistence.Camera, error) {
	return nil, persistence.ErrNoBackingStore
}

func (s *Store) DeleteCamera(context.Context, int) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) ClearCameraPasswords(context.Context) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) ListModes(context.Context) ([]persistence.Mode, error) {
	return nil, persistence.ErrNoBackingStore
}

func (s *Store) SetModeSensors(context.Context, string, []int) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) GetModeSensors(context.Context, string) ([]int, error) {
	return nil, persistence.ErrNoBackingStore
}

func (s *Store) AppendEvent(context.Context, persistence.EventLogEntry) (persistence.EventLogEntry, error) {
	return persistence.EventLogEntry{}, persistence.ErrNoBackingStore
}

func (s *Store) ListEvents(context.Context, persistence.EventFilter) ([]persistence.EventLogEntry, error) {
	return nil, persistence.ErrNoBackingStore
}

func (s *Store) MarkEventsSeen(context.Context, []int64) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) ClearEvents(context.Context) error {
	return persistence.ErrNoBackingStore
}

func (s *Store) AppendLoginSession(context.Context, persistence.LoginSession) (persistence.LoginSession, error) {
	return persistence.LoginSession{}, persistence.ErrNoBackingStore
}

func (s *Store) ListLoginSessions(context.Context, persistence.LoginSessionFilter) ([]persistence.LoginSession, error) {
	return nil, persistence.ErrNoBackingStore
}
