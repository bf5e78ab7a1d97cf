package persistence

import "context"

// SettingsRepository stores the singleton settings row. GetSettings returns
// ErrNotFound until settings have been written once.
type SettingsRepository interface {
	GetSettings(ctx context.Context) (Settings, error)
	PutSettings(ctx context.Context, settings Settings) error
}

// ZoneRepository exposes CRUD operations for zones. CreateZone assigns an ID
// when the supplied one is zero. DeleteZone detaches member sensors.
type ZoneRepository interface {
	CreateZone(ctx context.Context, zone Zone) (Zone, error)
	UpdateZone(ctx context.Context, zone Zone) error
	GetZone(ctx context.Context, id int) (Zone, error)
	ListZones(ctx context.Context) ([]Zone, error)
	DeleteZone(ctx context.Context, id int) error
}

// SensorRepository exposes CRUD operations for sensors. DeleteSensor also
// removes the sensor from every mode mapping.
type SensorRepository interface {
	CreateSensor(ctx context.Context, sensor Sensor) error
	UpdateSensor(ctx context.Context, sensor Sensor) error
	GetSensor(ctx context.Context, id int) (Sensor, error)
	ListSensors(ctx context.Context) ([]Sensor, error)
	DeleteSensor(ctx context.Context, id int) error
}

// CameraRepository exposes CRUD operations for cameras.
type CameraRepository interface {
	CreateCamera(ctx context.Context, camera Camera) error
	UpdateCamera(ctx context.Context, camera Camera) error
	GetCamera(ctx context.Context, id int) (Camera, error)
	ListCameras(ctx context.Context) ([]Camera, error)
	DeleteCamera(ctx context.Context, id int) error
	ClearCameraPasswords(ctx context.Context) error
}

// ModeRepository stores the mode catalogue and the mode to sensor mapping.
type ModeRepository interface {
	ListModes(ctx context.Context) ([]Mode, error)
	SetModeSensors(ctx context.Context, mode string, sensorIDs []int) error
	GetModeSensors(ctx context.Context, mode string) ([]int, error)
}

// EventLogRepository stores event log entries and their seen markers.
// ListEvents returns newest entries first.
type EventLogRepository interface {
	AppendEvent(ctx context.Context, entry EventLogEntry) (EventLogEntry, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]EventLogEntry, error)
	MarkEventsSeen(ctx context.Context, ids []int64) error
	ClearEvents(ctx context.Context) error
}

// LoginSessionRepository stores authentication attempts in append order.
type LoginSessionRepository interface {
	AppendLoginSession(ctx context.Context, session LoginSession) (LoginSession, error)
	ListLoginSessions(ctx context.Context, filter LoginSessionFilter) ([]LoginSession, error)
}

// Store aggregates every repository behind a single backing database.
type Store interface {
	SettingsRepository
	ZoneRepository
	SensorRepository
	CameraRepository
	ModeRepository
	EventLogRepository
	LoginSessionRepository

	// WithinTx runs fn against a Store bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise,
	// including when fn panics. Reads through the bound Store observe its
	// own writes.
	WithinTx(ctx context.Context, fn func(Store) error) error
	Close() error
}
