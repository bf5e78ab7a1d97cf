package persistence

import "time"

// Settings is the singleton configuration row.
type Settings struct {
	MasterPIN      string
	GuestPIN       string
	WebPassword1   string
	WebPassword2   string
	EntryDelay     time.Duration
	ExitDelay      time.Duration
	AlarmDuration  time.Duration
	LockTime       time.Duration
	CameraLockTime time.Duration
	MaxAttempts    int
	MonitorPhone   string
	HomePhone      string
	AlertEmail     string
	SMTPHost       string
	SMTPPort       int
	SMTPUser       string
	SMTPPassword   string
	UpdatedAt      time.Time
}

// Zone groups sensors for selective arming.
type Zone struct {
	ID        int
	Name      string
	Armed     bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Sensor is a persisted sensor record. ZoneID is nil when the sensor is unassigned.
type Sensor struct {
	ID       int
	Kind     string
	Location string
	ZoneID   *int
	Active   bool
}

// Camera is a persisted camera record. Password is nil when the camera is open.
type Camera struct {
	ID       int
	Name     string
	Location string
	Password *string
	Enabled  bool
	Pan      int
	Tilt     int
	Zoom     int
}

// Mode is an arming mode persisted in the mode catalogue.
type Mode struct {
	ID          int
	Name        string
	Description string
}

// EventLogEntry is one row of the append-only event log.
type EventLogEntry struct {
	ID        int64
	Timestamp time.Time
	Level     string
	Source    string
	Message   string
	SensorID  *int
	CameraID  *int
	ZoneID    *int
	Seen      bool
}

// EventFilter narrows event log queries. Zero values disable a criterion.
type EventFilter struct {
	Levels     []string
	Source     string
	SensorID   *int
	CameraID   *int
	ZoneID     *int
	Since      *time.Time
	Until      *time.Time
	UnseenOnly bool
	Limit      int
	Offset     int
}

// LoginSession records a single authentication attempt.
type LoginSession struct {
	ID             int64
	Interface      string
	Username       string
	Successful     bool
	FailedAttempts int
	Token          string
	Timestamp      time.Time
}

// LoginSessionFilter narrows login history queries.
type LoginSessionFilter struct {
	Interface string
	Limit     int
}
