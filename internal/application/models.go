package application

import (
	"fmt"
	"strings"
	"time"
)

// Mode is the arming state of the premises.
type Mode string

const (
	ModeDisarmed  Mode = "DISARMED"
	ModeHome      Mode = "HOME"
	ModeAway      Mode = "AWAY"
	ModeOvernight Mode = "OVERNIGHT"
	ModeExtended  Mode = "EXTENDED"
	ModePanic     Mode = "PANIC"
)

// ArmableModes lists the modes that select sensors through the mode mapping.
var ArmableModes = []Mode{ModeHome, ModeAway, ModeOvernight, ModeExtended}

// ParseMode resolves a mode name. The historical ARMED_AWAY and ARMED_STAY
// names map to AWAY and HOME.
func ParseMode(value string) (Mode, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "DISARMED":
		return ModeDisarmed, nil
	case "HOME", "ARMED_STAY":
		return ModeHome, nil
	case "AWAY", "ARMED_AWAY":
		return ModeAway, nil
	case "OVERNIGHT":
		return ModeOvernight, nil
	case "EXTENDED":
		return ModeExtended, nil
	case "PANIC":
		return ModePanic, nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrBadFormat, value)
}

// Armable reports whether m can be passed to Arm.
func (m Mode) Armable() bool {
	switch m {
	case ModeHome, ModeAway, ModeOvernight, ModeExtended:
		return true
	}
	return false
}

// Interface identifies where a login attempt came from.
type Interface string

const (
	InterfaceControlPanel Interface = "CONTROL_PANEL"
	InterfaceWeb          Interface = "WEB"
)

// ParseInterface resolves an interface name.
func ParseInterface(value string) (Interface, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(InterfaceControlPanel):
		return InterfaceControlPanel, nil
	case string(InterfaceWeb):
		return InterfaceWeb, nil
	}
	return "", fmt.Errorf("%w: unknown interface %q", ErrBadFormat, value)
}

// Role is the privilege level granted by a successful login.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleGuest Role = "guest"
)

// Principal is the authenticated caller of an operation.
type Principal struct {
	Role      Role
	Interface Interface
	Token     string
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// SystemPrincipal is used for operations the core performs on its own behalf.
var SystemPrincipal = Principal{Role: RoleAdmin}

// SensorKind distinguishes door/window contacts from motion detectors.
type SensorKind string

const (
	SensorWinDoor SensorKind = "WINDOOR"
	SensorMotion  SensorKind = "MOTION"
)

// ParseSensorKind resolves a sensor kind name.
func ParseSensorKind(value string) (SensorKind, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case string(SensorWinDoor):
		return SensorWinDoor, nil
	case string(SensorMotion):
		return SensorMotion, nil
	}
	return "", fmt.Errorf("%w: unknown sensor kind %q", ErrBadFormat, value)
}

// Level is the severity of an event log entry.
type Level string

const (
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelAlarm   Level = "ALARM"
	LevelError   Level = "ERROR"
)

// SensorStatus is a point-in-time view of a sensor.
type SensorStatus struct {
	ID        int
	Kind      SensorKind
	Location  string
	ZoneID    *int
	Active    bool
	Triggered bool
}

// CameraStatus is a point-in-time view of a camera.
type CameraStatus struct {
	ID             int
	Name           string
	Location       string
	HasPassword    bool
	Enabled        bool
	Locked         bool
	LockedUntil    time.Time
	FailedAttempts int
	Pan            int
	Tilt           int
	Zoom           int
}

// Frame is one rendered camera view.
type Frame struct {
	CameraID    int
	Pan         int
	Tilt        int
	Zoom        int
	ContentType string
	Data        []byte
	CapturedAt  time.Time
}

// Status summarises the system for displays and the HTTP gate.
type Status struct {
	Running          bool
	Locked           bool
	Mode             Mode
	AlarmActive      bool
	NumSensors       int
	NumCameras       int
	NumActiveSensors int
}
