package application

import (
	"context"
	"log/slog"

	"github.com/example/safehome/internal/device"
)

// Notifier delivers an alert message, typically by email.
type Notifier interface {
	SendAlert(ctx context.Context, to, subject, body string) error
}

// MonitoringNotifier dials the monitoring service about a tripped sensor.
type MonitoringNotifier interface {
	Call(ctx context.Context, phone string, sensorID int) error
}

// SensorDevice is the hardware leaf behind a sensor.
type SensorDevice interface {
	Arm()
	Disarm()
	Armed() bool
	Trigger()
	Release()
	// Triggered reports the physical state regardless of arming.
	Triggered() bool
	// Read reports a detection: armed and triggered.
	Read() bool
	Close()
}

// CameraView renders frames for a camera position.
type CameraView interface {
	Frame(pan, tilt, zoom int) ([]byte, error)
	Close()
}

// SensorFactory builds the leaf for a new or reloaded sensor.
type SensorFactory func(kind SensorKind) SensorDevice

// CameraFactory builds the view producer for a new or reloaded camera.
type CameraFactory func(name string) CameraView

// SimulatedSensors builds simulated sensor leaves.
func SimulatedSensors(kind SensorKind) SensorDevice {
	if kind == SensorMotion {
		return device.NewMotionSensor()
	}
	return device.NewWinDoorSensor()
}

// SimulatedCameras builds simulated camera views.
func SimulatedCameras(name string) CameraView {
	return device.NewCamera(name)
}

// alertHook sends best-effort alerts. Delivery failures are logged and
// swallowed.
type alertHook struct {
	notifier Notifier
	logger   *slog.Logger
}

func newAlertHook(notifier Notifier, logger *slog.Logger) *alertHook {
	return &alertHook{notifier: notifier, logger: defaultLogger(logger)}
}

func (h *alertHook) send(ctx context.Context, to, subject, body string) bool {
	if h == nil || h.notifier == nil {
		return false
	}
	logger := serviceLogger(ctx, h.logger, "Notifier", "SendAlert", "subject", subject, "recipient_set", to != "")
	if err := h.notifier.SendAlert(ctx, to, subject, body); err != nil {
		logger.WarnContext(ctx, "failed to send alert", "error", err)
		return false
	}
	logger.InfoContext(ctx, "alert sent")
	return true
}
