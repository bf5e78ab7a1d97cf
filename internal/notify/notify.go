// Package notify delivers alerts raised by the security core to the outside
// world: operator email, the monitoring service dial-out, or just the log.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoRecipient is returned when an alert has nowhere to go.
var ErrNoRecipient = errors.New("notify: no recipient")

// Sender delivers a single alert message.
type Sender interface {
	SendAlert(ctx context.Context, to, subject, body string) error
}

// LogNotifier writes alerts to a logger instead of delivering them.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger.With("component", "notify")}
}

// SendAlert logs the alert and always succeeds.
func (n *LogNotifier) SendAlert(ctx context.Context, to, subject, body string) error {
	n.logger.InfoContext(ctx, "alert", "to", to, "subject", subject, "body", body)
	return nil
}

// LogMonitor stands in for the monitoring-service telephone link.
type LogMonitor struct {
	logger *slog.Logger
}

// NewLogMonitor returns a LogMonitor. A nil logger uses slog.Default.
func NewLogMonitor(logger *slog.Logger) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMonitor{logger: logger.With("component", "monitoring")}
}

// Call records a dial-out to phone about the given sensor.
func (m *LogMonitor) Call(ctx context.Context, phone string, sensorID int) error {
	if phone == "" {
		return ErrNoRecipient
	}
	m.logger.WarnContext(ctx, "dialing monitoring service", "phone", phone, "sensor_id", sensorID)
	return nil
}
