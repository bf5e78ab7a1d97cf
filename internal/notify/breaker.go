package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the breaker rejects deliveries.
var ErrCircuitOpen = errors.New("notify: circuit open")

// BreakerSettings tunes BreakerNotifier.
type BreakerSettings struct {
	Name string
	// MaxFailures consecutive failures open the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before a trial delivery.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns settings suited to an SMTP relay.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{Name: "alert-email", MaxFailures: 3, OpenTimeout: time.Minute}
}

// BreakerNotifier stops hammering a failing Sender. While the circuit is
// open, alerts fail fast with ErrCircuitOpen.
type BreakerNotifier struct {
	next Sender
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerNotifier wraps next with a circuit breaker.
func NewBreakerNotifier(next Sender, settings BreakerSettings, logger *slog.Logger) *BreakerNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.MaxFailures == 0 {
		settings.MaxFailures = 1
	}
	logger = logger.With("component", "notify", "breaker", settings.Name)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("alert delivery circuit changed state", "from", from.String(), "to", to.String())
		},
	})
	return &BreakerNotifier{next: next, cb: cb}
}

// SendAlert forwards to the wrapped Sender through the breaker. A missing
// recipient is a caller error and does not count against the relay.
func (b *BreakerNotifier) SendAlert(ctx context.Context, to, subject, body string) error {
	if to == "" {
		return ErrNoRecipient
	}
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.SendAlert(ctx, to, subject, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

// State reports the breaker state ("closed", "open" or "half-open").
func (b *BreakerNotifier) State() string {
	return b.cb.State().String()
}
