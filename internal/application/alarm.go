package application

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/safehome/internal/clock"
)

// Alarm is the siren. It rings for a bounded duration unless stopped
// earlier; a non-positive duration rings until Stop.
type Alarm struct {
	clock  clock.Clock
	logger *slog.Logger
	active atomic.Bool

	mu         sync.Mutex
	duration   time.Duration
	timer      clock.Timer
	generation uint64
}

// NewAlarm constructs a silent alarm.
func NewAlarm(c clock.Clock, duration time.Duration, logger *slog.Logger) *Alarm {
	return &Alarm{clock: clock.OrReal(c), duration: duration, logger: defaultLogger(logger)}
}

// SetDuration changes how long future rings last.
func (a *Alarm) SetDuration(d time.Duration) {
	a.mu.Lock()
	a.duration = d
	a.mu.Unlock()
}

// Ring starts the siren. It reports false when the alarm was already ringing.
func (a *Alarm) Ring(ctx context.Context) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.active.Load() {
		return false
	}
	a.active.Store(true)
	a.generation++
	gen := a.generation
	if a.duration > 0 {
		a.timer = a.clock.AfterFunc(a.duration, func() { a.expire(gen) })
	}
	serviceLogger(ctx, a.logger, "Alarm", "Ring").WarnContext(ctx, "alarm ringing", "duration", a.duration)
	return true
}

// Stop silences the siren immediately. Stopping a silent alarm does nothing.
func (a *Alarm) Stop(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active.Load() {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.active.Store(false)
	serviceLogger(ctx, a.logger, "Alarm", "Stop").InfoContext(ctx, "alarm stopped")
}

// IsActive reports whether the siren is ringing.
func (a *Alarm) IsActive() bool {
	return a.active.Load()
}

func (a *Alarm) expire(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.generation != gen || !a.active.Load() {
		return
	}
	a.timer = nil
	a.active.Store(false)
	a.logger.Info("alarm duration elapsed", "service", "Alarm")
}
