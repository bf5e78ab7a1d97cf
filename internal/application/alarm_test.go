package application

import (
	"context"
	"testing"
	"time"

	"github.com/example/safehome/internal/testfixtures"
)

func TestAlarm(t *testing.T) {
	t.Parallel()

	t.Run("ring is idempotent and expires", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		clk := testfixtures.NewClock(testfixtures.ReferenceTime())
		alarm := NewAlarm(clk, time.Minute, nil)

		if !alarm.Ring(ctx) {
			t.Fatalf("first ring must start the alarm")
		}
		if alarm.Ring(ctx) {
			t.Fatalf("second ring must be suppressed")
		}
		if clk.Pending() != 1 {
			t.Fatalf("expected a single expiry timer, got %d", clk.Pending())
		}
		clk.Advance(time.Minute)
		if !waitUntil(t, time.Second, func() bool { return !alarm.IsActive() }) {
			t.Fatalf("expected alarm to stop after its duration")
		}
	})

	t.Run("stop cancels the timer", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		clk := testfixtures.NewClock(testfixtures.ReferenceTime())
		alarm := NewAlarm(clk, time.Minute, nil)

		alarm.Ring(ctx)
		alarm.Stop(ctx)
		alarm.Stop(ctx)
		if alarm.IsActive() || clk.Pending() != 0 {
			t.Fatalf("expected silent alarm without timers")
		}
		alarm.Ring(ctx)
		if !alarm.IsActive() {
			t.Fatalf("expected alarm to ring again after stop")
		}
	})

	t.Run("stale expiry does not silence a new ring", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		clk := testfixtures.NewClock(testfixtures.ReferenceTime())
		alarm := NewAlarm(clk, time.Minute, nil)

		alarm.Ring(ctx)
		alarm.expire(0)
		if !alarm.IsActive() {
			t.Fatalf("an expiry from an older generation must be ignored")
		}
	})

	t.Run("zero duration rings until stopped", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		clk := testfixtures.NewClock(testfixtures.ReferenceTime())
		alarm := NewAlarm(clk, time.Minute, nil)
		alarm.SetDuration(0)

		alarm.Ring(ctx)
		clk.Advance(time.Hour)
		if !alarm.IsActive() || clk.Pending() != 0 {
			t.Fatalf("expected alarm ringing without a timer")
		}
		alarm.Stop(ctx)
		if alarm.IsActive() {
			t.Fatalf("expected alarm stopped")
		}
	})
}
