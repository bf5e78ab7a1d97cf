package application

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/safehome/internal/persistence"
	"github.com/example/safehome/internal/testfixtures"
)

const timerWait = 2 * time.Second

type intrusionFixture struct {
	core   *Core
	clock  *testfixtures.Clock
	calls  *testfixtures.CallRecorder
	alerts *testfixtures.AlertRecorder
	sensor SensorStatus
}

// newIntrusionFixture returns a running core, armed AWAY with one door
// sensor. The poll interval is long enough that only explicit Poll calls
// detect anything.
func newIntrusionFixture(t *testing.T) intrusionFixture {
	t.Helper()
	ctx := context.Background()
	calls := &testfixtures.CallRecorder{}
	alerts := &testfixtures.AlertRecorder{}
	core, clk := newClockedCore(t, Options{Monitor: calls, Notifier: alerts, PollInterval: 24 * time.Hour})

	door, err := core.AddSensor(ctx, adminPrincipal, SensorWinDoor, "Back door", nil)
	if err != nil {
		t.Fatalf("AddSensor failed: %v", err)
	}
	if err := core.SetModeSensors(ctx, adminPrincipal, ModeAway, []int{door.ID}); err != nil {
		t.Fatalf("SetModeSensors failed: %v", err)
	}
	if err := core.Arm(ctx, ModeAway); err != nil {
		t.Fatalf("Arm failed: %v", err)
	}
	core.TurnOn(ctx)
	if !clk.WaitForTimers(1, timerWait) {
		t.Fatalf("poller did not start")
	}
	return intrusionFixture{core: core, clock: clk, calls: calls, alerts: alerts, sensor: door}
}

// detect triggers the sensor, runs one poll and waits for the entry-delay
// timer to be registered.
func (f intrusionFixture) detect(t *testing.T) {
	t.Helper()
	if err := f.core.TriggerSensor(f.sensor.ID); err != nil {
		t.Fatalf("TriggerSensor failed: %v", err)
	}
	f.core.pipeline.Poll(context.Background())
	if !f.clock.WaitForTimers(2, timerWait) {
		t.Fatalf("entry delay was not scheduled")
	}
}

func TestIntrusionPipeline(t *testing.T) {
	t.Parallel()

	t.Run("alarm after the entry delay", func(t *testing.T) {
		t.Parallel()
		f := newIntrusionFixture(t)
		f.detect(t)

		f.clock.Advance(DefaultEntryDelay - time.Second)
		if f.core.AlarmActive() {
			t.Fatalf("alarm must wait for the full entry delay")
		}
		f.clock.Advance(time.Second)
		f.core.pipeline.Wait()

		if !f.core.AlarmActive() {
			t.Fatalf("expected alarm after entry delay")
		}
		calls := f.calls.Calls()
		if len(calls) != 1 || calls[0].Phone != DefaultMonitorPhone || calls[0].SensorID != f.sensor.ID {
			t.Fatalf("unexpected monitoring calls %+v", calls)
		}
		alerts := f.alerts.Alerts()
		if len(alerts) != 1 || alerts[0].Subject != "SafeHome intrusion" || !strings.Contains(alerts[0].Body, "Back door") {
			t.Fatalf("unexpected alerts %+v", alerts)
		}
		entries, err := f.core.Events(context.Background(), persistence.EventFilter{
			Levels:   []string{string(LevelAlarm)},
			SensorID: &f.sensor.ID,
		})
		if err != nil || len(entries) != 1 || !strings.Contains(entries[0].Message, "INTRUSION DETECTED at sensor") {
			t.Fatalf("expected one ALARM event for the sensor, got %+v (%v)", entries, err)
		}
		unseen, err := f.core.UnseenAlarms(context.Background(), 10)
		if err != nil || len(unseen) != 1 {
			t.Fatalf("expected one unseen alarm, got %+v (%v)", unseen, err)
		}
		if err := f.core.MarkEventsSeen(context.Background(), []int64{unseen[0].ID}); err != nil {
			t.Fatalf("MarkEventsSeen failed: %v", err)
		}
		if unseen, _ = f.core.UnseenAlarms(context.Background(), 10); len(unseen) != 0 {
			t.Fatalf("expected no unseen alarms, got %+v", unseen)
		}

		f.clock.Advance(DefaultAlarmDuration)
		if !waitUntil(t, timerWait, func() bool { return !f.core.AlarmActive() }) {
			t.Fatalf("expected alarm to stop after its duration")
		}
	})

	t.Run("disarm during the entry delay cancels the alarm", func(t *testing.T) {
		t.Parallel()
		f := newIntrusionFixture(t)
		f.detect(t)

		if err := f.core.Disarm(context.Background()); err != nil {
			t.Fatalf("Disarm failed: %v", err)
		}
		f.clock.Advance(DefaultEntryDelay)
		f.core.pipeline.Wait()

		if f.core.AlarmActive() || len(f.calls.Calls()) != 0 {
			t.Fatalf("disarm must prevent the alarm")
		}
	})

	t.Run("released sensor cancels the alarm", func(t *testing.T) {
		t.Parallel()
		f := newIntrusionFixture(t)
		f.detect(t)

		_ = f.core.ReleaseSensor(f.sensor.ID)
		f.clock.Advance(DefaultEntryDelay)
		f.core.pipeline.Wait()
		if f.core.AlarmActive() {
			t.Fatalf("a sensor that stopped detecting must not ring the alarm")
		}
	})

	t.Run("turning off renders delays inert", func(t *testing.T) {
		t.Parallel()
		f := newIntrusionFixture(t)
		f.detect(t)

		f.core.TurnOff(context.Background())
		f.clock.Advance(DefaultEntryDelay)
		f.core.pipeline.Wait()
		if f.core.AlarmActive() {
			t.Fatalf("a stopped system must not ring the alarm")
		}
	})

	t.Run("repeated polls schedule one delay per sensor", func(t *testing.T) {
		t.Parallel()
		f := newIntrusionFixture(t)
		f.detect(t)
		f.core.pipeline.Poll(context.Background())
		f.core.pipeline.Poll(context.Background())

		if got := f.clock.Pending(); got != 2 {
			t.Fatalf("expected poller timer plus one entry delay, got %d timers", got)
		}
		entries, _ := f.core.Events(context.Background(), persistence.EventFilter{Levels: []string{string(LevelWarning)}})
		if len(entries) != 1 {
			t.Fatalf("expected one detection warning, got %+v", entries)
		}
	})

	t.Run("shutdown releases pending delays", func(t *testing.T) {
		t.Parallel()
		f := newIntrusionFixture(t)
		f.detect(t)

		done := make(chan error, 1)
		go func() { done <- f.core.Shutdown(context.Background()) }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Shutdown failed: %v", err)
			}
		case <-time.After(timerWait):
			t.Fatalf("Shutdown blocked on a pending entry delay")
		}
		if f.core.AlarmActive() || len(f.calls.Calls()) != 0 {
			t.Fatalf("shutdown must not ring the alarm")
		}
	})

	t.Run("disarm and re-arm discard detections from before the disarm", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		calls := &testfixtures.CallRecorder{}
		core, clk := newClockedCore(t, Options{Monitor: calls, PollInterval: 24 * time.Hour})

		hall, err := core.AddSensor(ctx, adminPrincipal, SensorMotion, "Hall", nil)
		if err != nil {
			t.Fatalf("AddSensor failed: %v", err)
		}
		if err := core.SetModeSensors(ctx, adminPrincipal, ModeAway, []int{hall.ID}); err != nil {
			t.Fatalf("SetModeSensors failed: %v", err)
		}
		if err := core.Arm(ctx, ModeAway); err != nil {
			t.Fatalf("Arm failed: %v", err)
		}
		core.TurnOn(ctx)
		if !clk.WaitForTimers(1, timerWait) {
			t.Fatalf("poller did not start")
		}
		if err := core.TriggerSensor(hall.ID); err != nil {
			t.Fatalf("TriggerSensor failed: %v", err)
		}
		core.pipeline.Poll(ctx)
		if !clk.WaitForTimers(2, timerWait) {
			t.Fatalf("entry delay was not scheduled")
		}

		clk.Advance(DefaultEntryDelay - time.Second)
		if err := core.Disarm(ctx); err != nil {
			t.Fatalf("Disarm failed: %v", err)
		}
		if err := core.Arm(ctx, ModeAway); err != nil {
			t.Fatalf("re-Arm failed: %v", err)
		}
		clk.Advance(time.Second)
		core.pipeline.Wait()

		if core.AlarmActive() || len(calls.Calls()) != 0 {
			t.Fatalf("stale detection rang the alarm: active=%v calls=%+v", core.AlarmActive(), calls.Calls())
		}

		// The motion sensor still reads a detection under the new arming, so
		// a fresh poll must start a fresh delay.
		core.pipeline.Poll(ctx)
		if !clk.WaitForTimers(2, timerWait) {
			t.Fatalf("fresh entry delay was not scheduled")
		}
		clk.Advance(DefaultEntryDelay)
		core.pipeline.Wait()
		if !core.AlarmActive() || len(calls.Calls()) != 1 {
			t.Fatalf("expected the fresh detection to ring the alarm, calls=%+v", calls.Calls())
		}
	})

	t.Run("disarming the sensor alone cancels its delay", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		f := newIntrusionFixture(t)
		f.detect(t)

		if err := f.core.sensors.Disarm(ctx, f.sensor.ID); err != nil {
			t.Fatalf("sensor Disarm failed: %v", err)
		}
		if err := f.core.sensors.Arm(ctx, f.sensor.ID); err != nil {
			t.Fatalf("sensor Arm failed: %v", err)
		}
		f.clock.Advance(DefaultEntryDelay)
		f.core.pipeline.Wait()
		if f.core.AlarmActive() {
			t.Fatalf("a detection from before the sensor was disarmed must not ring the alarm")
		}
	})

	t.Run("failed monitoring call is logged", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		core, _ := newClockedCore(t, Options{Monitor: failingMonitor{}})
		door, _ := core.AddSensor(ctx, adminPrincipal, SensorWinDoor, "Door", nil)
		core.pipeline.TriggerAlarm(ctx, door.ID)
		core.pipeline.TriggerAlarm(ctx, door.ID)

		if !findEvent(t, core, LevelError, "Monitoring call to 911 failed") {
			t.Fatalf("expected ERROR event for the failed call")
		}
		entries, _ := core.Events(ctx, persistence.EventFilter{Levels: []string{string(LevelAlarm)}})
		if len(entries) != 1 {
			t.Fatalf("duplicate trigger must be suppressed, got %+v", entries)
		}
	})
}

type failingMonitor struct{}

func (failingMonitor) Call(context.Context, string, int) error {
	return errors.New("line busy")
}
