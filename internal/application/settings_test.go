package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/safehome/internal/persistence"
	"github.com/example/safehome/internal/testfixtures"
)

func newSettingsFixture(t *testing.T) (*SettingsRegistry, *testfixtures.AlertRecorder, *testfixtures.SQLiteHarness) {
	t.Helper()
	harness := testfixtures.NewSQLiteHarness(t)
	alerts := &testfixtures.AlertRecorder{}
	events := NewEventLog(harness.Store, nil, testfixtures.ReferenceTime, nil)
	registry := NewSettingsRegistry(harness.Store, newAlertHook(alerts, nil), events, testfixtures.ReferenceTime, nil)
	if err := registry.Load(context.Background()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return registry, alerts, harness
}

func TestSettingsRegistry(t *testing.T) {
	t.Parallel()

	t.Run("first load writes the defaults", func(t *testing.T) {
		t.Parallel()
		_, _, harness := newSettingsFixture(t)
		stored, err := harness.Store.GetSettings(context.Background())
		if err != nil {
			t.Fatalf("GetSettings failed: %v", err)
		}
		want := DefaultSettings()
		if stored.MasterPIN != want.MasterPIN || stored.WebPassword1 != want.WebPassword1 ||
			stored.EntryDelay != want.EntryDelay || stored.MaxAttempts != want.MaxAttempts {
			t.Fatalf("expected defaults stored, got %+v", stored)
		}
	})

	t.Run("updates round trip through the store", func(t *testing.T) {
		t.Parallel()
		registry, alerts, harness := newSettingsFixture(t)
		ctx := context.Background()

		updated, err := registry.Update(ctx, adminPrincipal, SettingsUpdate{
			EntryDelay:   durationPtr(1500 * time.Millisecond),
			MonitorPhone: stringPtr("112"),
			AlertEmail:   stringPtr("owner@example.com"),
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if len(alerts.Alerts()) != 0 {
			t.Fatalf("non-PIN changes must not alert")
		}

		reloaded := NewSettingsRegistry(harness.Store, nil, NewEventLog(nil, nil, nil, nil), nil, nil)
		if err := reloaded.Load(ctx); err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		got := reloaded.Get()
		if got.EntryDelay != updated.EntryDelay || got.MonitorPhone != "112" || got.AlertEmail != "owner@example.com" {
			t.Fatalf("expected reloaded settings to match, got %+v", got)
		}
	})

	t.Run("master PIN change alerts the owner", func(t *testing.T) {
		t.Parallel()
		registry, alerts, _ := newSettingsFixture(t)
		ctx := context.Background()
		_, err := registry.Update(ctx, adminPrincipal, SettingsUpdate{
			AlertEmail: stringPtr("owner@example.com"),
			MasterPIN:  stringPtr("2468"),
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		got := alerts.Alerts()
		if len(got) != 1 || got[0].To != "owner@example.com" || got[0].Subject != "SafeHome password changed" {
			t.Fatalf("unexpected alerts %+v", got)
		}
		entries, _ := registry.events.List(ctx, persistence.EventFilter{Levels: []string{string(LevelInfo)}})
		if len(entries) != 1 || entries[0].Message != "Master password changed" {
			t.Fatalf("expected INFO event, got %+v", entries)
		}
	})

	t.Run("invalid updates are rejected", func(t *testing.T) {
		t.Parallel()
		registry, _, _ := newSettingsFixture(t)
		_, err := registry.Update(context.Background(), adminPrincipal, SettingsUpdate{
			MaxAttempts: intPtr(0),
			LockTime:    durationPtr(-time.Second),
		})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || !errors.Is(err, ErrConfigInvalid) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if len(vErr.FieldErrors) != 2 {
			t.Fatalf("expected two field errors, got %+v", vErr.FieldErrors)
		}
		if registry.Get().MaxAttempts != DefaultMaxAttempts {
			t.Fatalf("rejected update must not apply")
		}
	})

	t.Run("guests cannot update", func(t *testing.T) {
		t.Parallel()
		registry, _, _ := newSettingsFixture(t)
		_, err := registry.Update(context.Background(), guestPrincipal, SettingsUpdate{HomePhone: stringPtr("1")})
		if !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("expected ErrPermissionDenied, got %v", err)
		}
	})

	t.Run("invalid stored settings fall back to defaults", func(t *testing.T) {
		t.Parallel()
		harness := testfixtures.NewSQLiteHarness(t)
		ctx := context.Background()
		broken := DefaultSettings()
		broken.MasterPIN = ""
		if err := harness.Store.PutSettings(ctx, broken); err != nil {
			t.Fatalf("PutSettings failed: %v", err)
		}
		registry := NewSettingsRegistry(harness.Store, nil, NewEventLog(nil, nil, nil, nil), nil, nil)
		if err := registry.Load(ctx); err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if registry.Get().MasterPIN != DefaultMasterPIN {
			t.Fatalf("expected defaults, got %+v", registry.Get())
		}
	})
}
