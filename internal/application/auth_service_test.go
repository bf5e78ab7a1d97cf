package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/safehome/internal/persistence"
	"github.com/example/safehome/internal/testfixtures"
)

type authFixture struct {
	auth     *AuthService
	settings *SettingsRegistry
	clock    *testfixtures.Clock
	alerts   *testfixtures.AlertRecorder
	store    persistence.Store
}

func newAuthFixture(t *testing.T) authFixture {
	t.Helper()
	harness := testfixtures.NewSQLiteHarness(t)
	clk := testfixtures.NewClock(testfixtures.ReferenceTime())
	alerts := &testfixtures.AlertRecorder{}
	events := NewEventLog(harness.Store, nil, clk.Now, nil)
	settings := NewSettingsRegistry(harness.Store, newAlertHook(alerts, nil), events, clk.Now, nil)
	if err := settings.Load(context.Background()); err != nil {
		t.Fatalf("settings.Load failed: %v", err)
	}
	auth := NewAuthService(settings, harness.Store, events, clk, testfixtures.NewTokenSequence("tok").Next)
	return authFixture{auth: auth, settings: settings, clock: clk, alerts: alerts, store: harness.Store}
}

func TestAuthServiceValidate(t *testing.T) {
	t.Parallel()

	t.Run("accepts the master PIN as admin", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		p, err := f.auth.Validate(context.Background(), "admin", "1234", InterfaceControlPanel)
		if err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
		if p.Role != RoleAdmin || p.Token != "tok-1" || p.Interface != InterfaceControlPanel {
			t.Fatalf("unexpected principal %+v", p)
		}
	})

	t.Run("guest falls back to the literal PIN", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		if _, err := f.settings.mutate(ctx, func(s *persistence.Settings) { s.GuestPIN = "" }); err != nil {
			t.Fatalf("mutate failed: %v", err)
		}
		p, err := f.auth.Validate(ctx, "Guest", "0000", InterfaceControlPanel)
		if err != nil || p.Role != RoleGuest {
			t.Fatalf("expected guest login, got %+v (%v)", p, err)
		}
	})

	t.Run("guest PIN can be replaced", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		if err := f.auth.ChangeGuestPassword(ctx, "1234", "4321"); err != nil {
			t.Fatalf("ChangeGuestPassword failed: %v", err)
		}
		if _, err := f.auth.Validate(ctx, "guest", "0000", InterfaceControlPanel); !errors.Is(err, ErrBadCredential) {
			t.Fatalf("expected old guest PIN rejected, got %v", err)
		}
		if _, err := f.auth.Validate(ctx, "guest", "4321", InterfaceControlPanel); err != nil {
			t.Fatalf("expected new guest PIN accepted, got %v", err)
		}
	})

	t.Run("web requires both halves", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		if _, err := f.settings.mutate(ctx, func(s *persistence.Settings) { s.MaxAttempts = 10 }); err != nil {
			t.Fatalf("mutate failed: %v", err)
		}
		if _, err := f.auth.Validate(ctx, "", "webpass1:webpass2", InterfaceWeb); err != nil {
			t.Fatalf("expected web login, got %v", err)
		}
		for _, credential := range []string{"webpass1", "webpass1:wrong", "wrong:webpass2"} {
			if _, err := f.auth.Validate(ctx, "", credential, InterfaceWeb); !errors.Is(err, ErrBadCredential) {
				t.Fatalf("credential %q: expected ErrBadCredential, got %v", credential, err)
			}
		}
	})

	t.Run("rejects unknown users and interfaces", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		if _, err := f.auth.Validate(ctx, "mallory", "1234", InterfaceControlPanel); !errors.Is(err, ErrBadCredential) {
			t.Fatalf("expected ErrBadCredential, got %v", err)
		}
		if _, err := f.auth.Validate(ctx, "admin", "1234", Interface("SERIAL")); !errors.Is(err, ErrBadFormat) {
			t.Fatalf("expected ErrBadFormat, got %v", err)
		}
	})
}

func TestAuthServiceLockout(t *testing.T) {
	t.Parallel()

	t.Run("locks after max attempts and expires", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()

		for i := 1; i <= 2; i++ {
			if _, err := f.auth.Validate(ctx, "admin", "0001", InterfaceControlPanel); !errors.Is(err, ErrBadCredential) {
				t.Fatalf("attempt %d: expected ErrBadCredential, got %v", i, err)
			}
		}
		_, err := f.auth.Validate(ctx, "admin", "0001", InterfaceControlPanel)
		var locked *LockedError
		if !errors.As(err, &locked) {
			t.Fatalf("expected LockedError on threshold, got %v", err)
		}
		want := testfixtures.ReferenceTime().Add(DefaultLockTime)
		if !locked.Until.Equal(want) {
			t.Fatalf("expected lock until %v, got %v", want, locked.Until)
		}
		if !f.auth.IsLocked(InterfaceControlPanel) || f.auth.FailedCount(InterfaceControlPanel) != 3 {
			t.Fatalf("expected locked with 3 failures")
		}
		if _, err := f.auth.Validate(ctx, "admin", "1234", InterfaceControlPanel); !errors.Is(err, ErrLocked) {
			t.Fatalf("expected correct PIN refused while locked, got %v", err)
		}
		if f.auth.IsLocked(InterfaceWeb) {
			t.Fatalf("web interface must stay open")
		}

		f.clock.Advance(DefaultLockTime)
		if f.auth.IsLocked(InterfaceControlPanel) {
			t.Fatalf("expected lock released after lock time")
		}
		if _, err := f.auth.Validate(ctx, "admin", "1234", InterfaceControlPanel); err != nil {
			t.Fatalf("expected login after expiry, got %v", err)
		}
		if f.auth.FailedCount(InterfaceControlPanel) != 0 {
			t.Fatalf("expected counter reset")
		}
	})

	t.Run("attempts while locked do not extend the lock", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, _ = f.auth.Validate(ctx, "", "webpass1", InterfaceWeb)
		}
		until := f.auth.LockedUntil(InterfaceWeb)
		f.clock.Advance(time.Minute)
		_, _ = f.auth.Validate(ctx, "", "nope", InterfaceWeb)
		if got := f.auth.LockedUntil(InterfaceWeb); !got.Equal(until) {
			t.Fatalf("lock extended from %v to %v", until, got)
		}
	})

	t.Run("unlock is idempotent", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, _ = f.auth.Validate(ctx, "admin", "bad", InterfaceControlPanel)
		}
		f.auth.Unlock(ctx, InterfaceControlPanel)
		f.auth.Unlock(ctx, InterfaceControlPanel)
		if f.auth.IsLocked(InterfaceControlPanel) || f.auth.FailedCount(InterfaceControlPanel) != 0 {
			t.Fatalf("expected interface open after unlock")
		}
		f.clock.Advance(DefaultLockTime)
		if f.auth.IsLocked(InterfaceControlPanel) {
			t.Fatalf("stale timer must not relock")
		}
	})

	t.Run("records every attempt", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		_, _ = f.auth.Validate(ctx, "admin", "bad", InterfaceControlPanel)
		_, _ = f.auth.Validate(ctx, "admin", "1234", InterfaceControlPanel)
		_, _ = f.auth.Validate(ctx, "", "webpass1:webpass2", InterfaceWeb)

		sessions, err := f.auth.History(ctx, persistence.LoginSessionFilter{Interface: string(InterfaceControlPanel)})
		if err != nil {
			t.Fatalf("History failed: %v", err)
		}
		if len(sessions) != 2 {
			t.Fatalf("expected 2 control panel sessions, got %+v", sessions)
		}
		var failed, succeeded int
		for _, s := range sessions {
			if s.Successful {
				succeeded++
				if s.Token == "" {
					t.Fatalf("successful session without token: %+v", s)
				}
			} else {
				failed++
				if s.FailedAttempts != 1 {
					t.Fatalf("expected failure count 1, got %+v", s)
				}
			}
		}
		if failed != 1 || succeeded != 1 {
			t.Fatalf("unexpected session mix %+v", sessions)
		}
	})
}

func TestAuthServiceChangePassword(t *testing.T) {
	t.Parallel()

	t.Run("master PIN change alerts", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		if err := f.auth.ChangePassword(ctx, "1234", "8642", InterfaceControlPanel); err != nil {
			t.Fatalf("ChangePassword failed: %v", err)
		}
		alerts := f.alerts.Alerts()
		if len(alerts) != 1 || alerts[0].Subject != "SafeHome password changed" {
			t.Fatalf("expected one password alert, got %+v", alerts)
		}
		stored, err := f.store.GetSettings(ctx)
		if err != nil || stored.MasterPIN != "8642" {
			t.Fatalf("expected stored PIN updated, got %+v (%v)", stored, err)
		}
		if _, err := f.auth.Validate(ctx, "admin", "8642", InterfaceControlPanel); err != nil {
			t.Fatalf("expected new PIN accepted, got %v", err)
		}
	})

	t.Run("rejects a wrong old password", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		if err := f.auth.ChangePassword(context.Background(), "0000", "8642", InterfaceControlPanel); !errors.Is(err, ErrBadCredential) {
			t.Fatalf("expected ErrBadCredential, got %v", err)
		}
		if f.settings.Get().MasterPIN != DefaultMasterPIN {
			t.Fatalf("PIN must not change")
		}
	})

	t.Run("checks the old password before the new format", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		if err := f.auth.ChangePassword(ctx, "wrong:password", "short:x", InterfaceWeb); !errors.Is(err, ErrBadCredential) {
			t.Fatalf("expected ErrBadCredential, got %v", err)
		}
		if got := f.auth.FailedCount(InterfaceWeb); got != 1 {
			t.Fatalf("expected the wrong old password to count as a failed attempt, got %d", got)
		}
		if err := f.auth.ChangeGuestPassword(ctx, "0000", ""); !errors.Is(err, ErrBadCredential) {
			t.Fatalf("expected ErrBadCredential for the guest change, got %v", err)
		}
		if got := f.auth.FailedCount(InterfaceControlPanel); got != 1 {
			t.Fatalf("expected one failed control panel attempt, got %d", got)
		}
	})

	t.Run("validates the new format", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		cases := []struct {
			credential string
			iface      Interface
		}{
			{"", InterfaceControlPanel},
			{"12:34", InterfaceControlPanel},
			{"short:webpass2", InterfaceWeb},
			{"newpass1newpass2", InterfaceWeb},
		}
		for _, tc := range cases {
			old := "1234"
			if tc.iface == InterfaceWeb {
				old = "webpass1:webpass2"
			}
			if err := f.auth.ChangePassword(ctx, old, tc.credential, tc.iface); !errors.Is(err, ErrBadFormat) {
				t.Fatalf("%q on %s: expected ErrBadFormat, got %v", tc.credential, tc.iface, err)
			}
		}
		if f.auth.FailedCount(InterfaceControlPanel) != 0 {
			t.Fatalf("format errors must not count as failed logins")
		}
	})

	t.Run("web password change", func(t *testing.T) {
		t.Parallel()
		f := newAuthFixture(t)
		ctx := context.Background()
		if err := f.auth.ChangePassword(ctx, "webpass1:webpass2", "newpass1:newpass2", InterfaceWeb); err != nil {
			t.Fatalf("ChangePassword failed: %v", err)
		}
		if _, err := f.auth.Validate(ctx, "", "newpass1:newpass2", InterfaceWeb); err != nil {
			t.Fatalf("expected new web password accepted, got %v", err)
		}
		if len(f.alerts.Alerts()) != 0 {
			t.Fatalf("web password change must not raise the master PIN alert")
		}
	})
}
