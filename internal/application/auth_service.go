package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/safehome/internal/clock"
	"github.com/example/safehome/internal/persistence"
)

// WebPasswordLength is the required length of each half of the web password.
const WebPasswordLength = 8

// interfaceLock is the lockout state of one login interface.
type interfaceLock struct {
	failed     int
	locked     bool
	until      time.Time
	generation uint64
}

// AuthService validates credentials per interface, counts failures and locks
// an interface once the configured number of attempts is reached. A locked
// interface unlocks when its timer fires or on an explicit Unlock.
type AuthService struct {
	settings *SettingsRegistry
	sessions persistence.LoginSessionRepository
	events   *EventLog
	clock    clock.Clock
	tokens   func() string
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[Interface]*interfaceLock
}

// NewAuthService constructs an AuthService. A nil token generator issues random UUIDs.
func NewAuthService(settings *SettingsRegistry, sessions persistence.LoginSessionRepository, events *EventLog, c clock.Clock, tokens func() string) *AuthService {
	return NewAuthServiceWithLogger(settings, sessions, events, c, tokens, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(settings *SettingsRegistry, sessions persistence.LoginSessionRepository, events *EventLog, c clock.Clock, tokens func() string, logger *slog.Logger) *AuthService {
	if tokens == nil {
		tokens = uuid.NewString
	}
	return &AuthService{
		settings: settings,
		sessions: sessions,
		events:   events,
		clock:    clock.OrReal(c),
		tokens:   tokens,
		logger:   defaultLogger(logger),
		locks:    make(map[Interface]*interfaceLock),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Validate checks a credential on an interface. On the control panel user
// "admin" (or empty) is compared with the master PIN and "guest" with the
// guest PIN, which falls back to "0000" when unset. On the web interface the
// credential is "p1:p2" and both halves must match.
func (s *AuthService) Validate(ctx context.Context, user, credential string, iface Interface) (principal Principal, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}

	user = strings.ToLower(strings.TrimSpace(user))
	logger := s.loggerWith(ctx, "Validate", "interface", iface, "user", user)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "login failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("role", principal.Role).InfoContext(ctx, "login succeeded")
	}()

	if iface, err = ParseInterface(string(iface)); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.stateLocked(iface)
	settings := s.settings.Get()

	if s.lockedLocked(state) {
		s.recordAttemptLocked(ctx, iface, user, false, state.failed, "")
		err = &LockedError{Subject: string(iface), Until: state.until}
		return
	}

	role, ok := matchCredential(settings, user, credential, iface)
	if !ok {
		state.failed++
		if state.failed >= settings.MaxAttempts {
			s.lockLocked(ctx, iface, state, settings.LockTime)
		}
		s.recordAttemptLocked(ctx, iface, user, false, state.failed, "")
		if state.locked {
			err = &LockedError{Subject: string(iface), Until: state.until}
			return
		}
		err = ErrBadCredential
		return
	}

	state.failed = 0
	principal = Principal{Role: role, Interface: iface, Token: s.tokens()}
	s.recordAttemptLocked(ctx, iface, user, true, 0, principal.Token)
	return
}

func matchCredential(settings persistence.Settings, user, credential string, iface Interface) (Role, bool) {
	switch iface {
	case InterfaceControlPanel:
		switch user {
		case "", string(RoleAdmin):
			return RoleAdmin, credentialMatches(settings.MasterPIN, credential)
		case string(RoleGuest):
			stored := settings.GuestPIN
			if stored == "" {
				stored = DefaultGuestPIN
			}
			return RoleGuest, credentialMatches(stored, credential)
		}
		return "", false
	case InterfaceWeb:
		p1, p2, ok := strings.Cut(credential, ":")
		if !ok {
			return "", false
		}
		first := credentialMatches(settings.WebPassword1, p1)
		second := credentialMatches(settings.WebPassword2, p2)
		return RoleAdmin, first && second
	}
	return "", false
}

// ChangePassword validates old through Validate and, on success, replaces
// the master PIN (control panel) or both web password halves (web, "p1:p2"
// with each half exactly WebPasswordLength characters).
func (s *AuthService) ChangePassword(ctx context.Context, old, newCredential string, iface Interface) (err error) {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}

	logger := s.loggerWith(ctx, "ChangePassword", "interface", iface)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "password change failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password changed")
	}()

	if _, err = s.Validate(ctx, string(RoleAdmin), old, iface); err != nil {
		return err
	}

	var update SettingsUpdate
	switch iface {
	case InterfaceControlPanel:
		pin := strings.TrimSpace(newCredential)
		if pin == "" || strings.Contains(pin, ":") {
			return fmt.Errorf("%w: PIN cannot be empty or contain ':'", ErrBadFormat)
		}
		update.MasterPIN = &pin
	case InterfaceWeb:
		p1, p2, ok := strings.Cut(newCredential, ":")
		if !ok || len(p1) != WebPasswordLength || len(p2) != WebPasswordLength {
			return fmt.Errorf("%w: web password must be two %d character halves separated by ':'", ErrBadFormat, WebPasswordLength)
		}
		update.WebPassword1 = &p1
		update.WebPassword2 = &p2
	default:
		return fmt.Errorf("%w: unknown interface %q", ErrBadFormat, iface)
	}

	_, err = s.settings.mutate(ctx, update.apply)
	if err == nil && iface == InterfaceWeb {
		s.events.Info(ctx, "auth", "Web password changed", EventRefs{})
	}
	return err
}

// ChangeGuestPassword replaces the guest PIN after validating the master PIN.
func (s *AuthService) ChangeGuestPassword(ctx context.Context, master, newGuest string) error {
	if _, err := s.Validate(ctx, string(RoleAdmin), master, InterfaceControlPanel); err != nil {
		return err
	}
	guest := strings.TrimSpace(newGuest)
	if guest == "" || strings.Contains(guest, ":") {
		return fmt.Errorf("%w: guest PIN cannot be empty or contain ':'", ErrBadFormat)
	}
	if _, err := s.settings.mutate(ctx, func(st *persistence.Settings) { st.GuestPIN = guest }); err != nil {
		return err
	}
	s.events.Info(ctx, "auth", "Guest password changed", EventRefs{})
	return nil
}

// Unlock clears the lockout of the given interfaces, or of all interfaces
// when none are named. Pending auto-unlock timers are left to fire harmlessly.
func (s *AuthService) Unlock(ctx context.Context, ifaces ...Interface) {
	if len(ifaces) == 0 {
		ifaces = []Interface{InterfaceControlPanel, InterfaceWeb}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, iface := range ifaces {
		state := s.stateLocked(iface)
		wasLocked := state.locked
		s.unlockLocked(state)
		if wasLocked {
			s.loggerWith(ctx, "Unlock", "interface", iface).InfoContext(ctx, "interface unlocked")
		}
	}
}

// IsLocked reports whether the interface is locked out.
func (s *AuthService) IsLocked(iface Interface) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedLocked(s.stateLocked(iface))
}

// FailedCount returns the consecutive failures recorded on the interface.
func (s *AuthService) FailedCount(iface Interface) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(iface)
	s.lockedLocked(state)
	return state.failed
}

// LockedUntil returns when the interface unlocks, or the zero time.
func (s *AuthService) LockedUntil(iface Interface) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(iface)
	if !s.lockedLocked(state) {
		return time.Time{}
	}
	return state.until
}

// History returns recorded login attempts, newest first.
func (s *AuthService) History(ctx context.Context, filter persistence.LoginSessionFilter) ([]persistence.LoginSession, error) {
	if s.sessions == nil {
		return nil, ErrNoBackingStore
	}
	sessions, err := s.sessions.ListLoginSessions(ctx, filter)
	if err != nil {
		return nil, readError(err)
	}
	return sessions, nil
}

func (s *AuthService) stateLocked(iface Interface) *interfaceLock {
	state, ok := s.locks[iface]
	if !ok {
		state = &interfaceLock{}
		s.locks[iface] = state
	}
	return state
}

// lockedLocked reports the lock state, releasing an expired lock whose timer
// has not fired yet.
func (s *AuthService) lockedLocked(state *interfaceLock) bool {
	if state.locked && !s.clock.Now().Before(state.until) {
		s.unlockLocked(state)
	}
	return state.locked
}

func (s *AuthService) lockLocked(ctx context.Context, iface Interface, state *interfaceLock, lockTime time.Duration) {
	state.locked = true
	state.until = s.clock.Now().Add(lockTime)
	state.generation++
	gen := state.generation

	s.clock.AfterFunc(lockTime, func() { s.expire(iface, gen) })
	s.events.Warning(ctx, "auth", fmt.Sprintf("%s locked after %d failed attempts", iface, state.failed), EventRefs{})
}

func (s *AuthService) unlockLocked(state *interfaceLock) {
	state.locked = false
	state.failed = 0
	state.until = time.Time{}
}

func (s *AuthService) expire(iface Interface, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.stateLocked(iface)
	if state.generation != gen || !state.locked {
		return
	}
	s.unlockLocked(state)
	s.logger.Info("lockout expired", "service", "AuthService", "interface", iface)
}

// recordAttemptLocked appends a login session row. Holding s.mu keeps rows
// in validation order per interface.
func (s *AuthService) recordAttemptLocked(ctx context.Context, iface Interface, user string, ok bool, failed int, token string) {
	if s.sessions == nil {
		return
	}
	_, err := s.sessions.AppendLoginSession(ctx, persistence.LoginSession{
		Interface:      string(iface),
		Username:       user,
		Successful:     ok,
		FailedAttempts: failed,
		Token:          token,
		Timestamp:      s.clock.Now(),
	})
	if err != nil && !errors.Is(err, persistence.ErrNoBackingStore) {
		s.loggerWith(ctx, "Validate").ErrorContext(ctx, "failed to record login attempt", "error", err)
	}
}
