package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/example/safehome/internal/clock"
	"github.com/example/safehome/internal/persistence"
)

// Options carries the collaborators of the core. Zero values select the
// wall clock, simulated devices and no outbound notifications.
type Options struct {
	Clock          clock.Clock
	Notifier       Notifier
	Monitor        MonitoringNotifier
	SensorFactory  SensorFactory
	CameraFactory  CameraFactory
	EventFile      io.Writer
	PollInterval   time.Duration
	TokenGenerator func() string
	Logger         *slog.Logger
}

// Core composes the security components and exposes the command surface.
type Core struct {
	store  persistence.Store
	clock  clock.Clock
	logger *slog.Logger

	events   *EventLog
	settings *SettingsRegistry
	zones    *ZoneRegistry
	sensors  *SensorInventory
	cameras  *CameraInventory
	guard    *AccessGuard
	auth     *AuthService
	modes    *ModeMap
	alarm    *Alarm
	arming   *ArmingController
	pipeline *IntrusionPipeline

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu      sync.Mutex
	running bool
	closed  bool
}

// New loads state from store and returns a core in the DISARMED mode with
// the poller stopped. Store read failures are fatal.
func New(ctx context.Context, store persistence.Store, opts Options) (core *Core, err error) {
	if store == nil {
		return nil, fmt.Errorf("application: store is required")
	}
	c := clock.OrReal(opts.Clock)
	logger := defaultLogger(opts.Logger)

	startLogger := serviceLogger(ctx, logger, "Core", "New")
	defer func() {
		if err != nil {
			startLogger.ErrorContext(ctx, "failed to start core", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	events := NewEventLog(store, opts.EventFile, c.Now, logger)
	alerts := newAlertHook(opts.Notifier, logger)
	settings := NewSettingsRegistry(store, alerts, events, c.Now, logger)
	if err = settings.Load(ctx); err != nil {
		return nil, err
	}

	zones := NewZoneRegistry(store, c.Now, logger)
	if err = zones.Load(ctx); err != nil {
		return nil, err
	}
	sensors := NewSensorInventory(store, opts.SensorFactory, logger)
	if err = sensors.Load(ctx); err != nil {
		return nil, err
	}
	guard := NewAccessGuard(c, settings, events, logger)
	cameras := NewCameraInventory(store, opts.CameraFactory, guard, events, c, logger)
	if err = cameras.Load(ctx); err != nil {
		return nil, err
	}
	modes := NewModeMap(store, logger)
	if err = modes.Load(ctx); err != nil {
		return nil, err
	}

	alarm := NewAlarm(c, settings.Get().AlarmDuration, logger)
	pipeline := NewIntrusionPipeline(sensors, alarm, settings, events, opts.Monitor, alerts, c, opts.PollInterval, logger)
	arming := NewArmingController(sensors, zones, modes, alarm, pipeline, events, logger)
	auth := NewAuthServiceWithLogger(settings, store, events, c, opts.TokenGenerator, logger)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	core = &Core{
		store:     store,
		clock:     c,
		logger:    logger,
		events:    events,
		settings:  settings,
		zones:     zones,
		sensors:   sensors,
		cameras:   cameras,
		guard:     guard,
		auth:      auth,
		modes:     modes,
		alarm:     alarm,
		arming:    arming,
		pipeline:  pipeline,
		runCtx:    runCtx,
		cancelRun: cancel,
	}

	// Sensors persisted as active were armed by a previous run; the core
	// always starts disarmed.
	if err = arming.Disarm(ctx); err != nil {
		startLogger.WarnContext(ctx, "failed to persist startup disarm", "error", err)
		err = nil
	}

	total, _ := sensors.Count()
	startLogger.InfoContext(ctx, "core started", "sensors", total, "cameras", cameras.Count(), "zones", len(zones.List()))
	return core, nil
}

func (c *Core) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, c.logger, "Core", operation, attrs...)
}

// TurnOn starts the intrusion poller.
func (c *Core) TurnOn(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.closed {
		return
	}
	c.running = true
	c.pipeline.Start(c.runCtx)
	c.events.Info(ctx, "system", "System turned on", EventRefs{})
}

// TurnOff stops the intrusion poller and cancels pending entry delays.
func (c *Core) TurnOff(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turnOffLocked(ctx)
}

func (c *Core) turnOffLocked(ctx context.Context) {
	if !c.running {
		return
	}
	c.pipeline.Stop()
	c.running = false
	c.events.Info(ctx, "system", "System turned off", EventRefs{})
}

// Running reports whether the poller is on.
func (c *Core) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Reset restores the factory configuration: default settings, the default
// zones (sensors are detached), no camera passwords and no lockouts. Sensors,
// cameras and mode mappings are kept. A running system is restarted.
func (c *Core) Reset(ctx context.Context, principal Principal) (err error) {
	if err = c.guard.RequireAdmin(ctx, principal, "reset the system"); err != nil {
		return err
	}

	logger := c.loggerWith(ctx, "Reset")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "factory reset failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "factory reset complete")
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	wasRunning := c.running
	c.turnOffLocked(ctx)
	if disarmErr := c.arming.Disarm(ctx); disarmErr != nil {
		logger.WarnContext(ctx, "disarm before reset incomplete", "error", disarmErr)
	}

	now := c.clock.Now()
	defaults := DefaultSettings()
	defaults.UpdatedAt = now
	zones := DefaultZones(now)
	volatileZones := false

	err = c.store.WithinTx(ctx, func(tx persistence.Store) error {
		if err := tx.PutSettings(ctx, defaults); err != nil {
			return err
		}
		existing, err := tx.ListZones(ctx)
		if errors.Is(err, persistence.ErrNoBackingStore) {
			volatileZones = true
			return nil
		}
		if err != nil {
			return err
		}
		for _, z := range existing {
			if err := tx.DeleteZone(ctx, z.ID); err != nil {
				return err
			}
		}
		for i, z := range zones {
			created, err := tx.CreateZone(ctx, z)
			if err != nil {
				return err
			}
			zones[i] = created
		}
		return tx.ClearCameraPasswords(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}
	if volatileZones {
		logger.DebugContext(ctx, "fallback store holds settings only")
	}

	c.settings.adopt(defaults)
	c.alarm.SetDuration(defaults.AlarmDuration)
	c.zones.Replace(zones)
	c.sensors.DetachAllZones()
	c.cameras.ResetPasswords()
	c.auth.Unlock(ctx)
	c.events.Info(ctx, "system", "Factory reset performed", EventRefs{})

	if wasRunning {
		c.running = true
		c.pipeline.Start(c.runCtx)
	}
	return nil
}

// Shutdown stops the poller and every entry delay, releases the devices and
// closes the store. Later calls do nothing.
func (c *Core) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.turnOffLocked(ctx)
	c.closed = true
	c.mu.Unlock()

	c.alarm.Stop(ctx)
	c.pipeline.CancelPending(ctx)
	c.cancelRun()
	c.pipeline.Wait()
	c.sensors.Close()
	c.cameras.Close()
	c.loggerWith(ctx, "Shutdown").InfoContext(ctx, "core stopped")
	return c.store.Close()
}

// Arm switches to an armed mode. It fails with a NotReadyError when doors or
// windows are open.
func (c *Core) Arm(ctx context.Context, mode Mode) error {
	return c.arming.Arm(ctx, mode)
}

// Disarm deactivates everything and silences the alarm.
func (c *Core) Disarm(ctx context.Context) error {
	return c.arming.Disarm(ctx)
}

// ArmZone arms the sensors of one zone.
func (c *Core) ArmZone(ctx context.Context, zoneID int) error {
	return c.arming.ArmZone(ctx, zoneID)
}

// DisarmZone disarms the sensors of one zone.
func (c *Core) DisarmZone(ctx context.Context, zoneID int) error {
	return c.arming.DisarmZone(ctx, zoneID)
}

// Panic rings the alarm immediately.
func (c *Core) Panic(ctx context.Context) {
	c.arming.Panic(ctx)
}

// Mode returns the current arming mode.
func (c *Core) Mode() Mode {
	return c.arming.Mode()
}

// AlarmActive reports whether the siren is ringing.
func (c *Core) AlarmActive() bool {
	return c.alarm.IsActive()
}

// StopAlarm silences the siren without changing the mode.
func (c *Core) StopAlarm(ctx context.Context) {
	c.alarm.Stop(ctx)
}

// Login validates a credential on an interface.
func (c *Core) Login(ctx context.Context, user, credential string, iface Interface) (Principal, error) {
	return c.auth.Validate(ctx, user, credential, iface)
}

// ChangePassword replaces the master PIN or the web password.
func (c *Core) ChangePassword(ctx context.Context, old, newCredential string, iface Interface) error {
	return c.auth.ChangePassword(ctx, old, newCredential, iface)
}

// ChangeGuestPassword replaces the guest PIN.
func (c *Core) ChangeGuestPassword(ctx context.Context, master, newGuest string) error {
	return c.auth.ChangeGuestPassword(ctx, master, newGuest)
}

// IsLocked reports whether an interface is locked out.
func (c *Core) IsLocked(iface Interface) bool {
	return c.auth.IsLocked(iface)
}

// FailedAttempts returns the consecutive failures on an interface.
func (c *Core) FailedAttempts(iface Interface) int {
	return c.auth.FailedCount(iface)
}

// Unlock clears lockouts on the named interfaces, or on all of them.
func (c *Core) Unlock(ctx context.Context, ifaces ...Interface) {
	c.auth.Unlock(ctx, ifaces...)
}

// LoginHistory returns recorded login attempts.
func (c *Core) LoginHistory(ctx context.Context, filter persistence.LoginSessionFilter) ([]persistence.LoginSession, error) {
	return c.auth.History(ctx, filter)
}

// AddSensor creates a sensor, optionally inside a zone.
func (c *Core) AddSensor(ctx context.Context, principal Principal, kind SensorKind, location string, zoneID *int) (SensorStatus, error) {
	if err := c.guard.RequireAdmin(ctx, principal, "add sensors"); err != nil {
		return SensorStatus{}, err
	}
	if zoneID != nil {
		if _, err := c.zones.Get(*zoneID); err != nil {
			return SensorStatus{}, err
		}
	}
	st, err := c.sensors.Add(ctx, kind, location, zoneID)
	if err != nil {
		return SensorStatus{}, err
	}
	c.events.Info(ctx, "sensors", fmt.Sprintf("%s sensor %d added at %q", st.Kind, st.ID, st.Location), SensorRef(st.ID))
	return st, nil
}

// RemoveSensor deletes a sensor and drops it from every mode.
func (c *Core) RemoveSensor(ctx context.Context, principal Principal, id int) error {
	if err := c.guard.RequireAdmin(ctx, principal, "remove sensors"); err != nil {
		return err
	}
	if err := c.sensors.Remove(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.events.Warning(ctx, "sensors", fmt.Sprintf("Unknown sensor %d", id), EventRefs{})
		}
		return err
	}
	c.modes.RemoveSensor(id)
	c.events.Info(ctx, "sensors", fmt.Sprintf("Sensor %d removed", id), SensorRef(id))
	return nil
}

// AssignSensorZone moves a sensor into a zone, or out of any zone when zoneID is nil.
func (c *Core) AssignSensorZone(ctx context.Context, principal Principal, id int, zoneID *int) error {
	if err := c.guard.RequireAdmin(ctx, principal, "assign sensors"); err != nil {
		return err
	}
	if zoneID != nil {
		if _, err := c.zones.Get(*zoneID); err != nil {
			return err
		}
	}
	if err := c.sensors.AssignZone(ctx, id, zoneID); err != nil {
		return err
	}
	c.events.Info(ctx, "sensors", fmt.Sprintf("Sensor %d assigned to zone %s", id, formatZone(zoneID)), SensorRef(id))
	return nil
}

// Sensor returns one sensor.
func (c *Core) Sensor(id int) (SensorStatus, error) {
	return c.sensors.Get(id)
}

// Sensors lists every sensor.
func (c *Core) Sensors() []SensorStatus {
	return c.sensors.List()
}

// SensorsInZone lists the sensors of one zone.
func (c *Core) SensorsInZone(zoneID int) []SensorStatus {
	return c.sensors.ListByZone(zoneID)
}

// SensorsOfKind lists the sensors of one kind.
func (c *Core) SensorsOfKind(kind SensorKind) []SensorStatus {
	return c.sensors.ListByKind(kind)
}

// TriggerSensor simulates a detection.
func (c *Core) TriggerSensor(id int) error {
	return c.sensors.Trigger(id)
}

// ReleaseSensor clears a simulated detection.
func (c *Core) ReleaseSensor(id int) error {
	return c.sensors.Release(id)
}

// AddZone creates a zone.
func (c *Core) AddZone(ctx context.Context, principal Principal, name string) (persistence.Zone, error) {
	if err := c.guard.RequireAdmin(ctx, principal, "add zones"); err != nil {
		return persistence.Zone{}, err
	}
	zone, err := c.zones.Add(ctx, name)
	if err != nil {
		return persistence.Zone{}, err
	}
	c.events.Info(ctx, "zones", fmt.Sprintf("Zone %q added", zone.Name), ZoneRef(zone.ID))
	return zone, nil
}

// RenameZone renames a zone.
func (c *Core) RenameZone(ctx context.Context, principal Principal, id int, name string) error {
	if err := c.guard.RequireAdmin(ctx, principal, "rename zones"); err != nil {
		return err
	}
	return c.zones.Rename(ctx, id, name)
}

// DeleteZone removes a zone and detaches its sensors.
func (c *Core) DeleteZone(ctx context.Context, principal Principal, id int) error {
	if err := c.guard.RequireAdmin(ctx, principal, "delete zones"); err != nil {
		return err
	}
	if err := c.zones.Delete(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.events.Warning(ctx, "zones", fmt.Sprintf("Unknown zone %d", id), ZoneRef(id))
		}
		return err
	}
	c.sensors.DetachZone(id)
	c.events.Info(ctx, "zones", fmt.Sprintf("Zone %d deleted", id), ZoneRef(id))
	return nil
}

// Zones lists every zone.
func (c *Core) Zones() []persistence.Zone {
	return c.zones.List()
}

// SetModeSensors selects the sensors that mode arms.
func (c *Core) SetModeSensors(ctx context.Context, principal Principal, mode Mode, ids []int) error {
	if err := c.guard.RequireAdmin(ctx, principal, "edit mode mappings"); err != nil {
		return err
	}
	for _, id := range ids {
		if !c.sensors.Exists(id) {
			return &NotFoundError{Entity: "sensor", ID: id}
		}
	}
	return c.modes.Set(ctx, mode, ids)
}

// ModeSensors returns the sensors that mode arms.
func (c *Core) ModeSensors(mode Mode) []int {
	return c.modes.Get(mode)
}

// Modes returns the persisted arming modes.
func (c *Core) Modes(ctx context.Context) ([]persistence.Mode, error) {
	return c.modes.Catalogue(ctx)
}

// AddCamera creates a camera. An empty password leaves it open.
func (c *Core) AddCamera(ctx context.Context, principal Principal, name, location, password string) (CameraStatus, error) {
	if err := c.guard.RequireAdmin(ctx, principal, "add cameras"); err != nil {
		return CameraStatus{}, err
	}
	st, err := c.cameras.Add(ctx, name, location, password)
	if err != nil {
		return CameraStatus{}, err
	}
	c.events.Info(ctx, "cameras", fmt.Sprintf("Camera %d %q added", st.ID, st.Name), CameraRef(st.ID))
	return st, nil
}

// RemoveCamera deletes a camera.
func (c *Core) RemoveCamera(ctx context.Context, principal Principal, id int) error {
	if err := c.guard.RequireAdmin(ctx, principal, "remove cameras"); err != nil {
		return err
	}
	if err := c.cameras.Remove(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.events.Warning(ctx, "cameras", fmt.Sprintf("Unknown camera %d", id), EventRefs{})
		}
		return err
	}
	c.events.Info(ctx, "cameras", fmt.Sprintf("Camera %d removed", id), CameraRef(id))
	return nil
}

// Camera returns one camera.
func (c *Core) Camera(id int) (CameraStatus, error) {
	return c.cameras.Get(id)
}

// Cameras lists every camera.
func (c *Core) Cameras() []CameraStatus {
	return c.cameras.List()
}

// ViewCamera returns the current frame of a camera.
func (c *Core) ViewCamera(ctx context.Context, id int, password string) (Frame, error) {
	return c.cameras.View(ctx, id, password)
}

// PanCamera moves a camera one step left or right.
func (c *Core) PanCamera(ctx context.Context, id int, password string, dir int) error {
	return c.cameras.Pan(ctx, id, password, dir)
}

// TiltCamera moves a camera one step down or up.
func (c *Core) TiltCamera(ctx context.Context, id int, password string, dir int) error {
	return c.cameras.Tilt(ctx, id, password, dir)
}

// ZoomCamera steps a camera's zoom out or in.
func (c *Core) ZoomCamera(ctx context.Context, id int, password string, dir int) error {
	return c.cameras.Zoom(ctx, id, password, dir)
}

// SetCameraPassword sets or changes a camera password.
func (c *Core) SetCameraPassword(ctx context.Context, id int, old, newPassword, confirm string) error {
	return c.cameras.SetPassword(ctx, id, old, newPassword, confirm)
}

// DeleteCameraPassword removes a camera password.
func (c *Core) DeleteCameraPassword(ctx context.Context, id int, old string) error {
	return c.cameras.DeletePassword(ctx, id, old)
}

// EnableCamera turns a camera on.
func (c *Core) EnableCamera(ctx context.Context, principal Principal, id int) error {
	return c.cameras.Enable(ctx, principal, id)
}

// DisableCamera turns a camera off.
func (c *Core) DisableCamera(ctx context.Context, principal Principal, id int) error {
	return c.cameras.Disable(ctx, principal, id)
}

// Settings returns the current settings.
func (c *Core) Settings() persistence.Settings {
	return c.settings.Get()
}

// UpdateSettings changes settings on behalf of an administrator.
func (c *Core) UpdateSettings(ctx context.Context, principal Principal, upd SettingsUpdate) (persistence.Settings, error) {
	settings, err := c.settings.Update(ctx, principal, upd)
	if err != nil {
		return settings, err
	}
	c.alarm.SetDuration(settings.AlarmDuration)
	return settings, nil
}

// Events queries the event log, newest first.
func (c *Core) Events(ctx context.Context, filter persistence.EventFilter) ([]persistence.EventLogEntry, error) {
	return c.events.List(ctx, filter)
}

// UnseenAlarms returns ALARM events not yet acknowledged.
func (c *Core) UnseenAlarms(ctx context.Context, limit int) ([]persistence.EventLogEntry, error) {
	return c.events.UnseenAlarms(ctx, limit)
}

// MarkEventsSeen acknowledges events.
func (c *Core) MarkEventsSeen(ctx context.Context, ids []int64) error {
	return c.events.MarkSeen(ctx, ids)
}

// ClearEvents empties the event log.
func (c *Core) ClearEvents(ctx context.Context, principal Principal) error {
	if err := c.guard.RequireAdmin(ctx, principal, "clear the event log"); err != nil {
		return err
	}
	return c.events.Clear(ctx)
}

// Status summarises the system.
func (c *Core) Status() Status {
	total, active := c.sensors.Count()
	return Status{
		Running:          c.Running(),
		Locked:           c.auth.IsLocked(InterfaceControlPanel),
		Mode:             c.arming.Mode(),
		AlarmActive:      c.alarm.IsActive(),
		NumSensors:       total,
		NumCameras:       c.cameras.Count(),
		NumActiveSensors: active,
	}
}
