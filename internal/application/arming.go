package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/example/safehome/internal/persistence"
)

// ModeMap caches the mode to sensor mapping and persists edits.
type ModeMap struct {
	repo   persistence.ModeRepository
	logger *slog.Logger

	mu      sync.RWMutex
	sensors map[Mode][]int
}

// NewModeMap constructs an empty mapping.
func NewModeMap(repo persistence.ModeRepository, logger *slog.Logger) *ModeMap {
	return &ModeMap{repo: repo, logger: defaultLogger(logger), sensors: make(map[Mode][]int)}
}

// Load reads the mapping of every armable mode from the store.
func (m *ModeMap) Load(ctx context.Context) error {
	loaded := make(map[Mode][]int, len(ArmableModes))
	for _, mode := range ArmableModes {
		ids, err := m.repo.GetModeSensors(ctx, string(mode))
		switch {
		case err == nil:
			loaded[mode] = ids
		case errors.Is(err, persistence.ErrNoBackingStore), errors.Is(err, persistence.ErrNotFound):
		default:
			return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
		}
	}
	m.mu.Lock()
	m.sensors = loaded
	m.mu.Unlock()
	return nil
}

// Set replaces the sensors armed by mode.
func (m *ModeMap) Set(ctx context.Context, mode Mode, ids []int) error {
	if !mode.Armable() {
		return fmt.Errorf("%w: mode %s has no sensor mapping", ErrBadFormat, mode)
	}
	ids = normalizeIDs(ids)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := storeError(m.repo.SetModeSensors(ctx, string(mode), ids)); err != nil {
		return err
	}
	m.sensors[mode] = ids
	serviceLogger(ctx, m.logger, "ModeMap", "Set", "mode", mode).InfoContext(ctx, "mode mapping updated", "sensors", ids)
	return nil
}

// Get returns the sensors armed by mode, ascending.
func (m *ModeMap) Get(mode Mode) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.sensors[mode])
}

// RemoveSensor drops id from every mode in memory. The store cascades the
// same deletion.
func (m *ModeMap) RemoveSensor(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for mode, ids := range m.sensors {
		m.sensors[mode] = slices.DeleteFunc(ids, func(v int) bool { return v == id })
	}
}

// Catalogue returns the persisted modes, or the built-in list when the
// store cannot provide them.
func (m *ModeMap) Catalogue(ctx context.Context) ([]persistence.Mode, error) {
	modes, err := m.repo.ListModes(ctx)
	if err == nil {
		return modes, nil
	}
	if !errors.Is(err, persistence.ErrNoBackingStore) {
		return nil, readError(err)
	}
	out := make([]persistence.Mode, len(ArmableModes))
	for i, mode := range ArmableModes {
		out[i] = persistence.Mode{ID: i + 1, Name: string(mode)}
	}
	return out, nil
}

func normalizeIDs(ids []int) []int {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// ArmingController runs the mode state machine. Arming is refused while any
// door or window contact is open.
type ArmingController struct {
	sensors *SensorInventory
	zones   *ZoneRegistry
	modes   *ModeMap
	alarm   *Alarm
	delays  *IntrusionPipeline
	events  *EventLog
	logger  *slog.Logger

	mu   sync.Mutex
	mode Mode
}

// NewArmingController constructs a controller in the DISARMED state.
// Disarm cancels the entry delays pending in delays.
func NewArmingController(sensors *SensorInventory, zones *ZoneRegistry, modes *ModeMap, alarm *Alarm, delays *IntrusionPipeline, events *EventLog, logger *slog.Logger) *ArmingController {
	return &ArmingController{
		sensors: sensors,
		zones:   zones,
		modes:   modes,
		alarm:   alarm,
		delays:  delays,
		events:  events,
		logger:  defaultLogger(logger),
		mode:    ModeDisarmed,
	}
}

func (a *ArmingController) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, a.logger, "ArmingController", operation, attrs...)
}

// Mode returns the current mode.
func (a *ArmingController) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// Arm switches to mode. Exactly the sensors mapped to mode become active.
// An empty mapping still changes the mode.
func (a *ArmingController) Arm(ctx context.Context, mode Mode) (err error) {
	logger := a.loggerWith(ctx, "Arm", "mode", mode)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "arming refused", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "system armed")
	}()

	if !mode.Armable() {
		return fmt.Errorf("%w: cannot arm in mode %q", ErrBadFormat, mode)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode == ModePanic {
		return ErrPanicActive
	}

	if open := a.sensors.OpenWinDoors(); len(open) > 0 {
		a.events.Warning(ctx, "arming",
			fmt.Sprintf("Cannot arm %s: windows/doors open (sensors %s)", mode, joinIDs(open)), EventRefs{})
		return &NotReadyError{OpenSensors: open}
	}

	selected := a.modes.Get(mode)
	var failures []error
	for _, st := range a.sensors.List() {
		var setErr error
		if slices.Contains(selected, st.ID) {
			setErr = a.sensors.Arm(ctx, st.ID)
		} else {
			setErr = a.sensors.Disarm(ctx, st.ID)
		}
		if setErr != nil {
			failures = append(failures, setErr)
		}
	}
	a.mode = mode
	a.events.Info(ctx, "arming", fmt.Sprintf("System armed in %s mode", mode), EventRefs{})
	return errors.Join(failures...)
}

// Disarm deactivates every sensor and zone, silences the alarm and returns
// to DISARMED. It is valid from any state. Detections observed before the
// call cannot ring the alarm afterwards.
func (a *ArmingController) Disarm(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.delays != nil {
		a.delays.CancelPending(ctx)
	}
	var failures []error
	for _, st := range a.sensors.List() {
		if err := a.sensors.Disarm(ctx, st.ID); err != nil {
			failures = append(failures, err)
		}
	}
	if err := a.zones.DisarmAll(ctx); err != nil {
		failures = append(failures, err)
	}
	a.alarm.Stop(ctx)

	previous := a.mode
	a.mode = ModeDisarmed
	if previous != ModeDisarmed {
		a.events.Info(ctx, "arming", "System disarmed", EventRefs{})
	}
	a.loggerWith(ctx, "Disarm", "previous_mode", previous).InfoContext(ctx, "system disarmed")
	return errors.Join(failures...)
}

// ArmZone activates every sensor in the zone and marks it armed.
func (a *ArmingController) ArmZone(ctx context.Context, zoneID int) error {
	return a.setZone(ctx, zoneID, true)
}

// DisarmZone deactivates every sensor in the zone and marks it disarmed.
func (a *ArmingController) DisarmZone(ctx context.Context, zoneID int) error {
	return a.setZone(ctx, zoneID, false)
}

func (a *ArmingController) setZone(ctx context.Context, zoneID int, armed bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	zone, err := a.zones.Get(zoneID)
	if err != nil {
		a.events.Warning(ctx, "arming", fmt.Sprintf("Unknown zone %d", zoneID), ZoneRef(zoneID))
		return err
	}

	var failures []error
	for _, st := range a.sensors.ListByZone(zoneID) {
		var setErr error
		if armed {
			setErr = a.sensors.Arm(ctx, st.ID)
		} else {
			setErr = a.sensors.Disarm(ctx, st.ID)
		}
		if setErr != nil {
			failures = append(failures, setErr)
		}
	}
	if err := a.zones.SetArmed(ctx, zoneID, armed); err != nil {
		failures = append(failures, err)
	}

	verb := "disarmed"
	if armed {
		verb = "armed"
	}
	a.events.Info(ctx, "arming", fmt.Sprintf("Zone %s %s", zone.Name, verb), ZoneRef(zoneID))
	return errors.Join(failures...)
}

// Panic enters PANIC and rings the alarm unconditionally.
func (a *ArmingController) Panic(ctx context.Context) {
	a.mu.Lock()
	a.mode = ModePanic
	a.mu.Unlock()

	a.alarm.Ring(ctx)
	a.events.Alarm(ctx, "panic", "PANIC button pressed", EventRefs{})
}
