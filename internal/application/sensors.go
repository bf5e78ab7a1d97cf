package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/example/safehome/internal/persistence"
)

type sensorEntry struct {
	id int

	mu     sync.Mutex
	record persistence.Sensor
	leaf   SensorDevice
	// epoch counts disarms; a detection seen under an older epoch is stale.
	epoch uint64
}

func (e *sensorEntry) status() SensorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SensorStatus{
		ID:        e.record.ID,
		Kind:      SensorKind(e.record.Kind),
		Location:  e.record.Location,
		ZoneID:    copyInt(e.record.ZoneID),
		Active:    e.record.Active,
		Triggered: e.leaf.Triggered(),
	}
}

// SensorInventory owns the sensors and their hardware leaves.
type SensorInventory struct {
	repo    persistence.SensorRepository
	factory SensorFactory
	logger  *slog.Logger

	mu      sync.RWMutex
	sensors map[int]*sensorEntry
	nextID  int
}

// NewSensorInventory constructs an empty inventory. A nil factory builds simulated leaves.
func NewSensorInventory(repo persistence.SensorRepository, factory SensorFactory, logger *slog.Logger) *SensorInventory {
	if factory == nil {
		factory = SimulatedSensors
	}
	return &SensorInventory{
		repo:    repo,
		factory: factory,
		logger:  defaultLogger(logger),
		sensors: make(map[int]*sensorEntry),
		nextID:  1,
	}
}

func (s *SensorInventory) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "SensorInventory", operation, attrs...)
}

// Load rebuilds the inventory from the store. Sensors persisted as active
// are re-armed.
func (s *SensorInventory) Load(ctx context.Context) error {
	records, err := s.repo.ListSensors(ctx)
	if err := readError(err); err != nil && err != ErrNoBackingStore {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.sensors {
		e.leaf.Close()
	}
	s.sensors = make(map[int]*sensorEntry, len(records))
	s.nextID = 1
	for _, rec := range records {
		leaf := s.factory(SensorKind(rec.Kind))
		if rec.Active {
			leaf.Arm()
		}
		s.sensors[rec.ID] = &sensorEntry{id: rec.ID, record: rec, leaf: leaf}
		if rec.ID >= s.nextID {
			s.nextID = rec.ID + 1
		}
	}
	s.loggerWith(ctx, "Load").DebugContext(ctx, "sensors loaded", "count", len(records))
	return nil
}

// Add creates and persists a sensor.
func (s *SensorInventory) Add(ctx context.Context, kind SensorKind, location string, zoneID *int) (status SensorStatus, err error) {
	logger := s.loggerWith(ctx, "Add", "kind", kind)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add sensor", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("sensor_id", status.ID).InfoContext(ctx, "sensor added")
	}()

	if kind, err = ParseSensorKind(string(kind)); err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := persistence.Sensor{
		ID:       s.nextID,
		Kind:     string(kind),
		Location: strings.TrimSpace(location),
		ZoneID:   copyInt(zoneID),
	}
	if err = storeError(s.repo.CreateSensor(ctx, rec)); err != nil {
		return
	}

	entry := &sensorEntry{id: rec.ID, record: rec, leaf: s.factory(kind)}
	s.sensors[rec.ID] = entry
	s.nextID++
	status = entry.status()
	return
}

// Remove deletes the sensor, then disarms and stops its leaf.
func (s *SensorInventory) Remove(ctx context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sensors[id]
	if !ok {
		return &NotFoundError{Entity: "sensor", ID: id}
	}

	if err := storeError(s.repo.DeleteSensor(ctx, id)); err != nil {
		return err
	}

	entry.mu.Lock()
	entry.leaf.Disarm()
	entry.leaf.Close()
	entry.record.Active = false
	entry.mu.Unlock()
	delete(s.sensors, id)
	s.loggerWith(ctx, "Remove", "sensor_id", id).InfoContext(ctx, "sensor removed")
	return nil
}

// Get returns a sensor snapshot.
func (s *SensorInventory) Get(id int) (SensorStatus, error) {
	entry, err := s.entry(id)
	if err != nil {
		return SensorStatus{}, err
	}
	return entry.status(), nil
}

// Exists reports whether id names a sensor.
func (s *SensorInventory) Exists(id int) bool {
	_, err := s.entry(id)
	return err == nil
}

// List returns snapshots of every sensor ordered by ID.
func (s *SensorInventory) List() []SensorStatus {
	return s.filter(func(SensorStatus) bool { return true })
}

// ListByZone returns the sensors assigned to zoneID.
func (s *SensorInventory) ListByZone(zoneID int) []SensorStatus {
	return s.filter(func(st SensorStatus) bool { return st.ZoneID != nil && *st.ZoneID == zoneID })
}

// ListByKind returns the sensors of one kind.
func (s *SensorInventory) ListByKind(kind SensorKind) []SensorStatus {
	return s.filter(func(st SensorStatus) bool { return st.Kind == kind })
}

func (s *SensorInventory) filter(keep func(SensorStatus) bool) []SensorStatus {
	var out []SensorStatus
	for _, e := range s.entries() {
		if st := e.status(); keep(st) {
			out = append(out, st)
		}
	}
	return out
}

// Count returns the number of sensors and how many are active.
func (s *SensorInventory) Count() (total, active int) {
	for _, e := range s.entries() {
		total++
		if e.status().Active {
			active++
		}
	}
	return total, active
}

// Arm activates a sensor.
func (s *SensorInventory) Arm(ctx context.Context, id int) error {
	return s.setActive(ctx, id, true)
}

// Disarm deactivates a sensor.
func (s *SensorInventory) Disarm(ctx context.Context, id int) error {
	return s.setActive(ctx, id, false)
}

func (s *SensorInventory) setActive(ctx context.Context, id int, active bool) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if active {
		entry.leaf.Arm()
	} else {
		entry.leaf.Disarm()
		entry.epoch++
	}
	if entry.record.Active == active {
		return nil
	}
	entry.record.Active = active
	return storeError(s.repo.UpdateSensor(ctx, entry.record))
}

// AssignZone moves a sensor into zoneID, or out of any zone when nil.
func (s *SensorInventory) AssignZone(ctx context.Context, id int, zoneID *int) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	previous := entry.record.ZoneID
	entry.record.ZoneID = copyInt(zoneID)
	if err := storeError(s.repo.UpdateSensor(ctx, entry.record)); err != nil {
		entry.record.ZoneID = previous
		return err
	}
	return nil
}

// DetachZone clears the zone reference of every member of zoneID in
// memory. The store does the same when the zone row is deleted.
func (s *SensorInventory) DetachZone(zoneID int) {
	for _, e := range s.entries() {
		e.mu.Lock()
		if e.record.ZoneID != nil && *e.record.ZoneID == zoneID {
			e.record.ZoneID = nil
		}
		e.mu.Unlock()
	}
}

// DetachAllZones clears every zone reference in memory.
func (s *SensorInventory) DetachAllZones() {
	for _, e := range s.entries() {
		e.mu.Lock()
		e.record.ZoneID = nil
		e.mu.Unlock()
	}
}

// Trigger simulates a detection on the leaf.
func (s *SensorInventory) Trigger(id int) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.leaf.Trigger()
	entry.mu.Unlock()
	return nil
}

// Release clears a simulated detection.
func (s *SensorInventory) Release(id int) error {
	entry, err := s.entry(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	entry.leaf.Release()
	entry.mu.Unlock()
	return nil
}

// OpenWinDoors returns the door and window sensors whose contact is open.
func (s *SensorInventory) OpenWinDoors() []int {
	var open []int
	for _, st := range s.ListByKind(SensorWinDoor) {
		if st.Triggered {
			open = append(open, st.ID)
		}
	}
	return open
}

// Detecting returns the IDs of active sensors whose leaf reads a detection.
func (s *SensorInventory) Detecting() []int {
	var ids []int
	for _, d := range s.detections() {
		ids = append(ids, d.id)
	}
	return ids
}

// IsDetecting reports whether sensor id is active and reading a detection.
func (s *SensorInventory) IsDetecting(id int) bool {
	entry, err := s.entry(id)
	if err != nil {
		return false
	}
	return entry.detecting()
}

type sensorDetection struct {
	id    int
	epoch uint64
}

func (s *SensorInventory) detections() []sensorDetection {
	var out []sensorDetection
	for _, e := range s.entries() {
		e.mu.Lock()
		if e.record.Active && e.leaf.Read() {
			out = append(out, sensorDetection{id: e.id, epoch: e.epoch})
		}
		e.mu.Unlock()
	}
	return out
}

// detectingSince reports whether sensor id is detecting and has not been
// disarmed since epoch was observed.
func (s *SensorInventory) detectingSince(id int, epoch uint64) bool {
	entry, err := s.entry(id)
	if err != nil {
		return false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.epoch == epoch && entry.record.Active && entry.leaf.Read()
}

func (e *sensorEntry) detecting() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record.Active && e.leaf.Read()
}

// Close stops every leaf.
func (s *SensorInventory) Close() {
	for _, e := range s.entries() {
		e.mu.Lock()
		e.leaf.Close()
		e.mu.Unlock()
	}
}

func (s *SensorInventory) entry(id int) (*sensorEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sensors[id]
	if !ok {
		return nil, &NotFoundError{Entity: "sensor", ID: id}
	}
	return entry, nil
}

// entries returns the entries ordered by ID.
func (s *SensorInventory) entries() []*sensorEntry {
	s.mu.RLock()
	out := make([]*sensorEntry, 0, len(s.sensors))
	for _, e := range s.sensors {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func formatZone(zoneID *int) string {
	if zoneID == nil {
		return "none"
	}
	return fmt.Sprint(*zoneID)
}
