package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/example/safehome/internal/clock"
	"github.com/example/safehome/internal/persistence"
)

// Camera positioning limits.
const (
	PanMin      = -5
	PanMax      = 5
	TiltMin     = -5
	TiltMax     = 5
	ZoomMin     = 1
	ZoomMax     = 9
	DefaultZoom = 2
)

type cameraEntry struct {
	id int

	mu     sync.Mutex
	record persistence.Camera
	view   CameraView
	lock   cameraLock
}

func (e *cameraEntry) statusLocked(guard *AccessGuard) CameraStatus {
	locked := guard.cameraLocked(&e.lock)
	return CameraStatus{
		ID:             e.record.ID,
		Name:           e.record.Name,
		Location:       e.record.Location,
		HasPassword:    e.record.Password != nil,
		Enabled:        e.record.Enabled,
		Locked:         locked,
		LockedUntil:    e.lock.lockedUntil,
		FailedAttempts: e.lock.failedAttempts,
		Pan:            e.record.Pan,
		Tilt:           e.record.Tilt,
		Zoom:           e.record.Zoom,
	}
}

// CameraInventory owns the cameras and their view producers. Every control
// operation passes through the AccessGuard.
type CameraInventory struct {
	repo    persistence.CameraRepository
	factory CameraFactory
	guard   *AccessGuard
	events  *EventLog
	clock   clock.Clock
	logger  *slog.Logger

	mu      sync.RWMutex
	cameras map[int]*cameraEntry
	nextID  int
}

// NewCameraInventory constructs an empty inventory. A nil factory builds simulated views.
func NewCameraInventory(repo persistence.CameraRepository, factory CameraFactory, guard *AccessGuard, events *EventLog, c clock.Clock, logger *slog.Logger) *CameraInventory {
	if factory == nil {
		factory = SimulatedCameras
	}
	return &CameraInventory{
		repo:    repo,
		factory: factory,
		guard:   guard,
		events:  events,
		clock:   clock.OrReal(c),
		logger:  defaultLogger(logger),
		cameras: make(map[int]*cameraEntry),
		nextID:  1,
	}
}

func (c *CameraInventory) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, c.logger, "CameraInventory", operation, attrs...)
}

// Load rebuilds the inventory from the store. Reloaded cameras are enabled.
func (c *CameraInventory) Load(ctx context.Context) error {
	records, err := c.repo.ListCameras(ctx)
	if err := readError(err); err != nil && err != ErrNoBackingStore {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.cameras {
		e.view.Close()
	}
	c.cameras = make(map[int]*cameraEntry, len(records))
	c.nextID = 1
	for _, rec := range records {
		rec.Enabled = true
		rec.Zoom = clampInt(rec.Zoom, ZoomMin, ZoomMax)
		c.cameras[rec.ID] = &cameraEntry{id: rec.ID, record: rec, view: c.factory(rec.Name)}
		if rec.ID >= c.nextID {
			c.nextID = rec.ID + 1
		}
	}
	return nil
}

// Add creates and persists a camera. An empty password leaves it open.
func (c *CameraInventory) Add(ctx context.Context, name, location, password string) (status CameraStatus, err error) {
	name = strings.TrimSpace(name)
	logger := c.loggerWith(ctx, "Add", "camera_name", name)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add camera", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("camera_id", status.ID).InfoContext(ctx, "camera added")
	}()

	if name == "" {
		err = fmt.Errorf("%w: camera name cannot be empty", ErrBadFormat)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec := persistence.Camera{
		ID:       c.nextID,
		Name:     name,
		Location: strings.TrimSpace(location),
		Enabled:  true,
		Zoom:     DefaultZoom,
	}
	if password != "" {
		rec.Password = &password
	}
	if err = storeError(c.repo.CreateCamera(ctx, rec)); err != nil {
		return
	}

	entry := &cameraEntry{id: rec.ID, record: rec, view: c.factory(name)}
	c.cameras[rec.ID] = entry
	c.nextID++
	status = entry.statusLocked(c.guard)
	return
}

// Remove stops the view producer and deletes the camera.
func (c *CameraInventory) Remove(ctx context.Context, id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.cameras[id]
	if !ok {
		return &NotFoundError{Entity: "camera", ID: id}
	}
	if err := storeError(c.repo.DeleteCamera(ctx, id)); err != nil {
		return err
	}
	entry.mu.Lock()
	entry.view.Close()
	entry.mu.Unlock()
	delete(c.cameras, id)
	return nil
}

// Get returns a camera snapshot.
func (c *CameraInventory) Get(id int) (CameraStatus, error) {
	entry, err := c.entry(id)
	if err != nil {
		return CameraStatus{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.statusLocked(c.guard), nil
}

// List returns snapshots of every camera ordered by ID.
func (c *CameraInventory) List() []CameraStatus {
	entries := c.entries()
	out := make([]CameraStatus, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.statusLocked(c.guard))
		e.mu.Unlock()
	}
	return out
}

// Count returns the number of cameras.
func (c *CameraInventory) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cameras)
}

// View renders the current picture of a camera.
func (c *CameraInventory) View(ctx context.Context, id int, password string) (frame Frame, err error) {
	logger := c.loggerWith(ctx, "View", "camera_id", id)
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "camera view refused", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	entry, err := c.entry(id)
	if err != nil {
		return Frame{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err = c.guard.authorizeCamera(ctx, entry.record, &entry.lock, password); err != nil {
		return Frame{}, err
	}

	data, err := entry.view.Frame(entry.record.Pan, entry.record.Tilt, entry.record.Zoom)
	if err != nil {
		return Frame{}, fmt.Errorf("camera %d: %w", id, err)
	}

	contentType := "application/octet-stream"
	if typed, ok := entry.view.(interface{ ContentType() string }); ok {
		contentType = typed.ContentType()
	}
	return Frame{
		CameraID:    id,
		Pan:         entry.record.Pan,
		Tilt:        entry.record.Tilt,
		Zoom:        entry.record.Zoom,
		ContentType: contentType,
		Data:        data,
		CapturedAt:  c.clock.Now(),
	}, nil
}

// Pan moves the camera one step left (dir < 0) or right (dir > 0).
func (c *CameraInventory) Pan(ctx context.Context, id int, password string, dir int) error {
	return c.move(ctx, id, password, "pan", dir, PanMin, PanMax, func(r *persistence.Camera) *int { return &r.Pan })
}

// Tilt moves the camera one step down (dir < 0) or up (dir > 0).
func (c *CameraInventory) Tilt(ctx context.Context, id int, password string, dir int) error {
	return c.move(ctx, id, password, "tilt", dir, TiltMin, TiltMax, func(r *persistence.Camera) *int { return &r.Tilt })
}

// Zoom steps the zoom level out (dir < 0) or in (dir > 0).
func (c *CameraInventory) Zoom(ctx context.Context, id int, password string, dir int) error {
	return c.move(ctx, id, password, "zoom", dir, ZoomMin, ZoomMax, func(r *persistence.Camera) *int { return &r.Zoom })
}

func (c *CameraInventory) move(ctx context.Context, id int, password, axis string, dir, lo, hi int, field func(*persistence.Camera) *int) error {
	step, err := direction(dir)
	if err != nil {
		return err
	}
	entry, err := c.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := c.guard.authorizeCamera(ctx, entry.record, &entry.lock, password); err != nil {
		return err
	}

	updated := entry.record
	value := field(&updated)
	next := *value + step
	if next < lo || next > hi {
		return &BoundaryError{Axis: axis}
	}
	*value = next
	if err := storeError(c.repo.UpdateCamera(ctx, updated)); err != nil {
		return err
	}
	entry.record = updated
	return nil
}

// SetPassword sets or changes the camera password. When one exists, old
// must match it; newPassword must equal confirm.
func (c *CameraInventory) SetPassword(ctx context.Context, id int, old, newPassword, confirm string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: password cannot be empty", ErrBadFormat)
	}
	if newPassword != confirm {
		return fmt.Errorf("%w: password confirmation does not match", ErrBadFormat)
	}
	return c.changePassword(ctx, id, old, &newPassword, "Camera %d password set")
}

// DeletePassword removes the camera password after checking old.
func (c *CameraInventory) DeletePassword(ctx context.Context, id int, old string) error {
	return c.changePassword(ctx, id, old, nil, "Camera %d password removed")
}

func (c *CameraInventory) changePassword(ctx context.Context, id int, old string, next *string, message string) error {
	entry, err := c.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.record.Password != nil {
		if err := c.guard.checkCameraPassword(ctx, entry.record, &entry.lock, old); err != nil {
			return err
		}
	}

	updated := entry.record
	updated.Password = next
	if err := storeError(c.repo.UpdateCamera(ctx, updated)); err != nil {
		return err
	}
	entry.record = updated
	entry.lock = cameraLock{}
	c.events.Info(ctx, "camera", fmt.Sprintf(message, id), CameraRef(id))
	return nil
}

// Enable turns a camera on. Admin only.
func (c *CameraInventory) Enable(ctx context.Context, principal Principal, id int) error {
	return c.setEnabled(ctx, principal, id, true)
}

// Disable turns a camera off. Admin only.
func (c *CameraInventory) Disable(ctx context.Context, principal Principal, id int) error {
	return c.setEnabled(ctx, principal, id, false)
}

func (c *CameraInventory) setEnabled(ctx context.Context, principal Principal, id int, enabled bool) error {
	action := "disable cameras"
	if enabled {
		action = "enable cameras"
	}
	if err := c.guard.RequireAdmin(ctx, principal, action); err != nil {
		return err
	}
	entry, err := c.entry(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	updated := entry.record
	updated.Enabled = enabled
	if err := storeError(c.repo.UpdateCamera(ctx, updated)); err != nil {
		return err
	}
	entry.record = updated
	return nil
}

// ResetPasswords clears every password and lockout in memory. The store is
// cleared separately by factory reset.
func (c *CameraInventory) ResetPasswords() {
	for _, e := range c.entries() {
		e.mu.Lock()
		e.record.Password = nil
		e.lock = cameraLock{}
		e.mu.Unlock()
	}
}

// Close stops every view producer.
func (c *CameraInventory) Close() {
	for _, e := range c.entries() {
		e.mu.Lock()
		e.view.Close()
		e.mu.Unlock()
	}
}

func (c *CameraInventory) entry(id int) (*cameraEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cameras[id]
	if !ok {
		return nil, &NotFoundError{Entity: "camera", ID: id}
	}
	return entry, nil
}

func (c *CameraInventory) entries() []*cameraEntry {
	c.mu.RLock()
	out := make([]*cameraEntry, 0, len(c.cameras))
	for _, e := range c.cameras {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func direction(dir int) (int, error) {
	switch {
	case dir > 0:
		return 1, nil
	case dir < 0:
		return -1, nil
	}
	return 0, fmt.Errorf("%w: direction must be non-zero", ErrBadFormat)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
