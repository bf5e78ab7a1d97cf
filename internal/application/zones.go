package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/safehome/internal/persistence"
)

// DefaultZoneNames are created when the store holds no zones.
var DefaultZoneNames = []string{"Living Room", "Bedroom"}

// ZoneRegistry holds the zone catalogue in memory and persists changes.
type ZoneRegistry struct {
	repo   persistence.ZoneRepository
	now    func() time.Time
	logger *slog.Logger

	mu    sync.RWMutex
	zones map[int]persistence.Zone
}

// NewZoneRegistry constructs an empty registry.
func NewZoneRegistry(repo persistence.ZoneRepository, now func() time.Time, logger *slog.Logger) *ZoneRegistry {
	if now == nil {
		now = time.Now
	}
	return &ZoneRegistry{repo: repo, now: now, logger: defaultLogger(logger), zones: make(map[int]persistence.Zone)}
}

func (r *ZoneRegistry) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, r.logger, "ZoneRegistry", operation, attrs...)
}

// Load replaces the in-memory catalogue with the stored zones and seeds the
// defaults when there are none.
func (r *ZoneRegistry) Load(ctx context.Context) error {
	zones, err := r.repo.ListZones(ctx)
	if err := readError(err); err != nil && err != ErrNoBackingStore {
		return err
	}

	r.mu.Lock()
	r.zones = make(map[int]persistence.Zone, len(zones))
	for _, z := range zones {
		r.zones[z.ID] = z
	}
	empty := len(r.zones) == 0
	r.mu.Unlock()

	if empty {
		return r.seedDefaults(ctx)
	}
	return nil
}

func (r *ZoneRegistry) seedDefaults(ctx context.Context) error {
	for _, name := range DefaultZoneNames {
		if _, err := r.Add(ctx, name); err != nil {
			return err
		}
	}
	r.loggerWith(ctx, "Load").InfoContext(ctx, "default zones created", "count", len(DefaultZoneNames))
	return nil
}

// DefaultZones returns the default catalogue with sequential IDs from 1.
func DefaultZones(now time.Time) []persistence.Zone {
	zones := make([]persistence.Zone, len(DefaultZoneNames))
	for i, name := range DefaultZoneNames {
		zones[i] = persistence.Zone{ID: i + 1, Name: name, CreatedAt: now, UpdatedAt: now}
	}
	return zones
}

// Replace swaps the in-memory catalogue without touching the store.
func (r *ZoneRegistry) Replace(zones []persistence.Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones = make(map[int]persistence.Zone, len(zones))
	for _, z := range zones {
		r.zones[z.ID] = z
	}
}

// Add creates a zone with the next free ID.
func (r *ZoneRegistry) Add(ctx context.Context, name string) (zone persistence.Zone, err error) {
	name = strings.TrimSpace(name)
	logger := r.loggerWith(ctx, "Add", "zone_name", name)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to add zone", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("zone_id", zone.ID).InfoContext(ctx, "zone added")
	}()

	if name == "" {
		err = fmt.Errorf("%w: zone name cannot be empty", ErrBadFormat)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	zone = persistence.Zone{ID: r.nextIDLocked(), Name: name, CreatedAt: now, UpdatedAt: now}
	stored, createErr := r.repo.CreateZone(ctx, zone)
	if err = storeError(createErr); err != nil {
		return
	}
	if createErr == nil {
		zone = stored
	}
	r.zones[zone.ID] = zone
	return
}

// Rename changes a zone's name.
func (r *ZoneRegistry) Rename(ctx context.Context, id int, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: zone name cannot be empty", ErrBadFormat)
	}
	return r.update(ctx, id, func(z *persistence.Zone) { z.Name = name })
}

// SetArmed records whether the zone is armed.
func (r *ZoneRegistry) SetArmed(ctx context.Context, id int, armed bool) error {
	return r.update(ctx, id, func(z *persistence.Zone) { z.Armed = armed })
}

// DisarmAll clears the armed flag on every zone.
func (r *ZoneRegistry) DisarmAll(ctx context.Context) error {
	for _, z := range r.List() {
		if !z.Armed {
			continue
		}
		if err := r.SetArmed(ctx, z.ID, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *ZoneRegistry) update(ctx context.Context, id int, fn func(*persistence.Zone)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	zone, ok := r.zones[id]
	if !ok {
		return &NotFoundError{Entity: "zone", ID: id}
	}
	fn(&zone)
	zone.UpdatedAt = r.now()
	if err := storeError(r.repo.UpdateZone(ctx, zone)); err != nil {
		return err
	}
	r.zones[id] = zone
	return nil
}

// Delete removes a zone. The store detaches its sensors.
func (r *ZoneRegistry) Delete(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.zones[id]; !ok {
		return &NotFoundError{Entity: "zone", ID: id}
	}
	if err := storeError(r.repo.DeleteZone(ctx, id)); err != nil {
		return err
	}
	delete(r.zones, id)
	r.loggerWith(ctx, "Delete", "zone_id", id).InfoContext(ctx, "zone deleted")
	return nil
}

// Get returns a zone.
func (r *ZoneRegistry) Get(id int) (persistence.Zone, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	zone, ok := r.zones[id]
	if !ok {
		return persistence.Zone{}, &NotFoundError{Entity: "zone", ID: id}
	}
	return zone, nil
}

// List returns all zones ordered by ID.
func (r *ZoneRegistry) List() []persistence.Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	zones := make([]persistence.Zone, 0, len(r.zones))
	for _, z := range r.zones {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones
}

func (r *ZoneRegistry) nextIDLocked() int {
	next := 1
	for id := range r.zones {
		if id >= next {
			next = id + 1
		}
	}
	return next
}
