package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/example/safehome/internal/persistence"
)

// volatileEventLimit bounds the in-memory log kept when the store cannot hold events.
const volatileEventLimit = 1000

// EventRefs carries the optional entity references of an event.
type EventRefs struct {
	SensorID *int
	CameraID *int
	ZoneID   *int
}

// SensorRef returns refs pointing at a sensor.
func SensorRef(id int) EventRefs {
	return EventRefs{SensorID: &id}
}

// CameraRef returns refs pointing at a camera.
func CameraRef(id int) EventRefs {
	return EventRefs{CameraID: &id}
}

// ZoneRef returns refs pointing at a zone.
func ZoneRef(id int) EventRefs {
	return EventRefs{ZoneID: &id}
}

// EventLog is the append-only domain log. Every entry is persisted, mirrored
// to the operational logger and optionally appended to a plain-text file.
// When the store is the settings-only fallback the log is kept in memory.
type EventLog struct {
	repo   persistence.EventLogRepository
	mirror io.Writer
	now    func() time.Time
	logger *slog.Logger

	mu       sync.Mutex
	volatile bool
	memory   []persistence.EventLogEntry
	seen     map[int64]bool
	nextID   int64
}

// NewEventLog constructs an EventLog. mirror may be nil.
func NewEventLog(repo persistence.EventLogRepository, mirror io.Writer, now func() time.Time, logger *slog.Logger) *EventLog {
	if now == nil {
		now = time.Now
	}
	return &EventLog{
		repo:     repo,
		mirror:   mirror,
		now:      now,
		logger:   defaultLogger(logger),
		volatile: repo == nil,
		seen:     make(map[int64]bool),
	}
}

func (l *EventLog) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, l.logger, "EventLog", operation, attrs...)
}

// Record appends an event. Failures to persist or mirror the entry are
// logged and swallowed; the returned entry has ID zero in that case.
func (l *EventLog) Record(ctx context.Context, level Level, source, message string, refs EventRefs) persistence.EventLogEntry {
	entry := persistence.EventLogEntry{
		Timestamp: l.now(),
		Level:     string(level),
		Source:    source,
		Message:   message,
		SensorID:  refs.SensorID,
		CameraID:  refs.CameraID,
		ZoneID:    refs.ZoneID,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	logger := l.loggerWith(ctx, "Record", "source", source)
	logger.Log(ctx, slogLevel(level), message, eventAttrs(entry)...)

	if !l.volatile {
		stored, err := l.repo.AppendEvent(ctx, entry)
		switch {
		case err == nil:
			entry = stored
		case errors.Is(err, persistence.ErrNoBackingStore):
			l.volatile = true
		default:
			logger.ErrorContext(ctx, "failed to persist event", "error", err, "error_kind", ErrorKind(storeError(err)))
		}
	}
	if l.volatile {
		l.nextID++
		entry.ID = l.nextID
		l.memory = append(l.memory, entry)
		if len(l.memory) > volatileEventLimit {
			l.memory = l.memory[len(l.memory)-volatileEventLimit:]
		}
	}

	if l.mirror != nil {
		line := fmt.Sprintf("%s - %s %s: %s\n", entry.Timestamp.Format(time.RFC3339), entry.Level, entry.Source, entry.Message)
		if _, err := io.WriteString(l.mirror, line); err != nil {
			logger.ErrorContext(ctx, "failed to write event file", "error", err)
		}
	}
	return entry
}

// Info records an INFO event.
func (l *EventLog) Info(ctx context.Context, source, message string, refs EventRefs) {
	l.Record(ctx, LevelInfo, source, message, refs)
}

// Warning records a WARNING event.
func (l *EventLog) Warning(ctx context.Context, source, message string, refs EventRefs) {
	l.Record(ctx, LevelWarning, source, message, refs)
}

// Alarm records an ALARM event.
func (l *EventLog) Alarm(ctx context.Context, source, message string, refs EventRefs) {
	l.Record(ctx, LevelAlarm, source, message, refs)
}

// Error records an ERROR event.
func (l *EventLog) Error(ctx context.Context, source, message string, refs EventRefs) {
	l.Record(ctx, LevelError, source, message, refs)
}

// List returns events matching filter, newest first.
func (l *EventLog) List(ctx context.Context, filter persistence.EventFilter) ([]persistence.EventLogEntry, error) {
	l.mu.Lock()
	volatile := l.volatile
	l.mu.Unlock()

	if !volatile {
		entries, err := l.repo.ListEvents(ctx, filter)
		if err == nil {
			return entries, nil
		}
		if !errors.Is(err, persistence.ErrNoBackingStore) {
			return nil, readError(err)
		}
	}
	return l.listMemory(filter), nil
}

// UnseenAlarms returns ALARM events not yet acknowledged, newest first.
func (l *EventLog) UnseenAlarms(ctx context.Context, limit int) ([]persistence.EventLogEntry, error) {
	return l.List(ctx, persistence.EventFilter{
		Levels:     []string{string(LevelAlarm)},
		UnseenOnly: true,
		Limit:      limit,
	})
}

// MarkSeen acknowledges the given events. Unknown IDs are ignored.
func (l *EventLog) MarkSeen(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.volatile {
		err := l.repo.MarkEventsSeen(ctx, ids)
		if !errors.Is(err, persistence.ErrNoBackingStore) {
			return storeError(err)
		}
	}
	for _, id := range ids {
		l.seen[id] = true
	}
	return nil
}

// Clear removes every event.
func (l *EventLog) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.memory = nil
	l.seen = make(map[int64]bool)
	if l.volatile {
		return nil
	}
	return storeError(l.repo.ClearEvents(ctx))
}

func (l *EventLog) listMemory(filter persistence.EventFilter) []persistence.EventLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []persistence.EventLogEntry
	for i := len(l.memory) - 1; i >= 0; i-- {
		entry := l.memory[i]
		entry.Seen = l.seen[entry.ID]
		if matchesEventFilter(entry, filter) {
			out = append(out, entry)
		}
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out
}

func matchesEventFilter(entry persistence.EventLogEntry, filter persistence.EventFilter) bool {
	if len(filter.Levels) > 0 && !slices.Contains(filter.Levels, entry.Level) {
		return false
	}
	if filter.Source != "" && entry.Source != filter.Source {
		return false
	}
	if !refMatches(filter.SensorID, entry.SensorID) || !refMatches(filter.CameraID, entry.CameraID) || !refMatches(filter.ZoneID, entry.ZoneID) {
		return false
	}
	if filter.Since != nil && entry.Timestamp.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && entry.Timestamp.After(*filter.Until) {
		return false
	}
	if filter.UnseenOnly && entry.Seen {
		return false
	}
	return true
}

func refMatches(want, got *int) bool {
	if want == nil {
		return true
	}
	return got != nil && *got == *want
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelWarning:
		return slog.LevelWarn
	case LevelAlarm, LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func eventAttrs(entry persistence.EventLogEntry) []any {
	attrs := []any{"event_level", entry.Level}
	if entry.SensorID != nil {
		attrs = append(attrs, "sensor_id", *entry.SensorID)
	}
	if entry.CameraID != nil {
		attrs = append(attrs, "camera_id", *entry.CameraID)
	}
	if entry.ZoneID != nil {
		attrs = append(attrs, "zone_id", *entry.ZoneID)
	}
	return attrs
}
