package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/safehome/internal/persistence"
)

// AppendEvent stores an event log entry and returns it with its assigned ID.
func (s *Storage) AppendEvent(ctx context.Context, entry persistence.EventLogEntry) (persistence.EventLogEntry, error) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	result, err := s.exec(ctx, `
		INSERT INTO event_logs (event_type, event_message, sensor_id, camera_id, zone_id, source, event_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Level,
		entry.Message,
		nullInt(entry.SensorID),
		nullInt(entry.CameraID),
		nullInt(entry.ZoneID),
		entry.Source,
		formatTime(entry.Timestamp),
	)
	if err != nil {
		return persistence.EventLogEntry{}, err
	}

	if entry.ID, err = result.LastInsertId(); err != nil {
		return persistence.EventLogEntry{}, fmt.Errorf("failed to read event id: %w", err)
	}
	entry.Seen = false
	return entry, nil
}

// ListEvents returns entries matching filter, newest first.
func (s *Storage) ListEvents(ctx context.Context, filter persistence.EventFilter) ([]persistence.EventLogEntry, error) {
	var (
		conditions []string
		args       []any
	)

	if len(filter.Levels) > 0 {
		placeholders := make([]string, len(filter.Levels))
		for i, level := range filter.Levels {
			placeholders[i] = "?"
			args = append(args, level)
		}
		conditions = append(conditions, "e.event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Source != "" {
		conditions = append(conditions, "e.source = ?")
		args = append(args, filter.Source)
	}
	if filter.SensorID != nil {
		conditions = append(conditions, "e.sensor_id = ?")
		args = append(args, *filter.SensorID)
	}
	if filter.CameraID != nil {
		conditions = append(conditions, "e.camera_id = ?")
		args = append(args, *filter.CameraID)
	}
	if filter.ZoneID != nil {
		conditions = append(conditions, "e.zone_id = ?")
		args = append(args, *filter.ZoneID)
	}
	if filter.Since != nil {
		conditions = append(conditions, "e.event_timestamp >= ?")
		args = append(args, formatTime(*filter.Since))
	}
	if filter.Until != nil {
		conditions = append(conditions, "e.event_timestamp < ?")
		args = append(args, formatTime(*filter.Until))
	}
	if filter.UnseenOnly {
		conditions = append(conditions, "s.log_id IS NULL")
	}

	var query strings.Builder
	query.WriteString(`
		SELECT e.log_id, e.event_type, e.event_message, e.sensor_id, e.camera_id, e.zone_id,
			e.source, e.event_timestamp, s.log_id IS NOT NULL
		FROM event_logs e
		LEFT JOIN event_log_seen s ON s.log_id = e.log_id`)
	if len(conditions) > 0 {
		query.WriteString("\n\t\tWHERE " + strings.Join(conditions, " AND "))
	}
	query.WriteString("\n\t\tORDER BY e.log_id DESC")

	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query.WriteString("\n\t\tLIMIT ? OFFSET ?")
		args = append(args, limit, max(filter.Offset, 0))
	}

	rows, err := s.q.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var entries []persistence.EventLogEntry
	for rows.Next() {
		var (
			entry                      persistence.EventLogEntry
			sensorID, cameraID, zoneID sql.NullInt64
			timestamp                  string
			seen                       int
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Level,
			&entry.Message,
			&sensorID,
			&cameraID,
			&zoneID,
			&entry.Source,
			&timestamp,
			&seen,
		); err != nil {
			return nil, s.mapper.MapError(err)
		}
		entry.SensorID = intPtr(sensorID)
		entry.CameraID = intPtr(cameraID)
		entry.ZoneID = intPtr(zoneID)
		entry.Seen = seen != 0
		if entry.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return entries, nil
}

// MarkEventsSeen records a seen marker for each existing entry in ids.
// Unknown IDs are ignored.
func (s *Storage) MarkEventsSeen(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	seenAt := formatTime(s.now())
	return s.WithinTx(ctx, func(store persistence.Store) error {
		tx := store.(*Storage)
		for _, id := range ids {
			if _, err := tx.exec(ctx, `
				INSERT OR IGNORE INTO event_log_seen (log_id, seen_at)
				SELECT log_id, ? FROM event_logs WHERE log_id = ?`,
				seenAt, id,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClearEvents deletes every event log entry and seen marker.
func (s *Storage) ClearEvents(ctx context.Context) error {
	return s.WithinTx(ctx, func(store persistence.Store) error {
		tx := store.(*Storage)
		if _, err := tx.exec(ctx, `DELETE FROM event_log_seen`); err != nil {
			return err
		}
		_, err := tx.exec(ctx, `DELETE FROM event_logs`)
		return err
	})
}
