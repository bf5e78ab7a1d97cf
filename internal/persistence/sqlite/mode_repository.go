package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/example/safehome/internal/persistence"
)

// ListModes returns the persisted mode catalogue ordered by ID.
func (s *Storage) ListModes(ctx context.Context) ([]persistence.Mode, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT mode_id, mode_name, description
		FROM safehome_modes
		ORDER BY mode_id ASC`)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var modes []persistence.Mode
	for rows.Next() {
		var mode persistence.Mode
		if err := rows.Scan(&mode.ID, &mode.Name, &mode.Description); err != nil {
			return nil, s.mapper.MapError(err)
		}
		modes = append(modes, mode)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return modes, nil
}

// SetModeSensors replaces the sensors mapped to mode.
func (s *Storage) SetModeSensors(ctx context.Context, mode string, sensorIDs []int) error {
	ids := uniqueSorted(sensorIDs)

	return s.WithinTx(ctx, func(store persistence.Store) error {
		tx := store.(*Storage)

		modeID, err := tx.modeID(ctx, mode)
		if err != nil {
			return err
		}

		if _, err := tx.exec(ctx, `DELETE FROM mode_sensor_mapping WHERE mode_id = ?`, modeID); err != nil {
			return err
		}

		for _, id := range ids {
			if _, err := tx.exec(ctx,
				`INSERT INTO mode_sensor_mapping (mode_id, sensor_id) VALUES (?, ?)`,
				modeID, id,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetModeSensors returns the sensor IDs mapped to mode in ascending order.
func (s *Storage) GetModeSensors(ctx context.Context, mode string) ([]int, error) {
	modeID, err := s.modeID(ctx, mode)
	if err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT sensor_id
		FROM mode_sensor_mapping
		WHERE mode_id = ?
		ORDER BY sensor_id ASC`, modeID)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	ids := make([]int, 0)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, s.mapper.MapError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return ids, nil
}

func (s *Storage) modeID(ctx context.Context, mode string) (int, error) {
	var id int
	err := s.q.QueryRowContext(ctx, `SELECT mode_id FROM safehome_modes WHERE mode_name = ?`, mode).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, persistence.ErrNotFound
		}
		return 0, s.mapper.MapError(err)
	}
	return id, nil
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	result := make([]int, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	sort.Ints(result)
	return result
}
