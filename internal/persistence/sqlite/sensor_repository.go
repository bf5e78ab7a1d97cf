package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/safehome/internal/persistence"
)

// CreateSensor inserts a sensor with a caller-assigned ID.
func (s *Storage) CreateSensor(ctx context.Context, sensor persistence.Sensor) error {
	if sensor.ID <= 0 {
		return persistence.ErrConstraintViolation
	}

	_, err := s.exec(ctx, `
		INSERT INTO sensors (sensor_id, sensor_type, sensor_location, zone_id, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		sensor.ID,
		sensor.Kind,
		sensor.Location,
		nullInt(sensor.ZoneID),
		boolToInt(sensor.Active),
	)
	return err
}

// UpdateSensor updates an existing sensor.
func (s *Storage) UpdateSensor(ctx context.Context, sensor persistence.Sensor) error {
	return s.execAffecting(ctx, `
		UPDATE sensors
		SET sensor_type = ?, sensor_location = ?, zone_id = ?, is_active = ?
		WHERE sensor_id = ?`,
		sensor.Kind,
		sensor.Location,
		nullInt(sensor.ZoneID),
		boolToInt(sensor.Active),
		sensor.ID,
	)
}

// GetSensor retrieves a sensor by ID.
func (s *Storage) GetSensor(ctx context.Context, id int) (persistence.Sensor, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT sensor_id, sensor_type, sensor_location, zone_id, is_active
		FROM sensors
		WHERE sensor_id = ?`, id)

	sensor, err := scanSensor(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Sensor{}, persistence.ErrNotFound
		}
		return persistence.Sensor{}, s.mapper.MapError(err)
	}
	return sensor, nil
}

// ListSensors returns all sensors ordered by ID.
func (s *Storage) ListSensors(ctx context.Context) ([]persistence.Sensor, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT sensor_id, sensor_type, sensor_location, zone_id, is_active
		FROM sensors
		ORDER BY sensor_id ASC`)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var sensors []persistence.Sensor
	for rows.Next() {
		sensor, err := scanSensor(rows)
		if err != nil {
			return nil, s.mapper.MapError(err)
		}
		sensors = append(sensors, sensor)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return sensors, nil
}

// DeleteSensor removes a sensor and its mode mappings.
func (s *Storage) DeleteSensor(ctx context.Context, id int) error {
	return s.WithinTx(ctx, func(store persistence.Store) error {
		tx := store.(*Storage)
		if _, err := tx.exec(ctx, `DELETE FROM mode_sensor_mapping WHERE sensor_id = ?`, id); err != nil {
			return err
		}
		return tx.execAffecting(ctx, `DELETE FROM sensors WHERE sensor_id = ?`, id)
	})
}

func scanSensor(row rowScanner) (persistence.Sensor, error) {
	var (
		sensor persistence.Sensor
		zoneID sql.NullInt64
		active int
	)
	if err := row.Scan(&sensor.ID, &sensor.Kind, &sensor.Location, &zoneID, &active); err != nil {
		return persistence.Sensor{}, err
	}
	sensor.ZoneID = intPtr(zoneID)
	sensor.Active = active != 0
	return sensor, nil
}
