package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/safehome/internal/persistence"
)

// CreateZone inserts a zone. A zero ID is assigned by the database.
func (s *Storage) CreateZone(ctx context.Context, zone persistence.Zone) (persistence.Zone, error) {
	if strings.TrimSpace(zone.Name) == "" {
		return persistence.Zone{}, persistence.ErrConstraintViolation
	}

	now := s.now()
	zone.CreatedAt = now
	zone.UpdatedAt = now

	var id sql.NullInt64
	if zone.ID > 0 {
		id = sql.NullInt64{Int64: int64(zone.ID), Valid: true}
	}

	result, err := s.exec(ctx, `
		INSERT INTO safety_zones (zone_id, zone_name, is_armed, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		id,
		zone.Name,
		boolToInt(zone.Armed),
		formatTime(zone.CreatedAt),
		formatTime(zone.UpdatedAt),
	)
	if err != nil {
		return persistence.Zone{}, err
	}

	if zone.ID == 0 {
		lastID, err := result.LastInsertId()
		if err != nil {
			return persistence.Zone{}, fmt.Errorf("failed to read zone id: %w", err)
		}
		zone.ID = int(lastID)
	}

	return zone, nil
}

// UpdateZone updates the name and armed flag of an existing zone.
func (s *Storage) UpdateZone(ctx context.Context, zone persistence.Zone) error {
	if strings.TrimSpace(zone.Name) == "" {
		return persistence.ErrConstraintViolation
	}

	return s.execAffecting(ctx, `
		UPDATE safety_zones
		SET zone_name = ?, is_armed = ?, updated_at = ?
		WHERE zone_id = ?`,
		zone.Name,
		boolToInt(zone.Armed),
		formatTime(s.now()),
		zone.ID,
	)
}

// GetZone retrieves a zone by ID.
func (s *Storage) GetZone(ctx context.Context, id int) (persistence.Zone, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT zone_id, zone_name, is_armed, created_at, updated_at
		FROM safety_zones
		WHERE zone_id = ?`, id)

	zone, err := scanZone(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Zone{}, persistence.ErrNotFound
		}
		return persistence.Zone{}, s.mapper.MapError(err)
	}
	return zone, nil
}

// ListZones returns all zones ordered by ID.
func (s *Storage) ListZones(ctx context.Context) ([]persistence.Zone, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT zone_id, zone_name, is_armed, created_at, updated_at
		FROM safety_zones
		ORDER BY zone_id ASC`)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var zones []persistence.Zone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, s.mapper.MapError(err)
		}
		zones = append(zones, zone)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return zones, nil
}

// DeleteZone removes a zone and detaches its sensors.
func (s *Storage) DeleteZone(ctx context.Context, id int) error {
	return s.WithinTx(ctx, func(store persistence.Store) error {
		tx := store.(*Storage)
		if _, err := tx.exec(ctx, `UPDATE sensors SET zone_id = NULL WHERE zone_id = ?`, id); err != nil {
			return err
		}
		return tx.execAffecting(ctx, `DELETE FROM safety_zones WHERE zone_id = ?`, id)
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanZone(row rowScanner) (persistence.Zone, error) {
	var (
		zone                 persistence.Zone
		armed                int
		createdAt, updatedAt string
	)
	if err := row.Scan(&zone.ID, &zone.Name, &armed, &createdAt, &updatedAt); err != nil {
		return persistence.Zone{}, err
	}
	zone.Armed = armed != 0

	var err error
	if zone.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Zone{}, err
	}
	if zone.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Zone{}, err
	}
	return zone, nil
}
