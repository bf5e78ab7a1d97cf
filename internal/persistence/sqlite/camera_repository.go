package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/safehome/internal/persistence"
)

// CreateCamera inserts a camera with a caller-assigned ID.
func (s *Storage) CreateCamera(ctx context.Context, camera persistence.Camera) error {
	if camera.ID <= 0 {
		return persistence.ErrConstraintViolation
	}

	_, err := s.exec(ctx, `
		INSERT INTO cameras (camera_id, camera_name, camera_location, camera_password,
			pan_angle, tilt_angle, zoom_level, is_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		camera.ID,
		camera.Name,
		camera.Location,
		nullString(camera.Password),
		camera.Pan,
		camera.Tilt,
		camera.Zoom,
		boolToInt(camera.Enabled),
	)
	return err
}

// UpdateCamera updates an existing camera.
func (s *Storage) UpdateCamera(ctx context.Context, camera persistence.Camera) error {
	return s.execAffecting(ctx, `
		UPDATE cameras
		SET camera_name = ?, camera_location = ?, camera_password = ?,
			pan_angle = ?, tilt_angle = ?, zoom_level = ?, is_enabled = ?
		WHERE camera_id = ?`,
		camera.Name,
		camera.Location,
		nullString(camera.Password),
		camera.Pan,
		camera.Tilt,
		camera.Zoom,
		boolToInt(camera.Enabled),
		camera.ID,
	)
}

// GetCamera retrieves a camera by ID.
func (s *Storage) GetCamera(ctx context.Context, id int) (persistence.Camera, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT camera_id, camera_name, camera_location, camera_password,
			pan_angle, tilt_angle, zoom_level, is_enabled
		FROM cameras
		WHERE camera_id = ?`, id)

	camera, err := scanCamera(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Camera{}, persistence.ErrNotFound
		}
		return persistence.Camera{}, s.mapper.MapError(err)
	}
	return camera, nil
}

// ListCameras returns all cameras ordered by ID.
func (s *Storage) ListCameras(ctx context.Context) ([]persistence.Camera, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT camera_id, camera_name, camera_location, camera_password,
			pan_angle, tilt_angle, zoom_level, is_enabled
		FROM cameras
		ORDER BY camera_id ASC`)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var cameras []persistence.Camera
	for rows.Next() {
		camera, err := scanCamera(rows)
		if err != nil {
			return nil, s.mapper.MapError(err)
		}
		cameras = append(cameras, camera)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return cameras, nil
}

// DeleteCamera removes a camera by ID.
func (s *Storage) DeleteCamera(ctx context.Context, id int) error {
	return s.execAffecting(ctx, `DELETE FROM cameras WHERE camera_id = ?`, id)
}

// ClearCameraPasswords removes the password of every camera.
func (s *Storage) ClearCameraPasswords(ctx context.Context) error {
	_, err := s.exec(ctx, `UPDATE cameras SET camera_password = NULL`)
	return err
}

func scanCamera(row rowScanner) (persistence.Camera, error) {
	var (
		camera   persistence.Camera
		password sql.NullString
		enabled  int
	)
	if err := row.Scan(
		&camera.ID,
		&camera.Name,
		&camera.Location,
		&password,
		&camera.Pan,
		&camera.Tilt,
		&camera.Zoom,
		&enabled,
	); err != nil {
		return persistence.Camera{}, err
	}
	camera.Password = stringPtr(password)
	camera.Enabled = enabled != 0
	return camera, nil
}
