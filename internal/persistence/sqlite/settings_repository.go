package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/example/safehome/internal/persistence"
)

const settingsColumns = `master_pin, guest_pin, web_pw1, web_pw2,
	entry_delay, exit_delay, alarm_duration, system_lock_time, camera_lock_time,
	monitor_phone, home_phone, alert_email,
	smtp_host, smtp_port, smtp_user, smtp_pwd,
	max_attempts, updated_at`

// GetSettings returns the singleton settings row or persistence.ErrNotFound.
func (s *Storage) GetSettings(ctx context.Context) (persistence.Settings, error) {
	var (
		settings                                 persistence.Settings
		guestPIN, smtpHost, smtpUser, smtpPwd    sql.NullString
		smtpPort                                 sql.NullInt64
		entry, exit, alarm, lockTime, cameraLock float64
		updatedAt                                string
	)

	err := s.q.QueryRowContext(ctx, `SELECT `+settingsColumns+` FROM system_settings WHERE id = 1`).Scan(
		&settings.MasterPIN,
		&guestPIN,
		&settings.WebPassword1,
		&settings.WebPassword2,
		&entry,
		&exit,
		&alarm,
		&lockTime,
		&cameraLock,
		&settings.MonitorPhone,
		&settings.HomePhone,
		&settings.AlertEmail,
		&smtpHost,
		&smtpPort,
		&smtpUser,
		&smtpPwd,
		&settings.MaxAttempts,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Settings{}, persistence.ErrNotFound
		}
		return persistence.Settings{}, s.mapper.MapError(err)
	}

	settings.GuestPIN = guestPIN.String
	settings.EntryDelay = durationFromSeconds(entry)
	settings.ExitDelay = durationFromSeconds(exit)
	settings.AlarmDuration = durationFromSeconds(alarm)
	settings.LockTime = durationFromSeconds(lockTime)
	settings.CameraLockTime = durationFromSeconds(cameraLock)
	settings.SMTPHost = smtpHost.String
	settings.SMTPPort = int(smtpPort.Int64)
	settings.SMTPUser = smtpUser.String
	settings.SMTPPassword = smtpPwd.String

	if settings.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Settings{}, err
	}

	return settings, nil
}

// PutSettings inserts or replaces the singleton settings row. A zero
// UpdatedAt is stamped with the storage clock.
func (s *Storage) PutSettings(ctx context.Context, settings persistence.Settings) error {
	if settings.MaxAttempts < 1 {
		return persistence.ErrConstraintViolation
	}
	if settings.UpdatedAt.IsZero() {
		settings.UpdatedAt = s.now()
	}

	smtpPort := sql.NullInt64{Int64: int64(settings.SMTPPort), Valid: settings.SMTPPort > 0}

	_, err := s.exec(ctx, `
		INSERT INTO system_settings (id, `+settingsColumns+`)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			master_pin = excluded.master_pin,
			guest_pin = excluded.guest_pin,
			web_pw1 = excluded.web_pw1,
			web_pw2 = excluded.web_pw2,
			entry_delay = excluded.entry_delay,
			exit_delay = excluded.exit_delay,
			alarm_duration = excluded.alarm_duration,
			system_lock_time = excluded.system_lock_time,
			camera_lock_time = excluded.camera_lock_time,
			monitor_phone = excluded.monitor_phone,
			home_phone = excluded.home_phone,
			alert_email = excluded.alert_email,
			smtp_host = excluded.smtp_host,
			smtp_port = excluded.smtp_port,
			smtp_user = excluded.smtp_user,
			smtp_pwd = excluded.smtp_pwd,
			max_attempts = excluded.max_attempts,
			updated_at = excluded.updated_at`,
		settings.MasterPIN,
		emptyAsNull(settings.GuestPIN),
		settings.WebPassword1,
		settings.WebPassword2,
		seconds(settings.EntryDelay),
		seconds(settings.ExitDelay),
		seconds(settings.AlarmDuration),
		seconds(settings.LockTime),
		seconds(settings.CameraLockTime),
		settings.MonitorPhone,
		settings.HomePhone,
		settings.AlertEmail,
		emptyAsNull(settings.SMTPHost),
		smtpPort,
		emptyAsNull(settings.SMTPUser),
		emptyAsNull(settings.SMTPPassword),
		settings.MaxAttempts,
		formatTime(settings.UpdatedAt),
	)
	return err
}
