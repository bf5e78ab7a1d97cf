package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/safehome/internal/persistence"
)

// AppendLoginSession stores an authentication attempt and returns it with its ID.
func (s *Storage) AppendLoginSession(ctx context.Context, session persistence.LoginSession) (persistence.LoginSession, error) {
	if session.Timestamp.IsZero() {
		session.Timestamp = s.now()
	}

	result, err := s.exec(ctx, `
		INSERT INTO login_sessions (interface_type, username, login_successful, failed_attempts, session_token, login_timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		session.Interface,
		emptyAsNull(session.Username),
		boolToInt(session.Successful),
		session.FailedAttempts,
		emptyAsNull(session.Token),
		formatTime(session.Timestamp),
	)
	if err != nil {
		return persistence.LoginSession{}, err
	}

	if session.ID, err = result.LastInsertId(); err != nil {
		return persistence.LoginSession{}, fmt.Errorf("failed to read session id: %w", err)
	}
	return session, nil
}

// ListLoginSessions returns recorded attempts, newest first.
func (s *Storage) ListLoginSessions(ctx context.Context, filter persistence.LoginSessionFilter) ([]persistence.LoginSession, error) {
	query := `
		SELECT session_id, interface_type, username, login_successful, failed_attempts, session_token, login_timestamp
		FROM login_sessions`
	var args []any

	if filter.Interface != "" {
		query += "\n\t\tWHERE interface_type = ?"
		args = append(args, filter.Interface)
	}
	query += "\n\t\tORDER BY session_id DESC"
	if filter.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.mapper.MapError(err)
	}
	defer rows.Close()

	var sessions []persistence.LoginSession
	for rows.Next() {
		var (
			session         persistence.LoginSession
			username, token sql.NullString
			successful      int
			timestamp       string
		)
		if err := rows.Scan(
			&session.ID,
			&session.Interface,
			&username,
			&successful,
			&session.FailedAttempts,
			&token,
			&timestamp,
		); err != nil {
			return nil, s.mapper.MapError(err)
		}
		session.Username = username.String
		session.Token = token.String
		session.Successful = successful != 0
		if session.Timestamp, err = parseTime(timestamp); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, s.mapper.MapError(err)
	}
	return sessions, nil
}
