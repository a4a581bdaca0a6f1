package timeline

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetConnection upserts the cached connection state of a toolkit.
// A nil expiresAt means the connection does not expire.
func (s *TimelineService) SetConnection(toolkit string, connected bool, expiresAt *time.Time) error {
	var exp sql.NullInt64
	if expiresAt != nil {
		exp = sql.NullInt64{Int64: expiresAt.Unix(), Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO toolkit_connections (toolkit, connected, expires_at, updated_at) VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(toolkit) DO UPDATE SET connected = excluded.connected, expires_at = excluded.expires_at, updated_at = excluded.updated_at
	`, toolkit, connected, exp)
	return err
}

// GetConnection returns the cached record for toolkit, or nil if none exists.
func (s *TimelineService) GetConnection(toolkit string) (*ConnectionRecord, error) {
	var r ConnectionRecord
	var exp sql.NullInt64
	err := s.db.QueryRow(`SELECT toolkit, connected, expires_at, updated_at FROM toolkit_connections WHERE toolkit = ?`, toolkit).
		Scan(&r.Toolkit, &r.Connected, &exp, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if exp.Valid {
		t := time.Unix(exp.Int64, 0)
		r.ExpiresAt = &t
	}
	return &r, nil
}

// ListConnections returns all cached toolkit connections ordered by name.
func (s *TimelineService) ListConnections() ([]ConnectionRecord, error) {
	rows, err := s.db.Query(`SELECT toolkit, connected, expires_at, updated_at FROM toolkit_connections ORDER BY toolkit`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ConnectionRecord
	for rows.Next() {
		var r ConnectionRecord
		var exp sql.NullInt64
		if err := rows.Scan(&r.Toolkit, &r.Connected, &exp, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if exp.Valid {
			t := time.Unix(exp.Int64, 0)
			r.ExpiresAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ConnectionStatus reports whether toolkit is connected and when the
// connection expires (zero when it does not). Unknown toolkits are not connected.
func (s *TimelineService) ConnectionStatus(ctx context.Context, toolkit string) (bool, time.Time, error) {
	var connected bool
	var exp sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT connected, expires_at FROM toolkit_connections WHERE toolkit = ?`, toolkit).
		Scan(&connected, &exp)
	if errors.Is(err, sql.ErrNoRows) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, err
	}
	if exp.Valid {
		return connected, time.Unix(exp.Int64, 0), nil
	}
	return connected, time.Time{}, nil
}

// RecordFileAccess logs a file access for the workspace index.
func (s *TimelineService) RecordFileAccess(ctx context.Context, path, sessionID, accessType string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO file_access (path, session_id, access_type) VALUES (?, ?, ?)`,
		path, sessionID, accessType)
	return err
}

// ListFileAccess returns the most recent file accesses, newest first.
func (s *TimelineService) ListFileAccess(limit int) ([]FileAccessRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, path, COALESCE(session_id,''), access_type, created_at
		FROM file_access ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileAccessRecord
	for rows.Next() {
		var r FileAccessRecord
		if err := rows.Scan(&r.ID, &r.Path, &r.SessionID, &r.AccessType, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
