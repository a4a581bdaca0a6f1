package timeline

import (
	"database/sql"
	"errors"
	"time"
)

// CreateReminder stores a reminder and returns its row ID.
func (s *TimelineService) CreateReminder(rec *ReminderRecord) (int64, error) {
	var due sql.NullInt64
	if rec.DueAt != nil {
		due = sql.NullInt64{Int64: rec.DueAt.Unix(), Valid: true}
	}
	status := rec.Status
	if status == "" {
		status = "open"
	}
	res, err := s.db.Exec(`INSERT INTO reminders (session_id, title, due_text, due_at, status) VALUES (?, ?, ?, ?, ?)`,
		rec.SessionID, rec.Title, rec.DueText, due, status)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListReminders returns reminders filtered by status (empty = all), newest first.
func (s *TimelineService) ListReminders(status string, limit int) ([]ReminderRecord, error) {
	query := `SELECT id, COALESCE(session_id,''), title, COALESCE(due_text,''), due_at, status, created_at FROM reminders`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryReminders(query, args...)
}

// SearchReminders returns open reminders whose title contains query.
func (s *TimelineService) SearchReminders(query string, limit int) ([]ReminderRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryReminders(`SELECT id, COALESCE(session_id,''), title, COALESCE(due_text,''), due_at, status, created_at
		FROM reminders WHERE status = 'open' AND title LIKE ? ORDER BY id DESC LIMIT ?`, "%"+query+"%", limit)
}

func (s *TimelineService) queryReminders(query string, args ...any) ([]ReminderRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReminderRecord
	for rows.Next() {
		var r ReminderRecord
		var due sql.NullInt64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Title, &r.DueText, &due, &r.Status, &r.CreatedAt); err != nil {
			return nil, err
		}
		if due.Valid {
			t := time.Unix(due.Int64, 0)
			r.DueAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SavePreference upserts a learned preference.
func (s *TimelineService) SavePreference(rec *PreferenceRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO preferences (key, value, source, confidence, updated_at) VALUES (?, ?, ?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, source = excluded.source,
			confidence = excluded.confidence, updated_at = excluded.updated_at
	`, rec.Key, rec.Value, rec.Source, rec.Confidence)
	return err
}

// GetPreference returns the preference stored under key, or nil.
func (s *TimelineService) GetPreference(key string) (*PreferenceRecord, error) {
	var r PreferenceRecord
	err := s.db.QueryRow(`SELECT key, value, COALESCE(source,''), confidence, updated_at FROM preferences WHERE key = ?`, key).
		Scan(&r.Key, &r.Value, &r.Source, &r.Confidence, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SearchPreferences returns preferences whose key or value contains query.
func (s *TimelineService) SearchPreferences(query string, limit int) ([]PreferenceRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(`SELECT key, value, COALESCE(source,''), confidence, updated_at FROM preferences
		WHERE key LIKE ? OR value LIKE ? ORDER BY updated_at DESC LIMIT ?`, "%"+query+"%", "%"+query+"%", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PreferenceRecord
	for rows.Next() {
		var r PreferenceRecord
		if err := rows.Scan(&r.Key, &r.Value, &r.Source, &r.Confidence, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
