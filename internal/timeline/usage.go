package timeline

import (
	"context"
	"time"
)

// AppendUsage records one external toolkit call. Timestamps are stored as
// unix nanoseconds so window counts are exact range queries.
func (s *TimelineService) AppendUsage(ctx context.Context, toolkit, sessionID string, ts time.Time) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO usage_records (toolkit, session_id, ts) VALUES (?, ?, ?)`,
		toolkit, sessionID, ts.UnixNano())
	return err
}

// CountUsage returns the number of calls to toolkit strictly after since.
func (s *TimelineService) CountUsage(ctx context.Context, toolkit string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_records WHERE toolkit = ? AND ts > ?`,
		toolkit, since.UnixNano()).Scan(&n)
	return n, err
}

// ListUsage returns usage records for toolkit after since, oldest first.
// An empty toolkit lists every toolkit.
func (s *TimelineService) ListUsage(toolkit string, since time.Time) ([]UsageRecord, error) {
	query := `SELECT id, toolkit, COALESCE(session_id,''), ts FROM usage_records WHERE ts > ?`
	args := []any{since.UnixNano()}
	if toolkit != "" {
		query += ` AND toolkit = ?`
		args = append(args, toolkit)
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.Toolkit, &r.SessionID, &ts); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneUsage deletes usage records older than before. Records inside the
// longest rate-limit window must be kept.
func (s *TimelineService) PruneUsage(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM usage_records WHERE ts < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
