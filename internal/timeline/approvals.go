package timeline

import (
	"database/sql"
	"errors"
)

// --- Approval Requests ---

// InsertApprovalRequest persists a new approval request.
func (s *TimelineService) InsertApprovalRequest(rec *ApprovalRecord) error {
	status := rec.Status
	if status == "" {
		status = "pending"
	}
	_, err := s.db.Exec(`INSERT INTO approval_requests
		(approval_id, trace_id, session_id, agent_id, tool, arguments, reason, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ApprovalID, rec.TraceID, rec.SessionID, rec.AgentID, rec.Tool, rec.Arguments, rec.Reason, status)
	return err
}

// TransitionApprovalStatus moves an approval from one status to another
// and reports whether it was still in the from status.
func (s *TimelineService) TransitionApprovalStatus(approvalID, from, to string) (bool, error) {
	res, err := s.db.Exec(`UPDATE approval_requests SET status = ?, responded_at = datetime('now')
		WHERE approval_id = ? AND status = ?`, to, approvalID, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

const approvalColumns = `id, approval_id, COALESCE(trace_id,''), COALESCE(session_id,''), COALESCE(agent_id,''),
	tool, COALESCE(arguments,''), COALESCE(reason,''), status, created_at, responded_at`

func scanApproval(row interface{ Scan(...any) error }) (*ApprovalRecord, error) {
	var r ApprovalRecord
	var responded sql.NullTime
	if err := row.Scan(&r.ID, &r.ApprovalID, &r.TraceID, &r.SessionID, &r.AgentID,
		&r.Tool, &r.Arguments, &r.Reason, &r.Status, &r.CreatedAt, &responded); err != nil {
		return nil, err
	}
	if responded.Valid {
		t := responded.Time
		r.RespondedAt = &t
	}
	return &r, nil
}

// GetApproval returns the approval with the given ID, or nil if none exists.
func (s *TimelineService) GetApproval(approvalID string) (*ApprovalRecord, error) {
	r, err := scanApproval(s.db.QueryRow(`SELECT `+approvalColumns+` FROM approval_requests WHERE approval_id = ?`, approvalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// GetPendingApprovals returns all approval requests with status 'pending'.
func (s *TimelineService) GetPendingApprovals() ([]ApprovalRecord, error) {
	rows, err := s.db.Query(`SELECT ` + approvalColumns + ` FROM approval_requests WHERE status = 'pending' ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ApprovalRecord
	for rows.Next() {
		r, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
