package timeline

// LogPolicyDecision records a PreToolUse decision.
func (s *TimelineService) LogPolicyDecision(rec *PolicyDecisionRecord) error {
	_, err := s.db.Exec(`INSERT INTO policy_decisions (trace_id, session_id, agent_id, tool, event, permission, code, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.SessionID, rec.AgentID, rec.Tool, rec.Event, rec.Permission, rec.Code, rec.Reason)
	return err
}

// ListPolicyDecisions returns policy decisions for traceID, or the latest
// 100 across all traces when traceID is empty.
func (s *TimelineService) ListPolicyDecisions(traceID string) ([]PolicyDecisionRecord, error) {
	query := `SELECT id, COALESCE(trace_id,''), COALESCE(session_id,''), COALESCE(agent_id,''), tool, event,
		permission, COALESCE(code,''), COALESCE(reason,''), created_at FROM policy_decisions`
	var args []any
	if traceID != "" {
		query += ` WHERE trace_id = ? ORDER BY id ASC`
		args = append(args, traceID)
	} else {
		query += ` ORDER BY id DESC LIMIT 100`
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PolicyDecisionRecord
	for rows.Next() {
		var r PolicyDecisionRecord
		if err := rows.Scan(&r.ID, &r.TraceID, &r.SessionID, &r.AgentID, &r.Tool, &r.Event,
			&r.Permission, &r.Code, &r.Reason, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordHookFailure logs a policy module that was skipped (fail-open).
func (s *TimelineService) RecordHookFailure(rec *HookFailureRecord) error {
	_, err := s.db.Exec(`INSERT INTO hook_failures (event, module_id, tool, session_id, kind, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Event, rec.ModuleID, rec.Tool, rec.SessionID, rec.Kind, rec.Detail)
	return err
}

// ListHookFailures returns the most recent hook failures, newest first.
func (s *TimelineService) ListHookFailures(limit int) ([]HookFailureRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT id, event, module_id, COALESCE(tool,''), COALESCE(session_id,''), kind,
		COALESCE(detail,''), created_at FROM hook_failures ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []HookFailureRecord
	for rows.Next() {
		var r HookFailureRecord
		if err := rows.Scan(&r.ID, &r.Event, &r.ModuleID, &r.Tool, &r.SessionID, &r.Kind,
			&r.Detail, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordDelegationRun logs one finished delegation branch.
func (s *TimelineService) RecordDelegationRun(rec *DelegationRunRecord) error {
	_, err := s.db.Exec(`INSERT INTO delegation_runs (trace_id, session_id, agent_id, parent_agent_id, kind, depth, status, reason, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID, rec.SessionID, rec.AgentID, rec.ParentAgentID, rec.Kind, rec.Depth, rec.Status, rec.Reason, rec.DurationMs)
	return err
}

// ListDelegationRuns returns the delegation runs of a trace in insertion order.
func (s *TimelineService) ListDelegationRuns(traceID string) ([]DelegationRunRecord, error) {
	rows, err := s.db.Query(`SELECT id, COALESCE(trace_id,''), COALESCE(session_id,''), agent_id, COALESCE(parent_agent_id,''),
		kind, depth, status, COALESCE(reason,''), duration_ms, created_at
		FROM delegation_runs WHERE trace_id = ? ORDER BY id ASC`, traceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DelegationRunRecord
	for rows.Next() {
		var r DelegationRunRecord
		if err := rows.Scan(&r.ID, &r.TraceID, &r.SessionID, &r.AgentID, &r.ParentAgentID,
			&r.Kind, &r.Depth, &r.Status, &r.Reason, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
