package timeline

import (
	"time"
)

// UsageRecord is one recorded external toolkit call.
type UsageRecord struct {
	ID        int64     `json:"id"`
	Toolkit   string    `json:"toolkit"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionRecord is the cached connection state of an external toolkit.
type ConnectionRecord struct {
	Toolkit   string     `json:"toolkit"`
	Connected bool       `json:"connected"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// FileAccessRecord is a logged file read.
type FileAccessRecord struct {
	ID         int64     `json:"id"`
	Path       string    `json:"path"`
	SessionID  string    `json:"session_id"`
	AccessType string    `json:"access_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// PolicyDecisionRecord represents a logged PreToolUse decision.
type PolicyDecisionRecord struct {
	ID         int64     `json:"id"`
	TraceID    string    `json:"trace_id,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	Tool       string    `json:"tool"`
	Event      string    `json:"event"`
	Permission string    `json:"permission"`
	Code       string    `json:"code,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// HookFailureRecord is a policy module that timed out or failed and was skipped.
type HookFailureRecord struct {
	ID        int64     `json:"id"`
	Event     string    `json:"event"`
	ModuleID  string    `json:"module_id"`
	Tool      string    `json:"tool,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Kind      string    `json:"kind"` // timeout, exception
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ApprovalRecord represents a tool approval request stored in the database.
type ApprovalRecord struct {
	ID          int64      `json:"id"`
	ApprovalID  string     `json:"approval_id"`
	TraceID     string     `json:"trace_id"`
	SessionID   string     `json:"session_id"`
	AgentID     string     `json:"agent_id"`
	Tool        string     `json:"tool"`
	Arguments   string     `json:"arguments"`
	Reason      string     `json:"reason"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// DelegationRunRecord is one finished sub-agent branch.
type DelegationRunRecord struct {
	ID            int64     `json:"id"`
	TraceID       string    `json:"trace_id"`
	SessionID     string    `json:"session_id"`
	AgentID       string    `json:"agent_id"`
	ParentAgentID string    `json:"parent_agent_id"`
	Kind          string    `json:"kind"`
	Depth         int       `json:"depth"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// ReminderRecord is a reminder created by the scheduler sub-agent.
type ReminderRecord struct {
	ID        int64      `json:"id"`
	SessionID string     `json:"session_id"`
	Title     string     `json:"title"`
	DueText   string     `json:"due_text,omitempty"`
	DueAt     *time.Time `json:"due_at,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// PreferenceRecord is a learned user preference.
type PreferenceRecord struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Source     string    `json:"source"`
	Confidence float64   `json:"confidence"`
	UpdatedAt  time.Time `json:"updated_at"`
}

const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	toolkit TEXT NOT NULL,
	session_id TEXT,
	ts INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_toolkit_ts ON usage_records(toolkit, ts);

CREATE TABLE IF NOT EXISTS toolkit_connections (
	toolkit TEXT PRIMARY KEY,
	connected BOOLEAN NOT NULL DEFAULT 0,
	expires_at INTEGER,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS file_access (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	path TEXT NOT NULL,
	session_id TEXT,
	access_type TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_file_access_path ON file_access(path);

CREATE TABLE IF NOT EXISTS policy_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	session_id TEXT,
	agent_id TEXT,
	tool TEXT NOT NULL,
	event TEXT NOT NULL,
	permission TEXT NOT NULL,
	code TEXT,
	reason TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_policy_trace ON policy_decisions(trace_id);

CREATE TABLE IF NOT EXISTS hook_failures (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event TEXT NOT NULL,
	module_id TEXT NOT NULL,
	tool TEXT,
	session_id TEXT,
	kind TEXT NOT NULL,
	detail TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS approval_requests (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	approval_id TEXT UNIQUE NOT NULL,
	trace_id TEXT,
	session_id TEXT,
	agent_id TEXT,
	tool TEXT NOT NULL,
	arguments TEXT,
	reason TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	responded_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approval_status ON approval_requests(status);

CREATE TABLE IF NOT EXISTS delegation_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	session_id TEXT,
	agent_id TEXT NOT NULL,
	parent_agent_id TEXT,
	kind TEXT NOT NULL,
	depth INTEGER NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_delegation_trace ON delegation_runs(trace_id);

CREATE TABLE IF NOT EXISTS reminders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT,
	title TEXT NOT NULL,
	due_text TEXT,
	due_at INTEGER,
	status TEXT NOT NULL DEFAULT 'open',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	source TEXT,
	confidence REAL NOT NULL DEFAULT 0.5,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`
