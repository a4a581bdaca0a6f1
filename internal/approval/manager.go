// Package approval tracks tool calls that a policy module sent back to the
// user for confirmation.
package approval

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KafClaw/butler/internal/timeline"
)

// Approval statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusTimeout  = "timeout"
	StatusConsumed = "consumed"
)

// DefaultMaxAge is how long an unanswered approval stays valid.
const DefaultMaxAge = 24 * time.Hour

// ErrNotFound is returned for unknown approval IDs.
var ErrNotFound = errors.New("approval not found")

// Request is a tool call waiting for, or holding, a user decision.
type Request struct {
	ApprovalID  string         `json:"approval_id"`
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments"`
	SessionID   string         `json:"session_id"`
	AgentID     string         `json:"agent_id"`
	TraceID     string         `json:"trace_id"`
	Reason      string         `json:"reason"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	RespondedAt *time.Time     `json:"responded_at,omitempty"`
}

// Store persists approvals so they survive the process that created them.
type Store interface {
	InsertApprovalRequest(rec *timeline.ApprovalRecord) error
	TransitionApprovalStatus(approvalID, from, to string) (bool, error)
	GetApproval(approvalID string) (*timeline.ApprovalRecord, error)
	GetPendingApprovals() ([]timeline.ApprovalRecord, error)
}

// Manager handles the approval lifecycle: create, respond, consume.
type Manager struct {
	mu       sync.Mutex
	requests map[string]*Request
	waiters  map[string]chan bool
	store    Store
	maxAge   time.Duration
	logger   *slog.Logger
}

// NewManager creates an approval manager. store may be nil. Pending
// approvals older than DefaultMaxAge left by earlier processes are marked
// as timed out.
func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		requests: make(map[string]*Request),
		waiters:  make(map[string]chan bool),
		store:    store,
		maxAge:   DefaultMaxAge,
		logger:   logger,
	}
	m.cleanupStale(time.Now())
	return m
}

func (m *Manager) cleanupStale(now time.Time) {
	if m.store == nil {
		return
	}
	pending, err := m.store.GetPendingApprovals()
	if err != nil {
		m.logger.Debug("Pending approvals not loaded", "error", err)
		return
	}
	for _, r := range pending {
		if m.expired(r.CreatedAt, now) {
			_, _ = m.store.TransitionApprovalStatus(r.ApprovalID, StatusPending, StatusTimeout)
		}
	}
}

// Create registers a new pending approval and returns its ID.
func (m *Manager) Create(req *Request) string {
	id := newApprovalID()
	req.ApprovalID = id
	req.Status = StatusPending
	req.CreatedAt = time.Now()

	m.mu.Lock()
	m.requests[id] = req
	m.waiters[id] = make(chan bool, 1)
	m.mu.Unlock()

	// Persist (best-effort)
	if m.store != nil {
		argsJSON, _ := json.Marshal(req.Arguments)
		if err := m.store.InsertApprovalRequest(&timeline.ApprovalRecord{
			ApprovalID: id,
			TraceID:    req.TraceID,
			SessionID:  req.SessionID,
			AgentID:    req.AgentID,
			Tool:       req.Tool,
			Arguments:  string(argsJSON),
			Reason:     req.Reason,
			Status:     StatusPending,
		}); err != nil {
			m.logger.Warn("Approval not persisted", "approval_id", id, "error", err)
		}
	}
	return id
}

// Get returns the approval with the given ID, from memory or the store.
func (m *Manager) Get(id string) (*Request, error) {
	m.mu.Lock()
	req, ok := m.requests[id]
	m.mu.Unlock()
	if ok {
		cp := *req
		return &cp, nil
	}
	if m.store == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec, err := m.store.GetApproval(id)
	if err != nil {
		return nil, fmt.Errorf("load approval %s: %w", id, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fromRecord(rec), nil
}

// Pending lists approvals still waiting for a decision.
func (m *Manager) Pending() ([]Request, error) {
	if m.store != nil {
		recs, err := m.store.GetPendingApprovals()
		if err != nil {
			return nil, fmt.Errorf("list pending approvals: %w", err)
		}
		out := make([]Request, 0, len(recs))
		for i := range recs {
			out = append(out, *fromRecord(&recs[i]))
		}
		return out, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.requests {
		if r.Status == StatusPending {
			out = append(out, *r)
		}
	}
	return out, nil
}

// Respond records the user's decision on a pending approval and wakes
// any Wait on it.
func (m *Manager) Respond(id string, approved bool) error {
	req, err := m.Get(id)
	if err != nil {
		return err
	}
	if req.Status != StatusPending {
		return fmt.Errorf("approval %s is already %s", id, req.Status)
	}
	if m.expired(req.CreatedAt, time.Now()) {
		if _, err := m.transition(id, StatusPending, StatusTimeout); err != nil {
			m.logger.Warn("Approval timeout not persisted", "approval_id", id, "error", err)
		}
		return fmt.Errorf("approval %s has expired", id)
	}
	status := StatusDenied
	if approved {
		status = StatusApproved
	}
	ok, err := m.transition(id, StatusPending, status)
	if err != nil {
		return fmt.Errorf("record approval %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("approval %s was already answered", id)
	}

	m.mu.Lock()
	ch, ok := m.waiters[id]
	m.mu.Unlock()
	if ok {
		// Non-blocking send (channel is buffered with size 1)
		select {
		case ch <- approved:
		default:
		}
	}
	return nil
}

// Wait blocks until the approval is responded to or the context expires.
func (m *Manager) Wait(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	ch, ok := m.waiters[id]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no pending approval: %s", id)
	}

	defer m.dropWaiter(id)

	select {
	case approved := <-ch:
		return approved, nil
	case <-ctx.Done():
		if _, err := m.transition(id, StatusPending, StatusTimeout); err != nil {
			m.logger.Warn("Approval timeout not persisted", "approval_id", id, "error", err)
		}
		return false, ctx.Err()
	}
}

// Consume reports whether id is an approved request for tool and marks it
// used, so one approval authorizes exactly one execution.
func (m *Manager) Consume(id, tool string) (bool, error) {
	req, err := m.Get(id)
	if err != nil {
		return false, err
	}
	if req.Tool != tool || req.Status != StatusApproved {
		return false, nil
	}
	ok, err := m.transition(id, StatusApproved, StatusConsumed)
	if err != nil || !ok {
		return false, err
	}
	m.dropWaiter(id)
	return true, nil
}

// transition moves id from one status to another. Only one caller wins:
// the in-memory copy is checked and set under m.mu, and the store update
// is conditional on the stored status, which covers approvals created by
// another process.
func (m *Manager) transition(id, from, to string) (bool, error) {
	now := time.Now()
	m.mu.Lock()
	req, inMemory := m.requests[id]
	if inMemory {
		if req.Status != from {
			m.mu.Unlock()
			return false, nil
		}
		req.Status = to
		req.RespondedAt = &now
	}
	m.mu.Unlock()

	if m.store == nil {
		return inMemory, nil
	}
	ok, err := m.store.TransitionApprovalStatus(id, from, to)
	if inMemory {
		if err != nil || !ok {
			m.logger.Warn("Approval status not persisted", "approval_id", id, "status", to, "error", err)
		}
		return true, nil
	}
	return ok, err
}

func (m *Manager) expired(created, now time.Time) bool {
	return !created.IsZero() && now.Sub(created) > m.maxAge
}

func (m *Manager) dropWaiter(id string) {
	m.mu.Lock()
	delete(m.waiters, id)
	m.mu.Unlock()
}

func fromRecord(rec *timeline.ApprovalRecord) *Request {
	req := &Request{
		ApprovalID:  rec.ApprovalID,
		Tool:        rec.Tool,
		SessionID:   rec.SessionID,
		AgentID:     rec.AgentID,
		TraceID:     rec.TraceID,
		Reason:      rec.Reason,
		Status:      rec.Status,
		CreatedAt:   rec.CreatedAt,
		RespondedAt: rec.RespondedAt,
	}
	if rec.Arguments != "" {
		_ = json.Unmarshal([]byte(rec.Arguments), &req.Arguments)
	}
	return req
}

func newApprovalID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return fmt.Sprintf("appr-%d", time.Now().UnixNano())
}
