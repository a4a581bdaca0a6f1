// Package orchestrator implements Butler: it classifies a message, answers
// it or delegates it to specialist sub-agents, and synthesizes one response.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/KafClaw/butler/internal/agent"
	"github.com/KafClaw/butler/internal/approval"
	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/policy"
	"github.com/KafClaw/butler/internal/timeline"
)

// KindButler identifies the orchestrator itself in results and the tree.
const KindButler agent.Kind = "butler"

// Defaults.
const (
	DefaultMaxDepth      = 3
	DefaultBranchTimeout = 30 * time.Second
	DefaultMaxConcurrent = 4
	DefaultThreshold     = 0.45
)

// SynthesizedResponse is the single answer handed back to the caller.
type SynthesizedResponse struct {
	Text                string                   `json:"text"`
	Status              agent.Status             `json:"status"`
	ContributingResults []agent.DelegationResult `json:"contributing_results"`
	HadPartialFailure   bool                     `json:"had_partial_failure"`
	Intent              Intent                   `json:"intent"`
	Confidence          float64                  `json:"confidence"`
	TraceID             string                   `json:"trace_id"`
	Tree                []Node                   `json:"tree,omitempty"`
}

// Firer fires lifecycle hooks. Satisfied by *hooks.Runner.
type Firer interface {
	Fire(ctx context.Context, event hooks.Event, req policy.ActionRequest) hooks.Outcome
}

// ModelClassifier is the optional model fallback for low-confidence messages.
type ModelClassifier interface {
	ClassifyIntent(ctx context.Context, message string, intents []string) (string, float64, error)
}

// RunRecorder persists finished delegation branches.
type RunRecorder interface {
	RecordDelegationRun(rec *timeline.DelegationRunRecord) error
}

// Approvals is the part of the approval manager the orchestrator needs
// to resolve confirmations from chat.
type Approvals interface {
	Get(id string) (*approval.Request, error)
	Respond(id string, approved bool) error
}

// SessionStore persists conversation history across processes.
type SessionStore interface {
	History(sessionID string) (conversationID string, turns []agent.Turn, found bool)
	Append(sessionID, conversationID string, turns ...agent.Turn) error
	End(sessionID string) error
}

// Options configure an Orchestrator.
type Options struct {
	MaxDepth      int
	BranchTimeout time.Duration
	MaxConcurrent int
	Threshold     float64

	Model     ModelClassifier // optional
	Responder agent.Responder // optional; direct answers fall back to canned text
	Tools     agent.ToolInvoker
	Approvals Approvals    // optional
	Recorder  RunRecorder  // optional
	Sessions  SessionStore // optional
	Logger    *slog.Logger
}

func (o *Options) applyDefaults() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.BranchTimeout <= 0 {
		o.BranchTimeout = DefaultBranchTimeout
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}
