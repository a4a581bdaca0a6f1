// Package gateway routes every tool call through the PreToolUse policy chain
// before executing it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/butler/internal/approval"
	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/policy"
	"github.com/KafClaw/butler/internal/timeline"
)

// Firer runs the policy chain of one lifecycle event.
type Firer interface {
	Fire(ctx context.Context, event hooks.Event, req policy.ActionRequest) hooks.Outcome
}

// Executor runs a tool by name.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (string, error)
}

// Approvals creates and redeems user approvals.
type Approvals interface {
	Create(req *approval.Request) string
	Consume(id, tool string) (bool, error)
}

// AuditSink receives every PreToolUse decision.
type AuditSink interface {
	LogPolicyDecision(rec *timeline.PolicyDecisionRecord) error
}

// Call is one tool invocation attempt.
type Call struct {
	Tool       string
	Arguments  map[string]any
	SessionID  string
	AgentID    string
	TraceID    string
	CallDepth  int
	ApprovalID string // set when re-invoking an approved call
}

// Result of an executed call.
type Result struct {
	Output            string
	AdditionalContext string
	Decision          policy.Decision
}

// Options configure a Gateway.
type Options struct {
	Approvals Approvals
	Sinks     []AuditSink
	Logger    *slog.Logger
}

// Gateway is the single path from agents to tools.
type Gateway struct {
	hooks     Firer
	tools     Executor
	approvals Approvals
	sinks     []AuditSink
	logger    *slog.Logger
}

// New creates a gateway.
func New(h Firer, tools Executor, opts Options) *Gateway {
	g := &Gateway{
		hooks:     h,
		tools:     tools,
		approvals: opts.Approvals,
		sinks:     opts.Sinks,
		logger:    opts.Logger,
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g
}

// Invoke fires PreToolUse for call and executes the tool when the merged
// decision allows it. A Deny returns *DeniedError; an Ask returns
// *ConfirmationRequiredError unless call.ApprovalID names an approved
// request for the same tool.
func (g *Gateway) Invoke(ctx context.Context, call Call) (Result, error) {
	req := policy.ActionRequest{
		Tool:      call.Tool,
		Input:     call.Arguments,
		SessionID: call.SessionID,
		CallDepth: call.CallDepth,
		AgentID:   call.AgentID,
		TraceID:   call.TraceID,
	}
	out := g.hooks.Fire(ctx, hooks.PreToolUse, req)
	d := out.Decision
	g.audit(req, d)

	res := Result{Decision: d, AdditionalContext: d.AdditionalContext}
	switch d.Permission {
	case policy.Deny:
		g.logger.Info("Tool call denied", "tool", call.Tool, "agent", call.AgentID, "code", d.Code, "reason", d.Reason)
		return res, deniedFrom(call.Tool, d)
	case policy.Ask:
		approved, err := g.redeem(call)
		if err != nil {
			return res, err
		}
		if !approved {
			return res, g.requestApproval(call, d)
		}
	}

	start := time.Now()
	output, err := g.tools.Execute(ctx, call.Tool, call.Arguments)
	if err != nil {
		return res, fmt.Errorf("execute %s: %w", call.Tool, err)
	}
	res.Output = output
	g.logger.Debug("Tool executed", "tool", call.Tool, "agent", call.AgentID, "duration", time.Since(start))

	req.Output = output
	post := g.hooks.Fire(ctx, hooks.PostToolUse, req)
	for _, ev := range post.Failures() {
		g.logger.Warn("PostToolUse module failed", "tool", call.Tool, "module", ev.ModuleID, "error", ev.Err)
	}
	if c := post.Decision.AdditionalContext; c != "" {
		res.AdditionalContext = joinContext(res.AdditionalContext, c)
	}
	return res, nil
}

func (g *Gateway) redeem(call Call) (bool, error) {
	if call.ApprovalID == "" || g.approvals == nil {
		return false, nil
	}
	ok, err := g.approvals.Consume(call.ApprovalID, call.Tool)
	if err != nil && !errors.Is(err, approval.ErrNotFound) {
		return false, fmt.Errorf("redeem approval %s: %w", call.ApprovalID, err)
	}
	return ok, nil
}

func (g *Gateway) requestApproval(call Call, d policy.Decision) error {
	if g.approvals == nil {
		return &DeniedError{
			Kind:                 KindDenied,
			Tool:                 call.Tool,
			Reason:               d.Reason,
			Code:                 d.Code,
			SuggestedAlternative: "approval is required but no approval channel is configured",
		}
	}
	id := g.approvals.Create(&approval.Request{
		Tool:      call.Tool,
		Arguments: call.Arguments,
		SessionID: call.SessionID,
		AgentID:   call.AgentID,
		TraceID:   call.TraceID,
		Reason:    d.Reason,
	})
	g.logger.Info("Tool call awaiting approval", "tool", call.Tool, "approval_id", id, "reason", d.Reason)
	return &ConfirmationRequiredError{ApprovalID: id, Tool: call.Tool, Reason: d.Reason}
}

func (g *Gateway) audit(req policy.ActionRequest, d policy.Decision) {
	if len(g.sinks) == 0 {
		return
	}
	rec := &timeline.PolicyDecisionRecord{
		TraceID:    req.TraceID,
		SessionID:  req.SessionID,
		AgentID:    req.AgentID,
		Tool:       req.Tool,
		Event:      string(hooks.PreToolUse),
		Permission: d.Permission.String(),
		Code:       d.Code,
		Reason:     d.Reason,
		CreatedAt:  time.Now(),
	}
	for _, s := range g.sinks {
		if err := s.LogPolicyDecision(rec); err != nil {
			g.logger.Warn("Policy decision not audited", "tool", req.Tool, "error", err)
		}
	}
}

func joinContext(a, b string) string {
	return strings.TrimSpace(strings.Join([]string{a, b}, "\n"))
}
