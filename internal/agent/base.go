package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KafClaw/butler/internal/gateway"
)

// Deps are the collaborators every sub-agent shares.
type Deps struct {
	Tools     ToolInvoker
	Responder Responder // optional
	Delegator Delegator // optional; enables recursive delegation
	Logger    *slog.Logger
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// run tracks one sub-agent execution and builds its result.
type run struct {
	deps  Deps
	ac    Context
	kind  Kind
	start time.Time
}

func newRun(d Deps, ac Context, kind Kind) *run {
	return &run{deps: d, ac: ac, kind: kind, start: time.Now()}
}

// invoke calls a tool through the gateway. Tool output beginning with
// "Error" is turned into an error.
func (r *run) invoke(ctx context.Context, tool string, args map[string]any) (gateway.Result, error) {
	if r.deps.Tools == nil {
		return gateway.Result{}, fmt.Errorf("%s: no tool gateway configured", r.kind)
	}
	res, err := r.deps.Tools.Invoke(ctx, r.ac.Call(tool, args))
	if err != nil {
		return res, err
	}
	if strings.HasPrefix(res.Output, "Error") {
		return res, errors.New(res.Output)
	}
	return res, nil
}

func (r *run) result(status Status) DelegationResult {
	return DelegationResult{
		SubAgentID: r.ac.AgentID,
		Kind:       r.kind,
		Status:     status,
		Duration:   time.Since(r.start),
	}
}

func (r *run) success(payload string) DelegationResult {
	res := r.result(Success)
	res.Payload = payload
	return res
}

func (r *run) partial(payload, summary string) DelegationResult {
	res := r.result(PartialFailure)
	res.Payload = payload
	res.ErrorSummary = summary
	return res
}

// fail converts err into a Failure result with a reason the orchestrator
// can explain to the user.
func (r *run) fail(err error) DelegationResult {
	res := r.result(Failure)
	res.ErrorSummary = err.Error()
	res.Reason = ReasonException

	var confirm *gateway.ConfirmationRequiredError
	var denied *gateway.DeniedError
	switch {
	case errors.As(err, &confirm):
		res.Reason = ReasonConfirmationRequired
		res.ApprovalID = confirm.ApprovalID
	case errors.As(err, &denied):
		res.Reason = ReasonDenied
		res.ErrorSummary = denied.Reason
		if next := denied.NextStep(); next != "" {
			res.ErrorSummary = strings.TrimPrefix(res.ErrorSummary+"; "+next, "; ")
		}
	case errors.Is(err, context.DeadlineExceeded):
		res.Reason = ReasonTimeout
	}
	r.deps.logger().Info("Sub-agent failed", "agent", r.ac.AgentID, "reason", res.Reason, "error", err)
	return res
}

// phrase asks the responder to word a payload, falling back to draft.
func (r *run) phrase(ctx context.Context, prompt, draft string) string {
	if r.deps.Responder == nil {
		return draft
	}
	resp, err := r.deps.Responder.Respond(ctx, prompt+"\n\n"+draft, r.ac)
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		if err != nil {
			r.deps.logger().Debug("Responder unavailable, using draft", "agent", r.ac.AgentID, "error", err)
		}
		return draft
	}
	return strings.TrimSpace(resp.Text)
}

// upstreamText joins the payloads of successful upstream branches.
func upstreamText(task Task) string {
	var parts []string
	for _, u := range task.Upstream {
		if u.Succeeded() && strings.TrimSpace(u.Payload) != "" {
			parts = append(parts, strings.TrimSpace(u.Payload))
		}
	}
	return strings.Join(parts, "\n\n")
}

func param(task Task, key string) string {
	if v, ok := task.Params[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
