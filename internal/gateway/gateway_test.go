package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KafClaw/butler/internal/approval"
	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/policy"
	"github.com/KafClaw/butler/internal/ratelimit"
	"github.com/KafClaw/butler/internal/timeline"
	"github.com/KafClaw/butler/internal/tools"
)

type countingTool struct {
	name  string
	tier  int
	calls int
}

func (c *countingTool) Name() string               { return c.name }
func (c *countingTool) Description() string        { return "test tool" }
func (c *countingTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (c *countingTool) Tier() int                  { return c.tier }
func (c *countingTool) Execute(_ context.Context, params map[string]any) (string, error) {
	c.calls++
	return "ok:" + tools.GetString(params, "text", ""), nil
}

type fixedModule struct {
	id string
	d  policy.Decision
}

func (f fixedModule) ID() string { return f.id }
func (f fixedModule) Evaluate(context.Context, policy.ActionRequest) (policy.Decision, error) {
	return f.d, nil
}

type outputCapture struct {
	mu     sync.Mutex
	output string
}

func (o *outputCapture) ID() string { return "capture" }
func (o *outputCapture) Evaluate(_ context.Context, req policy.ActionRequest) (policy.Decision, error) {
	o.mu.Lock()
	o.output = req.Output
	o.mu.Unlock()
	return policy.AllowWith("post-processed"), nil
}

type memSink struct {
	recs []timeline.PolicyDecisionRecord
}

func (m *memSink) LogPolicyDecision(rec *timeline.PolicyDecisionRecord) error {
	m.recs = append(m.recs, *rec)
	return nil
}

func newRunner(t *testing.T, pre []policy.Module, post ...policy.Module) *hooks.Runner {
	t.Helper()
	r, err := hooks.NewRunner(append(append([]policy.Module{}, pre...), post...), hooks.Options{})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	for _, m := range pre {
		if err := r.Register(hooks.HookConfig{Event: hooks.PreToolUse, ModuleID: m.ID()}); err != nil {
			t.Fatal(err)
		}
	}
	for _, m := range post {
		if err := r.Register(hooks.HookConfig{Event: hooks.PostToolUse, ModuleID: m.ID()}); err != nil {
			t.Fatal(err)
		}
	}
	return r
}

func newRegistry(ts ...tools.Tool) *tools.Registry {
	reg := tools.NewRegistry()
	for _, t := range ts {
		reg.Register(t)
	}
	return reg
}

func TestInvokeAllowExecutesAndFiresPostToolUse(t *testing.T) {
	tool := &countingTool{name: "note"}
	capture := &outputCapture{}
	sink := &memSink{}
	g := New(newRunner(t, []policy.Module{fixedModule{"ctx", policy.AllowWith("pre context")}}, capture),
		newRegistry(tool), Options{Sinks: []AuditSink{sink}})

	res, err := g.Invoke(context.Background(), Call{Tool: "note", Arguments: map[string]any{"text": "hi"}, SessionID: "s1", TraceID: "t1"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Output != "ok:hi" || tool.calls != 1 {
		t.Fatalf("unexpected result %+v (calls=%d)", res, tool.calls)
	}
	if capture.output != "ok:hi" {
		t.Fatalf("PostToolUse did not see the output: %q", capture.output)
	}
	if res.AdditionalContext != "pre context\npost-processed" {
		t.Fatalf("context = %q", res.AdditionalContext)
	}
	if len(sink.recs) != 1 || sink.recs[0].Permission != "allow" || sink.recs[0].TraceID != "t1" {
		t.Fatalf("audit not written: %+v", sink.recs)
	}
}

func TestInvokeDenyDoesNotExecute(t *testing.T) {
	tool := &countingTool{name: "GMAIL_SEND_EMAIL"}
	deny := fixedModule{"gate", policy.Decision{
		Permission:           policy.Deny,
		Reason:               "gmail rate limit reached",
		RetryAfter:           time.Minute,
		SuggestedAlternative: "wait 1m0s",
		Code:                 policy.CodeRateLimited,
	}}
	g := New(newRunner(t, []policy.Module{fixedModule{"ok", policy.AllowWith("fine")}, deny}), newRegistry(tool), Options{})

	_, err := g.Invoke(context.Background(), Call{Tool: "GMAIL_SEND_EMAIL"})
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected DeniedError, got %v", err)
	}
	if denied.Kind != KindRateLimited || denied.RetryAfter != time.Minute || denied.NextStep() != "wait 1m0s" {
		t.Fatalf("unexpected denial %+v", denied)
	}
	if tool.calls != 0 {
		t.Fatal("denied tool must not execute")
	}
}

func TestInvokeAskRequiresApproval(t *testing.T) {
	tool := &countingTool{name: "slack_send_message", tier: tools.TierHighRisk}
	reg := newRegistry(tool)
	approvals := approval.NewManager(nil, nil)
	g := New(newRunner(t, []policy.Module{policy.NewTierGate(reg.Tier)}), reg, Options{Approvals: approvals})
	call := Call{Tool: "slack_send_message", Arguments: map[string]any{"text": "hello"}, SessionID: "s1"}

	_, err := g.Invoke(context.Background(), call)
	var confirm *ConfirmationRequiredError
	if !errors.As(err, &confirm) || confirm.ApprovalID == "" {
		t.Fatalf("expected ConfirmationRequiredError, got %v", err)
	}
	if tool.calls != 0 {
		t.Fatal("tool ran before approval")
	}
	if !strings.Contains(err.Error(), "approve:"+confirm.ApprovalID) {
		t.Fatalf("error should tell the user how to approve: %v", err)
	}

	if err := approvals.Respond(confirm.ApprovalID, true); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	call.ApprovalID = confirm.ApprovalID
	res, err := g.Invoke(context.Background(), call)
	if err != nil || res.Output != "ok:hello" {
		t.Fatalf("approved call should execute, got %+v %v", res, err)
	}

	_, err = g.Invoke(context.Background(), call)
	if !errors.As(err, &confirm) {
		t.Fatalf("a used approval must not authorize a second run, got %v", err)
	}
	if tool.calls != 1 {
		t.Fatalf("calls = %d, want 1", tool.calls)
	}
}

func TestApprovalDoesNotOverrideDeny(t *testing.T) {
	tool := &countingTool{name: "write_file"}
	approvals := approval.NewManager(nil, nil)
	id := approvals.Create(&approval.Request{Tool: "write_file"})
	_ = approvals.Respond(id, true)

	g := New(newRunner(t, []policy.Module{
		fixedModule{"ask", policy.Decision{Permission: policy.Ask, RequiresExplicitApproval: true}},
		fixedModule{"deny", policy.Decision{Permission: policy.Deny, Reason: "credential file", SuggestedAlternative: "use the keychain"}},
	}), newRegistry(tool), Options{Approvals: approvals})

	_, err := g.Invoke(context.Background(), Call{Tool: "write_file", ApprovalID: id})
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Kind != KindDenied {
		t.Fatalf("expected plain denial, got %v", err)
	}
	if tool.calls != 0 {
		t.Fatal("denied tool executed")
	}
}

func TestAskWithoutApprovalChannelIsDenied(t *testing.T) {
	g := New(newRunner(t, []policy.Module{fixedModule{"ask", policy.Decision{Permission: policy.Ask, Reason: "tier_2_requires_approval"}}}),
		newRegistry(&countingTool{name: "x"}), Options{})
	_, err := g.Invoke(context.Background(), Call{Tool: "x"})
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.NextStep() == "" {
		t.Fatalf("expected denial with next step, got %v", err)
	}
}

type connections map[string]bool

func (c connections) ConnectionStatus(_ context.Context, toolkit string) (bool, time.Time, error) {
	return c[toolkit], time.Time{}, nil
}

func TestInvokeWithConnectionGate(t *testing.T) {
	send := &countingTool{name: "GMAIL_SEND_EMAIL"}
	lim := ratelimit.New(ratelimit.NewMemoryLog(), map[string]ratelimit.Limits{"gmail": {PerMinute: 2}})
	conns := connections{}
	gate := policy.NewConnectionGate([]string{"gmail"}, conns, lim, nil)
	g := New(newRunner(t, []policy.Module{gate}), newRegistry(send), Options{})
	ctx := context.Background()

	_, err := g.Invoke(ctx, Call{Tool: "GMAIL_SEND_EMAIL"})
	var denied *DeniedError
	if !errors.As(err, &denied) || denied.Kind != KindConnectionRequired {
		t.Fatalf("expected connection_required, got %v", err)
	}
	if !strings.Contains(denied.NextStep(), "butler connect gmail") {
		t.Fatalf("missing remediation: %q", denied.NextStep())
	}

	conns["gmail"] = true
	for i := 0; i < 2; i++ {
		if _, err := g.Invoke(ctx, Call{Tool: "GMAIL_SEND_EMAIL"}); err != nil {
			t.Fatalf("call %d: %v", i+1, err)
		}
	}
	_, err = g.Invoke(ctx, Call{Tool: "GMAIL_SEND_EMAIL"})
	if !errors.As(err, &denied) || denied.Kind != KindRateLimited || denied.RetryAfter != time.Minute {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if send.calls != 2 {
		t.Fatalf("calls = %d, want 2", send.calls)
	}
}
