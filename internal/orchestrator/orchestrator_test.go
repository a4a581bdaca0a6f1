package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/KafClaw/butler/internal/agent"
	"github.com/KafClaw/butler/internal/approval"
	"github.com/KafClaw/butler/internal/gateway"
	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/policy"
)

// scriptedFirer records fired events and answers from a per-event table.
type scriptedFirer struct {
	mu        sync.Mutex
	events    []hooks.Event
	requests  []policy.ActionRequest
	decisions map[hooks.Event]policy.Decision
}

func (f *scriptedFirer) Fire(_ context.Context, event hooks.Event, req policy.ActionRequest) hooks.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.requests = append(f.requests, req)
	d, ok := f.decisions[event]
	if !ok {
		d = policy.Decision{Permission: policy.Allow}
	}
	return hooks.Outcome{Decision: d}
}

func (f *scriptedFirer) fired() []hooks.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hooks.Event(nil), f.events...)
}

type cannedResponder struct {
	text string
	err  error
}

func (r cannedResponder) Respond(context.Context, string, agent.Context) (agent.Response, error) {
	return agent.Response{Text: r.text}, r.err
}

type recordingInvoker struct {
	calls  []gateway.Call
	output string
	err    error
}

func (r *recordingInvoker) Invoke(_ context.Context, call gateway.Call) (gateway.Result, error) {
	r.calls = append(r.calls, call)
	return gateway.Result{Output: r.output}, r.err
}

func equalEvents(a, b []hooks.Event) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHandleDirectAnswerAndLifecycleHooks(t *testing.T) {
	f := &scriptedFirer{}
	o := New(f, Options{Responder: cannedResponder{text: "Hi! How can I help?"}})

	resp := o.Handle(context.Background(), "hello", "s1")
	if resp.Intent != IntentDirectAnswer || resp.Status != agent.Success || resp.Text != "Hi! How can I help?" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.ContributingResults) != 1 || resp.ContributingResults[0].Kind != KindButler {
		t.Fatalf("direct answer should be one trivial result: %+v", resp.ContributingResults)
	}

	o.Handle(context.Background(), "thanks", "s1")
	o.EndSession(context.Background(), "s1")

	want := []hooks.Event{
		hooks.SessionStart, hooks.UserPromptSubmit, hooks.Stop,
		hooks.UserPromptSubmit, hooks.Stop,
		hooks.SessionEnd,
	}
	if got := f.fired(); !equalEvents(got, want) {
		t.Fatalf("events %v, want %v", got, want)
	}
	if h := o.History("s1"); h != nil {
		t.Fatalf("history should be dropped after EndSession, got %d turns", len(h))
	}
}

func TestHandleResponderErrorStillResponds(t *testing.T) {
	o := New(nil, Options{Responder: cannedResponder{err: errors.New("model offline")}})
	resp := o.Handle(context.Background(), "hello", "")
	if resp.Status != agent.Failure || resp.Text == "" || !strings.Contains(resp.Text, "model offline") {
		t.Fatalf("expected explained failure, got %+v", resp)
	}
}

func TestHandlePromptDenyRefuses(t *testing.T) {
	f := &scriptedFirer{decisions: map[hooks.Event]policy.Decision{
		hooks.UserPromptSubmit: {Permission: policy.Deny, Reason: "quiet hours are on"},
	}}
	sub := &stubSub{kind: agent.KindScheduler, run: succeed("set")}
	o := New(f, Options{})
	o.Register(sub)

	resp := o.Handle(context.Background(), "remind me to stretch", "s1")
	if resp.Status != agent.Failure || !strings.Contains(resp.Text, "quiet hours are on") {
		t.Fatalf("expected refusal, got %+v", resp)
	}
	if sub.calls.Load() != 0 {
		t.Fatal("denied prompt must not delegate")
	}
	if got := f.fired(); got[len(got)-1] != hooks.Stop {
		t.Fatalf("Stop should still fire, got %v", got)
	}
}

func TestHandleDelegatesWithInjectedContext(t *testing.T) {
	f := &scriptedFirer{decisions: map[hooks.Event]policy.Decision{
		hooks.UserPromptSubmit: {Permission: policy.Allow, AdditionalContext: "Search routing: calendar"},
	}}
	var seen agent.Context
	sub := &stubSub{kind: agent.KindScheduler, run: func(_ context.Context, ac agent.Context, task agent.Task) agent.DelegationResult {
		seen = ac
		return agent.DelegationResult{Status: agent.Success, Payload: "Reminder set: call mom (tomorrow)"}
	}}
	runs := &memRuns{}
	o := New(f, Options{Recorder: runs})
	o.Register(sub)

	resp := o.Handle(context.Background(), "Remind me to call mom tomorrow", "s1")
	if resp.Intent != IntentDelegate || resp.Status != agent.Success {
		t.Fatalf("unexpected %+v", resp)
	}
	if !strings.Contains(resp.Text, "call mom") {
		t.Fatalf("payload missing from text: %q", resp.Text)
	}
	if seen.CallDepth != 1 || !strings.Contains(seen.Injected(), "calendar") {
		t.Fatalf("child context wrong: depth %d injected %q", seen.CallDepth, seen.Injected())
	}
	if len(resp.Tree) != 2 || resp.Tree[0].Kind != KindButler || resp.Tree[1].ParentID != resp.Tree[0].AgentID {
		t.Fatalf("delegation tree wrong: %+v", resp.Tree)
	}
	if resp.Tree[1].Status != "success" {
		t.Fatalf("child node status %q", resp.Tree[1].Status)
	}
	if got := runs.snapshot(); len(got) != 1 || got[0].TraceID != resp.TraceID || got[0].Kind != "scheduler" {
		t.Fatalf("run not recorded: %+v", got)
	}
	if h := o.History("s1"); len(h) != 2 || h[1].Role != "assistant" {
		t.Fatalf("history not kept: %+v", h)
	}
}

func TestHandleClarifiesUnclearMessage(t *testing.T) {
	o := New(nil, Options{})
	resp := o.Handle(context.Background(), "qwerty", "s1")
	if resp.Intent != IntentNeedsClarification || !strings.Contains(resp.Text, "not sure") {
		t.Fatalf("unexpected %+v", resp)
	}
}

func TestHandleApprovalReplies(t *testing.T) {
	mgr := approval.NewManager(nil, nil)
	inv := &recordingInvoker{output: "Message sent to #team"}
	o := New(nil, Options{Approvals: mgr, Tools: inv})

	id := mgr.Create(&approval.Request{
		Tool:      "slack_send_message",
		Arguments: map[string]any{"channel": "#team", "text": "hi"},
		SessionID: "s1",
		AgentID:   "communicator:1234",
	})
	resp := o.Handle(context.Background(), "approve:"+id, "s1")
	if resp.Status != agent.Success || !strings.Contains(resp.Text, "Message sent") {
		t.Fatalf("unexpected %+v", resp)
	}
	if len(inv.calls) != 1 || inv.calls[0].ApprovalID != id || inv.calls[0].Tool != "slack_send_message" {
		t.Fatalf("held call not replayed with approval: %+v", inv.calls)
	}
	if resp.ContributingResults[0].Kind != agent.KindCommunicator {
		t.Fatalf("result should be attributed to the requesting agent: %+v", resp.ContributingResults[0])
	}

	id2 := mgr.Create(&approval.Request{Tool: "slack_send_message", AgentID: "communicator:1234"})
	resp = o.Handle(context.Background(), "deny:"+id2, "s1")
	if !strings.Contains(resp.Text, "won't run slack_send_message") || len(inv.calls) != 1 {
		t.Fatalf("deny should not run the tool: %+v", resp)
	}

	resp = o.Handle(context.Background(), "approve:"+id2, "s1")
	if resp.Status != agent.Failure {
		t.Fatalf("answering twice should fail, got %+v", resp)
	}
}

func TestResolveReportsGatewayDenial(t *testing.T) {
	mgr := approval.NewManager(nil, nil)
	inv := &recordingInvoker{err: &gateway.DeniedError{
		Kind: gateway.KindRateLimited, Tool: "slack_send_message", Reason: "slack rate limit reached",
		Code: policy.CodeRateLimited,
	}}
	o := New(nil, Options{Approvals: mgr, Tools: inv})

	id := mgr.Create(&approval.Request{Tool: "slack_send_message", SessionID: "s1", AgentID: "communicator:1"})
	resp := o.Resolve(context.Background(), "s1", id, true)
	if resp.Status != agent.Failure || resp.ContributingResults[0].Reason != agent.ReasonDenied {
		t.Fatalf("unexpected %+v", resp)
	}
	if !strings.Contains(resp.Text, "rate limit") {
		t.Fatalf("denial reason missing: %q", resp.Text)
	}
}

func TestResolveRejectsOtherSession(t *testing.T) {
	mgr := approval.NewManager(nil, nil)
	inv := &recordingInvoker{output: "Message sent to #team"}
	o := New(nil, Options{Approvals: mgr, Tools: inv})

	id := mgr.Create(&approval.Request{Tool: "slack_send_message", SessionID: "s1", AgentID: "communicator:1"})
	for _, session := range []string{"s2", ""} {
		resp := o.Resolve(context.Background(), session, id, true)
		if resp.Status != agent.Failure || !strings.Contains(resp.Text, "another conversation") {
			t.Fatalf("session %q: expected rejection, got %+v", session, resp)
		}
	}
	if len(inv.calls) != 0 {
		t.Fatalf("foreign session must not run the tool: %+v", inv.calls)
	}
	if req, err := mgr.Get(id); err != nil || req.Status != approval.StatusPending {
		t.Fatalf("approval should stay pending, got %+v, %v", req, err)
	}

	if resp := o.Resolve(context.Background(), "s1", id, true); resp.Status != agent.Success {
		t.Fatalf("owning session should resolve, got %+v", resp)
	}
}

func TestHandleLookupDoesNotSendMessages(t *testing.T) {
	inv := &recordingInvoker{output: "John Smith <john@example.com>"}
	o := New(nil, Options{Tools: inv})
	for _, sub := range agent.NewRoster(agent.Deps{Tools: inv, Delegator: o}) {
		o.Register(sub)
	}

	resp := o.Handle(context.Background(), "Find John Smith email address", "s1")
	if resp.Status != agent.Success || !strings.Contains(resp.Text, "john@example.com") {
		t.Fatalf("unexpected %+v", resp)
	}
	if len(resp.ContributingResults) != 1 || resp.ContributingResults[0].Kind != agent.KindTriage {
		t.Fatalf("lookup should be answered by triage alone: %+v", resp.ContributingResults)
	}
	for _, call := range inv.calls {
		if call.Tool == "slack_send_message" {
			t.Fatalf("lookup sent a message: %+v", call)
		}
	}
	if len(inv.calls) != 1 || inv.calls[0].Tool != "search" {
		t.Fatalf("expected a single search call, got %+v", inv.calls)
	}
}

type memSessions struct {
	mu    sync.Mutex
	conv  map[string]string
	turns map[string][]agent.Turn
}

func newMemSessions() *memSessions {
	return &memSessions{conv: map[string]string{}, turns: map[string][]agent.Turn{}}
}

func (m *memSessions) History(id string) (string, []agent.Turn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conv[id]
	return conv, append([]agent.Turn(nil), m.turns[id]...), ok
}

func (m *memSessions) Append(id, conv string, turns ...agent.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conv[id] = conv
	m.turns[id] = append(m.turns[id], turns...)
	return nil
}

func (m *memSessions) End(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conv, id)
	delete(m.turns, id)
	return nil
}

func TestHandleResumesPersistedSession(t *testing.T) {
	store := newMemSessions()
	first := New(&scriptedFirer{}, Options{Sessions: store})
	first.Handle(context.Background(), "hello", "cli:default")

	// A second process shares the store but not the memory.
	f := &scriptedFirer{}
	second := New(f, Options{Sessions: store})
	second.Handle(context.Background(), "thanks", "cli:default")

	for _, ev := range f.fired() {
		if ev == hooks.SessionStart {
			t.Fatal("a resumed session must not fire SessionStart")
		}
	}
	if h := second.History("cli:default"); len(h) != 4 || h[0].Content != "hello" {
		t.Fatalf("history = %+v", h)
	}
	if store.conv["cli:default"] == "" {
		t.Fatal("conversation ID not persisted")
	}

	second.EndSession(context.Background(), "cli:default")
	if _, _, found := store.History("cli:default"); found {
		t.Fatal("EndSession should remove the persisted session")
	}
}
