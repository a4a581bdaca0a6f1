package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/KafClaw/butler/internal/gateway"
)

type toolReply struct {
	res gateway.Result
	err error
}

type fakeTools struct {
	mu      sync.Mutex
	replies map[string]toolReply
	calls   []gateway.Call
}

func (f *fakeTools) Invoke(_ context.Context, call gateway.Call) (gateway.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	r, ok := f.replies[call.Tool]
	if !ok {
		return gateway.Result{}, errors.New("unexpected tool " + call.Tool)
	}
	return r.res, r.err
}

type fakeDelegator struct {
	got     []Branch
	results []DelegationResult
}

func (f *fakeDelegator) Delegate(_ context.Context, _ Context, branches []Branch) []DelegationResult {
	f.got = append(f.got, branches...)
	return f.results
}

type upperResponder struct{}

func (upperResponder) Respond(_ context.Context, prompt string, _ Context) (Response, error) {
	_, draft, _ := strings.Cut(prompt, "\n\n")
	return Response{Text: strings.ToUpper(draft)}, nil
}

func out(s string) toolReply { return toolReply{res: gateway.Result{Output: s}} }

func rootContext() Context {
	return Context{SessionID: "s1", TraceID: "t1", AgentID: "butler"}
}

func TestContextChild(t *testing.T) {
	parent := rootContext().WithInjected("Search routing: query targets calendar")
	parent.History = []Turn{{Role: "user", Content: "hi"}}

	child := parent.Child(KindScheduler)
	if child.CallDepth != 1 || child.ParentAgentID != "butler" || !strings.HasPrefix(child.AgentID, "scheduler:") {
		t.Fatalf("unexpected child %+v", child)
	}
	child.History[0].Content = "changed"
	child = child.WithInjected("more")
	if parent.History[0].Content != "hi" || len(parent.InjectedContext) != 1 {
		t.Fatal("Child must not share slices with the parent")
	}
	if grand := child.Child(KindNavigator); grand.CallDepth != 2 || grand.ParentAgentID != child.AgentID {
		t.Fatalf("unexpected grandchild %+v", grand)
	}
	call := child.Call("reminder_create", nil)
	if call.AgentID != child.AgentID || call.CallDepth != 1 || call.SessionID != "s1" {
		t.Fatalf("call not attributed: %+v", call)
	}
}

func TestSplitReminder(t *testing.T) {
	cases := []struct{ in, title, when string }{
		{"remind me to call mom tomorrow at 5pm", "call mom", "tomorrow at 5pm"},
		{"Remind me about the dentist in 2 days.", "the dentist", "in 2 days"},
		{"set a reminder to water plants", "water plants", ""},
		{"schedule standup notes today", "standup notes", "today"},
	}
	for _, tc := range cases {
		title, when := SplitReminder(tc.in)
		if title != tc.title || when != tc.when {
			t.Errorf("SplitReminder(%q) = %q, %q; want %q, %q", tc.in, title, when, tc.title, tc.when)
		}
	}
}

func TestSchedulerCreatesReminder(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"reminder_create": out(`Reminder #1 set: "call mom"`)}}
	s := NewScheduler(Deps{Tools: tools})
	ac := rootContext().Child(KindScheduler)

	res := s.Run(context.Background(), ac, Task{Instruction: "remind me to call mom tomorrow at 5pm"})
	if res.Status != Success || !strings.Contains(res.Payload, "Reminder #1") {
		t.Fatalf("unexpected result %+v", res)
	}
	call := tools.calls[0]
	if call.Arguments["title"] != "call mom" || call.Arguments["when"] != "tomorrow at 5pm" || call.Arguments["session_id"] != "s1" {
		t.Fatalf("unexpected arguments %+v", call.Arguments)
	}
	if res.SubAgentID != ac.AgentID || res.Kind != KindScheduler {
		t.Fatalf("result not attributed: %+v", res)
	}
}

func TestSchedulerNothingToSchedule(t *testing.T) {
	res := NewScheduler(Deps{Tools: &fakeTools{}}).Run(context.Background(), rootContext(), Task{Instruction: "remind me"})
	if res.Status != Failure || res.Reason != ReasonException {
		t.Fatalf("expected failure, got %+v", res)
	}
}

func TestCommunicatorUsesUpstreamPayload(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"slack_send_message": out("Message sent to team")}}
	c := NewCommunicator(Deps{Tools: tools, Responder: upperResponder{}})
	res := c.Run(context.Background(), rootContext(), Task{
		Instruction: "send my plan to #team",
		Upstream: []DelegationResult{
			{Kind: KindScheduler, Status: Success, Payload: "reminder set for friday"},
			{Kind: KindNavigator, Status: Failure, ErrorSummary: "boom"},
		},
	})
	if res.Status != Success {
		t.Fatalf("unexpected result %+v", res)
	}
	args := tools.calls[0].Arguments
	if args["channel"] != "#team" || args["text"] != "REMINDER SET FOR FRIDAY" {
		t.Fatalf("unexpected arguments %+v", args)
	}
}

func TestCommunicatorIgnoresUpstreamWithoutSendRequest(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"slack_send_message": out("Message sent")}}
	res := NewCommunicator(Deps{Tools: tools}).Run(context.Background(), rootContext(), Task{
		Instruction: "Find John Smith email address",
		Upstream:    []DelegationResult{{Kind: KindTriage, Status: Success, Payload: "John Smith <john@example.com>"}},
	})
	if res.Status != Failure || len(tools.calls) != 0 {
		t.Fatalf("expected no send, got %+v with calls %+v", res, tools.calls)
	}
}

func TestCommunicatorPrefersExplicitBody(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"slack_send_message": out("Message sent")}}
	res := NewCommunicator(Deps{Tools: tools}).Run(context.Background(), rootContext(), Task{
		Instruction: "remind me friday and tell #team that the demo moved",
		Upstream:    []DelegationResult{{Kind: KindScheduler, Status: Success, Payload: "Reminder set for friday"}},
	})
	if res.Status != Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := tools.calls[0].Arguments["text"]; got != "the demo moved" {
		t.Fatalf("text = %v, want the explicit body", got)
	}
}

func TestAsksToSend(t *testing.T) {
	cases := map[string]bool{
		"send my plan to #team":             true,
		"tell #general that lunch is here":  true,
		"let Sarah know I'm late":           true,
		"message @bob about the offsite":    true,
		"post this in #random":              true,
		"Find John Smith email address":     false,
		"did the message from HR arrive?":   false,
		"read the blog post about Go":       false,
		"remind me to check slack tomorrow": false,
		"tell me what's on my calendar":     false,
	}
	for msg, want := range cases {
		if got := AsksToSend(msg); got != want {
			t.Errorf("AsksToSend(%q) = %v, want %v", msg, got, want)
		}
	}
}

func TestCommunicatorConfirmationRequired(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"slack_send_message": {
		err: &gateway.ConfirmationRequiredError{ApprovalID: "ab12", Tool: "slack_send_message"},
	}}}
	res := NewCommunicator(Deps{Tools: tools}).Run(context.Background(), rootContext(),
		Task{Instruction: "tell #general that lunch is here"})
	if res.Status != Failure || res.Reason != ReasonConfirmationRequired || res.ApprovalID != "ab12" {
		t.Fatalf("unexpected result %+v", res)
	}
	if tools.calls[0].Arguments["text"] != "lunch is here" {
		t.Fatalf("body not extracted: %+v", tools.calls[0].Arguments)
	}
}

func TestDeniedCarriesNextStep(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"slack_send_message": {err: &gateway.DeniedError{
		Kind: gateway.KindConnectionRequired, Reason: "slack is not connected",
		SuggestedAlternative: "run `butler connect slack` to authorize access, then retry",
	}}}}
	res := NewCommunicator(Deps{Tools: tools}).Run(context.Background(), rootContext(), Task{Params: map[string]any{"text": "hi"}})
	if res.Reason != ReasonDenied || !strings.Contains(res.ErrorSummary, "butler connect slack") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestNavigatorReadsBestMatch(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{
		"search_files": out("/w/resources/recipes/sourdough.md\n/w/resources/recipes/bagels.md\n"),
		"read_file":    {res: gateway.Result{Output: "500g flour", AdditionalContext: "File category: para/resources"}},
	}}
	res := NewNavigator(Deps{Tools: tools}).Run(context.Background(), rootContext(), Task{Instruction: "find my sourdough recipe"})
	if res.Status != Success {
		t.Fatalf("unexpected result %+v", res)
	}
	if q := tools.calls[0].Arguments["query"]; q != "sourdough recipe" {
		t.Fatalf("query = %v", q)
	}
	if tools.calls[1].Arguments["path"] != "/w/resources/recipes/sourdough.md" {
		t.Fatalf("read wrong file: %+v", tools.calls[1].Arguments)
	}
	for _, want := range []string{"Best match: /w/resources/recipes/sourdough.md", "500g flour", "bagels.md", "para/resources"} {
		if !strings.Contains(res.Payload, want) {
			t.Fatalf("payload missing %q:\n%s", want, res.Payload)
		}
	}
}

func TestNavigatorReadFailureIsPartial(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{
		"search_files": out("/etc/app.conf\n"),
		"read_file":    out("Error: permission denied: /etc/app.conf"),
	}}
	res := NewNavigator(Deps{Tools: tools}).Run(context.Background(), rootContext(), Task{Params: map[string]any{"query": "app conf"}})
	if res.Status != PartialFailure || !strings.Contains(res.ErrorSummary, "permission denied") {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTriageDelegatesDocumentQueries(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"search": {res: gateway.Result{
		Output:            "[files] resources/taxes-2025.md",
		AdditionalContext: "Search routing: query targets documents (signals: default)",
	}}}}
	del := &fakeDelegator{results: []DelegationResult{{Kind: KindNavigator, Status: Success, Payload: "Best match: taxes-2025.md"}}}
	res := NewTriage(Deps{Tools: tools, Delegator: del}).Run(context.Background(), rootContext(), Task{Instruction: "tax return"})
	if res.Status != Success || !strings.Contains(res.Payload, "Best match") {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(del.got) != 1 || del.got[0].Kind != KindNavigator {
		t.Fatalf("expected a navigator branch, got %+v", del.got)
	}
}

func TestTriageChildFailureIsPartial(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"search": out("No results for \"x\".")}}
	del := &fakeDelegator{results: []DelegationResult{{Kind: KindNavigator, Status: Failure, Reason: ReasonDepthExceeded, ErrorSummary: "max depth 3 reached"}}}
	res := NewTriage(Deps{Tools: tools, Delegator: del}).Run(context.Background(), rootContext(), Task{Instruction: "x"})
	if res.Status != PartialFailure || !strings.Contains(res.ErrorSummary, ReasonDepthExceeded) {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestTriageContactsStayLocal(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"search": {res: gateway.Result{
		Output:            "[preferences] dentist_phone: 555-0101",
		AdditionalContext: "Search routing: query targets contacts (signals: phone)",
	}}}}
	del := &fakeDelegator{}
	res := NewTriage(Deps{Tools: tools, Delegator: del}).Run(context.Background(), rootContext(), Task{Instruction: "dentist phone number"})
	if res.Status != Success || len(del.got) != 0 {
		t.Fatalf("contact lookups should not spawn a navigator: %+v %+v", res, del.got)
	}
}

func TestExtractPreference(t *testing.T) {
	cases := []struct {
		in, key, value string
		conf           float64
	}{
		{"My favorite coffee shop is Blue Bottle.", "favorite_coffee_shop", "Blue Bottle", 0.7},
		{"please call me Sam", "preferred_name", "Sam", 0.7},
		{"I always prefer aisle seats", "prefers", "aisle seats", 0.9},
		{"I like short emails in the morning", "prefers_the_morning", "short emails", 0.7},
		{"I don't like early meetings", "dislikes", "early meetings", 0.7},
	}
	for _, tc := range cases {
		key, value, conf, ok := ExtractPreference(tc.in)
		if !ok || key != tc.key || value != tc.value || conf != tc.conf {
			t.Errorf("ExtractPreference(%q) = %q, %q, %v, %v", tc.in, key, value, conf, ok)
		}
	}
	if _, _, _, ok := ExtractPreference("what's the weather"); ok {
		t.Error("expected no preference")
	}
}

func TestPreferenceLearner(t *testing.T) {
	tools := &fakeTools{replies: map[string]toolReply{"preference_save": out("Noted: preferred_name = Sam")}}
	p := NewPreferenceLearner(Deps{Tools: tools})
	res := p.Run(context.Background(), rootContext(), Task{Instruction: "call me Sam"})
	if res.Status != Success || tools.calls[0].Arguments["key"] != "preferred_name" {
		t.Fatalf("unexpected result %+v %+v", res, tools.calls)
	}
	res = p.Run(context.Background(), rootContext(), Task{Instruction: "hello there"})
	if res.Status != Success || len(tools.calls) != 1 {
		t.Fatalf("no preference should mean no tool call: %+v", res)
	}
}

func TestRosterCoversEveryKind(t *testing.T) {
	roster := NewRoster(Deps{})
	scopes := DefaultScopes()
	for _, k := range Kinds {
		a, ok := roster[k]
		if !ok || a.Kind() != k {
			t.Fatalf("roster missing %s", k)
		}
		if _, ok := scopes[string(k)]; !ok {
			t.Fatalf("no scope for %s", k)
		}
	}
	if _, err := ParseKind("plumber"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
