package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/KafClaw/butler/internal/agent"
	"github.com/KafClaw/butler/internal/config"
	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/policy"
	"github.com/zalando/go-keyring"
)

func newTestApp(t *testing.T) *App {
	t.Helper()
	keyring.MockInit()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Paths.Workspace = filepath.Join(dir, "Butler")
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	a, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestNewCreatesWorkspaceAndRegistersTools(t *testing.T) {
	a := newTestApp(t)
	if _, err := os.Stat(filepath.Join(a.Config.Paths.Workspace, "projects")); err != nil {
		t.Fatalf("workspace not created: %v", err)
	}
	for _, name := range []string{"read_file", "write_file", "search", "search_files", "reminder_create", "preference_save", "slack_send_message"} {
		if _, ok := a.Tools.Get(name); !ok {
			t.Errorf("tool %q not registered", name)
		}
	}
	pre := a.Hooks.Hooks(hooks.PreToolUse)
	if len(pre) == 0 || pre[len(pre)-1].ModuleID != policy.ConnectionRateLimitID {
		t.Fatalf("toolkit gate must be the last PreToolUse hook: %+v", pre)
	}
}

func TestHandleCreatesReminder(t *testing.T) {
	a := newTestApp(t)
	resp := a.Handle(context.Background(), "Remind me to call mom tomorrow", "s1")
	if resp.Status != agent.Success {
		t.Fatalf("status = %s, text = %q", resp.Status, resp.Text)
	}
	got, err := a.Timeline.SearchReminders("call mom", 5)
	if err != nil {
		t.Fatalf("SearchReminders: %v", err)
	}
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("reminders = %+v", got)
	}
	runs, err := a.Timeline.ListDelegationRuns(resp.TraceID)
	if err != nil {
		t.Fatalf("ListDelegationRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(runs))
	}
}

func TestHandleDirectAnswerWithoutModel(t *testing.T) {
	a := newTestApp(t)
	resp := a.Handle(context.Background(), "hello", "s1")
	if resp.Status != agent.Success || resp.Text == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestHandleSlackWithoutConnectionFails(t *testing.T) {
	a := newTestApp(t)
	resp := a.Handle(context.Background(), "Send a Slack message to #team saying lunch is ready", "s1")
	if resp.Status != agent.Failure {
		t.Fatalf("status = %s, text = %q", resp.Status, resp.Text)
	}
	if !strings.Contains(strings.ToLower(resp.Text), "connect") {
		t.Fatalf("expected a connect next step, got %q", resp.Text)
	}
}

func TestChecksDoNotConsumeQuota(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()
	exp := time.Now().Add(time.Hour)
	if err := a.Timeline.SetConnection("slack", true, &exp); err != nil {
		t.Fatalf("SetConnection: %v", err)
	}
	req := policy.ActionRequest{Tool: "slack_send_message", Input: map[string]any{"text": "hi"}, AgentID: string(agent.KindCommunicator)}
	for i := 0; i < 3; i++ {
		out := a.Checks.Fire(ctx, hooks.PreToolUse, req)
		if out.Decision.Permission != policy.Ask {
			t.Fatalf("check %d: permission %s, want ask", i, out.Decision.Permission)
		}
	}
	counts, err := a.Limiter.CountsSince(ctx, "slack", time.Now())
	if err != nil {
		t.Fatalf("CountsSince: %v", err)
	}
	if counts.LastMinute != 0 {
		t.Fatalf("dry-run checks recorded usage: %+v", counts)
	}

	a.Hooks.Fire(ctx, hooks.PreToolUse, req)
	counts, _ = a.Limiter.CountsSince(ctx, "slack", time.Now())
	if counts.LastMinute != 1 {
		t.Fatalf("live chain should record usage once, got %+v", counts)
	}
}

func TestSessionsSurviveRestart(t *testing.T) {
	a := newTestApp(t)
	a.Handle(context.Background(), "hello", "cli:default")

	b, err := New(a.Config, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer b.Close()
	b.Handle(context.Background(), "thanks", "cli:default")
	if h := b.Orchestrator.History("cli:default"); len(h) != 4 {
		t.Fatalf("expected the first process's turns to be resumed, got %d", len(h))
	}
}
