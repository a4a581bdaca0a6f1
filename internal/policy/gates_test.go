package policy

import (
	"context"
	"testing"

	"github.com/KafClaw/butler/internal/tools"
)

func TestTierGate(t *testing.T) {
	tiers := map[string]int{"read_file": tools.TierReadOnly, "write_file": tools.TierWrite, "slack_send_message": tools.TierHighRisk}
	g := NewTierGate(func(name string) (int, bool) {
		tier, ok := tiers[name]
		return tier, ok
	})
	ctx := context.Background()

	for _, name := range []string{"read_file", "write_file", "unknown_tool"} {
		if d, _ := g.Evaluate(ctx, ActionRequest{Tool: name}); d.Permission != Allow {
			t.Errorf("%s should be auto-approved, got %+v", name, d)
		}
	}
	d, _ := g.Evaluate(ctx, ActionRequest{Tool: "slack_send_message", Input: map[string]any{"confirmed": true}})
	if d.Permission != Ask || !d.RequiresExplicitApproval || d.Reason != "tier_2_requires_approval" {
		t.Fatalf("high-risk tool must ask, got %+v", d)
	}

	g.MaxAutoTier = tools.TierReadOnly
	if d, _ := g.Evaluate(ctx, ActionRequest{Tool: "write_file"}); d.Permission != Ask {
		t.Fatalf("lowered MaxAutoTier should ask for writes, got %+v", d)
	}
}

func TestAgentScope(t *testing.T) {
	a := NewAgentScope(map[string]Scope{
		"memory":   {Allow: []string{"reminder_create", "preference_save", "search"}},
		"research": {Allow: []string{"search*", "read_file"}, Deny: []string{"search_files"}},
	})
	ctx := context.Background()
	cases := []struct {
		agent, tool string
		want        Permission
	}{
		{"memory:1", "reminder_create", Allow},
		{"memory:1", "write_file", Deny},
		{"research:7", "search", Allow},
		{"research:7", "search_files", Deny},
		{"research", "read_file", Allow},
		{"butler", "write_file", Allow},
		{"", "anything", Allow},
	}
	for _, tc := range cases {
		d, err := a.Evaluate(ctx, ActionRequest{AgentID: tc.agent, Tool: tc.tool})
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
		if d.Permission != tc.want {
			t.Errorf("%s calling %s: got %s, want %s", tc.agent, tc.tool, d.Permission, tc.want)
		}
		if d.Permission == Deny && d.Code != CodeToolNotInScope {
			t.Errorf("unexpected code %q", d.Code)
		}
	}
}
