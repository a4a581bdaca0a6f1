package orchestrator

import (
	"testing"
	"time"

	"github.com/KafClaw/butler/internal/agent"
)

func TestHierarchyKeepsSpawnOrder(t *testing.T) {
	h := NewHierarchy()
	h.AddNode(Node{AgentID: "root", Kind: KindButler, Status: "running"})
	h.AddNode(Node{AgentID: "b", Kind: agent.KindScheduler, ParentID: "root", Depth: 1, Status: "running"})
	h.AddNode(Node{AgentID: "a", Kind: agent.KindTriage, ParentID: "root", Depth: 1, Status: "running"})
	// Replacing a node keeps its original position.
	h.AddNode(Node{AgentID: "b", Kind: agent.KindScheduler, ParentID: "root", Depth: 1, Status: "skipped"})

	h.Finish("a", agent.DelegationResult{Status: agent.PartialFailure, Reason: "timeout", Duration: time.Second})
	h.Finish("missing", agent.DelegationResult{Status: agent.Success})

	nodes := h.AllNodes()
	if len(nodes) != 3 {
		t.Fatalf("expected 3 nodes, got %d", len(nodes))
	}
	want := []string{"root", "b", "a"}
	for i, n := range nodes {
		if n.AgentID != want[i] {
			t.Fatalf("node %d = %s, want %s", i, n.AgentID, want[i])
		}
	}
	if nodes[1].Status != "skipped" {
		t.Fatalf("replaced node status = %q", nodes[1].Status)
	}
	if nodes[2].Status != "partial_failure" || nodes[2].Reason != "timeout" || nodes[2].Duration != time.Second {
		t.Fatalf("finished node = %+v", nodes[2])
	}
}
