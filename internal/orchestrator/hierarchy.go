package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/KafClaw/butler/internal/agent"
)

// Node is one agent in a request's delegation tree.
type Node struct {
	AgentID  string        `json:"agent_id"`
	Kind     agent.Kind    `json:"kind"`
	ParentID string        `json:"parent_id,omitempty"` // empty for the root
	Depth    int           `json:"depth"`
	Status   string        `json:"status"` // "running", "success", "partial_failure", "failure", "skipped"
	Reason   string        `json:"reason,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration,omitempty"`
	seq      int
}

// Hierarchy is a thread-safe tree of the agents spawned for one request.
type Hierarchy struct {
	mu    sync.RWMutex
	nodes map[string]*Node // agent_id -> node
	seq   int
}

// NewHierarchy creates an empty hierarchy.
func NewHierarchy() *Hierarchy {
	return &Hierarchy{
		nodes: make(map[string]*Node),
	}
}

// AddNode adds or replaces an agent in the hierarchy.
func (h *Hierarchy) AddNode(node Node) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.nodes[node.AgentID]; ok {
		node.seq = old.seq
	} else {
		h.seq++
		node.seq = h.seq
	}
	h.nodes[node.AgentID] = &node
}

// Finish records the outcome of a branch.
func (h *Hierarchy) Finish(agentID string, res agent.DelegationResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	node, ok := h.nodes[agentID]
	if !ok {
		return
	}
	node.Status = res.Status.String()
	node.Reason = res.Reason
	node.Duration = res.Duration
}

// AllNodes returns all nodes in the order they were added.
func (h *Hierarchy) AllNodes() []Node {
	h.mu.RLock()
	defer h.mu.RUnlock()
	nodes := make([]Node, 0, len(h.nodes))
	for _, n := range h.nodes {
		nodes = append(nodes, *n)
	}
	sortNodes(nodes)
	return nodes
}

func sortNodes(nodes []Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })
}
