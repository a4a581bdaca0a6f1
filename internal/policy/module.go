package policy

import (
	"context"

	"github.com/KafClaw/butler/internal/tools"
)

// Module is one pluggable policy check attached to a lifecycle event.
// Evaluate must not mutate the request; an error makes the runner skip the
// module (fail-open).
type Module interface {
	ID() string
	Evaluate(ctx context.Context, req ActionRequest) (Decision, error)
}

// Module IDs used in hook registrations.
const (
	SearchRoutingID       = "search-routing"
	PathClassificationID  = "path-classification"
	PathConventionID      = "path-convention"
	ConnectionRateLimitID = "connection-rate-limit"
	ToolTierID            = "tool-tier"
	AgentScopeID          = "agent-scope"
)

// AccessFunc reports how a tool touches workspace files.
type AccessFunc func(tool string) tools.Access

func pathOf(input map[string]any) string {
	return tools.FirstString(input, "file_path", "path")
}
