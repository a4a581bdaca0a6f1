package policy

import (
	"context"
	"fmt"

	"github.com/KafClaw/butler/internal/tools"
)

// TierFunc returns the risk tier of a tool; ok is false for unknown tools.
type TierFunc func(tool string) (tier int, ok bool)

// TierGate asks for approval before tools above the auto-approved tier run.
type TierGate struct {
	// MaxAutoTier is the highest tier that is auto-approved (default: 1).
	MaxAutoTier int
	tierOf      TierFunc
}

// NewTierGate creates the module with MaxAutoTier 1.
func NewTierGate(tierOf TierFunc) *TierGate {
	return &TierGate{MaxAutoTier: tools.TierWrite, tierOf: tierOf}
}

func (g *TierGate) ID() string { return ToolTierID }

func (g *TierGate) Evaluate(ctx context.Context, req ActionRequest) (Decision, error) {
	tier := tools.TierReadOnly
	if g.tierOf != nil {
		if t, ok := g.tierOf(req.Tool); ok {
			tier = t
		}
	}

	// Tier 0 tools are always allowed
	if tier == tools.TierReadOnly || tier <= g.MaxAutoTier {
		return Decision{Permission: Allow}, nil
	}

	return Decision{
		Permission:               Ask,
		Reason:                   fmt.Sprintf("tier_%d_requires_approval", tier),
		RequiresExplicitApproval: true,
		Code:                     CodeTierRequiresApproval,
	}, nil
}
