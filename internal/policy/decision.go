// Package policy provides the decisions that gate tool execution and the
// modules that produce them.
package policy

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Permission is the verdict of a decision. Higher values are more restrictive.
type Permission int

const (
	Allow Permission = iota
	Ask
	Deny
)

func (p Permission) String() string {
	switch p {
	case Allow:
		return "allow"
	case Ask:
		return "ask"
	case Deny:
		return "deny"
	default:
		return fmt.Sprintf("permission(%d)", int(p))
	}
}

// ParsePermission parses "allow", "ask" or "deny".
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, nil
	case "ask":
		return Ask, nil
	case "deny":
		return Deny, nil
	}
	return Allow, fmt.Errorf("unknown permission %q", s)
}

func (p Permission) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Permission) UnmarshalText(b []byte) error {
	v, err := ParsePermission(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Machine-readable decision codes.
const (
	CodeRateLimited          = "rate_limited"
	CodeConnectionRequired   = "connection_required"
	CodePathConvention       = "path_convention"
	CodeProtectedPath        = "protected_path"
	CodeSensitiveFile        = "sensitive_file"
	CodeTierRequiresApproval = "tier_requires_approval"
	CodeToolNotInScope       = "tool_not_in_scope"
	CodeUsageUnavailable     = "usage_unavailable"
)

// ActionRequest describes one tool-call attempt. Modules must treat it as read-only.
type ActionRequest struct {
	Tool      string
	Input     map[string]any
	SessionID string
	CallDepth int
	AgentID   string
	TraceID   string
	// Output is only set for PostToolUse.
	Output string
}

// Decision is what a module, or the merged chain, says about a request.
type Decision struct {
	Permission               Permission
	Reason                   string
	AdditionalContext        string
	RetryAfter               time.Duration
	SuggestedAlternative     string
	RequiresExplicitApproval bool
	Code                     string
}

// AllowWith returns an Allow decision that injects context.
func AllowWith(context string) Decision {
	return Decision{Permission: Allow, AdditionalContext: context}
}

// TieBreak selects which of several equally restrictive values survives a merge.
type TieBreak int

const (
	FirstWins TieBreak = iota
	LastWins
)

// ParseTieBreak parses "first" or "last".
func ParseTieBreak(s string) (TieBreak, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "first", "first_wins":
		return FirstWins, nil
	case "last", "last_wins":
		return LastWins, nil
	}
	return FirstWins, fmt.Errorf("unknown tie-break %q", s)
}

// Merger combines module decisions. The most restrictive permission wins;
// contexts are concatenated in order; RequiresExplicitApproval is OR-ed.
// Reason and Code come from decisions with the winning permission.
// RetryAfter and SuggestedAlternative take the first non-zero value (or the
// last, under LastWins).
type Merger struct {
	TieBreak TieBreak
}

// Merge combines decisions with the default FirstWins tie-break.
func Merge(decisions ...Decision) Decision {
	return Merger{}.Merge(decisions)
}

func (m Merger) Merge(decisions []Decision) Decision {
	var out Decision
	var contexts []string
	for _, d := range decisions {
		if d.Permission > out.Permission {
			out.Permission = d.Permission
		}
		if d.AdditionalContext != "" {
			contexts = append(contexts, d.AdditionalContext)
		}
		if d.RequiresExplicitApproval {
			out.RequiresExplicitApproval = true
		}
	}
	for _, d := range m.ordered(decisions) {
		if d.Permission == out.Permission {
			if out.Reason == "" && d.Reason != "" {
				out.Reason = d.Reason
			}
			if out.Code == "" && d.Code != "" {
				out.Code = d.Code
			}
		}
		if out.RetryAfter == 0 && d.RetryAfter > 0 {
			out.RetryAfter = d.RetryAfter
		}
		if out.SuggestedAlternative == "" && d.SuggestedAlternative != "" {
			out.SuggestedAlternative = d.SuggestedAlternative
		}
	}
	out.AdditionalContext = strings.Join(contexts, "\n")
	return out
}

func (m Merger) ordered(decisions []Decision) []Decision {
	if m.TieBreak != LastWins {
		return decisions
	}
	rev := make([]Decision, len(decisions))
	for i, d := range decisions {
		rev[len(decisions)-1-i] = d
	}
	return rev
}

// WireDecision is the serialized form exchanged with hook hosts.
type WireDecision struct {
	Permission               string `json:"permission"`
	Reason                   string `json:"reason,omitempty"`
	AdditionalContext        string `json:"additionalContext,omitempty"`
	RetryAfter               int    `json:"retryAfter,omitempty"` // seconds
	SuggestedAlternative     string `json:"suggestedAlternative,omitempty"`
	RequiresExplicitApproval bool   `json:"requiresExplicitApproval,omitempty"`
}

// Wire converts the decision to its serialized form. RetryAfter is rounded
// up to whole seconds.
func (d Decision) Wire() WireDecision {
	return WireDecision{
		Permission:               d.Permission.String(),
		Reason:                   d.Reason,
		AdditionalContext:        d.AdditionalContext,
		RetryAfter:               int(math.Ceil(d.RetryAfter.Seconds())),
		SuggestedAlternative:     d.SuggestedAlternative,
		RequiresExplicitApproval: d.RequiresExplicitApproval,
	}
}

// FromWire converts a serialized decision back.
func FromWire(w WireDecision) (Decision, error) {
	p, err := ParsePermission(w.Permission)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Permission:               p,
		Reason:                   w.Reason,
		AdditionalContext:        w.AdditionalContext,
		RetryAfter:               time.Duration(w.RetryAfter) * time.Second,
		SuggestedAlternative:     w.SuggestedAlternative,
		RequiresExplicitApproval: w.RequiresExplicitApproval,
	}, nil
}
