package policy

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Scope lists the tools one agent may call. Entries may use path.Match
// globs ("mcp__gmail__*"). An empty Allow list allows everything not denied.
type Scope struct {
	Allow []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty" yaml:"deny,omitempty"`
}

// AgentScope denies tools outside the calling agent's scope. The agent is
// identified by the prefix of ActionRequest.AgentID before the first ':'
// ("scheduler:3f2a" -> "scheduler").
type AgentScope struct {
	scopes map[string]Scope
}

func NewAgentScope(scopes map[string]Scope) *AgentScope {
	return &AgentScope{scopes: scopes}
}

func (a *AgentScope) ID() string { return AgentScopeID }

func (a *AgentScope) Evaluate(ctx context.Context, req ActionRequest) (Decision, error) {
	kind, _, _ := strings.Cut(req.AgentID, ":")
	scope, ok := a.scopes[kind]
	if !ok {
		return Decision{Permission: Allow}, nil
	}
	if matchesAny(scope.Deny, req.Tool) || (len(scope.Allow) > 0 && !matchesAny(scope.Allow, req.Tool)) {
		return Decision{
			Permission: Deny,
			Reason:     fmt.Sprintf("%s is not in the %s agent's tool scope", req.Tool, kind),
			Code:       CodeToolNotInScope,
		}, nil
	}
	return Decision{Permission: Allow}, nil
}

func matchesAny(patterns []string, tool string) bool {
	for _, p := range patterns {
		if p == tool {
			return true
		}
		if ok, err := path.Match(p, tool); err == nil && ok {
			return true
		}
	}
	return false
}
