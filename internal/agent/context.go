package agent

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/KafClaw/butler/internal/gateway"
)

// Turn is one message of the conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Context travels with a request through the delegation tree. It is a value:
// Child returns a modified copy and never touches the parent.
type Context struct {
	SessionID       string
	ConversationID  string
	History         []Turn
	CallDepth       int
	ParentAgentID   string
	AgentID         string
	TraceID         string
	InjectedContext []string
}

// NewAgentID returns an agent ID of the form "<kind>:<short id>".
func NewAgentID(kind string) string {
	return kind + ":" + uuid.NewString()[:8]
}

// Child returns the context for a sub-agent of the given kind, one level deeper.
func (c Context) Child(kind Kind) Context {
	child := c
	child.CallDepth = c.CallDepth + 1
	child.ParentAgentID = c.AgentID
	child.AgentID = NewAgentID(string(kind))
	child.History = slices.Clone(c.History)
	child.InjectedContext = slices.Clone(c.InjectedContext)
	return child
}

// WithInjected returns a copy with text appended to the injected context.
func (c Context) WithInjected(text string) Context {
	text = strings.TrimSpace(text)
	if text == "" {
		return c
	}
	c.InjectedContext = append(slices.Clone(c.InjectedContext), text)
	return c
}

// Injected joins the injected context lines.
func (c Context) Injected() string {
	return strings.Join(c.InjectedContext, "\n")
}

// Call builds a gateway call attributed to this agent.
func (c Context) Call(tool string, args map[string]any) gateway.Call {
	return gateway.Call{
		Tool:      tool,
		Arguments: args,
		SessionID: c.SessionID,
		AgentID:   c.AgentID,
		TraceID:   c.TraceID,
		CallDepth: c.CallDepth,
	}
}
