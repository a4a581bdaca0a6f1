// Package tools provides the tool framework and the tools Butler's sub-agents call.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Tool is the interface that all agent tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description for the LLM.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Execute runs the tool with the given parameters.
	// Returns result string and error. On error, return user-friendly message.
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// TieredTool is an optional interface for tools that declare a risk tier.
// Tier 0: read-only (always allowed)
// Tier 1: controlled writes (allowed by policy)
// Tier 2: external/high-impact (requires approval)
type TieredTool interface {
	Tool
	Tier() int
}

// Risk tier constants.
const (
	TierReadOnly = 0 // Read-only internal tools
	TierWrite    = 1 // Controlled write/internal effects
	TierHighRisk = 2 // External or high-impact actions
)

// ToolTier returns the risk tier for a tool.
// If the tool implements TieredTool, its Tier() is returned.
// Otherwise defaults to TierReadOnly (safe default for unclassified tools).
func ToolTier(t Tool) int {
	if tt, ok := t.(TieredTool); ok {
		return tt.Tier()
	}
	return TierReadOnly
}

// Access describes how a tool touches workspace files.
type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
)

func (a Access) String() string {
	switch a {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	default:
		return "none"
	}
}

// FileTool is implemented by tools that read or write workspace paths.
type FileTool interface {
	Tool
	Access() Access
}

var (
	writeVerbs = []string{"write", "edit", "create", "save", "append", "delete", "remove", "move", "rename", "mkdir"}
	readVerbs  = []string{"read", "list", "view", "open", "cat", "glob", "grep", "search_files"}
)

// GuessAccess classifies a tool by its name when it is not registered
// locally (for example an MCP tool proxied by a host).
func GuessAccess(name string) Access {
	lower := strings.ToLower(name)
	for _, v := range writeVerbs {
		if strings.Contains(lower, v) {
			return AccessWrite
		}
	}
	for _, v := range readVerbs {
		if strings.Contains(lower, v) {
			return AccessRead
		}
	}
	return AccessNone
}

// Registry manages tool registration and execution.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	r.tools[tool.Name()] = tool
	r.mu.Unlock()
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	result := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		result = append(result, tool)
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Definitions returns tool definitions in OpenAI format.
func (r *Registry) Definitions() []map[string]any {
	list := r.List()
	result := make([]map[string]any, 0, len(list))
	for _, tool := range list {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return result
}

// Tier returns the risk tier of a registered tool.
func (r *Registry) Tier(name string) (int, bool) {
	tool, ok := r.Get(name)
	if !ok {
		return 0, false
	}
	return ToolTier(tool), true
}

// Access returns how a tool touches files, falling back to GuessAccess for
// tools that are not registered or do not declare it.
func (r *Registry) Access(name string) Access {
	if tool, ok := r.Get(name); ok {
		if ft, ok := tool.(FileTool); ok {
			return ft.Access()
		}
		return AccessNone
	}
	return GuessAccess(name)
}

// Execute runs a tool by name with the given parameters.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, params)
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// FirstString returns the first non-empty string parameter among keys.
func FirstString(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(GetString(params, k, "")); s != "" {
			return s
		}
	}
	return ""
}
