package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/orchestrator"
	"github.com/KafClaw/butler/internal/policy"
	"github.com/KafClaw/butler/internal/ratelimit"
	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// Butler is the conversational surface the MCP tools drive.
type Butler interface {
	Handle(ctx context.Context, message, sessionID string) orchestrator.SynthesizedResponse
	Resolve(ctx context.Context, sessionID, approvalID string, approved bool) orchestrator.SynthesizedResponse
}

// Checker fires a policy chain without side effects.
type Checker interface {
	Fire(ctx context.Context, event hooks.Event, req policy.ActionRequest) hooks.Outcome
}

// UsageReader reports toolkit usage against the configured limits.
type UsageReader interface {
	Toolkits() []string
	LimitsFor(toolkit string) (ratelimit.Limits, bool)
	CountsSince(ctx context.Context, toolkit string, now time.Time) (ratelimit.Counts, error)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

type handleReply struct {
	SessionID  string  `json:"session_id"`
	TraceID    string  `json:"trace_id"`
	Status     string  `json:"status"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Text       string  `json:"text"`
}

func reply(sessionID string, resp orchestrator.SynthesizedResponse) handleReply {
	return handleReply{
		SessionID:  sessionID,
		TraceID:    resp.TraceID,
		Status:     resp.Status.String(),
		Intent:     string(resp.Intent),
		Confidence: resp.Confidence,
		Text:       resp.Text,
	}
}

// HandleTool handles the butler_handle MCP tool.
type HandleTool struct {
	butler Butler
}

func NewHandleTool(b Butler) *HandleTool { return &HandleTool{butler: b} }

func (t *HandleTool) Definition() mcp.Tool {
	return mcp.NewTool("butler_handle",
		mcp.WithDescription(
			"Send one message to Butler. Butler classifies it, answers directly or "+
				"delegates to its sub-agents, and returns one synthesized reply. "+
				"Reuse session_id to keep a conversation going.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The user's message. Example: 'Remind me to call mom tomorrow'"),
		),
		mcp.WithString("session_id",
			mcp.Description("Conversation ID. A new session is started when empty."),
		),
	)
}

func (t *HandleTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := strings.TrimSpace(req.GetString("message", ""))
	if message == "" {
		return mcp.NewToolResultError("message is required"), nil
	}
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return jsonResult(reply(sessionID, t.butler.Handle(ctx, message, sessionID)))
}

// ResolveTool handles the butler_resolve MCP tool.
type ResolveTool struct {
	butler Butler
}

func NewResolveTool(b Butler) *ResolveTool { return &ResolveTool{butler: b} }

func (t *ResolveTool) Definition() mcp.Tool {
	return mcp.NewTool("butler_resolve",
		mcp.WithDescription("Approve or deny a tool call Butler asked confirmation for."),
		mcp.WithString("approval_id",
			mcp.Required(),
			mcp.Description("The ID from Butler's 'approve:<id>' prompt."),
		),
		mcp.WithBoolean("approved",
			mcp.Required(),
			mcp.Description("true runs the call, false cancels it."),
		),
		mcp.WithString("session_id",
			mcp.Required(),
			mcp.Description("Conversation the approval belongs to. Approvals can only be answered from their own conversation."),
		),
	)
}

func (t *ResolveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("approval_id", ""))
	if id == "" {
		return mcp.NewToolResultError("approval_id is required"), nil
	}
	sessionID := strings.TrimSpace(req.GetString("session_id", ""))
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	resp := t.butler.Resolve(ctx, sessionID, id, req.GetBool("approved", false))
	return jsonResult(reply(sessionID, resp))
}

// PolicyCheckTool handles the policy_check MCP tool: a dry run of the
// PreToolUse chain.
type PolicyCheckTool struct {
	checks Checker
}

func NewPolicyCheckTool(c Checker) *PolicyCheckTool { return &PolicyCheckTool{checks: c} }

func (t *PolicyCheckTool) Definition() mcp.Tool {
	return mcp.NewTool("policy_check",
		mcp.WithDescription(
			"Evaluate the PreToolUse policy chain for a hypothetical tool call without running "+
				"the tool or consuming rate-limit quota. Returns the merged decision and "+
				"each module's verdict.",
		),
		mcp.WithString("tool",
			mcp.Required(),
			mcp.Description("Tool name. Example: 'write_file' or 'slack_send_message'"),
		),
		mcp.WithString("input_json",
			mcp.Description("Tool input as a JSON object. Example: {\"path\": \"projects/site/notes.md\"}"),
		),
		mcp.WithString("agent",
			mcp.Description("Calling sub-agent kind, e.g. 'navigator'. Empty means the top-level agent."),
		),
	)
}

type moduleVerdict struct {
	Module   string              `json:"module"`
	Decision policy.WireDecision `json:"decision"`
	Error    string              `json:"error,omitempty"`
}

type checkReply struct {
	Tool     string              `json:"tool"`
	Decision policy.WireDecision `json:"decision"`
	Modules  []moduleVerdict     `json:"modules"`
}

func (t *PolicyCheckTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tool := strings.TrimSpace(req.GetString("tool", ""))
	if tool == "" {
		return mcp.NewToolResultError("tool is required"), nil
	}
	input := map[string]any{}
	if raw := strings.TrimSpace(req.GetString("input_json", "")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("input_json is not a JSON object: %v", err)), nil
		}
	}
	ar := policy.ActionRequest{Tool: tool, Input: input, AgentID: req.GetString("agent", "")}
	if ar.AgentID != "" {
		ar.CallDepth = 1
	}
	out := t.checks.Fire(ctx, hooks.PreToolUse, ar)
	res := checkReply{Tool: tool, Decision: out.Decision.Wire()}
	for _, ev := range out.Evaluations {
		mv := moduleVerdict{Module: ev.ModuleID, Decision: ev.Decision.Wire()}
		if ev.Err != nil {
			mv.Error = ev.Err.Error()
		}
		res.Modules = append(res.Modules, mv)
	}
	return jsonResult(res)
}

// UsageTool handles the usage_counts MCP tool.
type UsageTool struct {
	usage UsageReader
	now   func() time.Time
}

func NewUsageTool(u UsageReader) *UsageTool { return &UsageTool{usage: u, now: time.Now} }

func (t *UsageTool) Definition() mcp.Tool {
	return mcp.NewTool("usage_counts",
		mcp.WithDescription("Show calls in the last minute and hour per external toolkit, with the configured limits."),
		mcp.WithString("toolkit",
			mcp.Description("Only this toolkit, e.g. 'gmail'. Empty lists all limited toolkits."),
		),
	)
}

type usageRow struct {
	Toolkit string           `json:"toolkit"`
	Counts  ratelimit.Counts `json:"counts"`
	Limits  ratelimit.Limits `json:"limits"`
}

func (t *UsageTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	toolkits := t.usage.Toolkits()
	if one := strings.ToLower(strings.TrimSpace(req.GetString("toolkit", ""))); one != "" {
		toolkits = []string{one}
	}
	slices.Sort(toolkits)
	now := t.now()
	rows := make([]usageRow, 0, len(toolkits))
	for _, tk := range toolkits {
		counts, err := t.usage.CountsSince(ctx, tk, now)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("usage for %s unavailable: %v", tk, err)), nil
		}
		lim, _ := t.usage.LimitsFor(tk)
		rows = append(rows, usageRow{Toolkit: tk, Counts: counts, Limits: lim})
	}
	return jsonResult(rows)
}
