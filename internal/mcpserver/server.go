// Package mcpserver exposes Butler over the Model Context Protocol.
//
// The server is a thin adapter: every tool delegates to the orchestrator,
// the dry-run policy chain or the usage limiter it is given.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// New creates the MCP server with Butler's tools registered.
func New(version string, b Butler, checks Checker, usage UsageReader) *server.MCPServer {
	s := server.NewMCPServer(
		"butler",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	handle := NewHandleTool(b)
	s.AddTool(handle.Definition(), handle.Handle)

	resolve := NewResolveTool(b)
	s.AddTool(resolve.Definition(), resolve.Handle)

	check := NewPolicyCheckTool(checks)
	s.AddTool(check.Definition(), check.Handle)

	usageTool := NewUsageTool(usage)
	s.AddTool(usageTool.Definition(), usageTool.Handle)

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

const instructions = `Butler is a personal assistant. Use butler_handle to send it a message;
keep the returned session_id to continue the conversation. When a reply asks
for approve:<id>, call butler_resolve with that id once the user agrees.
Use policy_check to see whether a tool call would be allowed before asking
Butler to do it, and usage_counts to see remaining toolkit quota.`
