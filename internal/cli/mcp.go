package cli

import (
	"github.com/KafClaw/butler/internal/mcpserver"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve Butler as an MCP server over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		s := mcpserver.New(version, a.Orchestrator, a.Checks, a.Limiter)
		return mcpserver.Serve(s)
	},
}
