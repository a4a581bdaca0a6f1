package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/KafClaw/butler/internal/config"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, model and toolkit connections",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 Butler Status")
		fmt.Fprintf(out, "Version:   %s\n", version)

		if path, err := config.ConfigPath(); err == nil {
			_, statErr := os.Stat(path)
			fmt.Fprintf(out, "Config:    %s %s\n", check(statErr == nil), path)
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		cfg := a.Config
		fmt.Fprintf(out, "Workspace: %s\n", cfg.Paths.Workspace)
		fmt.Fprintf(out, "Timeline:  %s\n", cfg.Paths.TimelinePath())
		fmt.Fprintf(out, "Model:     %s %s\n", check(cfg.Model.Enabled()), cfg.Model.Name)
		fmt.Fprintf(out, "Audit:     %s %s\n", check(cfg.Audit.Enabled), cfg.Audit.Topic)

		conns, err := a.Timeline.ListConnections()
		if err != nil {
			return fmt.Errorf("list connections: %w", err)
		}
		known := map[string]bool{}
		fmt.Fprintln(out, "\nToolkits:")
		for _, c := range conns {
			known[c.Toolkit] = true
			state := "connected"
			if !c.Connected {
				state = "disconnected"
			} else if c.ExpiresAt != nil && c.ExpiresAt.Before(time.Now()) {
				state = "expired"
			}
			fmt.Fprintf(out, "  %s %-16s %s\n", check(state == "connected"), c.Toolkit, state)
		}
		for _, tk := range cfg.Policy.Toolkits {
			if !known[tk] {
				fmt.Fprintf(out, "  %s %-16s not connected (butler connect %s)\n", check(false), tk, tk)
			}
		}

		pending, err := a.Approvals.Pending()
		if err == nil && len(pending) > 0 {
			fmt.Fprintf(out, "\nPending approvals: %d (butler approvals)\n", len(pending))
		}
		return nil
	},
}
