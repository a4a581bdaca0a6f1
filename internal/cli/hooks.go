package cli

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/KafClaw/butler/internal/hooks"
	"github.com/KafClaw/butler/internal/policy"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	checkInput string
	checkAgent string
)

var hooksCmd = &cobra.Command{
	Use:   "hooks",
	Short: "Inspect the policy hook chain",
}

var hooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered hooks per lifecycle event",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "EVENT\tMODULE\tTIMEOUT\tMATCHER")
		for _, ev := range hooks.Events {
			for _, h := range a.Hooks.Hooks(ev) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev, h.ModuleID, timeoutLabel(h), matcherLabel(h.Matcher))
			}
		}
		return tw.Flush()
	},
}

var hooksCheckCmd = &cobra.Command{
	Use:   "check <tool>",
	Short: "Dry-run the PreToolUse chain for a tool call",
	Long: "Dry-run the PreToolUse chain for a tool call. The tool is not executed and\n" +
		"no rate-limit quota is consumed.",
	Example: `  butler hooks check write_file --input '{"path": "notes.md"}'
  butler hooks check slack_send_message --agent communicator`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := map[string]any{}
		if strings.TrimSpace(checkInput) != "" {
			if err := json.Unmarshal([]byte(checkInput), &input); err != nil {
				return fmt.Errorf("--input must be a JSON object: %w", err)
			}
		}
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		req := policy.ActionRequest{Tool: args[0], Input: input, AgentID: checkAgent, SessionID: "cli:check"}
		if checkAgent != "" {
			req.CallDepth = 1
		}
		out := a.Checks.Fire(cmd.Context(), hooks.PreToolUse, req)

		w := cmd.OutOrStdout()
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "MODULE\tDECISION\tREASON")
		for _, ev := range out.Evaluations {
			reason := ev.Decision.Reason
			if ev.Err != nil {
				reason = "failed open: " + ev.Err.Error()
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\n", ev.ModuleID, ev.Decision.Permission, reason)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(w, "\nResult: %s\n", permissionLabel(out.Decision.Permission))
		if out.Decision.Reason != "" {
			fmt.Fprintf(w, "Reason: %s\n", out.Decision.Reason)
		}
		if out.Decision.SuggestedAlternative != "" {
			fmt.Fprintf(w, "Next:   %s\n", out.Decision.SuggestedAlternative)
		}
		if out.Decision.AdditionalContext != "" {
			fmt.Fprintf(w, "Context:\n%s\n", out.Decision.AdditionalContext)
		}
		return nil
	},
}

func init() {
	hooksCheckCmd.Flags().StringVarP(&checkInput, "input", "i", "", "Tool input as a JSON object")
	hooksCheckCmd.Flags().StringVarP(&checkAgent, "agent", "a", "", "Calling sub-agent kind")
	hooksCmd.AddCommand(hooksListCmd, hooksCheckCmd)
}

func timeoutLabel(h hooks.HookConfig) string {
	if h.Timeout <= 0 {
		return "default"
	}
	return h.Timeout.String()
}

func matcherLabel(m hooks.Matcher) string {
	var parts []string
	if m.Tool != "" {
		parts = append(parts, "tool="+m.Tool)
	}
	if len(m.InputHas) > 0 {
		parts = append(parts, "input="+strings.Join(m.InputHas, ","))
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " ")
}

func permissionLabel(p policy.Permission) string {
	switch p {
	case policy.Allow:
		return color.GreenString(p.String())
	case policy.Ask:
		return color.YellowString(p.String())
	default:
		return color.RedString(p.String())
	}
}
