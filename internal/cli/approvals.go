package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List tool calls waiting for your approval",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		pending, err := a.Approvals.Pending()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(pending) == 0 {
			fmt.Fprintln(out, "No pending approvals.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTOOL\tAGENT\tAGE\tREASON")
		for _, r := range pending {
			age := time.Since(r.CreatedAt).Round(time.Second)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.ApprovalID, r.Tool, r.AgentID, age, r.Reason)
		}
		return tw.Flush()
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending tool call and run it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], true)
	},
}

var denyCmd = &cobra.Command{
	Use:   "deny <id>",
	Short: "Cancel a pending tool call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveApproval(cmd, args[0], false)
	},
}

func resolveApproval(cmd *cobra.Command, id string, approved bool) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	req, err := a.Approvals.Get(id)
	if err != nil {
		return err
	}
	resp := a.Orchestrator.Resolve(cmd.Context(), req.SessionID, id, approved)
	printResponse(cmd.OutOrStdout(), resp)
	return nil
}
