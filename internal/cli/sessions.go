package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.Sessions.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No saved sessions.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SESSION\tMESSAGES\tUPDATED")
		for _, s := range list {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Key, s.Messages, s.UpdatedAt.Local().Format(time.DateTime))
		}
		return tw.Flush()
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <session>",
	Short: "End a saved conversation and delete its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()
		a.Orchestrator.EndSession(cmd.Context(), args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "Forgot %s\n", args[0])
		return nil
	},
}
