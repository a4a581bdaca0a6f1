package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var remindersLimit int

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "List open reminders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.Timeline.ListReminders("open", remindersLimit)
		if err != nil {
			return fmt.Errorf("list reminders: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(out, "No open reminders.")
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tDUE\tTITLE")
		for _, r := range list {
			due := r.DueText
			if r.DueAt != nil {
				due = r.DueAt.Local().Format(time.DateTime)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, due, r.Title)
		}
		return tw.Flush()
	},
}

func init() {
	remindersCmd.Flags().IntVarP(&remindersLimit, "limit", "n", 20, "Maximum reminders to show")
}
