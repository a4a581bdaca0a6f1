package cli

import (
	"fmt"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage [toolkit]",
	Short: "Show toolkit calls in the last minute and hour",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.Close()

		toolkits := a.Limiter.Toolkits()
		if len(args) == 1 {
			toolkits = []string{args[0]}
		}
		slices.Sort(toolkits)

		now := time.Now()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TOOLKIT\tMINUTE\tHOUR")
		for _, tk := range toolkits {
			counts, err := a.Limiter.CountsSince(cmd.Context(), tk, now)
			if err != nil {
				return err
			}
			lim, _ := a.Limiter.LimitsFor(tk)
			fmt.Fprintf(tw, "%s\t%s\t%s\n", tk, usageCell(counts.LastMinute, lim.PerMinute), usageCell(counts.LastHour, lim.PerHour))
		}
		return tw.Flush()
	},
}

// usageCell renders used/limit, yellow from 70% and red from 90%.
func usageCell(used, limit int) string {
	if limit <= 0 {
		return fmt.Sprintf("%d/∞", used)
	}
	cell := fmt.Sprintf("%d/%d", used, limit)
	ratio := float64(used) / float64(limit)
	switch {
	case ratio >= 0.9:
		return color.RedString(cell)
	case ratio >= 0.7:
		return color.YellowString(cell)
	default:
		return cell
	}
}
