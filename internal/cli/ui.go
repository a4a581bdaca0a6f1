package cli

import (
	"fmt"
	"io"

	"github.com/KafClaw/butler/internal/agent"
	"github.com/KafClaw/butler/internal/orchestrator"
	"github.com/fatih/color"
)

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}

func printResponse(w io.Writer, resp orchestrator.SynthesizedResponse) {
	switch resp.Status {
	case agent.Success:
		fmt.Fprintln(w, resp.Text)
	case agent.PartialFailure:
		fmt.Fprintln(w, color.YellowString(resp.Text))
	default:
		fmt.Fprintln(w, color.RedString(resp.Text))
	}
	if verbose {
		fmt.Fprintf(w, "%s\n", color.HiBlackString("[%s %s %.2f trace=%s]",
			resp.Status, resp.Intent, resp.Confidence, resp.TraceID))
		for _, n := range resp.Tree {
			fmt.Fprintf(w, "%s\n", color.HiBlackString("  %*s%s %s %s", n.Depth*2, "", n.Kind, n.Status, n.Reason))
		}
	}
}

func check(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}
