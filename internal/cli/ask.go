package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var askSessionID string

var askCmd = &cobra.Command{
	Use:   "ask <message>",
	Short: "Send one message to Butler",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to Butler interactively",
	Long: "Talk to Butler interactively. Reply approve:<id> or deny:<id> when Butler asks\n" +
		"for confirmation; type exit to leave.",
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	askCmd.Flags().StringVarP(&askSessionID, "session", "s", "cli:default", "Session ID")
}

func runAsk(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	resp := a.Handle(ctx, strings.Join(args, " "), askSessionID)
	printResponse(cmd.OutOrStdout(), resp)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	printHeader(out, "💬 Butler Chat")
	fmt.Fprintf(out, "Workspace: %s\n\n", a.Config.Paths.Workspace)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sessionID := "cli:" + uuid.NewString()
	defer a.Orchestrator.EndSession(context.Background(), sessionID)

	sc := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, color.GreenString("you> "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "exit", "quit", "/exit", "/quit":
			return nil
		}
		turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		resp := a.Handle(turnCtx, line, sessionID)
		stop()
		fmt.Fprint(out, color.CyanString("butler> "))
		printResponse(out, resp)
	}
}
