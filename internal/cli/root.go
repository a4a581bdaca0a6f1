package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/KafClaw/butler/internal/app"
	"github.com/KafClaw/butler/internal/config"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/butler/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  ____        _   _\n" +
		" | __ ) _   _| |_| | ___ _ __\n" +
		" |  _ \\| | | | __| |/ _ \\ '__|\n" +
		" | |_) | |_| | |_| |  __/ |\n" +
		" |____/ \\__,_|\\__|_|\\___|_|\n"

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "butler",
	Short: "Butler - personal assistant with policy-gated tools",
	Long: color.CyanString(logo) + "\nButler answers, delegates to specialist sub-agents and runs every\n" +
		"tool call through a chain of policy hooks.",
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "Butler %s\n", version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log policy and delegation details to stderr")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(remindersCmd)
	rootCmd.AddCommand(hooksCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)
	rootCmd.AddCommand(approvalsCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(denyCmd)
	rootCmd.AddCommand(mcpCmd)
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openApp loads the configuration and wires Butler. Callers must Close it.
func openApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger()
	slog.SetDefault(logger)
	return app.New(cfg, logger)
}
