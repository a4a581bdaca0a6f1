// Package main is the entry point for the butler CLI.
package main

import (
	"os"

	"github.com/KafClaw/butler/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
