// Package main provides echoctl, a command line client that runs the echo
// agent in-process against the configured store and backend.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "echoctl",
		Short: "echoctl - drive a user's echo agent from the terminal",
		Long: `echoctl runs commands through a user's agent without the HTTP server.

It reads the same environment as the server (DB_PATH, REGISTRY_URL,
AI_PROVIDER, ...), so history and services are shared with it.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildExecCmd(),
		buildStatusCmd(),
		buildServicesCmd(),
		buildChatCmd(),
	)
	return rootCmd
}
