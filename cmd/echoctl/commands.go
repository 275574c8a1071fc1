package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func buildExecCmd() *cobra.Command {
	var (
		userID string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "exec [command text]",
		Short: "Run one natural-language command",
		Example: `  echoctl exec --user alice "pay $10 to merchant@example.com"
  echoctl exec --user alice --json send message hello to bob@example.com`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, userID, strings.Join(args, " "), asJSON)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User whose agent runs the command")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a user's agent status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, userID)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User to inspect")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildServicesCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "services",
		Short: "List the services a user's agent can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServices(cmd, userID)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User to inspect")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func buildChatCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session with a user's agent",
		Long: `Start an interactive session. Each line is dispatched as a command.

Built-ins: help, services, status, exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, userID)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User to chat as")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
