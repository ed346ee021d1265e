package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Sessions Commands
// =============================================================================

// buildSessionsCmd creates the "sessions" command group for agent sessions.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage agent sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsCancelCmd(),
		buildSessionsSweepCmd(),
	)
	return cmd
}

func buildSessionsListCmd() *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, resolveConfigPath(cmd), userID, limit)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User ID to list sessions for")
	cmd.Flags().IntVar(&limit, "limit", 10, "Max number of sessions to return")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session with its plan and result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsShow(cmd, resolveConfigPath(cmd), args[0])
		},
	}
}

func buildSessionsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <session-id>",
		Short: "Cancel a session that has not finished",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsCancel(cmd, resolveConfigPath(cmd), args[0])
		},
	}
}

func buildSessionsSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire stale sessions once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsSweep(cmd, resolveConfigPath(cmd))
		},
	}
}
