package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Plan and Chat Commands
// =============================================================================

// buildPlanCmd creates the "plan" command that turns a request into a plan
// and optionally approves and runs it.
func buildPlanCmd() *cobra.Command {
	var (
		userID    string
		projectID string
		sessionID string
		approve   bool
		execute   bool
		jsonOut   bool
	)
	cmd := &cobra.Command{
		Use:   "plan <request>",
		Short: "Generate a plan for a request, optionally approving and executing it",
		Example: `  # Preview a plan
  foreman plan --user pm-1 --project p1 "summarize overdue tasks"

  # Approve and run it in one go
  foreman plan --user pm-1 --project p1 --approve --execute "create a task called Draft brief"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, resolveConfigPath(cmd), planOptions{
				UserID:    userID,
				ProjectID: projectID,
				SessionID: sessionID,
				Request:   joinArgs(args),
				Approve:   approve,
				Execute:   execute,
				JSON:      jsonOut,
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Acting user ID")
	cmd.Flags().StringVar(&projectID, "project", "", "Project ID to scope the session to")
	cmd.Flags().StringVar(&sessionID, "session", "", "Reuse an existing session instead of creating one")
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the plan as the acting user")
	cmd.Flags().BoolVar(&execute, "execute", false, "Execute the plan after generating it")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

// buildChatCmd creates the "chat" command that drives the conversation
// state machine from standard input.
func buildChatCmd() *cobra.Command {
	var (
		userID    string
		projectID string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the agent one line at a time",
		Long: `Read messages from standard input and answer each one.

Unclear requests get a clarifying question. Clear ones get a proposed plan;
reply "yes" to approve and run it or "no" to start over.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, resolveConfigPath(cmd), userID, projectID, sessionID)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Acting user ID")
	cmd.Flags().StringVar(&projectID, "project", "", "Project ID to scope the session to")
	cmd.Flags().StringVar(&sessionID, "session", "", "Resume an existing session")
	return cmd
}
