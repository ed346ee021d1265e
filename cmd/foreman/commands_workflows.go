package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Workflows Commands
// =============================================================================

// buildWorkflowsCmd creates the "workflows" command group for workflow
// definitions and built-in actions.
func buildWorkflowsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "Validate, load and run workflows",
	}
	cmd.AddCommand(
		buildWorkflowsValidateCmd(),
		buildWorkflowsLoadCmd(),
		buildWorkflowsListCmd(),
		buildWorkflowsRunCmd(),
		buildWorkflowsHistoryCmd(),
		buildWorkflowsActionsCmd(),
		buildWorkflowsRunActionCmd(),
	)
	return cmd
}

func buildWorkflowsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>...",
		Short: "Check workflow files and the tools they call",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsValidate(cmd, resolveConfigPath(cmd), args)
		},
	}
}

func buildWorkflowsLoadCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load every definition in a directory into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsLoad(cmd, resolveConfigPath(cmd), dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "Workflow directory (defaults to workflows.dir)")
	return cmd
}

func buildWorkflowsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsList(cmd, resolveConfigPath(cmd))
		},
	}
}

func buildWorkflowsRunCmd() *cobra.Command {
	var (
		userID string
		vars   []string
	)
	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Run a stored workflow now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsRun(cmd, resolveConfigPath(cmd), args[0], userID, vars)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User the run acts as (defaults to the workflow's creator)")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "Variable override as key=value (repeatable)")
	return cmd
}

func buildWorkflowsHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <workflow-id>",
		Short: "List recent executions of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsHistory(cmd, resolveConfigPath(cmd), args[0], limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Max number of executions to return")
	return cmd
}

func buildWorkflowsActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List built-in actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsActions(cmd, resolveConfigPath(cmd))
		},
	}
}

func buildWorkflowsRunActionCmd() *cobra.Command {
	var (
		userID string
		params []string
	)
	cmd := &cobra.Command{
		Use:   "run-action <action>",
		Short: "Run a built-in action now",
		Example: `  foreman workflows run-action health_check --param projectId=p1 --user pm-1`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflowsRunAction(cmd, resolveConfigPath(cmd), args[0], userID, params)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User the action acts as")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Action parameter as key=value (repeatable)")
	return cmd
}
