package main

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// Schedule Commands
// =============================================================================

// buildScheduleCmd creates the "schedule" command group for cron jobs.
func buildScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "schedule",
		Aliases: []string{"cron"},
		Short:   "Manage scheduled workflows and actions",
	}
	cmd.AddCommand(
		buildScheduleListCmd(),
		buildScheduleShowCmd(),
		buildScheduleCreateCmd(),
		buildScheduleUpdateCmd(),
		buildScheduleStateCmd("pause", "Stop a job from firing"),
		buildScheduleStateCmd("resume", "Re-arm a paused or failed job"),
		buildScheduleStateCmd("delete", "Remove a job"),
		buildScheduleStateCmd("run", "Fire an active job now without moving its next run"),
		buildSchedulePresetsCmd(),
	)
	return cmd
}

func buildScheduleListCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleList(cmd, resolveConfigPath(cmd), status, limit)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active, paused, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max number of jobs to return")
	return cmd
}

func buildScheduleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleShow(cmd, resolveConfigPath(cmd), args[0])
		},
	}
}

func buildScheduleCreateCmd() *cobra.Command {
	var (
		spec   scheduleSpec
		params []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a scheduled job",
		Example: `  # Post a standup every weekday morning
  foreman schedule create --name standup --cron "0 9 * * 1-5" --action daily_standup --param projectId=p1 --user pm-1

  # Run a workflow from a preset
  foreman schedule create --name weekly --cron WEEKLY_FRIDAY --workflow weekly-report --user pm-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleCreate(cmd, resolveConfigPath(cmd), spec, params)
		},
	}
	cmd.Flags().StringVar(&spec.Name, "name", "", "Job name")
	cmd.Flags().StringVar(&spec.Cron, "cron", "", "Cron expression or preset name")
	cmd.Flags().StringVar(&spec.Timezone, "timezone", "", "IANA timezone (defaults to scheduler.timezone)")
	cmd.Flags().StringVar(&spec.Workflow, "workflow", "", "Workflow ID to run")
	cmd.Flags().StringVar(&spec.Action, "action", "", "Built-in action to run when no workflow is set")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Action parameter as key=value (repeatable)")
	cmd.Flags().StringVar(&spec.User, "user", "", "User the job acts as")
	return cmd
}

func buildScheduleUpdateCmd() *cobra.Command {
	var params []string
	cmd := &cobra.Command{
		Use:   "update <job-id>",
		Short: "Change a job's name, schedule or action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleUpdate(cmd, resolveConfigPath(cmd), args[0], params)
		},
	}
	cmd.Flags().String("name", "", "New job name")
	cmd.Flags().String("cron", "", "New cron expression or preset name")
	cmd.Flags().String("timezone", "", "New IANA timezone")
	cmd.Flags().String("action", "", "New built-in action")
	cmd.Flags().StringArrayVar(&params, "param", nil, "Replacement action parameter as key=value (repeatable)")
	return cmd
}

func buildScheduleStateCmd(verb, short string) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleState(cmd, resolveConfigPath(cmd), verb, args[0])
		},
	}
}

func buildSchedulePresetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List named schedule presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchedulePresets(cmd)
		},
	}
}
