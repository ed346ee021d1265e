package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/haasonsaas/foreman/internal/cron"
	"github.com/haasonsaas/foreman/pkg/models"
	"github.com/spf13/cobra"
)

// =============================================================================
// Schedule Command Handlers
// =============================================================================

type scheduleSpec struct {
	Name     string
	Cron     string
	Timezone string
	Workflow string
	Action   string
	User     string
}

func runScheduleList(cmd *cobra.Command, configPath, status string, limit int) error {
	var filter *models.TaskStatus
	if status = strings.TrimSpace(strings.ToLower(status)); status != "" {
		s := models.TaskStatus(status)
		switch s {
		case models.TaskStatusActive, models.TaskStatusPaused, models.TaskStatusFailed:
		default:
			return fmt.Errorf("unknown status %q", status)
		}
		filter = &s
	}
	return withApp(cmd.Context(), configPath, func(a *app) error {
		jobs, err := a.scheduler.ListJobs(cmd.Context(), filter, limit)
		if err != nil {
			return fmt.Errorf("list jobs: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(jobs) == 0 {
			fmt.Fprintln(out, "No scheduled jobs found.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCRON\tSTATUS\tTARGET\tNEXT RUN\tLAST RUN\tFAILURES")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
				job.ID, job.Name, job.Cron, job.Status, jobTarget(job),
				formatTime(job.NextRun), formatTimePtr(job.LastRun), job.Metadata.Failures)
		}
		return w.Flush()
	})
}

func runScheduleShow(cmd *cobra.Command, configPath, id string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		job, err := a.scheduler.GetJob(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("load job: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), job)
	})
}

func runScheduleCreate(cmd *cobra.Command, configPath string, spec scheduleSpec, pairs []string) error {
	if strings.TrimSpace(spec.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(spec.Cron) == "" {
		return fmt.Errorf("cron is required")
	}
	if strings.TrimSpace(spec.User) == "" {
		return fmt.Errorf("user is required")
	}
	params, err := parseParams(pairs)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), configPath, func(a *app) error {
		job, err := a.scheduler.CreateJob(cmd.Context(), cron.JobSpec{
			Name:       spec.Name,
			Cron:       spec.Cron,
			Timezone:   spec.Timezone,
			WorkflowID: spec.Workflow,
			Action:     spec.Action,
			Params:     params,
			CreatedBy:  spec.User,
		})
		if err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created job %s (%s), next run %s\n", job.ID, job.Cron, formatTime(job.NextRun))
		return nil
	})
}

func runScheduleUpdate(cmd *cobra.Command, configPath, id string, pairs []string) error {
	var update cron.JobUpdate
	for _, f := range []struct {
		name string
		dst  **string
	}{
		{"name", &update.Name},
		{"cron", &update.Cron},
		{"timezone", &update.Timezone},
		{"action", &update.Action},
	} {
		if cmd.Flags().Changed(f.name) {
			v, _ := cmd.Flags().GetString(f.name)
			*f.dst = &v
		}
	}
	params, err := parseParams(pairs)
	if err != nil {
		return err
	}
	update.Params = params

	return withApp(cmd.Context(), configPath, func(a *app) error {
		job, err := a.scheduler.UpdateJob(cmd.Context(), id, update)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Updated job %s (%s), next run %s\n", job.ID, job.Cron, formatTime(job.NextRun))
		return nil
	})
}

func runScheduleState(cmd *cobra.Command, configPath, verb, id string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		ctx := cmd.Context()
		var err error
		switch verb {
		case "pause":
			err = a.scheduler.Pause(ctx, id)
		case "resume":
			err = a.scheduler.Resume(ctx, id)
		case "delete":
			err = a.scheduler.Delete(ctx, id)
		case "run":
			err = a.scheduler.RunNow(ctx, id)
		default:
			err = fmt.Errorf("unknown action %q", verb)
		}
		if err != nil {
			return fmt.Errorf("%s job: %w", verb, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Job %s: %s ok\n", id, verb)
		return nil
	})
}

func runSchedulePresets(cmd *cobra.Command) error {
	names := make([]string, 0, len(cron.Presets))
	for name := range cron.Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tEXPRESSION")
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\n", name, cron.Presets[name])
	}
	return w.Flush()
}

func jobTarget(job *models.ScheduledTask) string {
	if job.WorkflowID != "" {
		return "workflow:" + job.WorkflowID
	}
	return "action:" + orDash(job.Metadata.Action)
}
