package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/haasonsaas/foreman/internal/tasks"
	"github.com/spf13/cobra"
)

// =============================================================================
// Workflows Command Handlers
// =============================================================================

func runWorkflowsValidate(cmd *cobra.Command, configPath string, files []string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		out := cmd.OutOrStdout()
		var failed int
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			wf, err := tasks.ParseWorkflow(data)
			if err != nil {
				failed++
				fmt.Fprintf(out, "%s: %v\n", path, err)
				continue
			}
			var unknown []string
			for _, step := range wf.Steps {
				if !a.tools.Has(step.Tool) {
					unknown = append(unknown, step.ID+" uses unknown tool "+step.Tool)
				}
			}
			if len(unknown) > 0 {
				failed++
				fmt.Fprintf(out, "%s: %s\n", path, strings.Join(unknown, "; "))
				continue
			}
			fmt.Fprintf(out, "%s: ok (%s, %d steps)\n", path, wf.ID, len(wf.Steps))
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d workflow file(s) invalid", failed, len(files))
		}
		return nil
	})
}

func runWorkflowsLoad(cmd *cobra.Command, configPath, dir string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		loader := a.loader
		if dir != "" {
			loader = tasks.NewLoader(dir, a.store)
		}
		if loader == nil {
			return errors.New("no workflow directory: set workflows.dir or pass --dir")
		}
		n, err := loader.Sync(cmd.Context())
		if err != nil {
			return fmt.Errorf("load workflows: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d workflow(s)\n", n)
		return nil
	})
}

func runWorkflowsList(cmd *cobra.Command, configPath string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		workflows, err := a.store.ListWorkflows(cmd.Context())
		if err != nil {
			return fmt.Errorf("list workflows: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(workflows) == 0 {
			fmt.Fprintln(out, "No workflows found.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTEPS\tCREATED BY\tDESCRIPTION")
		for _, wf := range workflows {
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", wf.ID, wf.Name, len(wf.Steps), orDash(wf.CreatedBy), wf.Description)
		}
		return w.Flush()
	})
}

func runWorkflowsRun(cmd *cobra.Command, configPath, id, userID string, pairs []string) error {
	vars, err := parseParams(pairs)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), configPath, func(a *app) error {
		wf, err := a.store.GetWorkflow(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("load workflow: %w", err)
		}
		exec, err := a.runner.RunWorkflow(cmd.Context(), wf, tasks.RunOptions{ActorID: userID, Variables: vars})
		if exec != nil {
			if perr := printJSON(cmd.OutOrStdout(), exec); perr != nil {
				return perr
			}
		}
		if err != nil {
			return fmt.Errorf("run workflow: %w", err)
		}
		return nil
	})
}

func runWorkflowsHistory(cmd *cobra.Command, configPath, id string, limit int) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		execs, err := a.store.ListWorkflowExecutions(cmd.Context(), id, limit)
		if err != nil {
			return fmt.Errorf("list executions: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(execs) == 0 {
			fmt.Fprintln(out, "No executions found.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tTASK\tSTARTED\tCOMPLETED\tERROR")
		for _, e := range execs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				e.ID, e.Status, orDash(e.TaskID), formatTime(e.StartedAt), formatTimePtr(e.CompletedAt), orDash(e.Error))
		}
		return w.Flush()
	})
}

func runWorkflowsActions(cmd *cobra.Command, configPath string) error {
	return withApp(cmd.Context(), configPath, func(a *app) error {
		for _, name := range a.runner.Actions() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	})
}

func runWorkflowsRunAction(cmd *cobra.Command, configPath, action, userID string, pairs []string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user is required")
	}
	params, err := parseParams(pairs)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), configPath, func(a *app) error {
		if err := a.runner.RunAction(cmd.Context(), action, params, userID); err != nil {
			return fmt.Errorf("run action %s: %w", action, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Action %s completed\n", action)
		return nil
	})
}
