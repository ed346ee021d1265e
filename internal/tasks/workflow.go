package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/pkg/models"
)

// OnFailure values for workflow steps.
const (
	OnFailureStop     = "stop"
	OnFailureContinue = "continue"
)

var (
	varRef    = regexp.MustCompile(`\$\{(\w+)\}`)
	resultRef = regexp.MustCompile(`\$results\.([\w-]+)(?:\.(\w+))?`)
)

// RunOptions configures one workflow run.
type RunOptions struct {
	// TaskID links the execution record to a scheduled task.
	TaskID string
	// ActorID overrides the workflow's creator.
	ActorID string
	// Variables override the workflow's declared variables.
	Variables map[string]any
}

// RunWorkflow executes wf step by step and records a WorkflowExecution. A
// failing step stops the run unless the step's OnFailure is "continue".
func (r *Runner) RunWorkflow(ctx context.Context, wf *models.Workflow, opts RunOptions) (*models.WorkflowExecution, error) {
	if wf == nil {
		return nil, errors.New("workflow is required")
	}
	if err := ValidateWorkflow(wf); err != nil {
		return nil, err
	}
	actor := opts.ActorID
	if actor == "" {
		actor = wf.CreatedBy
	}
	c, err := r.newCall(ctx, "Workflow "+wf.Name, actor)
	if err != nil {
		return nil, err
	}

	now := r.now()
	exec := &models.WorkflowExecution{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		TaskID:     opts.TaskID,
		Status:     models.WorkflowRunning,
		Results:    map[string]any{},
		StartedAt:  now,
	}
	if err := r.workflows.CreateWorkflowExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("record workflow execution: %w", err)
	}

	vars := r.variables(wf, opts.Variables, actor)
	var runErr error
	for _, step := range wf.Steps {
		params, _ := resolve(step.Parameters, vars, exec.Results).(map[string]any)
		out, err := c.Tool(ctx, step.Name, step.Tool, params)
		if err != nil {
			exec.Results[step.ID] = map[string]any{"error": err.Error()}
			if step.OnFailure == OnFailureContinue {
				r.logger.Warn("workflow step failed, continuing", "workflow_id", wf.ID, "step", step.ID, "error", err)
				continue
			}
			runErr = fmt.Errorf("workflow %s step %s: %w", wf.ID, step.ID, err)
			break
		}
		exec.Results[step.ID] = out
	}

	completed := r.now()
	exec.CompletedAt = &completed
	exec.Status = models.WorkflowCompleted
	if runErr != nil {
		exec.Status = models.WorkflowFailed
		exec.Error = runErr.Error()
	}
	if err := r.workflows.UpdateWorkflowExecution(context.WithoutCancel(ctx), exec); err != nil {
		r.logger.Error("failed to record workflow outcome", "execution_id", exec.ID, "error", err)
	}

	payload := map[string]any{"executionId": exec.ID, "taskId": opts.TaskID, "steps": len(wf.Steps)}
	if runErr != nil {
		r.audit.LogFailure(ctx, actor, audit.ActionWorkflowRun, audit.TargetWorkflow, wf.ID, payload, runErr)
		return exec, runErr
	}
	r.audit.LogSuccess(ctx, actor, audit.ActionWorkflowRun, audit.TargetWorkflow, wf.ID, payload)
	return exec, nil
}

// variables merges declared variables, overrides and the built-ins
// today, yesterday, now and userId.
func (r *Runner) variables(wf *models.Workflow, overrides map[string]any, actor string) map[string]any {
	now := r.now()
	vars := map[string]any{
		"today":     now.Format("2006-01-02"),
		"yesterday": now.AddDate(0, 0, -1).Format("2006-01-02"),
		"now":       now.Format(time.RFC3339),
		"userId":    actor,
	}
	for k, v := range wf.Variables {
		vars[k] = v
	}
	for k, v := range overrides {
		vars[k] = v
	}
	return vars
}

// resolve substitutes ${var} and $results.<step>[.<field>] references. A
// string that is exactly one reference takes the referenced value's type.
func resolve(v any, vars, results map[string]any) any {
	switch t := v.(type) {
	case string:
		return resolveString(t, vars, results)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = resolve(item, vars, results)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = resolve(item, vars, results)
		}
		return out
	default:
		return v
	}
}

func resolveString(s string, vars, results map[string]any) any {
	if m := varRef.FindStringSubmatch(s); m != nil && m[0] == s {
		return vars[m[1]]
	}
	if m := resultRef.FindStringSubmatch(s); m != nil && m[0] == s {
		return lookupResult(results, m[1], m[2])
	}
	s = varRef.ReplaceAllStringFunc(s, func(ref string) string {
		return stringify(vars[varRef.FindStringSubmatch(ref)[1]])
	})
	return resultRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := resultRef.FindStringSubmatch(ref)
		return stringify(lookupResult(results, m[1], m[2]))
	})
}

func lookupResult(results map[string]any, stepID, field string) any {
	out := results[stepID]
	if field == "" {
		return out
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return nil
	}
	return obj[field]
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
