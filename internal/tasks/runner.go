// Package tasks runs scheduled work: stored workflows and built-in custom
// actions. Every tool call goes through the step executor under an
// auto-approved plan owned by the task's creator, so scheduled work is held
// to the same guardrails as interactive sessions.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/cron"
	"github.com/haasonsaas/foreman/internal/executor"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/pkg/models"
)

var (
	// ErrUnknownAction is returned for actions with no handler.
	ErrUnknownAction = errors.New("unknown scheduled action")
	// ErrNoActor is returned when neither the task nor its workflow names a creator.
	ErrNoActor = errors.New("scheduled work has no creator to act as")
)

// StepRunner executes one plan step with guardrails.
type StepRunner interface {
	ExecuteStep(ctx context.Context, step *models.PlanStep, sc executor.StepContext) (models.StepResult, error)
}

var _ StepRunner = (*executor.Executor)(nil)

// Directory resolves the users and projects scheduled work refers to.
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Action is a built-in scheduled action.
type Action func(ctx context.Context, c *Call, params map[string]any) error

// Runner routes a scheduled task to its workflow or custom action.
type Runner struct {
	steps        StepRunner
	workflows    storage.WorkflowStore
	directory    Directory
	integrations models.Integrations
	actions      map[string]Action
	audit        *audit.Sink
	logger       *slog.Logger
	now          func() time.Time
}

var _ cron.Runner = (*Runner)(nil)

// Option configures a Runner.
type Option func(*Runner)

// WithIntegrations sets which integrations scheduled work may use.
func WithIntegrations(in models.Integrations) Option {
	return func(r *Runner) { r.integrations = in }
}

// WithAction registers or replaces an action by name.
func WithAction(name string, action Action) Option {
	return func(r *Runner) {
		name = strings.ToLower(strings.TrimSpace(name))
		if name != "" && action != nil {
			r.actions[name] = action
		}
	}
}

// WithAudit records workflow runs.
func WithAudit(sink *audit.Sink) Option {
	return func(r *Runner) { r.audit = sink }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a Runner with the built-in actions registered.
func NewRunner(steps StepRunner, workflows storage.WorkflowStore, directory Directory, opts ...Option) *Runner {
	r := &Runner{
		steps:     steps,
		workflows: workflows,
		directory: directory,
		actions: map[string]Action{
			"daily_standup": dailyStandup,
			"weekly_report": weeklyReport,
			"health_check":  healthCheck,
			"sync_data":     syncData,
		},
		logger: slog.Default().With("component", "task-runner"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Actions returns the registered action names.
func (r *Runner) Actions() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	return names
}

// Run executes a scheduled task.
func (r *Runner) Run(ctx context.Context, task *models.ScheduledTask) error {
	if task == nil {
		return errors.New("task is required")
	}
	label := fmt.Sprintf("task %q", task.ID)
	if name := strings.TrimSpace(task.Name); name != "" {
		label = fmt.Sprintf("%s (%s)", label, name)
	}

	if task.WorkflowID != "" {
		r.logger.Info("running scheduled workflow", "task_id", task.ID, "workflow_id", task.WorkflowID)
		wf, err := r.workflows.GetWorkflow(ctx, task.WorkflowID)
		if err != nil {
			return fmt.Errorf("%s load workflow: %w", label, err)
		}
		_, err = r.RunWorkflow(ctx, wf, RunOptions{
			TaskID:    task.ID,
			ActorID:   task.CreatedBy,
			Variables: task.Metadata.Params,
		})
		return err
	}

	r.logger.Info("running scheduled action", "task_id", task.ID, "action", task.Metadata.Action)
	if err := r.RunAction(ctx, task.Metadata.Action, task.Metadata.Params, task.CreatedBy); err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	return nil
}

// RunAction runs a built-in action as actorID.
func (r *Runner) RunAction(ctx context.Context, name string, params map[string]any, actorID string) error {
	action, ok := r.actions[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, name)
	}
	c, err := r.newCall(ctx, "Scheduled "+name, actorID)
	if err != nil {
		return err
	}
	if params == nil {
		params = map[string]any{}
	}
	return action(ctx, c, params)
}

// Call is one run of scheduled work. Each tool call appends a step to the
// run's approved plan.
type Call struct {
	runner *Runner
	sc     executor.StepContext
}

func (r *Runner) newCall(ctx context.Context, title, actorID string) (*Call, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, ErrNoActor
	}
	user := models.UserRef{ID: actorID, Role: models.RoleUser}
	if r.directory != nil {
		u, err := r.directory.GetUser(ctx, actorID)
		switch {
		case err == nil:
			user = models.UserRef{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}
		case errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("creator %s no longer exists", actorID)
		default:
			return nil, fmt.Errorf("load creator: %w", err)
		}
	}
	now := r.now()
	plan := &models.Plan{ID: uuid.NewString(), Title: title, CreatedAt: now}
	plan.Approve(actorID, now)
	return &Call{
		runner: r,
		sc: executor.StepContext{
			SessionID: "scheduled-" + plan.ID,
			Plan:      plan,
			Context:   models.SessionContext{User: user, Integrations: r.integrations},
		},
	}, nil
}

// Now returns the runner's clock reading.
func (c *Call) Now() time.Time {
	return c.runner.now()
}

// Project loads a project from the directory.
func (c *Call) Project(ctx context.Context, id string) (*models.Project, error) {
	if c.runner.directory == nil {
		return nil, errors.New("no project directory configured")
	}
	return c.runner.directory.GetProject(ctx, id)
}

// Tool runs one tool step and returns its output decoded into plain JSON
// values (maps, slices, strings, float64s).
func (c *Call) Tool(ctx context.Context, title, tool string, params map[string]any) (any, error) {
	step := &models.PlanStep{
		ID:         uuid.NewString(),
		Order:      len(c.sc.Plan.Steps) + 1,
		Title:      title,
		Tool:       tool,
		Parameters: params,
		Status:     models.StepStatusPending,
	}
	c.sc.Plan.Steps = append(c.sc.Plan.Steps, step)
	res, err := c.runner.steps.ExecuteStep(ctx, step, c.sc)
	if err != nil {
		return nil, err
	}
	return plain(res.Output)
}

// plain round-trips v through JSON so outputs can be walked generically.
func plain(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool output: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode tool output: %w", err)
	}
	return out, nil
}
