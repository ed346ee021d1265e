// Package executor runs single plan steps against the tool registry behind
// a fixed sequence of guardrails: tool lookup, parameter validation,
// permission check and approval gating. Steps that pass are audited before
// and after the handler runs, and network-bound tools are retried with the
// network profile.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// DefaultNetworkTools are the tool name prefixes retried with the network
// profile.
var DefaultNetworkTools = []string{"slack_", "drive_", "rag_"}

// StepContext is what a step runs with.
type StepContext struct {
	SessionID string
	Plan      *models.Plan
	Context   models.SessionContext
}

// Permissions returns the effective scopes: the explicit list when present,
// otherwise the scopes of the user's role.
func (c StepContext) Permissions() []string {
	if len(c.Context.Permissions) > 0 {
		return c.Context.Permissions
	}
	return tools.ScopesForRole(c.Context.User.Role)
}

// Executor executes plan steps.
type Executor struct {
	registry     *tools.Registry
	audit        *audit.Sink
	metrics      *observability.Metrics
	tracer       *observability.Tracer
	logger       *slog.Logger
	now          func() time.Time
	networkRetry retry.Options
	networkTools []string
}

// Option configures an Executor.
type Option func(*Executor)

// WithAudit sets the audit sink.
func WithAudit(sink *audit.Sink) Option {
	return func(e *Executor) { e.audit = sink }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Executor) { e.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// WithNetworkRetry replaces the network retry profile.
func WithNetworkRetry(opts retry.Options) Option {
	return func(e *Executor) { e.networkRetry = opts }
}

// WithNetworkTools replaces the network tool prefixes.
func WithNetworkTools(prefixes ...string) Option {
	return func(e *Executor) { e.networkTools = prefixes }
}

// New creates an Executor over registry.
func New(registry *tools.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:     registry,
		logger:       slog.Default().With("component", "step-executor"),
		now:          time.Now,
		networkRetry: retry.Network(),
		networkTools: DefaultNetworkTools,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the tool registry.
func (e *Executor) Registry() *tools.Registry {
	return e.registry
}

// IsNetworkTool reports whether name is retried with the network profile.
func (e *Executor) IsNetworkTool(name string) bool {
	for _, prefix := range e.networkTools {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// ExecuteStep runs one step and updates its status, result and timestamps.
// The returned StepResult is always populated; err is a *StepError when the
// step failed.
func (e *Executor) ExecuteStep(ctx context.Context, step *models.PlanStep, sc StepContext) (models.StepResult, error) {
	if step == nil {
		return models.StepResult{}, fmt.Errorf("execute step: nil step")
	}
	ctx, span := e.tracer.TraceStep(ctx, step.ID, step.Tool)
	defer span.End()

	start := e.now()
	result := models.StepResult{StepID: step.ID, Tool: step.Tool, Attempt: step.RetryCount + 1}
	actor := sc.Context.User.ID
	redacted := Redact(step.Parameters)

	fail := func(stepErr *StepError) (models.StepResult, error) {
		completedAt := e.now()
		step.Status = models.StepStatusFailed
		step.Error = stepErr.Error()
		step.CompletedAt = &completedAt

		result.Status = models.StepStatusFailed
		result.Error = stepErr.Error()
		result.Code = string(stepErr.Code)
		result.Duration = completedAt.Sub(start)

		observability.RecordError(span, stepErr)
		if stepErr.IsGuardrail() {
			e.metrics.RecordGuardrailDenial(string(stepErr.Code))
			e.audit.LogFailure(ctx, actor, audit.ActionGuardrailDenied, audit.TargetPlanStep, step.ID, map[string]any{
				"sessionId":  sc.SessionID,
				"tool":       step.Tool,
				"code":       string(stepErr.Code),
				"parameters": redacted,
			}, stepErr)
			e.logger.Warn("step blocked by guardrail", "step_id", step.ID, "tool", step.Tool, "code", stepErr.Code)
		}
		e.metrics.RecordStep(step.Tool, string(models.StepStatusFailed), result.Duration)
		return result, stepErr
	}

	// 1. resolve
	tool, ok := e.registry.Get(step.Tool)
	if !ok {
		return fail(&StepError{
			Code:    CodeToolNotFound,
			StepID:  step.ID,
			Tool:    step.Tool,
			Message: fmt.Sprintf("tool %q is not registered", step.Tool),
			Cause:   tools.ErrToolNotFound,
		})
	}

	// 2. validate
	input, err := tool.Validate(step.Parameters)
	if err != nil {
		return fail(&StepError{Code: CodeInvalidParameters, StepID: step.ID, Tool: step.Tool, Cause: err})
	}

	// 3. authorize
	permissions := sc.Permissions()
	if missing := tools.MissingScopes(permissions, tool.Scopes()); len(missing) > 0 {
		return fail(&StepError{
			Code:   CodePermissionDenied,
			StepID: step.ID,
			Tool:   step.Tool,
			Cause:  &tools.PermissionDeniedError{Tool: step.Tool, Required: tool.Scopes(), Missing: missing},
		})
	}

	// 4. approval
	if tool.Mutates() && !sc.Plan.Approved() {
		return fail(&StepError{
			Code:    CodeNeedsApproval,
			StepID:  step.ID,
			Tool:    step.Tool,
			Message: fmt.Sprintf("%s modifies data and requires plan approval", step.Tool),
		})
	}

	startedAt := e.now()
	step.Status = models.StepStatusRunning
	step.StartedAt = &startedAt
	step.CompletedAt = nil
	step.Error = ""
	e.audit.LogSuccess(ctx, actor, audit.ActionStepExecution, audit.TargetPlanStep, step.ID, map[string]any{
		"sessionId":  sc.SessionID,
		"tool":       step.Tool,
		"status":     string(models.StepStatusRunning),
		"attempt":    result.Attempt,
		"parameters": redacted,
	})
	e.logger.Info("executing step", "step_id", step.ID, "tool", step.Tool, "attempt", result.Attempt, "parameters", redacted)

	call := tools.CallContext{
		UserID:      actor,
		Role:        sc.Context.User.Role,
		Permissions: permissions,
		SessionID:   sc.SessionID,
		Session:     &sc.Context,
	}
	output, attempts, err := e.invoke(ctx, tool, call, input)
	span.SetAttributes(attribute.Int("step.attempts", attempts))
	if err != nil {
		stepErr := &StepError{Code: CodeExecutionFailed, StepID: step.ID, Tool: step.Tool, Cause: err}
		e.audit.LogFailure(ctx, actor, audit.ActionStepExecution, audit.TargetPlanStep, step.ID, map[string]any{
			"sessionId":  sc.SessionID,
			"tool":       step.Tool,
			"status":     string(models.StepStatusFailed),
			"attempt":    result.Attempt,
			"attempts":   attempts,
			"parameters": redacted,
		}, err)
		e.logger.Warn("step failed", "step_id", step.ID, "tool", step.Tool, "attempts", attempts, "error", err)
		return fail(stepErr)
	}

	completedAt := e.now()
	step.Status = models.StepStatusCompleted
	step.Result = output
	step.CompletedAt = &completedAt

	result.Status = models.StepStatusCompleted
	result.Output = output
	result.Duration = completedAt.Sub(start)

	e.audit.LogSuccess(ctx, actor, audit.ActionStepExecution, audit.TargetPlanStep, step.ID, map[string]any{
		"sessionId":  sc.SessionID,
		"tool":       step.Tool,
		"status":     string(models.StepStatusCompleted),
		"attempt":    result.Attempt,
		"attempts":   attempts,
		"durationMs": result.Duration.Milliseconds(),
	})
	e.metrics.RecordStep(step.Tool, string(models.StepStatusCompleted), result.Duration)
	return result, nil
}

// invoke calls the handler, wrapping network tools in the network retry
// profile. It returns the number of handler calls made.
func (e *Executor) invoke(ctx context.Context, tool tools.Tool, call tools.CallContext, input any) (any, int, error) {
	if !e.IsNetworkTool(tool.Name()) {
		output, err := tool.Invoke(ctx, call, input)
		return output, 1, err
	}

	opts := e.networkRetry
	onRetry := opts.OnRetry
	opts.OnRetry = func(attempt int, err error) {
		e.metrics.RecordRetry(opts.Name)
		e.logger.Info("retrying network tool", "tool", tool.Name(), "attempt", attempt, "error", err)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	output, res := retry.DoWithValue(ctx, opts, func(ctx context.Context) (any, error) {
		return tool.Invoke(ctx, call, input)
	})
	return output, res.Attempts, res.Err
}
