// Package agent drives an approved plan through the step executor. Steps run
// strictly in order; failed local steps get up to three extra attempts and
// every attempt is kept in the result. Step failures are data, while faults
// in the loop itself fail the session and are returned to the caller.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/executor"
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/pkg/models"
)

// MaxStepRetries is the default bound on engine-level retries per step.
const MaxStepRetries = 3

var (
	// ErrNoPlan is returned when a session has nothing to execute.
	ErrNoPlan = errors.New("session has no plan")
	// ErrCancelled is returned when a session was cancelled mid-run. Its
	// text is also the session error.
	ErrCancelled = errors.New("cancelled by user")
)

// TransitionError reports an illegal session state change.
type TransitionError struct {
	SessionID string
	From, To  models.SessionState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session %s cannot move from %s to %s", e.SessionID, e.From, e.To)
}

// StepRunner executes single steps.
type StepRunner interface {
	ExecuteStep(ctx context.Context, step *models.PlanStep, sc executor.StepContext) (models.StepResult, error)
	IsNetworkTool(name string) bool
}

var _ StepRunner = (*executor.Executor)(nil)

// CancelCheck reports whether the session has been cancelled.
type CancelCheck func(ctx context.Context, sessionID string) bool

// Engine executes plans.
type Engine struct {
	steps      StepRunner
	sessions   storage.SessionStore
	cancelled  CancelCheck
	audit      *audit.Sink
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger
	now        func() time.Time
	storeRetry retry.Options
	maxRetries int

	mu       sync.Mutex
	requests map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithAudit sets the audit sink.
func WithAudit(sink *audit.Sink) Option {
	return func(e *Engine) { e.audit = sink }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithCancelCheck replaces the default cancellation check, which looks for
// a Cancel request and then reloads the session for a cancelled failure.
func WithCancelCheck(check CancelCheck) Option {
	return func(e *Engine) { e.cancelled = check }
}

// WithStoreRetry replaces the retry profile used for session writes.
func WithStoreRetry(opts retry.Options) Option {
	return func(e *Engine) { e.storeRetry = opts }
}

// WithMaxStepRetries bounds engine-level retries per step. Negative values
// are ignored; zero disables engine retries.
func WithMaxStepRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(steps StepRunner, sessions storage.SessionStore, opts ...Option) *Engine {
	e := &Engine{
		steps:      steps,
		sessions:   sessions,
		logger:     slog.Default().With("component", "agent-engine"),
		now:        time.Now,
		storeRetry: retry.Store(),
		maxRetries: MaxStepRetries,
		requests:   map[string]bool{},
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cancelled == nil {
		e.cancelled = e.storedCancellation
	}
	return e
}

// Execute runs the session's plan and returns the result. A non-nil error
// means the engine itself failed (or the session was cancelled); individual
// step failures are reported in the result.
func (e *Engine) Execute(ctx context.Context, session *models.AgentSession) (result *models.AgentResult, err error) {
	if session == nil || session.Plan == nil || len(session.Plan.Steps) == 0 {
		return nil, ErrNoPlan
	}
	ctx, span := e.tracer.TracePlan(ctx, "execute", session.ID)
	defer span.End()
	defer e.forget(session.ID)

	if err := e.transition(ctx, session, models.SessionExecuting, ""); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v\n%s", r, debug.Stack())
		}
		if err != nil && !errors.Is(err, ErrCancelled) {
			e.fault(ctx, session, err)
			observability.RecordError(span, err)
		}
	}()

	start := e.now()
	sc := executor.StepContext{SessionID: session.ID, Plan: session.Plan, Context: session.Context}
	var (
		results   []models.StepResult
		retries   int
		cancelled bool
		toolsUsed []string
		seenTools = map[string]bool{}
	)

	for _, step := range session.Plan.OrderedSteps() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.cancelled(ctx, session.ID) {
			cancelled = true
			e.logger.Info("session cancelled, stopping", "session_id", session.ID, "step_id", step.ID)
			break
		}
		if !seenTools[step.Tool] {
			seenTools[step.Tool] = true
			toolsUsed = append(toolsUsed, step.Tool)
		}

		res, stepErr := e.steps.ExecuteStep(ctx, step, sc)
		results = append(results, res)
		for stepErr != nil && e.retryable(step, stepErr) && step.RetryCount < e.maxRetries {
			step.RetryCount++
			retries++
			e.metrics.RecordRetry("engine")
			e.logger.Info("retrying step", "session_id", session.ID, "step_id", step.ID, "retry", step.RetryCount, "error", stepErr)
			res, stepErr = e.steps.ExecuteStep(ctx, step, sc)
			results = append(results, res)
		}

		// A cancellation written while the step ran must not be overwritten
		// by the progress save below.
		if e.cancelled(ctx, session.ID) {
			cancelled = true
			e.logger.Info("session cancelled during step, stopping", "session_id", session.ID, "step_id", step.ID)
			break
		}
		session.UpdatedAt = e.now()
		if err := e.persist(ctx, session); err != nil {
			return nil, err
		}
	}

	metrics := models.ExecutionMetrics{
		TotalDuration: e.now().Sub(start),
		Retries:       retries,
		ToolsUsed:     toolsUsed,
	}
	for _, step := range session.Plan.Steps {
		switch step.Status {
		case models.StepStatusCompleted:
			metrics.SuccessfulSteps++
		case models.StepStatusFailed:
			metrics.FailedSteps++
		}
	}

	result = &models.AgentResult{
		Success: metrics.FailedSteps == 0 && !cancelled,
		Summary: Summarize(results, metrics),
		Steps:   results,
		Metrics: metrics,
	}
	session.Result = result
	span.SetAttributes(
		attribute.Int("plan.steps.succeeded", metrics.SuccessfulSteps),
		attribute.Int("plan.steps.failed", metrics.FailedSteps),
		attribute.Int("plan.retries", retries),
	)

	payload := map[string]any{
		"planId":          session.Plan.ID,
		"successfulSteps": metrics.SuccessfulSteps,
		"failedSteps":     metrics.FailedSteps,
		"retries":         retries,
		"durationMs":      metrics.TotalDuration.Milliseconds(),
		"toolsUsed":       toolsUsed,
	}

	if cancelled {
		session.Error = ErrCancelled.Error()
		if err := e.transition(ctx, session, models.SessionFailed, ErrCancelled.Error()); err != nil {
			return result, err
		}
		e.audit.LogFailure(ctx, session.UserID, audit.ActionAgentExecution, audit.TargetSession, session.ID, payload, ErrCancelled)
		return result, ErrCancelled
	}

	final, reason := models.SessionCompleted, ""
	if !result.Success {
		final, reason = models.SessionFailed, fmt.Sprintf("%d of %d steps failed", metrics.FailedSteps, len(session.Plan.Steps))
	}
	if err := e.transition(ctx, session, final, reason); err != nil {
		return result, err
	}
	if result.Success {
		e.audit.LogSuccess(ctx, session.UserID, audit.ActionAgentExecution, audit.TargetSession, session.ID, payload)
	} else {
		e.audit.LogFailure(ctx, session.UserID, audit.ActionAgentExecution, audit.TargetSession, session.ID, payload, errors.New(reason))
	}
	e.logger.Info("plan executed", "session_id", session.ID, "state", final, "succeeded", metrics.SuccessfulSteps, "failed", metrics.FailedSteps, "retries", retries)
	return result, nil
}

// retryable reports whether the engine may re-run a failed step. Guardrail
// failures are deterministic, and network tools already retried inside the
// executor.
func (e *Engine) retryable(step *models.PlanStep, err error) bool {
	if executor.IsGuardrail(err) {
		return false
	}
	return !e.steps.IsNetworkTool(step.Tool)
}

func (e *Engine) transition(ctx context.Context, session *models.AgentSession, next models.SessionState, reason string) error {
	if session.State != next && !session.State.CanTransition(next) {
		return &TransitionError{SessionID: session.ID, From: session.State, To: next}
	}
	session.State = next
	session.UpdatedAt = e.now()
	if next == models.SessionFailed {
		session.Error = reason
	}
	if err := e.persist(ctx, session); err != nil {
		return err
	}
	e.metrics.RecordSessionState(string(next))
	return nil
}

func (e *Engine) persist(ctx context.Context, session *models.AgentSession) error {
	opts := e.storeRetry
	opts.OnRetry = func(attempt int, err error) {
		e.metrics.RecordRetry(opts.Name)
		e.logger.Warn("retrying session write", "session_id", session.ID, "attempt", attempt, "error", err)
	}
	res := retry.Do(ctx, opts, func(ctx context.Context) error {
		return e.sessions.UpdateSession(ctx, session)
	})
	if res.Err != nil {
		return fmt.Errorf("persist session %s: %w", session.ID, res.Err)
	}
	return nil
}

// fault marks the session failed after an engine error. The write is best
// effort: the original error is what the caller sees.
func (e *Engine) fault(ctx context.Context, session *models.AgentSession, cause error) {
	e.logger.Error("plan execution fault", "session_id", session.ID, "error", cause)
	msg := cause.Error()
	if i := strings.IndexByte(msg, '\n'); i > 0 {
		msg = msg[:i]
	}
	if !session.State.Terminal() {
		session.State = models.SessionFailed
		session.Error = msg
		session.UpdatedAt = e.now()
		// The request context may be the thing that failed.
		if err := e.sessions.UpdateSession(context.WithoutCancel(ctx), session); err != nil {
			e.logger.Error("failed to persist faulted session", "session_id", session.ID, "error", err)
		}
		e.metrics.RecordSessionState(string(models.SessionFailed))
	}
	e.audit.LogFailure(ctx, session.UserID, audit.ActionAgentExecution, audit.TargetSession, session.ID, map[string]any{
		"planId": session.Plan.ID,
	}, cause)
}

// Cancel asks a running Execute for sessionID to stop before its next step.
func (e *Engine) Cancel(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests[sessionID] = true
}

func (e *Engine) forget(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.requests, sessionID)
}

func (e *Engine) storedCancellation(ctx context.Context, sessionID string) bool {
	e.mu.Lock()
	requested := e.requests[sessionID]
	e.mu.Unlock()
	if requested {
		return true
	}
	stored, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false
	}
	return stored.State == models.SessionFailed && stored.Error == ErrCancelled.Error()
}

// Summarize describes an execution in one paragraph.
func Summarize(results []models.StepResult, metrics models.ExecutionMetrics) string {
	var succeeded, failed int
	for _, r := range results {
		switch r.Status {
		case models.StepStatusCompleted:
			succeeded++
		case models.StepStatusFailed:
			failed++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Executed %d steps in %ds. %d succeeded, %d failed", len(results), int(metrics.TotalDuration.Round(time.Second)/time.Second), succeeded, failed)
	if metrics.Retries > 0 {
		fmt.Fprintf(&b, " (%d retries)", metrics.Retries)
	}
	b.WriteString(".")

	var outcomes []string
	for _, r := range results {
		if len(outcomes) == 3 {
			break
		}
		if r.Status != models.StepStatusCompleted || r.Output == nil {
			continue
		}
		outcomes = append(outcomes, outcome(r))
	}
	if len(outcomes) > 0 {
		fmt.Fprintf(&b, " Key outcomes: %s.", strings.Join(outcomes, ", "))
	}
	return b.String()
}

// outcome names what a completed step produced, preferring a title or name
// from its output.
func outcome(r models.StepResult) string {
	label := strings.Replace(r.Tool, "_", " ", 1)
	fields := map[string]any{}
	if raw, err := json.Marshal(r.Output); err == nil {
		_ = json.Unmarshal(raw, &fields)
	}
	for _, key := range []string{"title", "name"} {
		if s, ok := fields[key].(string); ok && s != "" {
			return s
		}
	}
	if _, ok := fields["id"]; ok {
		return "Created " + label
	}
	return "Completed " + label
}
