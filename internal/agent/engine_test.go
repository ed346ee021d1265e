package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/executor"
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

type fakeRunner struct {
	ExecuteStepFunc func(step *models.PlanStep) (any, error)
	network         map[string]bool
	calls           map[string]int
}

func (f *fakeRunner) ExecuteStep(_ context.Context, step *models.PlanStep, _ executor.StepContext) (models.StepResult, error) {
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[step.ID]++
	res := models.StepResult{StepID: step.ID, Tool: step.Tool, Attempt: step.RetryCount + 1}
	out, err := f.ExecuteStepFunc(step)
	if err != nil {
		step.Status = models.StepStatusFailed
		res.Status = models.StepStatusFailed
		res.Error = err.Error()
		return res, err
	}
	step.Status = models.StepStatusCompleted
	res.Status = models.StepStatusCompleted
	res.Output = out
	return res, nil
}

func (f *fakeRunner) IsNetworkTool(name string) bool { return f.network[name] }

type auditRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (w *auditRecorder) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	return nil
}

func (w *auditRecorder) last() *models.AuditEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.entries) == 0 {
		return nil
	}
	return w.entries[len(w.entries)-1]
}

func newSession(t *testing.T, store storage.SessionStore, steps ...*models.PlanStep) *models.AgentSession {
	t.Helper()
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	plan := &models.Plan{ID: "plan-1", Steps: steps}
	plan.Approve("u1", now)
	session := &models.AgentSession{
		ID:        "s1",
		UserID:    "u1",
		State:     models.SessionAwaitingApproval,
		Plan:      plan,
		Context:   models.SessionContext{User: models.UserRef{ID: "u1", Role: models.RolePM}},
		StartedAt: now,
	}
	if err := store.CreateSession(context.Background(), session); err != nil {
		t.Fatal(err)
	}
	return session
}

func TestExecute_AllStepsSucceed(t *testing.T) {
	store := storage.NewMemoryStore()
	writer := &auditRecorder{}
	sink := audit.NewSink(writer, audit.Config{Synchronous: true})
	defer sink.Close()
	runner := &fakeRunner{ExecuteStepFunc: func(step *models.PlanStep) (any, error) {
		switch step.Tool {
		case "create_task":
			return map[string]any{"id": "t1", "title": "Fix login bug"}, nil
		case "create_project":
			return struct {
				ID string `json:"id"`
			}{"p1"}, nil
		default:
			return []string{"a"}, nil
		}
	}}
	session := newSession(t, store,
		&models.PlanStep{ID: "b", Order: 2, Tool: "create_task"},
		&models.PlanStep{ID: "a", Order: 1, Tool: "get_tasks"},
		&models.PlanStep{ID: "c", Order: 3, Tool: "create_project"},
	)

	engine := NewEngine(runner, store, WithAudit(sink))
	result, err := engine.Execute(context.Background(), session)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Metrics.SuccessfulSteps != 3 || result.Metrics.FailedSteps != 0 {
		t.Fatalf("result = %+v", result)
	}
	if got := strings.Join(result.Metrics.ToolsUsed, ","); got != "get_tasks,create_task,create_project" {
		t.Errorf("ToolsUsed = %s", got)
	}
	if result.Steps[0].StepID != "a" {
		t.Errorf("steps ran out of order: %+v", result.Steps)
	}
	want := "Executed 3 steps in 0s. 3 succeeded, 0 failed. Key outcomes: Completed get tasks, Fix login bug, Created create project."
	if result.Summary != want {
		t.Errorf("summary =\n%q\nwant\n%q", result.Summary, want)
	}

	stored, err := store.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if stored.State != models.SessionCompleted || stored.Result == nil {
		t.Errorf("stored session = %+v", stored)
	}
	if entry := writer.last(); entry == nil || entry.Action != audit.ActionAgentExecution || entry.Status != models.AuditSuccess {
		t.Errorf("audit = %+v", entry)
	}
}

func TestExecute_RetryPolicy(t *testing.T) {
	tests := []struct {
		name        string
		tool        string
		network     bool
		err         error
		failures    int
		wantCalls   int
		wantRetries int
		wantSuccess bool
	}{
		{name: "local recovers", tool: "create_task", err: errors.New("db blip"), failures: 2, wantCalls: 3, wantRetries: 2, wantSuccess: true},
		{name: "local gives up after three retries", tool: "create_task", err: errors.New("db down"), failures: 10, wantCalls: 4, wantRetries: 3},
		{name: "network tool not retried by engine", tool: "slack_send_channel", network: true, err: errors.New("timeout"), failures: 10, wantCalls: 1},
		{name: "guardrail not retried", tool: "create_task", err: &executor.StepError{Code: executor.CodePermissionDenied}, failures: 10, wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			calls := 0
			runner := &fakeRunner{
				network: map[string]bool{tt.tool: tt.network},
				ExecuteStepFunc: func(*models.PlanStep) (any, error) {
					calls++
					if calls <= tt.failures {
						return nil, tt.err
					}
					return map[string]any{"ok": true}, nil
				},
			}
			session := newSession(t, store, &models.PlanStep{ID: "x", Order: 1, Tool: tt.tool})
			reg := prometheus.NewRegistry()
			metrics := observability.NewMetrics(reg)

			result, err := NewEngine(runner, store, WithMetrics(metrics)).Execute(context.Background(), session)
			if err != nil {
				t.Fatal(err)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if len(result.Steps) != tt.wantCalls {
				t.Errorf("results = %d, want one per attempt", len(result.Steps))
			}
			if result.Metrics.Retries != tt.wantRetries || session.Plan.Steps[0].RetryCount != tt.wantRetries {
				t.Errorf("retries = %d, retryCount = %d, want %d", result.Metrics.Retries, session.Plan.Steps[0].RetryCount, tt.wantRetries)
			}
			if got := testutil.ToFloat64(metrics.Retries.WithLabelValues("engine")); got != float64(tt.wantRetries) {
				t.Errorf("engine retry metric = %v", got)
			}
			if result.Success != tt.wantSuccess {
				t.Errorf("Success = %v", result.Success)
			}
			wantState := models.SessionFailed
			if tt.wantSuccess {
				wantState = models.SessionCompleted
			}
			if session.State != wantState {
				t.Errorf("state = %s, want %s", session.State, wantState)
			}
		})
	}
}

func TestExecute_Cancelled(t *testing.T) {
	store := storage.NewMemoryStore()
	var engine *Engine
	runner := &fakeRunner{ExecuteStepFunc: func(step *models.PlanStep) (any, error) {
		engine.Cancel("s1")
		return map[string]any{"id": step.ID}, nil
	}}
	session := newSession(t, store,
		&models.PlanStep{ID: "a", Order: 1, Tool: "get_tasks"},
		&models.PlanStep{ID: "b", Order: 2, Tool: "create_task"},
	)
	engine = NewEngine(runner, store)

	result, err := engine.Execute(context.Background(), session)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if runner.calls["b"] != 0 {
		t.Error("step after cancellation should not run")
	}
	if result == nil || result.Success || len(result.Steps) != 1 {
		t.Fatalf("result = %+v", result)
	}
	stored, _ := store.GetSession(context.Background(), "s1")
	if stored.State != models.SessionFailed || stored.Error != "cancelled by user" {
		t.Errorf("stored = %s %q", stored.State, stored.Error)
	}
}

func TestExecute_StoredCancellation(t *testing.T) {
	store := storage.NewMemoryStore()
	session := newSession(t, store, &models.PlanStep{ID: "a", Order: 1, Tool: "get_tasks"})
	_ = session
	stored, _ := store.GetSession(context.Background(), "s1")
	stored.State = models.SessionFailed
	stored.Error = ErrCancelled.Error()

	engine := NewEngine(&fakeRunner{}, store)
	if err := store.UpdateSession(context.Background(), stored); err != nil {
		t.Fatal(err)
	}
	if !engine.storedCancellation(context.Background(), "s1") {
		t.Error("expected stored cancellation to be seen")
	}
}

func TestExecute_CancelledWhileStepRuns(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	// Another process cancels the session while step a is running.
	runner := &fakeRunner{ExecuteStepFunc: func(step *models.PlanStep) (any, error) {
		if step.ID == "a" {
			row, err := store.GetSession(ctx, "s1")
			if err != nil {
				return nil, err
			}
			row.State = models.SessionFailed
			row.Error = ErrCancelled.Error()
			if err := store.UpdateSession(ctx, row); err != nil {
				return nil, err
			}
		}
		return map[string]any{"id": step.ID}, nil
	}}
	session := newSession(t, store,
		&models.PlanStep{ID: "a", Order: 1, Tool: "get_tasks"},
		&models.PlanStep{ID: "b", Order: 2, Tool: "create_task"},
	)

	_, err := NewEngine(runner, store).Execute(ctx, session)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if runner.calls["b"] != 0 {
		t.Errorf("step b ran %d times after cancellation", runner.calls["b"])
	}
	stored, _ := store.GetSession(ctx, "s1")
	if stored.State != models.SessionFailed || stored.Error != ErrCancelled.Error() {
		t.Errorf("stored = %s %q, want failed cancellation", stored.State, stored.Error)
	}
}

func TestExecute_CancelDuringLastStep(t *testing.T) {
	store := storage.NewMemoryStore()
	var engine *Engine
	runner := &fakeRunner{ExecuteStepFunc: func(step *models.PlanStep) (any, error) {
		engine.Cancel("s1")
		return map[string]any{"id": step.ID}, nil
	}}
	session := newSession(t, store, &models.PlanStep{ID: "a", Order: 1, Tool: "get_tasks"})
	engine = NewEngine(runner, store)

	if _, err := engine.Execute(context.Background(), session); !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	stored, _ := store.GetSession(context.Background(), "s1")
	if stored.State != models.SessionFailed {
		t.Errorf("state = %s, want failed", stored.State)
	}
}

func TestExecute_EngineFault(t *testing.T) {
	store := storage.NewMemoryStore()
	writer := &auditRecorder{}
	sink := audit.NewSink(writer, audit.Config{Synchronous: true})
	defer sink.Close()
	runner := &fakeRunner{ExecuteStepFunc: func(*models.PlanStep) (any, error) {
		panic("handler exploded")
	}}
	session := newSession(t, store, &models.PlanStep{ID: "a", Order: 1, Tool: "get_tasks"})

	_, err := NewEngine(runner, store, WithAudit(sink)).Execute(context.Background(), session)
	if err == nil || !strings.Contains(err.Error(), "handler exploded") {
		t.Fatalf("err = %v", err)
	}
	stored, _ := store.GetSession(context.Background(), "s1")
	if stored.State != models.SessionFailed || !strings.Contains(stored.Error, "handler exploded") {
		t.Errorf("stored = %s %q", stored.State, stored.Error)
	}
	if entry := writer.last(); entry == nil || entry.Status != models.AuditFailure {
		t.Errorf("audit = %+v", entry)
	}
}

func TestExecute_Preconditions(t *testing.T) {
	store := storage.NewMemoryStore()
	engine := NewEngine(&fakeRunner{}, store)
	if _, err := engine.Execute(context.Background(), &models.AgentSession{ID: "s"}); !errors.Is(err, ErrNoPlan) {
		t.Errorf("err = %v, want ErrNoPlan", err)
	}

	session := newSession(t, store, &models.PlanStep{ID: "a", Tool: "get_tasks"})
	session.State = models.SessionCompleted
	_, err := engine.Execute(context.Background(), session)
	var transition *TransitionError
	if !errors.As(err, &transition) || transition.From != models.SessionCompleted {
		t.Errorf("err = %v, want TransitionError", err)
	}
}

// TestExecute_WithStepExecutor runs an approved mutating plan through the
// real executor and registry.
func TestExecute_WithStepExecutor(t *testing.T) {
	type taskInput struct {
		Title string `json:"title" jsonschema:"minLength=1"`
	}
	invoked := 0
	registry := tools.NewRegistry()
	if err := registry.Register(tools.Must(tools.Spec{Name: "create_task", Mutates: true, Scopes: []string{tools.ScopeWriteTasks}},
		func(_ context.Context, _ tools.CallContext, in taskInput) (any, error) {
			invoked++
			return map[string]any{"id": "t1", "title": in.Title}, nil
		})); err != nil {
		t.Fatal(err)
	}
	store := storage.NewMemoryStore()
	session := newSession(t, store, &models.PlanStep{ID: "a", Order: 1, Tool: "create_task", Parameters: map[string]any{"title": "Fix login bug"}})

	result, err := NewEngine(executor.New(registry), store).Execute(context.Background(), session)
	if err != nil {
		t.Fatal(err)
	}
	if invoked != 1 || !result.Success || result.Steps[0].Status != models.StepStatusCompleted {
		t.Errorf("invoked = %d, result = %+v", invoked, result)
	}
}

func TestSummarize(t *testing.T) {
	results := []models.StepResult{
		{Tool: "get_tasks", Status: models.StepStatusFailed},
		{Tool: "get_tasks", Status: models.StepStatusCompleted, Output: map[string]any{"name": "Sprint"}},
		{Tool: "slack_send_channel", Status: models.StepStatusCompleted},
	}
	got := Summarize(results, models.ExecutionMetrics{TotalDuration: 2600 * time.Millisecond, Retries: 1})
	want := "Executed 3 steps in 3s. 2 succeeded, 1 failed (1 retries). Key outcomes: Sprint."
	if got != want {
		t.Errorf("Summarize = %q, want %q", got, want)
	}
}
