package executor

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
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

type recordingWriter struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (w *recordingWriter) AppendAudit(_ context.Context, entry *models.AuditEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, entry)
	return nil
}

func (w *recordingWriter) actions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, e := range w.entries {
		out = append(out, e.Action+":"+string(e.Status))
	}
	return out
}

type createTaskInput struct {
	ProjectID string `json:"projectId" jsonschema:"minLength=1"`
	Title     string `json:"title" jsonschema:"minLength=1"`
	APIToken  string `json:"apiToken,omitempty"`
}

type messageInput struct {
	Channel string `json:"channel"`
}

type harness struct {
	exec      *Executor
	writer    *recordingWriter
	metrics   *observability.Metrics
	taskCalls int
	slackErrs []error
	slackRuns int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{writer: &recordingWriter{}}
	registry := tools.NewRegistry()
	err := registry.RegisterAll(
		tools.Must(tools.Spec{
			Name:    "create_task",
			Mutates: true,
			Scopes:  []string{tools.ScopeWriteTasks},
		}, func(_ context.Context, call tools.CallContext, in createTaskInput) (any, error) {
			h.taskCalls++
			return map[string]any{"id": "task-1", "title": in.Title, "by": call.UserID}, nil
		}),
		tools.Must(tools.Spec{
			Name:   "slack_send_channel",
			Scopes: []string{tools.ScopeSlackWrite},
		}, func(context.Context, tools.CallContext, messageInput) (any, error) {
			h.slackRuns++
			if len(h.slackErrs) > 0 {
				err := h.slackErrs[0]
				h.slackErrs = h.slackErrs[1:]
				return nil, err
			}
			return map[string]any{"ok": true}, nil
		}),
		tools.Must(tools.Spec{
			Name:   "flaky_local",
			Scopes: []string{tools.ScopeReadTasks},
		}, func(context.Context, tools.CallContext, messageInput) (any, error) {
			h.slackRuns++
			return nil, retry.WithClass("RATE_LIMIT", errors.New("busy"))
		}),
	)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	h.metrics = observability.NewMetrics(prometheus.NewRegistry())
	sink := audit.NewSink(h.writer, audit.Config{Synchronous: true})
	t.Cleanup(func() { _ = sink.Close() })

	network := retry.Network()
	network.Sleep = func(context.Context, time.Duration) error { return nil }
	h.exec = New(registry, WithAudit(sink), WithMetrics(h.metrics), WithNetworkRetry(network))
	return h
}

func pmContext() models.SessionContext {
	return models.SessionContext{User: models.UserRef{ID: "pm-1", Role: models.RolePM}}
}

func approvedPlan() *models.Plan {
	plan := &models.Plan{ID: "plan-1"}
	plan.Approve("pm-1", time.Now())
	return plan
}

func TestExecuteStep_ApprovedMutatingStepCompletes(t *testing.T) {
	h := newHarness(t)
	step := &models.PlanStep{ID: "s1", Tool: "create_task", Parameters: map[string]any{"projectId": "p1", "title": "Fix login bug"}}

	result, err := h.exec.ExecuteStep(context.Background(), step, StepContext{SessionID: "sess", Plan: approvedPlan(), Context: pmContext()})
	if err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	if h.taskCalls != 1 {
		t.Errorf("handler calls = %d, want 1", h.taskCalls)
	}
	if result.Status != models.StepStatusCompleted || step.Status != models.StepStatusCompleted {
		t.Errorf("status = %s/%s", result.Status, step.Status)
	}
	if step.StartedAt == nil || step.CompletedAt == nil || step.Result == nil {
		t.Errorf("step not stamped: %+v", step)
	}
	want := []string{"agent_step_execution:success", "agent_step_execution:success"}
	if got := h.writer.actions(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("audit = %v, want %v", got, want)
	}
}

func TestExecuteStep_Guardrails(t *testing.T) {
	devContext := models.SessionContext{User: models.UserRef{ID: "client-1", Role: models.RoleClient}}

	tests := []struct {
		name     string
		step     *models.PlanStep
		plan     *models.Plan
		sc       models.SessionContext
		wantCode Code
	}{
		{
			name:     "unknown tool",
			step:     &models.PlanStep{ID: "s1", Tool: "delete_everything"},
			plan:     approvedPlan(),
			sc:       pmContext(),
			wantCode: CodeToolNotFound,
		},
		{
			name:     "invalid parameters",
			step:     &models.PlanStep{ID: "s2", Tool: "create_task", Parameters: map[string]any{"title": "x"}},
			plan:     approvedPlan(),
			sc:       pmContext(),
			wantCode: CodeInvalidParameters,
		},
		{
			name:     "missing scope",
			step:     &models.PlanStep{ID: "s3", Tool: "create_task", Parameters: map[string]any{"projectId": "p", "title": "x"}},
			plan:     approvedPlan(),
			sc:       devContext,
			wantCode: CodePermissionDenied,
		},
		{
			name:     "unapproved mutating step",
			step:     &models.PlanStep{ID: "s4", Tool: "create_task", Parameters: map[string]any{"projectId": "p", "title": "x"}},
			plan:     &models.Plan{ID: "plan-2"},
			sc:       pmContext(),
			wantCode: CodeNeedsApproval,
		},
		{
			name:     "nil plan counts as unapproved",
			step:     &models.PlanStep{ID: "s5", Tool: "create_task", Parameters: map[string]any{"projectId": "p", "title": "x"}},
			sc:       pmContext(),
			wantCode: CodeNeedsApproval,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			result, err := h.exec.ExecuteStep(context.Background(), tt.step, StepContext{Plan: tt.plan, Context: tt.sc})
			if CodeOf(err) != tt.wantCode {
				t.Fatalf("code = %q (%v), want %q", CodeOf(err), err, tt.wantCode)
			}
			if !IsGuardrail(err) {
				t.Error("expected guardrail error")
			}
			if !strings.Contains(err.Error(), tt.step.ID) || !strings.Contains(err.Error(), tt.step.Tool) {
				t.Errorf("error %q should name the step and tool", err)
			}
			if h.taskCalls != 0 {
				t.Errorf("handler called %d times", h.taskCalls)
			}
			if result.Status != models.StepStatusFailed || result.Code != string(tt.wantCode) {
				t.Errorf("result = %+v", result)
			}
			if tt.step.Status != models.StepStatusFailed || tt.step.CompletedAt == nil {
				t.Errorf("step = %+v", tt.step)
			}
			if got := testutil.ToFloat64(h.metrics.GuardrailDenials.WithLabelValues(string(tt.wantCode))); got != 1 {
				t.Errorf("guardrail denials = %v", got)
			}
			if got := h.writer.actions(); len(got) != 1 || got[0] != "agent_guardrail_denied:failure" {
				t.Errorf("audit = %v", got)
			}
		})
	}
}

func TestExecuteStep_NeedsApprovalIsDistinguishable(t *testing.T) {
	h := newHarness(t)
	step := &models.PlanStep{ID: "s1", Tool: "create_task", Parameters: map[string]any{"projectId": "p", "title": "x"}}
	_, err := h.exec.ExecuteStep(context.Background(), step, StepContext{Plan: &models.Plan{}, Context: pmContext()})
	if !IsNeedsApproval(err) {
		t.Fatalf("IsNeedsApproval(%v) = false", err)
	}
	if !strings.Contains(err.Error(), "requires plan approval") {
		t.Errorf("message = %q", err)
	}
}

func TestExecuteStep_RedactsAuditPayload(t *testing.T) {
	h := newHarness(t)
	step := &models.PlanStep{ID: "s1", Tool: "create_task", Parameters: map[string]any{
		"projectId": "p1", "title": "x", "apiToken": "sk-live-123",
	}}
	if _, err := h.exec.ExecuteStep(context.Background(), step, StepContext{Plan: approvedPlan(), Context: pmContext()}); err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	params := h.writer.entries[0].Payload["parameters"].(map[string]any)
	if params["apiToken"] != Redacted || params["title"] != "x" {
		t.Errorf("audited parameters = %v", params)
	}
	if step.Parameters["apiToken"] != "sk-live-123" {
		t.Error("step parameters must not be modified")
	}
}

func TestExecuteStep_NetworkToolsRetry(t *testing.T) {
	h := newHarness(t)
	h.slackErrs = []error{
		retry.WithClass("RATE_LIMIT", errors.New("ratelimited")),
		retry.WithStatus(503, errors.New("unavailable")),
	}
	step := &models.PlanStep{ID: "s1", Tool: "slack_send_channel", Parameters: map[string]any{"channel": "C1"}}

	result, err := h.exec.ExecuteStep(context.Background(), step, StepContext{Plan: &models.Plan{}, Context: pmContext()})
	if err != nil {
		t.Fatalf("ExecuteStep() error = %v", err)
	}
	if h.slackRuns != 3 || result.Status != models.StepStatusCompleted {
		t.Errorf("runs = %d, result = %+v", h.slackRuns, result)
	}
	if got := testutil.ToFloat64(h.metrics.Retries.WithLabelValues("network")); got != 2 {
		t.Errorf("network retries = %v, want 2", got)
	}
}

func TestExecuteStep_LocalToolsDoNotRetry(t *testing.T) {
	h := newHarness(t)
	step := &models.PlanStep{ID: "s1", Tool: "flaky_local", Parameters: map[string]any{"channel": "C1"}}

	result, err := h.exec.ExecuteStep(context.Background(), step, StepContext{Context: pmContext()})
	if CodeOf(err) != CodeExecutionFailed {
		t.Fatalf("code = %q", CodeOf(err))
	}
	if IsGuardrail(err) {
		t.Error("execution failures are not guardrail errors")
	}
	if h.slackRuns != 1 {
		t.Errorf("runs = %d, want 1", h.slackRuns)
	}
	if result.Error == "" || step.Error == "" {
		t.Errorf("error not captured: %+v / %+v", result, step)
	}
	want := []string{"agent_step_execution:success", "agent_step_execution:failure"}
	if got := h.writer.actions(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("audit = %v, want %v", got, want)
	}
}

func TestStepContextPermissions(t *testing.T) {
	explicit := StepContext{Context: models.SessionContext{Permissions: []string{"read:tasks"}, User: models.UserRef{Role: models.RoleAdmin}}}
	if got := explicit.Permissions(); len(got) != 1 || got[0] != "read:tasks" {
		t.Errorf("explicit permissions = %v", got)
	}
	byRole := StepContext{Context: models.SessionContext{User: models.UserRef{Role: models.RoleClient}}}
	if !tools.HasAllScopes(byRole.Permissions(), []string{tools.ScopeRAGRead}) {
		t.Error("client role should grant rag:read")
	}
}

func TestIsNetworkTool(t *testing.T) {
	exec := New(tools.NewRegistry())
	for name, want := range map[string]bool{
		"slack_send_dm":      true,
		"drive_search_files": true,
		"rag_search":         true,
		"create_task":        false,
		"search":             false,
	} {
		if got := exec.IsNetworkTool(name); got != want {
			t.Errorf("IsNetworkTool(%q) = %v, want %v", name, got, want)
		}
	}
}
