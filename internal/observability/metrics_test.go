package observability

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordStep(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordStep("create_task", "completed", 120*time.Millisecond)
	m.RecordStep("create_task", "completed", 80*time.Millisecond)
	m.RecordStep("slack_send_dm", "failed", time.Second)

	expected := `
		# HELP foreman_step_executions_total Total number of plan step executions by tool and status
		# TYPE foreman_step_executions_total counter
		foreman_step_executions_total{status="completed",tool="create_task"} 2
		foreman_step_executions_total{status="failed",tool="slack_send_dm"} 1
	`
	if err := testutil.CollectAndCompare(m.StepExecutions, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.StepDuration); count != 2 {
		t.Errorf("expected 2 duration series, got %d", count)
	}
}

func TestMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordGuardrailDenial("NEEDS_APPROVAL")
	m.RecordGuardrailDenial("NEEDS_APPROVAL")
	m.RecordRetry("network")
	m.RecordSessionState("executing")
	m.RecordSchedulerRun("success")
	m.RecordAuditFallback()
	m.SetArmedJobs(4)

	if got := testutil.ToFloat64(m.GuardrailDenials.WithLabelValues("NEEDS_APPROVAL")); got != 2 {
		t.Errorf("guardrail denials = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Retries.WithLabelValues("network")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Sessions.WithLabelValues("executing")); got != 1 {
		t.Errorf("sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SchedulerRuns.WithLabelValues("success")); got != 1 {
		t.Errorf("scheduler runs = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AuditFallbacks); got != 1 {
		t.Errorf("audit fallbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ArmedJobs); got != 4 {
		t.Errorf("armed jobs = %v, want 4", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordStep("search", "completed", time.Millisecond)
	m.RecordGuardrailDenial("TOOL_NOT_FOUND")
	m.RecordRetry("store")
	m.RecordSessionState("failed")
	m.RecordSchedulerRun("failure")
	m.SetArmedJobs(1)
	m.RecordAuditFallback()
	m.RecordLLMRequest("openai", "success", time.Second)
}

func TestNewMetricsRegistersOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	_ = NewMetrics(registry)

	defer func() {
		if recover() == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	_ = NewMetrics(registry)
}
