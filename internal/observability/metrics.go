package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for agent execution.
//
// All recording methods are safe on a nil *Metrics so components can run
// without instrumentation.
type Metrics struct {
	// StepExecutions counts plan steps by tool and final status.
	StepExecutions *prometheus.CounterVec

	// StepDuration measures step execution latency in seconds.
	StepDuration *prometheus.HistogramVec

	// GuardrailDenials counts steps refused before the tool ran.
	// Labels: code (TOOL_NOT_FOUND|INVALID_PARAMETERS|PERMISSION_DENIED|NEEDS_APPROVAL)
	GuardrailDenials *prometheus.CounterVec

	// Retries counts retry attempts by profile (network|store|engine).
	Retries *prometheus.CounterVec

	// Sessions counts session state transitions.
	Sessions *prometheus.CounterVec

	// SchedulerRuns counts scheduled task firings by outcome.
	SchedulerRuns *prometheus.CounterVec

	// ArmedJobs is the number of tasks currently armed in the scheduler.
	ArmedJobs prometheus.Gauge

	// AuditFallbacks counts audit entries that could not be persisted.
	AuditFallbacks prometheus.Counter

	// LLMRequests counts planner completions by provider and status.
	LLMRequests *prometheus.CounterVec

	// LLMDuration measures completion latency in seconds.
	LLMDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		StepExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foreman_step_executions_total",
				Help: "Total number of plan step executions by tool and status",
			},
			[]string{"tool", "status"},
		),
		StepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foreman_step_duration_seconds",
				Help:    "Duration of plan step executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),
		GuardrailDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foreman_guardrail_denials_total",
				Help: "Total number of steps refused by guardrails",
			},
			[]string{"code"},
		),
		Retries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foreman_retries_total",
				Help: "Total number of retry attempts by profile",
			},
			[]string{"profile"},
		),
		Sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foreman_sessions_total",
				Help: "Total number of agent session transitions by target state",
			},
			[]string{"state"},
		),
		SchedulerRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foreman_scheduler_runs_total",
				Help: "Total number of scheduled task firings by status",
			},
			[]string{"status"},
		),
		ArmedJobs: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "foreman_scheduler_armed_jobs",
				Help: "Number of scheduled tasks currently armed",
			},
		),
		AuditFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "foreman_audit_fallbacks_total",
				Help: "Total number of audit entries written to the local log because the store failed",
			},
		),
		LLMRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foreman_llm_requests_total",
				Help: "Total number of planner LLM requests by provider and status",
			},
			[]string{"provider", "status"},
		),
		LLMDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foreman_llm_request_duration_seconds",
				Help:    "Duration of planner LLM requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider"},
		),
	}
}

// RecordStep records a finished step execution.
func (m *Metrics) RecordStep(tool, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StepExecutions.WithLabelValues(tool, status).Inc()
	m.StepDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordGuardrailDenial records a step refused with the given error code.
func (m *Metrics) RecordGuardrailDenial(code string) {
	if m == nil {
		return
	}
	m.GuardrailDenials.WithLabelValues(code).Inc()
}

// RecordRetry records one retry under the named profile.
func (m *Metrics) RecordRetry(profile string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(profile).Inc()
}

// RecordSessionState records a session entering state.
func (m *Metrics) RecordSessionState(state string) {
	if m == nil {
		return
	}
	m.Sessions.WithLabelValues(state).Inc()
}

// RecordSchedulerRun records a scheduled firing outcome.
func (m *Metrics) RecordSchedulerRun(status string) {
	if m == nil {
		return
	}
	m.SchedulerRuns.WithLabelValues(status).Inc()
}

// SetArmedJobs sets the armed job gauge.
func (m *Metrics) SetArmedJobs(n int) {
	if m == nil {
		return
	}
	m.ArmedJobs.Set(float64(n))
}

// RecordAuditFallback records an audit entry that fell back to the local log.
func (m *Metrics) RecordAuditFallback() {
	if m == nil {
		return
	}
	m.AuditFallbacks.Inc()
}

// RecordLLMRequest records a planner completion.
func (m *Metrics) RecordLLMRequest(provider, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequests.WithLabelValues(provider, status).Inc()
	m.LLMDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
