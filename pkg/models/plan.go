// Package models defines the core data types for Foreman.
package models

import (
	"sort"
	"time"
)

// StepStatus represents the run state of a plan step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Plan is an ordered list of tool invocations proposed to satisfy a request.
// The descriptive fields are fixed once created; the steps carry mutable run state.
type Plan struct {
	// ID is the unique identifier for the plan.
	ID string `json:"id"`

	// Title is a short human-readable title.
	Title string `json:"title"`

	// Description explains what the plan will do.
	Description string `json:"description"`

	// Steps are the tool invocations, executed strictly by Order.
	Steps []*PlanStep `json:"steps"`

	// EstimatedMinutes is the planner's duration estimate, if any.
	EstimatedMinutes int `json:"estimated_minutes,omitempty"`

	// Risks lists known risks, including automatic repairs made to the plan.
	Risks []string `json:"risks"`

	// Dependencies lists conditions the plan relies on.
	Dependencies []string `json:"dependencies"`

	// CreatedAt is when the plan was produced.
	CreatedAt time.Time `json:"created_at"`

	// ApprovedAt is set once a user approves the plan. Mutating steps require it.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`

	// ApprovedBy is the id of the approving user.
	ApprovedBy string `json:"approved_by,omitempty"`
}

// PlanStep is one tool invocation within a plan.
type PlanStep struct {
	ID          string         `json:"id"`
	Order       int            `json:"order"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Tool        string         `json:"tool"`
	Parameters  map[string]any `json:"parameters"`
	Status      StepStatus     `json:"status"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	RetryCount  int            `json:"retry_count"`
}

// Approved reports whether the plan carries an approval timestamp.
func (p *Plan) Approved() bool {
	return p != nil && p.ApprovedAt != nil && !p.ApprovedAt.IsZero()
}

// Approve stamps the plan as approved by the given user.
func (p *Plan) Approve(userID string, at time.Time) {
	if p == nil {
		return
	}
	approvedAt := at
	p.ApprovedAt = &approvedAt
	p.ApprovedBy = userID
}

// OrderedSteps returns the steps sorted by Order. Ties keep their slice position.
func (p *Plan) OrderedSteps() []*PlanStep {
	if p == nil {
		return nil
	}
	out := make([]*PlanStep, 0, len(p.Steps))
	for _, step := range p.Steps {
		if step != nil {
			out = append(out, step)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *PlanStep {
	if p == nil {
		return nil
	}
	for _, step := range p.Steps {
		if step != nil && step.ID == id {
			return step
		}
	}
	return nil
}

// Clone returns a deep copy of the plan. Parameters are copied one level deep
// and results are shared.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Risks = append([]string(nil), p.Risks...)
	clone.Dependencies = append([]string(nil), p.Dependencies...)
	if p.ApprovedAt != nil {
		approvedAt := *p.ApprovedAt
		clone.ApprovedAt = &approvedAt
	}
	clone.Steps = make([]*PlanStep, 0, len(p.Steps))
	for _, step := range p.Steps {
		if step == nil {
			continue
		}
		clone.Steps = append(clone.Steps, step.Clone())
	}
	return &clone
}

// Clone returns a copy of the step.
func (s *PlanStep) Clone() *PlanStep {
	if s == nil {
		return nil
	}
	clone := *s
	if s.Parameters != nil {
		clone.Parameters = make(map[string]any, len(s.Parameters))
		for k, v := range s.Parameters {
			clone.Parameters[k] = v
		}
	}
	if s.StartedAt != nil {
		startedAt := *s.StartedAt
		clone.StartedAt = &startedAt
	}
	if s.CompletedAt != nil {
		completedAt := *s.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

// StepResult records one execution attempt of a step. Engine-level retries
// append a new result instead of replacing the previous one.
type StepResult struct {
	StepID   string        `json:"step_id"`
	Tool     string        `json:"tool"`
	Status   StepStatus    `json:"status"`
	Output   any           `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     string        `json:"code,omitempty"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
}

// ExecutionMetrics summarizes a plan execution.
type ExecutionMetrics struct {
	TotalDuration   time.Duration `json:"total_duration"`
	SuccessfulSteps int           `json:"successful_steps"`
	FailedSteps     int           `json:"failed_steps"`
	Retries         int           `json:"retries"`
	ToolsUsed       []string      `json:"tools_used"`
}

// AgentResult is the outcome of executing a plan. Success is true iff no
// failed steps remain after retries.
type AgentResult struct {
	Success bool             `json:"success"`
	Summary string           `json:"summary"`
	Steps   []StepResult     `json:"steps"`
	Metrics ExecutionMetrics `json:"metrics"`
}
