package models

import "time"

// Workflow is a named, reusable sequence of tool steps.
type Workflow struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []WorkflowStep    `json:"steps" yaml:"steps"`
	Variables   map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	CreatedBy   string            `json:"created_by,omitempty" yaml:"created_by,omitempty"`
	CreatedAt   time.Time         `json:"created_at" yaml:"-"`
}

// WorkflowStep is one tool call in a workflow. Parameter values may
// reference ${var} variables and $results.<step>.<field> outputs.
type WorkflowStep struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Tool       string         `json:"tool" yaml:"tool"`
	Parameters map[string]any `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// OnFailure is "continue" or "stop" (default).
	OnFailure string `json:"on_failure,omitempty" yaml:"on_failure,omitempty"`
}

// WorkflowExecutionStatus is the status of one workflow run.
type WorkflowExecutionStatus string

const (
	WorkflowRunning   WorkflowExecutionStatus = "running"
	WorkflowCompleted WorkflowExecutionStatus = "completed"
	WorkflowFailed    WorkflowExecutionStatus = "failed"
)

// WorkflowExecution records one run of a workflow.
type WorkflowExecution struct {
	ID          string                  `json:"id"`
	WorkflowID  string                  `json:"workflow_id"`
	TaskID      string                  `json:"task_id,omitempty"`
	Status      WorkflowExecutionStatus `json:"status"`
	Results     map[string]any          `json:"results,omitempty"`
	Error       string                  `json:"error,omitempty"`
	StartedAt   time.Time               `json:"started_at"`
	CompletedAt *time.Time              `json:"completed_at,omitempty"`
}
