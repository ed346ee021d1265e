package models

import "time"

// TaskStatus is the status of a scheduled task.
type TaskStatus string

const (
	TaskStatusActive TaskStatus = "active"
	TaskStatusPaused TaskStatus = "paused"
	TaskStatusFailed TaskStatus = "failed"
)

// ScheduledTask is a cron-triggered unit of work.
type ScheduledTask struct {
	// ID is the unique identifier for the task.
	ID string `json:"id"`

	// Name is a human-readable name.
	Name string `json:"name"`

	// Cron is a standard 5-field cron expression or descriptor.
	Cron string `json:"cron"`

	// Timezone is the IANA zone the expression is evaluated in. Empty means UTC.
	Timezone string `json:"timezone,omitempty"`

	// NextRun is recomputed after every firing.
	NextRun time.Time `json:"next_run"`

	// LastRun is the last time the task fired.
	LastRun *time.Time `json:"last_run,omitempty"`

	// Status controls whether the task fires.
	Status TaskStatus `json:"status"`

	// WorkflowID links the task to a workflow. When empty Metadata.Action is used.
	WorkflowID string `json:"workflow_id,omitempty"`

	// Metadata holds the custom action and failure bookkeeping.
	Metadata TaskMetadata `json:"metadata"`

	// CreatedBy is the user the task acts as.
	CreatedBy string `json:"created_by"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TaskMetadata carries the action definition and failure state.
type TaskMetadata struct {
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Failures  int            `json:"failures"`
	LastError string         `json:"last_error,omitempty"`
}

// Clone returns a copy of the task.
func (t *ScheduledTask) Clone() *ScheduledTask {
	if t == nil {
		return nil
	}
	clone := *t
	if t.LastRun != nil {
		lastRun := *t.LastRun
		clone.LastRun = &lastRun
	}
	if t.Metadata.Params != nil {
		clone.Metadata.Params = make(map[string]any, len(t.Metadata.Params))
		for k, v := range t.Metadata.Params {
			clone.Metadata.Params[k] = v
		}
	}
	return &clone
}
