package models

import "time"

// SessionState is the lifecycle state of an agent session.
type SessionState string

const (
	SessionIdle             SessionState = "idle"
	SessionPlanning         SessionState = "planning"
	SessionAwaitingApproval SessionState = "awaiting_approval"
	SessionExecuting        SessionState = "executing"
	SessionCompleted        SessionState = "completed"
	SessionFailed           SessionState = "failed"
)

var sessionStateRank = map[SessionState]int{
	SessionIdle:             0,
	SessionPlanning:         1,
	SessionAwaitingApproval: 2,
	SessionExecuting:        3,
	SessionCompleted:        4,
}

// Terminal reports whether no further transitions are allowed.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Valid reports whether s is a known state.
func (s SessionState) Valid() bool {
	if s == SessionFailed {
		return true
	}
	_, ok := sessionStateRank[s]
	return ok
}

// CanTransition reports whether a session may move from s to next.
// Transitions only move forward; failed is reachable from every
// non-terminal state. Staying in the same non-terminal state is allowed.
func (s SessionState) CanTransition(next SessionState) bool {
	if s.Terminal() {
		return false
	}
	if next == SessionFailed {
		return true
	}
	from, ok := sessionStateRank[s]
	if !ok {
		return false
	}
	to, ok := sessionStateRank[next]
	if !ok {
		return false
	}
	return to >= from
}

// AgentSession tracks one request from planning through execution.
type AgentSession struct {
	// ID is the unique identifier for the session.
	ID string `json:"id"`

	// UserID is the acting user.
	UserID string `json:"user_id"`

	// ProjectID scopes the session to a project, if any.
	ProjectID string `json:"project_id,omitempty"`

	// State is the lifecycle state.
	State SessionState `json:"state"`

	// Plan is the plan owned by this session.
	Plan *Plan `json:"plan,omitempty"`

	// Result is set after execution.
	Result *AgentResult `json:"result,omitempty"`

	// Context carries the actor, project and integration details.
	Context SessionContext `json:"context"`

	// Error holds the failure reason when State is failed.
	Error string `json:"error,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionContext describes who is acting and what they can reach.
type SessionContext struct {
	User         UserRef           `json:"user"`
	Project      *ProjectRef       `json:"project,omitempty"`
	Integrations Integrations      `json:"integrations"`
	Permissions  []string          `json:"permissions,omitempty"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// UserRef identifies the acting user.
type UserRef struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role"`
}

// ProjectRef is the project a session is working on.
type ProjectRef struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	SlackChannelID string `json:"slack_channel_id,omitempty"`
	DriveFolderID  string `json:"drive_folder_id,omitempty"`
}

// Integrations lists which external integrations are connected.
type Integrations struct {
	Slack bool `json:"slack"`
	Drive bool `json:"drive"`
}
