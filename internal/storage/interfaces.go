// Package storage is the persistent store boundary: sessions, conversation
// state, scheduled tasks, workflows, audit entries, and the workspace records
// tools read and write.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/foreman/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// SessionFilter selects agent sessions.
type SessionFilter struct {
	UserID string
	// States keeps sessions in any of these states.
	States []models.SessionState
	// UpdatedBefore keeps sessions last updated before this time.
	UpdatedBefore time.Time
	Limit         int
}

// SessionStore persists agent sessions.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.AgentSession) error
	GetSession(ctx context.Context, id string) (*models.AgentSession, error)
	UpdateSession(ctx context.Context, session *models.AgentSession) error
	// ListSessions returns matching sessions, newest first.
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.AgentSession, error)
}

// ConversationStore persists conversation state.
type ConversationStore interface {
	GetConversation(ctx context.Context, id string) (*models.ConversationState, error)
	SaveConversation(ctx context.Context, state *models.ConversationState) error
	DeleteConversation(ctx context.Context, id string) error
}

// ScheduledTaskFilter selects scheduled tasks.
type ScheduledTaskFilter struct {
	Status *models.TaskStatus
	Limit  int
}

// ScheduledTaskStore persists cron-triggered tasks.
type ScheduledTaskStore interface {
	CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error
	GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error)
	UpdateScheduledTask(ctx context.Context, task *models.ScheduledTask) error
	DeleteScheduledTask(ctx context.Context, id string) error
	// ListScheduledTasks returns matching tasks ordered by next run.
	ListScheduledTasks(ctx context.Context, filter ScheduledTaskFilter) ([]*models.ScheduledTask, error)
}

// WorkflowStore persists workflow definitions and their runs.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*models.Workflow, error)
	ListWorkflows(ctx context.Context) ([]*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	CreateWorkflowExecution(ctx context.Context, exec *models.WorkflowExecution) error
	UpdateWorkflowExecution(ctx context.Context, exec *models.WorkflowExecution) error
	ListWorkflowExecutions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error)
}

// AuditFilter selects audit entries.
type AuditFilter struct {
	ActorID  string
	TargetID string
	Action   string
	Limit    int
}

// AuditStore appends and lists audit entries.
type AuditStore interface {
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error)
}

// ProjectFilter selects projects.
type ProjectFilter struct {
	Status string
	PMID   string
	Limit  int
}

// TaskFilter selects project tasks.
type TaskFilter struct {
	ProjectID  string
	Status     string
	AssigneeID string
	Limit      int
}

// UserFilter selects users.
type UserFilter struct {
	Role  models.Role
	Limit int
}

// WorkspaceStore persists the project-management records tools operate on.
type WorkspaceStore interface {
	CreateProject(ctx context.Context, project *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	UpdateProject(ctx context.Context, project *models.Project) error
	ListProjects(ctx context.Context, filter ProjectFilter) ([]*models.Project, error)
	// CountProjectsByPM returns the number of projects per PM id.
	CountProjectsByPM(ctx context.Context) (map[string]int, error)

	CreateTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error)

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, error)

	CreateProjectUpdate(ctx context.Context, update *models.ProjectUpdate) error
	// ListProjectUpdates returns a project's updates, newest first.
	ListProjectUpdates(ctx context.Context, projectID string, limit int) ([]*models.ProjectUpdate, error)
}

// KnowledgeStore persists documents for knowledge search.
type KnowledgeStore interface {
	UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error
	ListDocuments(ctx context.Context, projectID string) ([]*models.KnowledgeDocument, error)
}

// Store groups every storage concern behind one handle.
type Store interface {
	SessionStore
	ConversationStore
	ScheduledTaskStore
	WorkflowStore
	AuditStore
	WorkspaceStore
	KnowledgeStore
	Close() error
}
