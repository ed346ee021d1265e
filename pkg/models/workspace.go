package models

import "time"

// Role is a user's role in the workspace.
type Role string

const (
	RoleAdmin     Role = "admin"
	RolePM        Role = "pm"
	RoleDeveloper Role = "developer"
	RoleClient    Role = "client"
	RoleUser      Role = "user"
)

// User is a workspace member.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Project is a client engagement.
type Project struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	ClientName       string     `json:"client_name"`
	ClientEmail      string     `json:"client_email,omitempty"`
	Status           string     `json:"status"`
	Health           string     `json:"health,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	PMID             string     `json:"pm_id,omitempty"`
	StartDate        *time.Time `json:"start_date,omitempty"`
	TargetDelivery   *time.Time `json:"target_delivery,omitempty"`
	SlackChannelID   string     `json:"slack_channel_id,omitempty"`
	SlackChannelName string     `json:"slack_channel_name,omitempty"`
	DriveFolderID    string     `json:"drive_folder_id,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Task is a unit of project work. It is unrelated to ScheduledTask.
type Task struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Status         string     `json:"status"`
	Priority       string     `json:"priority"`
	AssigneeID     string     `json:"assignee_id,omitempty"`
	EstimatedHours float64    `json:"estimated_hours,omitempty"`
	ActualHours    float64    `json:"actual_hours,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// ProjectUpdate is a status note posted on a project.
type ProjectUpdate struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// KnowledgeDocument is an indexed document used by knowledge search.
type KnowledgeDocument struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	Content   string    `json:"content"`
	IndexedAt time.Time `json:"indexed_at"`
}
