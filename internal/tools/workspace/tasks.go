package workspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// GetTasksInput filters get_tasks.
type GetTasksInput struct {
	ProjectID  string `json:"projectId,omitempty"`
	Status     string `json:"status,omitempty" jsonschema:"enum=todo,enum=in-progress,enum=completed,enum=blocked"`
	AssigneeID string `json:"assigneeId,omitempty"`
	Limit      int    `json:"limit,omitempty" jsonschema:"minimum=1,maximum=100"`
}

func (in *GetTasksInput) ApplyDefaults() {
	if in.Limit == 0 {
		in.Limit = 20
	}
}

func (t *toolset) getTasks() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "get_tasks",
		Description: "List tasks by project, status or assignee",
		Scopes:      []string{tools.ScopeReadTasks},
	}, func(ctx context.Context, _ tools.CallContext, in GetTasksInput) (any, error) {
		items, err := t.store.ListTasks(ctx, storage.TaskFilter{
			ProjectID:  in.ProjectID,
			Status:     in.Status,
			AssigneeID: in.AssigneeID,
			Limit:      in.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		return map[string]any{"tasks": items, "count": len(items)}, nil
	})
}

// CreateTaskInput describes a new task.
type CreateTaskInput struct {
	ProjectID      string  `json:"projectId" jsonschema:"minLength=1"`
	Title          string  `json:"title" jsonschema:"minLength=1,maxLength=200"`
	Description    string  `json:"description,omitempty"`
	Status         string  `json:"status,omitempty" jsonschema:"enum=todo,enum=in-progress,enum=completed,enum=blocked"`
	Priority       string  `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high,enum=urgent"`
	EstimatedHours float64 `json:"estimatedHours,omitempty" jsonschema:"exclusiveMinimum=0"`
	DueDate        string  `json:"dueDate,omitempty"`
	AssigneeID     string  `json:"assigneeId,omitempty"`
}

func (in *CreateTaskInput) ApplyDefaults() {
	if in.Status == "" {
		in.Status = "todo"
	}
	if in.Priority == "" {
		in.Priority = "medium"
	}
}

func (t *toolset) createTask() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "create_task",
		Description: "Create a task in a project",
		Mutates:     true,
		Scopes:      []string{tools.ScopeWriteTasks},
	}, func(ctx context.Context, _ tools.CallContext, in CreateTaskInput) (any, error) {
		if _, err := t.store.GetProject(ctx, in.ProjectID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("project %s not found", in.ProjectID)
			}
			return nil, fmt.Errorf("get project: %w", err)
		}
		due, err := parseDate("dueDate", in.DueDate)
		if err != nil {
			return nil, err
		}
		now := t.now()
		task := &models.Task{
			ID:             t.newID(),
			ProjectID:      in.ProjectID,
			Title:          in.Title,
			Description:    in.Description,
			Status:         in.Status,
			Priority:       in.Priority,
			AssigneeID:     in.AssigneeID,
			EstimatedHours: in.EstimatedHours,
			DueDate:        due,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := t.store.CreateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("create task: %w", err)
		}
		return task, nil
	})
}

// UpdateTaskInput changes task progress fields.
type UpdateTaskInput struct {
	TaskID      string  `json:"taskId" jsonschema:"minLength=1"`
	Status      string  `json:"status,omitempty" jsonschema:"enum=todo,enum=in-progress,enum=completed,enum=blocked"`
	AssigneeID  string  `json:"assigneeId,omitempty"`
	ActualHours float64 `json:"actualHours,omitempty" jsonschema:"exclusiveMinimum=0"`
	Notes       string  `json:"notes,omitempty"`
}

func (t *toolset) updateTask() tools.Tool {
	return tools.Must(tools.Spec{
		Name:        "update_task",
		Description: "Update a task's status, assignee, hours or notes",
		Mutates:     true,
		Scopes:      []string{tools.ScopeWriteTasks},
	}, func(ctx context.Context, _ tools.CallContext, in UpdateTaskInput) (any, error) {
		task, err := t.store.GetTask(ctx, in.TaskID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("task %s not found", in.TaskID)
		}
		if err != nil {
			return nil, fmt.Errorf("get task: %w", err)
		}
		if in.Status != "" {
			task.Status = in.Status
		}
		if in.AssigneeID != "" {
			task.AssigneeID = in.AssigneeID
		}
		if in.ActualHours > 0 {
			task.ActualHours = in.ActualHours
		}
		if in.Notes != "" {
			task.Notes = in.Notes
		}
		task.UpdatedAt = t.now()
		if err := t.store.UpdateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("update task: %w", err)
		}
		return task, nil
	})
}
