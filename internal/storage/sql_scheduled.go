package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/haasonsaas/foreman/pkg/models"
)

const scheduledTaskColumns = `id, name, cron, timezone, next_run, last_run, status, workflow_id, metadata, created_by, created_at, updated_at`

// CreateScheduledTask inserts a scheduled task.
func (s *SQLStore) CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	metadataJSON, err := marshalJSON(task.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.exec(ctx, `
		INSERT INTO scheduled_tasks (`+scheduledTaskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		task.ID,
		task.Name,
		task.Cron,
		nullableString(task.Timezone),
		task.NextRun,
		nullableTime(task.LastRun),
		string(task.Status),
		nullableString(task.WorkflowID),
		metadataJSON,
		task.CreatedBy,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create scheduled task: %w", err)
	}
	return nil
}

// GetScheduledTask retrieves a scheduled task by ID.
func (s *SQLStore) GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	row := s.queryRow(ctx, `SELECT `+scheduledTaskColumns+` FROM scheduled_tasks WHERE id = $1`, id)
	task, err := scanScheduledTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled task: %w", err)
	}
	return task, nil
}

// UpdateScheduledTask replaces a scheduled task.
func (s *SQLStore) UpdateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	metadataJSON, err := marshalJSON(task.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := s.exec(ctx, `
		UPDATE scheduled_tasks SET
			name = $2,
			cron = $3,
			timezone = $4,
			next_run = $5,
			last_run = $6,
			status = $7,
			workflow_id = $8,
			metadata = $9,
			updated_at = $10
		WHERE id = $1
	`,
		task.ID,
		task.Name,
		task.Cron,
		nullableString(task.Timezone),
		task.NextRun,
		nullableTime(task.LastRun),
		string(task.Status),
		nullableString(task.WorkflowID),
		metadataJSON,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update scheduled task: %w", err)
	}
	return expectAffected(res)
}

// DeleteScheduledTask deletes a scheduled task by ID.
func (s *SQLStore) DeleteScheduledTask(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled task: %w", err)
	}
	return expectAffected(res)
}

// ListScheduledTasks returns tasks ordered by next run.
func (s *SQLStore) ListScheduledTasks(ctx context.Context, filter ScheduledTaskFilter) ([]*models.ScheduledTask, error) {
	q := newListQuery(`SELECT ` + scheduledTaskColumns + ` FROM scheduled_tasks WHERE 1=1`)
	if filter.Status != nil {
		q.where("status = $%d", string(*filter.Status))
	}
	q.orderLimit("next_run ASC", filter.Limit)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.ScheduledTask
	for rows.Next() {
		task, err := scanScheduledTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scheduled tasks: %w", err)
	}
	return tasks, nil
}

func scanScheduledTask(sc scanner) (*models.ScheduledTask, error) {
	var (
		task         models.ScheduledTask
		timezone     sql.NullString
		lastRun      sql.NullTime
		status       string
		workflowID   sql.NullString
		metadataJSON []byte
	)
	if err := sc.Scan(
		&task.ID,
		&task.Name,
		&task.Cron,
		&timezone,
		&task.NextRun,
		&lastRun,
		&status,
		&workflowID,
		&metadataJSON,
		&task.CreatedBy,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return nil, err
	}
	task.Timezone = timezone.String
	task.LastRun = timePtr(lastRun)
	task.Status = models.TaskStatus(status)
	task.WorkflowID = workflowID.String
	if err := unmarshalJSON(metadataJSON, &task.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &task, nil
}

// SaveWorkflow upserts a workflow definition.
func (s *SQLStore) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow == nil {
		return fmt.Errorf("workflow is required")
	}
	definition, err := marshalJSON(workflow)
	if err != nil {
		return fmt.Errorf("marshal workflow: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO workflows (id, name, definition, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			definition = excluded.definition
	`, workflow.ID, workflow.Name, definition, nullableString(workflow.CreatedBy), workflow.CreatedAt)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow by ID.
func (s *SQLStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	var definition []byte
	err := s.queryRow(ctx, `SELECT definition FROM workflows WHERE id = $1`, id).Scan(&definition)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	var workflow models.Workflow
	if err := unmarshalJSON(definition, &workflow); err != nil {
		return nil, fmt.Errorf("unmarshal workflow: %w", err)
	}
	return &workflow, nil
}

// ListWorkflows returns every workflow ordered by ID.
func (s *SQLStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.query(ctx, `SELECT definition FROM workflows ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		var definition []byte
		if err := rows.Scan(&definition); err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		var workflow models.Workflow
		if err := unmarshalJSON(definition, &workflow); err != nil {
			return nil, fmt.Errorf("unmarshal workflow: %w", err)
		}
		workflows = append(workflows, &workflow)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	return workflows, nil
}

// DeleteWorkflow deletes a workflow by ID.
func (s *SQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	return expectAffected(res)
}

// CreateWorkflowExecution inserts a workflow run record.
func (s *SQLStore) CreateWorkflowExecution(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec == nil {
		return fmt.Errorf("execution is required")
	}
	resultsJSON, err := marshalJSON(exec.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO workflow_executions (id, workflow_id, task_id, status, results, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		exec.ID,
		exec.WorkflowID,
		nullableString(exec.TaskID),
		string(exec.Status),
		resultsJSON,
		nullableString(exec.Error),
		exec.StartedAt,
		nullableTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("create workflow execution: %w", err)
	}
	return nil
}

// UpdateWorkflowExecution records the outcome of a workflow run.
func (s *SQLStore) UpdateWorkflowExecution(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec == nil {
		return fmt.Errorf("execution is required")
	}
	resultsJSON, err := marshalJSON(exec.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	res, err := s.exec(ctx, `
		UPDATE workflow_executions SET
			status = $2,
			results = $3,
			error = $4,
			completed_at = $5
		WHERE id = $1
	`,
		exec.ID,
		string(exec.Status),
		resultsJSON,
		nullableString(exec.Error),
		nullableTime(exec.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("update workflow execution: %w", err)
	}
	return expectAffected(res)
}

// ListWorkflowExecutions returns runs of a workflow, newest first.
func (s *SQLStore) ListWorkflowExecutions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	q := newListQuery(`
		SELECT id, workflow_id, task_id, status, results, error, started_at, completed_at
		FROM workflow_executions WHERE 1=1`)
	if workflowID != "" {
		q.where("workflow_id = $%d", workflowID)
	}
	q.orderLimit("started_at DESC", limit)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list workflow executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.WorkflowExecution
	for rows.Next() {
		var (
			exec        models.WorkflowExecution
			taskID      sql.NullString
			status      string
			resultsJSON []byte
			errMsg      sql.NullString
			completedAt sql.NullTime
		)
		if err := rows.Scan(&exec.ID, &exec.WorkflowID, &taskID, &status, &resultsJSON, &errMsg, &exec.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan workflow execution: %w", err)
		}
		exec.TaskID = taskID.String
		exec.Status = models.WorkflowExecutionStatus(status)
		exec.Error = errMsg.String
		exec.CompletedAt = timePtr(completedAt)
		if err := unmarshalJSON(resultsJSON, &exec.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
		executions = append(executions, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workflow executions: %w", err)
	}
	return executions, nil
}
