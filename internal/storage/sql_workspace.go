package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/haasonsaas/foreman/pkg/models"
)

// AppendAudit inserts an audit entry.
func (s *SQLStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry == nil {
		return fmt.Errorf("audit entry is required")
	}
	payloadJSON, err := marshalJSON(entry.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.exec(ctx, `
		INSERT INTO audit_log (id, actor_id, actor_type, action, target_type, target_id, status, error, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		entry.ID,
		entry.ActorID,
		entry.ActorType,
		entry.Action,
		entry.TargetType,
		entry.TargetID,
		string(entry.Status),
		nullableString(entry.Error),
		payloadJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns matching audit entries, newest first.
func (s *SQLStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	q := newListQuery(`
		SELECT id, actor_id, actor_type, action, target_type, target_id, status, error, payload, created_at
		FROM audit_log WHERE 1=1`)
	if filter.ActorID != "" {
		q.where("actor_id = $%d", filter.ActorID)
	}
	if filter.TargetID != "" {
		q.where("target_id = $%d", filter.TargetID)
	}
	if filter.Action != "" {
		q.where("action = $%d", filter.Action)
	}
	q.orderLimit("created_at DESC", filter.Limit)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var (
			entry       models.AuditEntry
			status      string
			errMsg      sql.NullString
			payloadJSON []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ActorID, &entry.ActorType, &entry.Action, &entry.TargetType,
			&entry.TargetID, &status, &errMsg, &payloadJSON, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entry.Status = models.AuditStatus(status)
		entry.Error = errMsg.String
		if err := unmarshalJSON(payloadJSON, &entry.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return entries, nil
}

const projectColumns = `id, title, client_name, client_email, status, health, notes, pm_id, start_date, target_delivery,
	slack_channel_id, slack_channel_name, drive_folder_id, created_at, updated_at`

// CreateProject inserts a project.
func (s *SQLStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p == nil {
		return fmt.Errorf("project is required")
	}
	_, err := s.exec(ctx, `
		INSERT INTO projects (`+projectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		p.ID, p.Title, p.ClientName, nullableString(p.ClientEmail), p.Status, nullableString(p.Health),
		nullableString(p.Notes), nullableString(p.PMID), nullableTime(p.StartDate), nullableTime(p.TargetDelivery),
		nullableString(p.SlackChannelID), nullableString(p.SlackChannelName), nullableString(p.DriveFolderID),
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *SQLStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.queryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// UpdateProject replaces a project.
func (s *SQLStore) UpdateProject(ctx context.Context, p *models.Project) error {
	if p == nil {
		return fmt.Errorf("project is required")
	}
	res, err := s.exec(ctx, `
		UPDATE projects SET
			title = $2, client_name = $3, client_email = $4, status = $5, health = $6, notes = $7,
			pm_id = $8, start_date = $9, target_delivery = $10, slack_channel_id = $11,
			slack_channel_name = $12, drive_folder_id = $13, updated_at = $14
		WHERE id = $1
	`,
		p.ID, p.Title, p.ClientName, nullableString(p.ClientEmail), p.Status, nullableString(p.Health),
		nullableString(p.Notes), nullableString(p.PMID), nullableTime(p.StartDate), nullableTime(p.TargetDelivery),
		nullableString(p.SlackChannelID), nullableString(p.SlackChannelName), nullableString(p.DriveFolderID),
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return expectAffected(res)
}

// ListProjects returns matching projects, newest first.
func (s *SQLStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]*models.Project, error) {
	q := newListQuery(`SELECT ` + projectColumns + ` FROM projects WHERE 1=1`)
	if filter.Status != "" {
		q.where("status = $%d", filter.Status)
	}
	if filter.PMID != "" {
		q.where("pm_id = $%d", filter.PMID)
	}
	q.orderLimit("created_at DESC", filter.Limit)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// CountProjectsByPM returns the number of projects per PM.
func (s *SQLStore) CountProjectsByPM(ctx context.Context) (map[string]int, error) {
	rows, err := s.query(ctx, `SELECT pm_id, COUNT(*) FROM projects WHERE pm_id IS NOT NULL GROUP BY pm_id`)
	if err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var pmID string
		var n int
		if err := rows.Scan(&pmID, &n); err != nil {
			return nil, fmt.Errorf("scan project count: %w", err)
		}
		counts[pmID] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count projects: %w", err)
	}
	return counts, nil
}

func scanProject(sc scanner) (*models.Project, error) {
	var (
		p                                models.Project
		clientEmail, health, notes, pmID sql.NullString
		startDate, targetDelivery        sql.NullTime
		slackChannelID, slackChannelName sql.NullString
		driveFolderID                    sql.NullString
	)
	if err := sc.Scan(
		&p.ID, &p.Title, &p.ClientName, &clientEmail, &p.Status, &health, &notes, &pmID,
		&startDate, &targetDelivery, &slackChannelID, &slackChannelName, &driveFolderID,
		&p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.ClientEmail = clientEmail.String
	p.Health = health.String
	p.Notes = notes.String
	p.PMID = pmID.String
	p.StartDate = timePtr(startDate)
	p.TargetDelivery = timePtr(targetDelivery)
	p.SlackChannelID = slackChannelID.String
	p.SlackChannelName = slackChannelName.String
	p.DriveFolderID = driveFolderID.String
	return &p, nil
}

const taskColumns = `id, project_id, title, description, status, priority, assignee_id, estimated_hours, actual_hours,
	notes, due_date, created_at, updated_at`

// CreateTask inserts a project task.
func (s *SQLStore) CreateTask(ctx context.Context, t *models.Task) error {
	if t == nil {
		return fmt.Errorf("task is required")
	}
	_, err := s.exec(ctx, `
		INSERT INTO project_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		t.ID, t.ProjectID, t.Title, nullableString(t.Description), t.Status, t.Priority,
		nullableString(t.AssigneeID), t.EstimatedHours, t.ActualHours, nullableString(t.Notes),
		nullableTime(t.DueDate), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// GetTask retrieves a project task by ID.
func (s *SQLStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	row := s.queryRow(ctx, `SELECT `+taskColumns+` FROM project_tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// UpdateTask replaces a project task.
func (s *SQLStore) UpdateTask(ctx context.Context, t *models.Task) error {
	if t == nil {
		return fmt.Errorf("task is required")
	}
	res, err := s.exec(ctx, `
		UPDATE project_tasks SET
			title = $2, description = $3, status = $4, priority = $5, assignee_id = $6,
			estimated_hours = $7, actual_hours = $8, notes = $9, due_date = $10, updated_at = $11
		WHERE id = $1
	`,
		t.ID, t.Title, nullableString(t.Description), t.Status, t.Priority, nullableString(t.AssigneeID),
		t.EstimatedHours, t.ActualHours, nullableString(t.Notes), nullableTime(t.DueDate), t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return expectAffected(res)
}

// ListTasks returns matching project tasks, newest first.
func (s *SQLStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	q := newListQuery(`SELECT ` + taskColumns + ` FROM project_tasks WHERE 1=1`)
	if filter.ProjectID != "" {
		q.where("project_id = $%d", filter.ProjectID)
	}
	if filter.Status != "" {
		q.where("status = $%d", filter.Status)
	}
	if filter.AssigneeID != "" {
		q.where("assignee_id = $%d", filter.AssigneeID)
	}
	q.orderLimit("created_at DESC", filter.Limit)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(sc scanner) (*models.Task, error) {
	var (
		t                              models.Task
		description, assigneeID, notes sql.NullString
		estimated, actual              sql.NullFloat64
		dueDate                        sql.NullTime
	)
	if err := sc.Scan(
		&t.ID, &t.ProjectID, &t.Title, &description, &t.Status, &t.Priority, &assigneeID,
		&estimated, &actual, &notes, &dueDate, &t.CreatedAt, &t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	t.Description = description.String
	t.AssigneeID = assigneeID.String
	t.EstimatedHours = estimated.Float64
	t.ActualHours = actual.Float64
	t.Notes = notes.String
	t.DueDate = timePtr(dueDate)
	return &t, nil
}

// CreateUser inserts a user.
func (s *SQLStore) CreateUser(ctx context.Context, u *models.User) error {
	if u == nil {
		return fmt.Errorf("user is required")
	}
	_, err := s.exec(ctx, `
		INSERT INTO users (id, email, name, role, created_at) VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.Email, u.Name, string(u.Role), u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, email, name, role, created_at FROM users WHERE id = $1`, id)
}

// GetUserByEmail retrieves a user by email, case-insensitively.
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `SELECT id, email, name, role, created_at FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

func (s *SQLStore) getUser(ctx context.Context, query string, arg string) (*models.User, error) {
	var u models.User
	var role string
	err := s.queryRow(ctx, query, arg).Scan(&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

// ListUsers returns matching users ordered by name.
func (s *SQLStore) ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	q := newListQuery(`SELECT id, email, name, role, created_at FROM users WHERE 1=1`)
	if filter.Role != "" {
		q.where("role = $%d", string(filter.Role))
	}
	q.orderLimit("name ASC", filter.Limit)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var u models.User
		var role string
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = models.Role(role)
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CreateProjectUpdate inserts a project status update.
func (s *SQLStore) CreateProjectUpdate(ctx context.Context, u *models.ProjectUpdate) error {
	if u == nil {
		return fmt.Errorf("project update is required")
	}
	_, err := s.exec(ctx, `
		INSERT INTO project_updates (id, project_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5)
	`, u.ID, u.ProjectID, u.AuthorID, u.Body, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create project update: %w", err)
	}
	return nil
}

// ListProjectUpdates returns a project's updates, newest first.
func (s *SQLStore) ListProjectUpdates(ctx context.Context, projectID string, limit int) ([]*models.ProjectUpdate, error) {
	q := newListQuery(`SELECT id, project_id, author_id, body, created_at FROM project_updates WHERE 1=1`)
	q.where("project_id = $%d", projectID)
	q.orderLimit("created_at DESC", limit)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list project updates: %w", err)
	}
	defer rows.Close()

	var updates []*models.ProjectUpdate
	for rows.Next() {
		var u models.ProjectUpdate
		if err := rows.Scan(&u.ID, &u.ProjectID, &u.AuthorID, &u.Body, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project update: %w", err)
		}
		updates = append(updates, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list project updates: %w", err)
	}
	return updates, nil
}

// UpsertDocument inserts or replaces an indexed document.
func (s *SQLStore) UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	if doc == nil {
		return fmt.Errorf("document is required")
	}
	_, err := s.exec(ctx, `
		INSERT INTO knowledge_documents (id, project_id, content, indexed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			project_id = excluded.project_id,
			content = excluded.content,
			indexed_at = excluded.indexed_at
	`, doc.ID, nullableString(doc.ProjectID), doc.Content, doc.IndexedAt)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// ListDocuments returns indexed documents, optionally for one project.
func (s *SQLStore) ListDocuments(ctx context.Context, projectID string) ([]*models.KnowledgeDocument, error) {
	q := newListQuery(`SELECT id, project_id, content, indexed_at FROM knowledge_documents WHERE 1=1`)
	if projectID != "" {
		q.where("project_id = $%d", projectID)
	}
	q.orderLimit("id ASC", 0)

	rows, err := s.query(ctx, q.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*models.KnowledgeDocument
	for rows.Next() {
		var doc models.KnowledgeDocument
		var project sql.NullString
		if err := rows.Scan(&doc.ID, &project, &doc.Content, &doc.IndexedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		doc.ProjectID = project.String
		docs = append(docs, &doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}
