package storage

import "strings"

const schemaTemplate = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	project_id TEXT,
	state TEXT NOT NULL,
	plan TEXT,
	result TEXT,
	context TEXT,
	error TEXT,
	started_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_user ON agent_sessions (user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_agent_sessions_state ON agent_sessions (state, updated_at);

CREATE TABLE IF NOT EXISTS session_locks (
	session_id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	acquired_at {{ts}} NOT NULL,
	expires_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS conversation_states (
	id TEXT PRIMARY KEY,
	phase TEXT NOT NULL,
	state TEXT NOT NULL,
	updated_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduled_tasks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron TEXT NOT NULL,
	timezone TEXT,
	next_run {{ts}} NOT NULL,
	last_run {{ts}},
	status TEXT NOT NULL,
	workflow_id TEXT,
	metadata TEXT,
	created_by TEXT NOT NULL,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_tasks_status ON scheduled_tasks (status, next_run);

CREATE TABLE IF NOT EXISTS workflows (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	definition TEXT NOT NULL,
	created_by TEXT,
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id TEXT PRIMARY KEY,
	workflow_id TEXT NOT NULL,
	task_id TEXT,
	status TEXT NOT NULL,
	results TEXT,
	error TEXT,
	started_at {{ts}} NOT NULL,
	completed_at {{ts}}
);
CREATE INDEX IF NOT EXISTS idx_workflow_executions_workflow ON workflow_executions (workflow_id, started_at);

CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	actor_id TEXT NOT NULL,
	actor_type TEXT NOT NULL,
	action TEXT NOT NULL,
	target_type TEXT NOT NULL,
	target_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT,
	payload TEXT,
	created_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_actor ON audit_log (actor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_log_target ON audit_log (target_id, created_at);

CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	role TEXT NOT NULL,
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	client_name TEXT NOT NULL,
	client_email TEXT,
	status TEXT NOT NULL,
	health TEXT,
	notes TEXT,
	pm_id TEXT,
	start_date {{ts}},
	target_delivery {{ts}},
	slack_channel_id TEXT,
	slack_channel_name TEXT,
	drive_folder_id TEXT,
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_projects_pm ON projects (pm_id);

CREATE TABLE IF NOT EXISTS project_tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	priority TEXT NOT NULL,
	assignee_id TEXT,
	estimated_hours {{float}},
	actual_hours {{float}},
	notes TEXT,
	due_date {{ts}},
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_project_tasks_project ON project_tasks (project_id, status);

CREATE TABLE IF NOT EXISTS project_updates (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at {{ts}} NOT NULL
);

CREATE TABLE IF NOT EXISTS knowledge_documents (
	id TEXT PRIMARY KEY,
	project_id TEXT,
	content TEXT NOT NULL,
	indexed_at {{ts}} NOT NULL
);
`

func schemaStatements(dialect Dialect) []string {
	ts, float := "TIMESTAMPTZ", "DOUBLE PRECISION"
	if dialect == DialectSQLite {
		ts, float = "TIMESTAMP", "REAL"
	}
	ddl := strings.NewReplacer("{{ts}}", ts, "{{float}}", float).Replace(schemaTemplate)

	var stmts []string
	for _, stmt := range strings.Split(ddl, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}
