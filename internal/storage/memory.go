package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/haasonsaas/foreman/pkg/models"
)

// MemoryStore is an in-process Store. Records are copied on the way in and
// out so callers never share mutable state through it.
type MemoryStore struct {
	mu            sync.RWMutex
	sessions      map[string]*models.AgentSession
	conversations map[string]*models.ConversationState
	tasks         map[string]*models.ScheduledTask
	workflows     map[string]*models.Workflow
	executions    map[string]*models.WorkflowExecution
	audit         []*models.AuditEntry
	projects      map[string]*models.Project
	workItems     map[string]*models.Task
	users         map[string]*models.User
	updates       []*models.ProjectUpdate
	documents     map[string]*models.KnowledgeDocument
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]*models.AgentSession),
		conversations: make(map[string]*models.ConversationState),
		tasks:         make(map[string]*models.ScheduledTask),
		workflows:     make(map[string]*models.Workflow),
		executions:    make(map[string]*models.WorkflowExecution),
		projects:      make(map[string]*models.Project),
		workItems:     make(map[string]*models.Task),
		users:         make(map[string]*models.User),
		documents:     make(map[string]*models.KnowledgeDocument),
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.AgentSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return ErrAlreadyExists
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.AgentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, session *models.AgentSession) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; !exists {
		return ErrNotFound
	}
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*models.AgentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make(map[models.SessionState]struct{}, len(filter.States))
	for _, state := range filter.States {
		states[state] = struct{}{}
	}

	out := make([]*models.AgentSession, 0)
	for _, session := range s.sessions {
		if filter.UserID != "" && session.UserID != filter.UserID {
			continue
		}
		if len(states) > 0 {
			if _, ok := states[session.State]; !ok {
				continue
			}
		}
		if !filter.UpdatedBefore.IsZero() && !session.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, cloneSession(session))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneConversation(state), nil
}

func (s *MemoryStore) SaveConversation(ctx context.Context, state *models.ConversationState) error {
	if state == nil || state.ConversationID == "" {
		return fmt.Errorf("conversation state is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[state.ConversationID] = cloneConversation(state)
	return nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) CreateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return ErrAlreadyExists
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return task.Clone(), nil
}

func (s *MemoryStore) UpdateScheduledTask(ctx context.Context, task *models.ScheduledTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; !exists {
		return ErrNotFound
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

func (s *MemoryStore) DeleteScheduledTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[id]; !exists {
		return ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) ListScheduledTasks(ctx context.Context, filter ScheduledTaskFilter) ([]*models.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ScheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.Status != nil && task.Status != *filter.Status {
			continue
		}
		out = append(out, task.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRun.Before(out[j].NextRun)
	})
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if workflow == nil || workflow.ID == "" {
		return fmt.Errorf("workflow is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *workflow
	copied.Steps = append([]models.WorkflowStep(nil), workflow.Steps...)
	s.workflows[workflow.ID] = &copied
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workflow, ok := s.workflows[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *workflow
	copied.Steps = append([]models.WorkflowStep(nil), workflow.Steps...)
	return &copied, nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Workflow, 0, len(s.workflows))
	for _, workflow := range s.workflows {
		copied := *workflow
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return ErrNotFound
	}
	delete(s.workflows, id)
	return nil
}

func (s *MemoryStore) CreateWorkflowExecution(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; exists {
		return ErrAlreadyExists
	}
	copied := *exec
	s.executions[exec.ID] = &copied
	return nil
}

func (s *MemoryStore) UpdateWorkflowExecution(ctx context.Context, exec *models.WorkflowExecution) error {
	if exec == nil || exec.ID == "" {
		return fmt.Errorf("execution is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[exec.ID]; !exists {
		return ErrNotFound
	}
	copied := *exec
	s.executions[exec.ID] = &copied
	return nil
}

func (s *MemoryStore) ListWorkflowExecutions(ctx context.Context, workflowID string, limit int) ([]*models.WorkflowExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.WorkflowExecution, 0)
	for _, exec := range s.executions {
		if workflowID != "" && exec.WorkflowID != workflowID {
			continue
		}
		copied := *exec
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return limitSlice(out, limit), nil
}

func (s *MemoryStore) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry == nil || entry.ID == "" {
		return fmt.Errorf("audit entry is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *entry
	s.audit = append(s.audit, &copied)
	return nil
}

func (s *MemoryStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AuditEntry, 0)
	for i := len(s.audit) - 1; i >= 0; i-- {
		entry := s.audit[i]
		if filter.ActorID != "" && entry.ActorID != filter.ActorID {
			continue
		}
		if filter.TargetID != "" && entry.TargetID != filter.TargetID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		copied := *entry
		out = append(out, &copied)
	}
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) CreateProject(ctx context.Context, project *models.Project) error {
	if project == nil || project.ID == "" {
		return fmt.Errorf("project is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[project.ID]; exists {
		return ErrAlreadyExists
	}
	copied := *project
	s.projects[project.ID] = &copied
	return nil
}

func (s *MemoryStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	project, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *project
	return &copied, nil
}

func (s *MemoryStore) UpdateProject(ctx context.Context, project *models.Project) error {
	if project == nil || project.ID == "" {
		return fmt.Errorf("project is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[project.ID]; !exists {
		return ErrNotFound
	}
	copied := *project
	s.projects[project.ID] = &copied
	return nil
}

func (s *MemoryStore) ListProjects(ctx context.Context, filter ProjectFilter) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Project, 0)
	for _, project := range s.projects {
		if filter.Status != "" && project.Status != filter.Status {
			continue
		}
		if filter.PMID != "" && project.PMID != filter.PMID {
			continue
		}
		copied := *project
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) CountProjectsByPM(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, project := range s.projects {
		if project.PMID != "" {
			counts[project.PMID]++
		}
	}
	return counts, nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workItems[task.ID]; exists {
		return ErrAlreadyExists
	}
	copied := *task
	s.workItems[task.ID] = &copied
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.workItems[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *task
	return &copied, nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.workItems[task.ID]; !exists {
		return ErrNotFound
	}
	copied := *task
	s.workItems[task.ID] = &copied
	return nil
}

func (s *MemoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Task, 0)
	for _, task := range s.workItems {
		if filter.ProjectID != "" && task.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.AssigneeID != "" && task.AssigneeID != filter.AssigneeID {
			continue
		}
		copied := *task
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("user is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[user.ID]; exists {
		return ErrAlreadyExists
	}
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *user
	return &copied, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.users {
		if strings.EqualFold(user.Email, email) {
			copied := *user
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListUsers(ctx context.Context, filter UserFilter) ([]*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.User, 0)
	for _, user := range s.users {
		if filter.Role != "" && user.Role != filter.Role {
			continue
		}
		copied := *user
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return limitSlice(out, filter.Limit), nil
}

func (s *MemoryStore) CreateProjectUpdate(ctx context.Context, update *models.ProjectUpdate) error {
	if update == nil || update.ID == "" {
		return fmt.Errorf("project update is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *update
	s.updates = append(s.updates, &copied)
	return nil
}

func (s *MemoryStore) ListProjectUpdates(ctx context.Context, projectID string, limit int) ([]*models.ProjectUpdate, error) {
	out := s.ProjectUpdates(projectID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return limitSlice(out, limit), nil
}

// ProjectUpdates returns the updates posted on a project, oldest first.
func (s *MemoryStore) ProjectUpdates(projectID string) []*models.ProjectUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ProjectUpdate
	for _, update := range s.updates {
		if update.ProjectID == projectID {
			copied := *update
			out = append(out, &copied)
		}
	}
	return out
}

func (s *MemoryStore) UpsertDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *doc
	s.documents[doc.ID] = &copied
	return nil
}

func (s *MemoryStore) ListDocuments(ctx context.Context, projectID string) ([]*models.KnowledgeDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.KnowledgeDocument, 0)
	for _, doc := range s.documents {
		if projectID != "" && doc.ProjectID != projectID {
			continue
		}
		copied := *doc
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func limitSlice[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}

func cloneSession(session *models.AgentSession) *models.AgentSession {
	copied := *session
	copied.Plan = session.Plan.Clone()
	if session.Result != nil {
		result := *session.Result
		result.Steps = append([]models.StepResult(nil), session.Result.Steps...)
		copied.Result = &result
	}
	copied.Context.Permissions = append([]string(nil), session.Context.Permissions...)
	if session.Context.Project != nil {
		project := *session.Context.Project
		copied.Context.Project = &project
	}
	return &copied
}

func cloneConversation(state *models.ConversationState) *models.ConversationState {
	copied := *state
	copied.Entities = cloneStringMap(state.Entities)
	copied.WorkingMemory.AccumulatedEntities = cloneStringMap(state.WorkingMemory.AccumulatedEntities)
	if state.PendingConfirmation != nil {
		pending := *state.PendingConfirmation
		pending.Plan = state.PendingConfirmation.Plan.Clone()
		copied.PendingConfirmation = &pending
	}
	return &copied
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
