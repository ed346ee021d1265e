// Package service is the single entry point callers use to drive agent
// sessions: create a session, generate and approve a plan, execute it, and
// cancel. It also routes chat messages through the conversation state
// machine.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/foreman/internal/agent"
	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/conversation"
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/planner"
	"github.com/haasonsaas/foreman/internal/ratelimit"
	"github.com/haasonsaas/foreman/internal/sessions"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/internal/tools"
	"github.com/haasonsaas/foreman/pkg/models"
)

// DefaultListLimit is the page size of ListUserSessions.
const DefaultListLimit = 10

var (
	// ErrRateLimited is returned when a user generates plans too quickly.
	ErrRateLimited = errors.New("plan generation rate limited")
	// ErrPlanInvalid wraps the problems that keep a plan from being approved.
	ErrPlanInvalid = errors.New("invalid plan")
	// ErrUserNotFound is returned when the acting user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrSessionClosed is returned for changes to a completed or failed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSessionFinished is returned by HandleMessage for a completed or
	// failed session. Further requests need a new session.
	ErrSessionFinished = fmt.Errorf("%w, start a new session to continue", ErrSessionClosed)
	// ErrNoConversation is returned by HandleMessage without a state machine.
	ErrNoConversation = errors.New("conversation handling is not configured")
	// ErrAlreadyExecuting is returned when a session is found mid-execution
	// after its lock was acquired.
	ErrAlreadyExecuting = errors.New("session is already executing")
)

// Directory resolves users and projects.
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Executor runs a session's plan.
type Executor interface {
	Execute(ctx context.Context, session *models.AgentSession) (*models.AgentResult, error)
	Cancel(sessionID string)
}

var _ Executor = (*agent.Engine)(nil)

// SessionRecorder keeps executed sessions for later recall.
type SessionRecorder interface {
	Remember(ctx context.Context, session *models.AgentSession) error
}

// Service is the agent session facade.
type Service struct {
	sessions     storage.SessionStore
	directory    Directory
	registry     *tools.Registry
	engine       Executor
	planner      planner.Planner
	locker       sessions.Locker
	limiter      *ratelimit.Limiter
	machine      *conversation.Machine
	recorder     SessionRecorder
	integrations models.Integrations
	audit        *audit.Sink
	metrics      *observability.Metrics
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithPlanner sets the planner. The deterministic fallback planner is used
// when unset.
func WithPlanner(p planner.Planner) Option {
	return func(s *Service) {
		if p != nil {
			s.planner = p
		}
	}
}

// WithLocker sets the session ownership locker.
func WithLocker(l sessions.Locker) Option {
	return func(s *Service) {
		if l != nil {
			s.locker = l
		}
	}
}

// WithLimiter rate limits plan generation per user.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithConversation enables HandleMessage.
func WithConversation(m *conversation.Machine) Option {
	return func(s *Service) { s.machine = m }
}

// WithRecorder records every executed session.
func WithRecorder(r SessionRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithIntegrations sets which integrations new sessions may use.
func WithIntegrations(in models.Integrations) Option {
	return func(s *Service) { s.integrations = in }
}

func WithAudit(sink *audit.Sink) Option {
	return func(s *Service) { s.audit = sink }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a Service.
func New(store storage.SessionStore, directory Directory, registry *tools.Registry, engine Executor, opts ...Option) *Service {
	s := &Service{
		sessions:  store,
		directory: directory,
		registry:  registry,
		engine:    engine,
		locker:    sessions.NewLocalLocker(),
		logger:    slog.Default().With("component", "agent-service"),
		now:       time.Now,
		active:    map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.planner == nil {
		s.planner = planner.FallbackPlanner{Now: s.now}
	}
	return s
}

// CreateSession opens an idle session for userID, optionally scoped to a
// project. Permissions come from the user's role.
func (s *Service) CreateSession(ctx context.Context, userID, projectID string) (*models.AgentSession, error) {
	user, err := s.directory.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	sc := models.SessionContext{
		User:         models.UserRef{ID: user.ID, Email: user.Email, Name: user.Name, Role: user.Role},
		Integrations: s.integrations,
		Permissions:  tools.ScopesForRole(user.Role),
		Variables:    map[string]string{},
	}
	if projectID != "" {
		project, err := s.directory.GetProject(ctx, projectID)
		switch {
		case err == nil:
			sc.Project = &models.ProjectRef{
				ID:             project.ID,
				Title:          project.Title,
				SlackChannelID: project.SlackChannelID,
				DriveFolderID:  project.DriveFolderID,
			}
		case errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("session project not found", "project_id", projectID)
		default:
			return nil, fmt.Errorf("load project: %w", err)
		}
	}

	now := s.now()
	session := &models.AgentSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		ProjectID: projectID,
		State:     models.SessionIdle,
		Context:   sc,
		StartedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.metrics.RecordSessionState(string(models.SessionIdle))
	s.audit.LogSuccess(ctx, user.ID, audit.ActionSessionCreate, audit.TargetSession, session.ID, map[string]any{"projectId": projectID})
	s.logger.Info("session created", "session_id", session.ID, "user_id", user.ID)
	return session, nil
}

// GeneratePlan plans request for the session. The planner's output is
// normalized against the registry, validated for the session's context,
// and optimized before it is stored; a plan naming a tool that cannot run
// never reaches approval.
func (s *Service) GeneratePlan(ctx context.Context, sessionID, request string) (*models.Plan, error) {
	if strings.TrimSpace(request) == "" {
		return nil, errors.New("request is required")
	}
	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.State.CanTransition(models.SessionPlanning) {
		return nil, &agent.TransitionError{SessionID: sessionID, From: session.State, To: models.SessionPlanning}
	}
	if err := s.limiter.Check(session.UserID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	plan, err := s.planner.GeneratePlan(ctx, request, session.Context)
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	plan = planner.Normalize(plan, s.registry, request, s.now())
	if err := planner.Validate(plan, s.registry, session.Context); err != nil {
		s.logger.Warn("plan rejected", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPlanInvalid, err)
	}
	plan = planner.Optimize(plan)

	session.Plan = plan
	session.State = models.SessionPlanning
	session.UpdatedAt = s.now()
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	s.metrics.RecordSessionState(string(models.SessionPlanning))
	s.audit.LogSuccess(ctx, session.UserID, audit.ActionPlanGenerated, audit.TargetPlan, plan.ID, map[string]any{
		"sessionId": sessionID,
		"request":   request,
		"steps":     len(plan.Steps),
	})
	return plan, nil
}

// ApprovePlan stamps the session's plan as approved by userID and moves the
// session to awaiting_approval, the state between approval and execution.
func (s *Service) ApprovePlan(ctx context.Context, sessionID, userID string) error {
	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Plan == nil {
		return agent.ErrNoPlan
	}
	if len(session.Plan.Steps) == 0 {
		return fmt.Errorf("%w: plan has no steps to approve", ErrPlanInvalid)
	}
	if !session.State.CanTransition(models.SessionAwaitingApproval) {
		return &agent.TransitionError{SessionID: sessionID, From: session.State, To: models.SessionAwaitingApproval}
	}
	if err := planner.Validate(session.Plan, s.registry, session.Context); err != nil {
		return fmt.Errorf("%w: %w", ErrPlanInvalid, err)
	}

	session.Plan.Approve(userID, s.now())
	session.State = models.SessionAwaitingApproval
	session.UpdatedAt = s.now()
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("save approval: %w", err)
	}
	s.metrics.RecordSessionState(string(models.SessionAwaitingApproval))
	s.audit.LogSuccess(ctx, userID, audit.ActionPlanApproved, audit.TargetPlan, session.Plan.ID, map[string]any{"sessionId": sessionID})
	s.logger.Info("plan approved", "session_id", sessionID, "plan_id", session.Plan.ID, "approved_by", userID)
	return nil
}

// ExecutePlan runs the session's plan. Only one caller may execute a
// session at a time; others get sessions.ErrSessionBusy. The session is
// loaded under the lock, so a caller that waited behind a finished run sees
// it closed. Unapproved mutating steps fail with NEEDS_APPROVAL inside the
// result rather than being run.
func (s *Service) ExecutePlan(ctx context.Context, sessionID string) (*models.AgentResult, error) {
	if err := s.locker.TryAcquire(ctx, sessionID); err != nil {
		return nil, err
	}
	defer s.locker.Release(sessionID)

	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State == models.SessionExecuting {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExecuting, sessionID)
	}
	if session.Plan == nil || len(session.Plan.Steps) == 0 {
		return nil, agent.ErrNoPlan
	}

	s.mu.Lock()
	s.active[sessionID] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.active, sessionID)
		s.mu.Unlock()
	}()

	result, err := s.engine.Execute(ctx, session)
	if err == nil && s.recorder != nil {
		if rerr := s.recorder.Remember(context.WithoutCancel(ctx), session); rerr != nil {
			s.logger.Warn("failed to record session", "session_id", sessionID, "error", rerr)
		}
	}
	return result, err
}

// CancelSession stops a session. A running execution halts before its next
// step; the session ends failed with the cancellation reason. Cancelling a
// closed session is a no-op.
func (s *Service) CancelSession(ctx context.Context, sessionID string) error {
	if s.IsSessionActive(sessionID) {
		s.engine.Cancel(sessionID)
	}

	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.State.Terminal() {
		return nil
	}
	session.State = models.SessionFailed
	session.Error = agent.ErrCancelled.Error()
	session.UpdatedAt = s.now()
	if err := s.sessions.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("save cancellation: %w", err)
	}
	s.metrics.RecordSessionState(string(models.SessionFailed))
	s.audit.LogSuccess(ctx, session.UserID, audit.ActionSessionCancel, audit.TargetSession, sessionID, nil)
	s.logger.Info("session cancelled", "session_id", sessionID)
	return nil
}

// GetSession returns the stored session.
func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.AgentSession, error) {
	return s.sessions.GetSession(ctx, sessionID)
}

// ListUserSessions returns the user's sessions, newest first.
func (s *Service) ListUserSessions(ctx context.Context, userID string, limit int) ([]*models.AgentSession, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.sessions.ListSessions(ctx, storage.SessionFilter{UserID: userID, Limit: limit})
}

// ActiveSessionCount returns how many sessions this process is executing.
func (s *Service) ActiveSessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// IsSessionActive reports whether this process is executing sessionID.
func (s *Service) IsSessionActive(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[sessionID]
	return ok
}

// Tool returns a registered tool's description.
func (s *Service) Tool(name string) (tools.Info, bool) {
	for _, info := range s.registry.Infos(tools.ListOptions{}) {
		if info.Name == name {
			return info, true
		}
	}
	return tools.Info{}, false
}

func (s *Service) openSession(ctx context.Context, sessionID string) (*models.AgentSession, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session.State.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrSessionClosed, sessionID, session.State)
	}
	return session, nil
}
