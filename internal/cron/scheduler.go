// Package cron arms persisted scheduled tasks and fires them on their cron
// schedule. Armed tasks live in memory; Start re-arms every active task from
// the store so a restart loses no schedules.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/pkg/models"
)

// DefaultFailureThreshold is the number of consecutive failures that
// disables a task.
const DefaultFailureThreshold = 3

// DefaultListLimit bounds ListJobs when no limit is given.
const DefaultListLimit = 20

var (
	// ErrNotActive is returned by RunNow for paused or failed tasks.
	ErrNotActive = errors.New("scheduled task is not active")
	// ErrJobRunning is returned by RunNow while the task is firing.
	ErrJobRunning = errors.New("scheduled task is already running")
	// ErrNoTarget is returned when a task names neither a workflow nor an action.
	ErrNoTarget = errors.New("workflow id or action is required")
)

// Runner executes the work behind a scheduled task.
type Runner interface {
	Run(ctx context.Context, task *models.ScheduledTask) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, task *models.ScheduledTask) error

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, task *models.ScheduledTask) error {
	return f(ctx, task)
}

// JobSpec describes a new scheduled task.
type JobSpec struct {
	Name       string
	Cron       string
	Timezone   string
	WorkflowID string
	Action     string
	Params     map[string]any
	CreatedBy  string
}

// JobUpdate changes the non-nil fields of a task.
type JobUpdate struct {
	Name     *string
	Cron     *string
	Timezone *string
	Action   *string
	Params   map[string]any
}

// Scheduler fires scheduled tasks through a Runner.
type Scheduler struct {
	store     storage.ScheduledTaskStore
	runner    Runner
	logger    *slog.Logger
	audit     *audit.Sink
	metrics   *observability.Metrics
	now       func() time.Time
	location  *time.Location
	threshold int
	tick      time.Duration
	retry     retry.Options

	mu      sync.Mutex
	armed   map[string]time.Time
	running map[string]struct{}
	locks   map[string]*sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow overrides the clock for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval overrides how often due tasks are checked.
func WithTickInterval(interval time.Duration) Option {
	return func(s *Scheduler) {
		if interval > 0 {
			s.tick = interval
		}
	}
}

// WithLocation sets the zone for tasks without a timezone.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithFailureThreshold overrides DefaultFailureThreshold.
func WithFailureThreshold(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.threshold = n
		}
	}
}

// WithAudit records task changes and runs.
func WithAudit(sink *audit.Sink) Option {
	return func(s *Scheduler) { s.audit = sink }
}

// WithMetrics records runs and the armed job gauge.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithStoreRetry replaces the retry profile for task writes.
func WithStoreRetry(opts retry.Options) Option {
	return func(s *Scheduler) { s.retry = opts }
}

// NewScheduler creates a scheduler over store.
func NewScheduler(store storage.ScheduledTaskStore, runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:     store,
		runner:    runner,
		logger:    slog.Default().With("component", "cron"),
		now:       time.Now,
		location:  time.UTC,
		threshold: DefaultFailureThreshold,
		tick:      time.Second,
		retry:     retry.Store(),
		armed:     make(map[string]time.Time),
		running:   make(map[string]struct{}),
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob validates and persists a task, then arms it.
func (s *Scheduler) CreateJob(ctx context.Context, spec JobSpec) (*models.ScheduledTask, error) {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return nil, errors.New("job name is required")
	}
	if strings.TrimSpace(spec.WorkflowID) == "" && strings.TrimSpace(spec.Action) == "" {
		return nil, ErrNoTarget
	}
	sched, err := Parse(spec.Cron, spec.Timezone, s.location)
	if err != nil {
		return nil, err
	}
	now := s.now()
	task := &models.ScheduledTask{
		ID:         uuid.NewString(),
		Name:       name,
		Cron:       sched.Expr,
		Timezone:   strings.TrimSpace(spec.Timezone),
		NextRun:    sched.Next(now),
		Status:     models.TaskStatusActive,
		WorkflowID: strings.TrimSpace(spec.WorkflowID),
		Metadata: models.TaskMetadata{
			Action: strings.TrimSpace(spec.Action),
			Params: spec.Params,
		},
		CreatedBy: spec.CreatedBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateScheduledTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create scheduled task: %w", err)
	}
	s.arm(task.ID, task.NextRun)
	s.logger.Info("scheduled task created", "task_id", task.ID, "cron", task.Cron, "next_run", task.NextRun)
	s.audit.LogSuccess(ctx, spec.CreatedBy, audit.ActionScheduledChange, audit.TargetScheduledTask, task.ID, map[string]any{
		"op":   "create",
		"name": task.Name,
		"cron": task.Cron,
	})
	return task, nil
}

// UpdateJob applies update. Active tasks are re-armed on the new schedule.
func (s *Scheduler) UpdateJob(ctx context.Context, id string, update JobUpdate) (*models.ScheduledTask, error) {
	unlock := s.lockTask(id)
	defer unlock()
	s.disarm(id)
	task, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		s.rearm(ctx, id)
		return nil, err
	}
	if update.Name != nil {
		if strings.TrimSpace(*update.Name) == "" {
			s.rearmTask(task)
			return nil, errors.New("job name is required")
		}
		task.Name = strings.TrimSpace(*update.Name)
	}
	if update.Timezone != nil {
		task.Timezone = strings.TrimSpace(*update.Timezone)
	}
	if update.Cron != nil {
		task.Cron = *update.Cron
	}
	if update.Action != nil {
		task.Metadata.Action = strings.TrimSpace(*update.Action)
	}
	if update.Params != nil {
		task.Metadata.Params = update.Params
	}
	sched, err := Parse(task.Cron, task.Timezone, s.location)
	if err != nil {
		s.rearm(ctx, id)
		return nil, err
	}
	now := s.now()
	task.Cron = sched.Expr
	task.NextRun = sched.Next(now)
	task.UpdatedAt = now
	if err := s.persist(ctx, task); err != nil {
		s.rearm(ctx, id)
		return nil, err
	}
	s.rearmTask(task)
	s.audit.LogSuccess(ctx, "", audit.ActionScheduledChange, audit.TargetScheduledTask, task.ID, map[string]any{
		"op":   "update",
		"cron": task.Cron,
	})
	return task, nil
}

// Pause stops a task from firing.
func (s *Scheduler) Pause(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.TaskStatusPaused, "pause")
}

// Resume re-activates a paused or failed task and clears its failures.
func (s *Scheduler) Resume(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, models.TaskStatusActive, "resume")
}

func (s *Scheduler) setStatus(ctx context.Context, id string, status models.TaskStatus, op string) error {
	unlock := s.lockTask(id)
	defer unlock()
	s.disarm(id)
	task, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return err
	}
	now := s.now()
	task.Status = status
	task.UpdatedAt = now
	if status == models.TaskStatusActive {
		sched, err := Parse(task.Cron, task.Timezone, s.location)
		if err != nil {
			return err
		}
		task.NextRun = sched.Next(now)
		task.Metadata.Failures = 0
		task.Metadata.LastError = ""
	}
	if err := s.persist(ctx, task); err != nil {
		return err
	}
	s.rearmTask(task)
	s.logger.Info("scheduled task "+op+"d", "task_id", id)
	s.audit.LogSuccess(ctx, "", audit.ActionScheduledChange, audit.TargetScheduledTask, id, map[string]any{"op": op})
	return nil
}

// Delete deschedules and removes a task.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	unlock := s.lockTask(id)
	defer unlock()
	s.disarm(id)
	if err := s.store.DeleteScheduledTask(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.locks, id)
	s.mu.Unlock()
	s.audit.LogSuccess(ctx, "", audit.ActionScheduledChange, audit.TargetScheduledTask, id, map[string]any{"op": "delete"})
	return nil
}

// GetJob returns a task.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*models.ScheduledTask, error) {
	return s.store.GetScheduledTask(ctx, id)
}

// ListJobs returns tasks ordered by next run. A nil status lists all.
func (s *Scheduler) ListJobs(ctx context.Context, status *models.TaskStatus, limit int) ([]*models.ScheduledTask, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.ListScheduledTasks(ctx, storage.ScheduledTaskFilter{Status: status, Limit: limit})
}

// IsScheduled reports whether the task is armed.
func (s *Scheduler) IsScheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.armed[id]
	return ok
}

// Armed returns the number of armed tasks.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.armed)
}

// Start re-arms active tasks from the store and checks for due tasks
// every tick until ctx is done or Shutdown is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	n, err := s.rehydrate(ctx)
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return err
	}
	s.logger.Info("scheduler started", "active_tasks", n)

	loopCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.dispatchDue(loopCtx, nil)
			}
		}
	}()
	return nil
}

// Shutdown stops the loop, waits for in-flight runs and disarms every task.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.armed = make(map[string]time.Time)
	s.mu.Unlock()
	s.metrics.SetArmedJobs(0)
	s.logger.Info("scheduler shut down")
	return nil
}

// RunDue fires every armed task whose next run has passed and waits for
// them to finish. It returns the number fired.
func (s *Scheduler) RunDue(ctx context.Context) int {
	var wg sync.WaitGroup
	n := s.dispatchDue(ctx, &wg)
	wg.Wait()
	return n
}

// RunNow fires an active task immediately without moving its next run.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	if !s.claim(id) {
		return ErrJobRunning
	}
	defer s.unclaim(id)
	return s.fire(ctx, id, true)
}

func (s *Scheduler) rehydrate(ctx context.Context) (int, error) {
	status := models.TaskStatusActive
	tasks, err := s.store.ListScheduledTasks(ctx, storage.ScheduledTaskFilter{Status: &status})
	if err != nil {
		return 0, fmt.Errorf("load active tasks: %w", err)
	}
	now := s.now()
	for _, task := range tasks {
		if !task.NextRun.After(now) {
			// Missed firings while down are not replayed.
			sched, err := Parse(task.Cron, task.Timezone, s.location)
			if err != nil {
				s.logger.Warn("skipping task with invalid schedule", "task_id", task.ID, "error", err)
				continue
			}
			task.NextRun = sched.Next(now)
			task.UpdatedAt = now
			if err := s.persist(ctx, task); err != nil {
				s.logger.Warn("failed to persist next run", "task_id", task.ID, "error", err)
			}
		}
		s.arm(task.ID, task.NextRun)
	}
	return len(tasks), nil
}

func (s *Scheduler) dispatchDue(ctx context.Context, wg *sync.WaitGroup) int {
	now := s.now()
	s.mu.Lock()
	var due []string
	for id, next := range s.armed {
		if next.After(now) {
			continue
		}
		if _, busy := s.running[id]; busy {
			continue
		}
		s.running[id] = struct{}{}
		due = append(due, id)
	}
	s.mu.Unlock()

	for _, id := range due {
		s.wg.Add(1)
		if wg != nil {
			wg.Add(1)
		}
		go func(id string) {
			defer s.wg.Done()
			if wg != nil {
				defer wg.Done()
			}
			defer s.unclaim(id)
			if err := s.fire(ctx, id, false); err != nil {
				s.logger.Warn("scheduled task failed", "task_id", id, "error", err)
			}
		}(id)
	}
	return len(due)
}

// fire reloads the task, records lastRun/nextRun, runs it, then records
// the outcome. Runs never overlap for one task.
func (s *Scheduler) fire(ctx context.Context, id string, manual bool) error {
	task, err := s.begin(ctx, id, manual)
	if err != nil || task == nil {
		return err
	}
	runErr := s.run(ctx, task)
	s.recordOutcome(ctx, id, task, runErr)
	return runErr
}

// begin claims a firing under the task lock, so a concurrent Pause, Update
// or Delete either lands before the reload or after the task is re-armed.
// A nil task means there is nothing to run.
func (s *Scheduler) begin(ctx context.Context, id string, manual bool) (*models.ScheduledTask, error) {
	unlock := s.lockTask(id)
	defer unlock()

	task, err := s.store.GetScheduledTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		s.disarm(id)
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load scheduled task: %w", err)
	}
	if task.Status != models.TaskStatusActive {
		s.disarm(id)
		if manual {
			return nil, ErrNotActive
		}
		return nil, nil
	}

	now := s.now()
	if !manual {
		sched, err := Parse(task.Cron, task.Timezone, s.location)
		if err != nil {
			return nil, s.disable(ctx, task, err)
		}
		task.NextRun = sched.Next(now)
	}
	task.LastRun = &now
	task.UpdatedAt = now
	if err := s.persist(ctx, task); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.disarm(id)
			return nil, err
		}
		// Keep the in-memory schedule moving so a store outage does not
		// turn into a tight re-fire loop.
		s.arm(id, task.NextRun)
		return nil, err
	}
	s.arm(id, task.NextRun)
	return task, nil
}

func (s *Scheduler) run(ctx context.Context, task *models.ScheduledTask) (err error) {
	if s.runner == nil {
		return errors.New("no runner configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled task panicked: %v", r)
		}
	}()
	return s.runner.Run(ctx, task.Clone())
}

func (s *Scheduler) recordOutcome(ctx context.Context, id string, fired *models.ScheduledTask, runErr error) {
	if runErr != nil && errors.Is(runErr, context.Canceled) && ctx.Err() != nil {
		// Interrupted by shutdown, not a failure of the task.
		s.logger.Info("scheduled run interrupted", "task_id", id)
		s.metrics.RecordSchedulerRun("interrupted")
		return
	}
	ctx = context.WithoutCancel(ctx)
	unlock := s.lockTask(id)
	defer unlock()

	// Apply the outcome to the latest row so a concurrent pause survives.
	task, err := s.store.GetScheduledTask(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		task = fired
	}

	payload := map[string]any{"name": task.Name}
	if runErr == nil {
		task.Metadata.Failures = 0
		task.Metadata.LastError = ""
		if err := s.persist(ctx, task); err != nil {
			s.logger.Error("failed to record scheduled run", "task_id", id, "error", err)
		}
		s.metrics.RecordSchedulerRun("success")
		s.audit.LogSuccess(ctx, "", audit.ActionScheduledRun, audit.TargetScheduledTask, id, payload)
		return
	}

	task.Metadata.Failures++
	task.Metadata.LastError = runErr.Error()
	task.UpdatedAt = s.now()
	status := "failure"
	if task.Metadata.Failures >= s.threshold && task.Status == models.TaskStatusActive {
		s.disarm(id)
		task.Status = models.TaskStatusFailed
		status = "disabled"
		s.logger.Warn("scheduled task disabled after repeated failures", "task_id", id, "failures", task.Metadata.Failures)
	}
	if err := s.persist(ctx, task); err != nil {
		s.logger.Error("failed to record scheduled failure", "task_id", id, "error", err)
	}
	s.metrics.RecordSchedulerRun(status)
	payload["failures"] = task.Metadata.Failures
	payload["status"] = string(task.Status)
	s.audit.LogFailure(ctx, "", audit.ActionScheduledRun, audit.TargetScheduledTask, id, payload, runErr)
}

// disable fails a task whose stored schedule no longer parses.
func (s *Scheduler) disable(ctx context.Context, task *models.ScheduledTask, cause error) error {
	s.disarm(task.ID)
	task.Status = models.TaskStatusFailed
	task.Metadata.LastError = cause.Error()
	task.UpdatedAt = s.now()
	if err := s.persist(ctx, task); err != nil {
		s.logger.Error("failed to disable scheduled task", "task_id", task.ID, "error", err)
	}
	s.metrics.RecordSchedulerRun("disabled")
	return cause
}

func (s *Scheduler) persist(ctx context.Context, task *models.ScheduledTask) error {
	opts := s.retry
	opts.OnRetry = func(attempt int, err error) {
		s.metrics.RecordRetry(opts.Name)
		s.logger.Warn("retrying scheduled task write", "task_id", task.ID, "attempt", attempt, "error", err)
	}
	res := retry.Do(ctx, opts, func(ctx context.Context) error {
		return s.store.UpdateScheduledTask(ctx, task)
	})
	if res.Err != nil {
		return fmt.Errorf("update scheduled task %s: %w", task.ID, res.Err)
	}
	return nil
}

func (s *Scheduler) rearm(ctx context.Context, id string) {
	task, err := s.store.GetScheduledTask(ctx, id)
	if err != nil {
		return
	}
	s.rearmTask(task)
}

func (s *Scheduler) rearmTask(task *models.ScheduledTask) {
	if task.Status == models.TaskStatusActive {
		s.arm(task.ID, task.NextRun)
	}
}

func (s *Scheduler) arm(id string, next time.Time) {
	s.mu.Lock()
	s.armed[id] = next
	n := len(s.armed)
	s.mu.Unlock()
	s.metrics.SetArmedJobs(n)
}

func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	delete(s.armed, id)
	n := len(s.armed)
	s.mu.Unlock()
	s.metrics.SetArmedJobs(n)
}

// lockTask serializes changes to one task's row and arming.
func (s *Scheduler) lockTask(id string) (unlock func()) {
	s.mu.Lock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	s.mu.Unlock()
	mu.Lock()
	return mu.Unlock
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) unclaim(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}
