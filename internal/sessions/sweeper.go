package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/pkg/models"
)

// ExpiredMessage is the error set on swept sessions.
const ExpiredMessage = "Session expired due to inactivity"

// SweeperConfig configures expiry.
type SweeperConfig struct {
	// Expiry is how long a non-terminal session may sit without updates.
	Expiry time.Duration
	// Interval is the time between sweeps.
	Interval time.Duration
	// BatchSize bounds the sessions expired per sweep.
	BatchSize int
}

// DefaultSweeperConfig returns 24h expiry swept hourly.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Expiry: 24 * time.Hour, Interval: time.Hour, BatchSize: 500}
}

var activeStates = []models.SessionState{
	models.SessionIdle,
	models.SessionPlanning,
	models.SessionAwaitingApproval,
	models.SessionExecuting,
}

// Sweeper fails sessions that were abandoned before reaching a terminal
// state.
type Sweeper struct {
	store   storage.SessionStore
	locker  Locker
	config  SweeperConfig
	audit   *audit.Sink
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	started   chan struct{}
	stop      chan struct{}
	done     chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithAudit sets the audit sink.
func WithAudit(sink *audit.Sink) SweeperOption {
	return func(s *Sweeper) { s.audit = sink }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// WithLocker skips sessions currently held by an engine.
func WithLocker(l Locker) SweeperOption {
	return func(s *Sweeper) { s.locker = l }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithNow sets the clock.
func WithNow(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

// NewSweeper creates a Sweeper.
func NewSweeper(store storage.SessionStore, cfg SweeperConfig, opts ...SweeperOption) *Sweeper {
	defaults := DefaultSweeperConfig()
	if cfg.Expiry <= 0 {
		cfg.Expiry = defaults.Expiry
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	s := &Sweeper{
		store:  store,
		config: cfg,
		logger: slog.Default().With("component", "session-sweeper"),
		now:    time.Now,
		started: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps every interval until ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		close(s.started)
		go s.loop(ctx)
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("session sweep failed", "error", err)
			}
		}
	}
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	select {
	case <-s.started:
		<-s.done
	default:
	}
}

// Sweep expires stale sessions once and returns how many were expired.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.Expiry)
	stale, err := s.store.ListSessions(ctx, storage.SessionFilter{
		States:        activeStates,
		UpdatedBefore: cutoff,
		Limit:         s.config.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list stale sessions: %w", err)
	}

	expired := 0
	for _, session := range stale {
		if s.locker != nil {
			if err := s.locker.TryAcquire(ctx, session.ID); err != nil {
				continue
			}
		}
		err := s.expire(ctx, session)
		if s.locker != nil {
			s.locker.Release(session.ID)
		}
		if err != nil {
			s.logger.Warn("expire session", "session_id", session.ID, "error", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		s.logger.Info("expired inactive sessions", "count", expired)
	}
	return expired, nil
}

func (s *Sweeper) expire(ctx context.Context, session *models.AgentSession) error {
	previous := session.State
	session.State = models.SessionFailed
	session.Error = ExpiredMessage
	session.UpdatedAt = s.now()
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return err
	}
	s.metrics.RecordSessionState(string(models.SessionFailed))
	s.audit.LogSuccess(ctx, "", audit.ActionSessionExpired, audit.TargetSession, session.ID, map[string]any{
		"userId":        session.UserID,
		"previousState": string(previous),
	})
	return nil
}
