package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/retry"
	"github.com/haasonsaas/foreman/pkg/models"
)

// Writer persists audit entries.
type Writer interface {
	AppendAudit(ctx context.Context, entry *models.AuditEntry) error
}

// Config tunes the sink's queue.
type Config struct {
	// BufferSize bounds the async queue. Defaults to 1000.
	BufferSize int
	// WriteTimeout bounds a single store write including retries. Defaults to 5s.
	WriteTimeout time.Duration
	// Synchronous writes inline instead of through the queue.
	Synchronous bool
}

// DefaultConfig returns the default sink configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WriteTimeout: 5 * time.Second,
	}
}

// Option customizes a Sink.
type Option func(*Sink)

// WithLogger sets the logger used for fallback records.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sink) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(s *Sink) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetry overrides the store retry profile.
func WithRetry(opts retry.Options) Option {
	return func(s *Sink) { s.retry = opts }
}

// Sink is a best-effort, never-silent audit trail. A failed or saturated
// store never blocks the caller; the entry is logged locally instead.
type Sink struct {
	writer  Writer
	config  Config
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
	retry   retry.Options

	buffer chan *models.AuditEntry
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewSink creates a sink writing to w. A nil writer logs every entry locally.
func NewSink(w Writer, config Config, opts ...Option) *Sink {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	s := &Sink{
		writer: w,
		config: config,
		logger: slog.Default().With("component", "audit"),
		now:    time.Now,
		retry:  retry.Store(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if !config.Synchronous {
		s.buffer = make(chan *models.AuditEntry, config.BufferSize)
		s.wg.Add(1)
		go s.writeLoop()
	}
	return s
}

// LogSuccess records a successful action.
func (s *Sink) LogSuccess(ctx context.Context, actorID, action, targetType, targetID string, payload map[string]any) {
	s.Record(ctx, &models.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Status:     models.AuditSuccess,
		Payload:    payload,
	})
}

// LogFailure records a failed action.
func (s *Sink) LogFailure(ctx context.Context, actorID, action, targetType, targetID string, payload map[string]any, cause error) {
	entry := &models.AuditEntry{
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Status:     models.AuditFailure,
		Payload:    payload,
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	s.Record(ctx, entry)
}

// Record fills defaults and hands the entry to the writer. Safe on a nil Sink.
func (s *Sink) Record(ctx context.Context, entry *models.AuditEntry) {
	if s == nil || entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.ActorType == "" {
		entry.ActorType = ActorUser
		if entry.ActorID == "" {
			entry.ActorType = ActorSystem
		}
	}
	if traceID := observability.GetTraceID(ctx); traceID != "" {
		payload := make(map[string]any, len(entry.Payload)+1)
		for k, v := range entry.Payload {
			payload[k] = v
		}
		payload["trace_id"] = traceID
		entry.Payload = payload
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.buffer == nil {
		s.write(entry)
		return
	}
	select {
	case s.buffer <- entry:
	default:
		s.fallback(entry, "queue full", nil)
	}
}

// Close drains queued entries and stops the writer.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

func (s *Sink) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case entry := <-s.buffer:
			s.write(entry)
		case <-s.done:
			s.drain()
			return
		}
	}
}

func (s *Sink) drain() {
	for {
		select {
		case entry := <-s.buffer:
			s.write(entry)
		default:
			return
		}
	}
}

func (s *Sink) write(entry *models.AuditEntry) {
	if s.writer == nil {
		s.fallback(entry, "no store configured", nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.config.WriteTimeout)
	defer cancel()

	result := retry.Do(ctx, s.retry, func(ctx context.Context) error {
		return s.writer.AppendAudit(ctx, entry)
	})
	if result.Attempts > 1 {
		for i := 1; i < result.Attempts; i++ {
			s.metrics.RecordRetry(s.retry.Name)
		}
	}
	if result.Err != nil {
		s.fallback(entry, "store write failed", result.Err)
	}
}

func (s *Sink) fallback(entry *models.AuditEntry, reason string, err error) {
	s.metrics.RecordAuditFallback()
	attrs := []any{
		"reason", reason,
		"audit_id", entry.ID,
		"actor_id", entry.ActorID,
		"actor_type", entry.ActorType,
		"action", entry.Action,
		"target_type", entry.TargetType,
		"target_id", entry.TargetID,
		"status", string(entry.Status),
		"created_at", entry.CreatedAt.Format(time.RFC3339Nano),
	}
	if entry.Error != "" {
		attrs = append(attrs, "audit_error", entry.Error)
	}
	if len(entry.Payload) > 0 {
		attrs = append(attrs, "payload", entry.Payload)
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	s.logger.Warn("audit entry not persisted", attrs...)
}
