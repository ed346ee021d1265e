// Package sessions enforces exclusive ownership of agent sessions while they
// execute and expires sessions that were abandoned mid-flight.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/haasonsaas/foreman/internal/storage"
)

// ErrSessionBusy is returned when another engine already drives the session.
var ErrSessionBusy = errors.New("session is already executing")

// Locker grants one owner at a time per session.
type Locker interface {
	TryAcquire(ctx context.Context, sessionID string) error
	Release(sessionID string)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryAcquire takes the session or fails with ErrSessionBusy without waiting.
func (l *LocalLocker) TryAcquire(_ context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[sessionID]; ok {
		return ErrSessionBusy
	}
	l.held[sessionID] = struct{}{}
	return nil
}

// Release frees the session.
func (l *LocalLocker) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, sessionID)
}

// Held reports whether the session is currently owned.
func (l *LocalLocker) Held(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[sessionID]
	return ok
}

// DBLockerConfig configures the lease locker.
type DBLockerConfig struct {
	OwnerID         string
	Dialect         storage.Dialect
	TTL             time.Duration
	RefreshInterval time.Duration
}

// DefaultDBLockerConfig returns default lease settings.
func DefaultDBLockerConfig() DBLockerConfig {
	return DBLockerConfig{
		Dialect:         storage.DialectPostgres,
		TTL:             2 * time.Minute,
		RefreshInterval: 30 * time.Second,
	}
}

// DBLocker holds session leases in the session_locks table so several
// processes sharing a database never execute the same session. Held leases
// are renewed in the background until released; a crashed owner's lease
// expires after TTL.
type DBLocker struct {
	db     *sql.DB
	config DBLockerConfig
	logger *slog.Logger

	mu     sync.Mutex
	renew  map[string]context.CancelFunc
	closed bool
}

// NewDBLocker creates a DBLocker.
func NewDBLocker(db *sql.DB, cfg DBLockerConfig) (*DBLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if cfg.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	defaults := DefaultDBLockerConfig()
	if cfg.Dialect == "" {
		cfg.Dialect = defaults.Dialect
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	return &DBLocker{
		db:     db,
		config: cfg,
		logger: slog.Default().With("component", "session-locker"),
		renew:  make(map[string]context.CancelFunc),
	}, nil
}

// TryAcquire takes the lease or fails with ErrSessionBusy if another owner
// holds an unexpired one.
func (l *DBLocker) TryAcquire(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	now := time.Now()
	var owner string
	err := l.db.QueryRowContext(ctx, storage.Rebind(l.config.Dialect, `
		INSERT INTO session_locks (session_id, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET owner_id = excluded.owner_id,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE session_locks.expires_at < $3
		RETURNING owner_id
	`), sessionID, l.config.OwnerID, now, now.Add(l.config.TTL)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionBusy
	}
	if err != nil {
		return err
	}
	if owner != l.config.OwnerID {
		return ErrSessionBusy
	}
	l.startRenew(sessionID)
	return nil
}

// Release drops the lease. Failures are logged; the lease then lapses
// after TTL.
func (l *DBLocker) Release(sessionID string) {
	l.stopRenew(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.db.ExecContext(ctx, storage.Rebind(l.config.Dialect, `
		DELETE FROM session_locks
		WHERE session_id = $1 AND owner_id = $2
	`), sessionID, l.config.OwnerID); err != nil {
		l.logger.Warn("release session lease", "session_id", sessionID, "error", err)
	}
}

// Close stops all renewals.
func (l *DBLocker) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, cancel := range l.renew {
		cancel()
	}
	l.renew = make(map[string]context.CancelFunc)
	return nil
}

func (l *DBLocker) startRenew(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if _, ok := l.renew[sessionID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.renew[sessionID] = cancel
	go l.renewLoop(ctx, sessionID)
}

func (l *DBLocker) stopRenew(sessionID string) {
	l.mu.Lock()
	cancel, ok := l.renew[sessionID]
	delete(l.renew, sessionID)
	l.mu.Unlock()
	if ok {
		cancel()
	}
}

func (l *DBLocker) renewLoop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.extend(ctx, sessionID) {
				l.logger.Warn("session lease lost", "session_id", sessionID)
				l.stopRenew(sessionID)
				return
			}
		}
	}
}

func (l *DBLocker) extend(ctx context.Context, sessionID string) bool {
	res, err := l.db.ExecContext(ctx, storage.Rebind(l.config.Dialect, `
		UPDATE session_locks
		SET expires_at = $1
		WHERE session_id = $2 AND owner_id = $3
	`), time.Now().Add(l.config.TTL), sessionID, l.config.OwnerID)
	if err != nil {
		return false
	}
	rows, err := res.RowsAffected()
	return err == nil && rows > 0
}
