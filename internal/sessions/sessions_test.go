package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/haasonsaas/foreman/internal/audit"
	"github.com/haasonsaas/foreman/internal/observability"
	"github.com/haasonsaas/foreman/internal/storage"
	"github.com/haasonsaas/foreman/pkg/models"
)

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	if err := l.TryAcquire(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := l.TryAcquire(ctx, "s1"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("second acquire err = %v, want ErrSessionBusy", err)
	}
	if err := l.TryAcquire(ctx, "s2"); err != nil {
		t.Fatalf("other session: %v", err)
	}
	l.Release("s1")
	if l.Held("s1") {
		t.Error("s1 still held after release")
	}
	if err := l.TryAcquire(ctx, "s1"); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	if err := l.TryAcquire(ctx, " "); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestLocalLocker_Concurrent(t *testing.T) {
	l := NewLocalLocker()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.TryAcquire(context.Background(), "s") == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want exactly one owner", wins)
	}
}

func newDBLocker(t *testing.T) (*DBLocker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	locker, err := NewDBLocker(db, DBLockerConfig{OwnerID: "node-1", TTL: time.Minute, RefreshInterval: time.Hour})
	if err != nil {
		t.Fatalf("NewDBLocker: %v", err)
	}
	t.Cleanup(func() { locker.Close() })
	return locker, mock
}

func TestDBLocker_AcquireRelease(t *testing.T) {
	locker, mock := newDBLocker(t)

	mock.ExpectQuery("INSERT INTO session_locks").
		WithArgs("sess-1", "node-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow("node-1"))
	if err := locker.TryAcquire(context.Background(), "sess-1"); err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	mock.ExpectExec("DELETE FROM session_locks").
		WithArgs("sess-1", "node-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	locker.Release("sess-1")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDBLocker_Busy(t *testing.T) {
	locker, mock := newDBLocker(t)

	mock.ExpectQuery("INSERT INTO session_locks").
		WithArgs("sess-1", "node-1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))
	if err := locker.TryAcquire(context.Background(), "sess-1"); !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want ErrSessionBusy", err)
	}

	mock.ExpectQuery("INSERT INTO session_locks").
		WillReturnError(errors.New("connection reset"))
	if err := locker.TryAcquire(context.Background(), "sess-1"); err == nil || errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want a database error", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewDBLocker_Validation(t *testing.T) {
	if _, err := NewDBLocker(nil, DBLockerConfig{OwnerID: "x"}); err == nil {
		t.Error("expected error for nil db")
	}
	db, _, _ := sqlmock.New()
	defer db.Close()
	if _, err := NewDBLocker(db, DBLockerConfig{}); err == nil {
		t.Error("expected error for missing owner")
	}
}

type auditWriter struct {
	mu      sync.Mutex
	entries []*models.AuditEntry
}

func (w *auditWriter) AppendAudit(_ context.Context, e *models.AuditEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
	return nil
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStore()
	seed := []*models.AgentSession{
		{ID: "stale-planning", UserID: "u1", State: models.SessionPlanning, UpdatedAt: now.Add(-25 * time.Hour)},
		{ID: "stale-executing", UserID: "u1", State: models.SessionExecuting, UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: "busy", UserID: "u1", State: models.SessionExecuting, UpdatedAt: now.Add(-48 * time.Hour)},
		{ID: "fresh", UserID: "u1", State: models.SessionAwaitingApproval, UpdatedAt: now.Add(-time.Hour)},
		{ID: "done", UserID: "u1", State: models.SessionCompleted, UpdatedAt: now.Add(-72 * time.Hour)},
	}
	for _, s := range seed {
		if err := store.CreateSession(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	locker := NewLocalLocker()
	if err := locker.TryAcquire(ctx, "busy"); err != nil {
		t.Fatal(err)
	}
	writer := &auditWriter{}
	sink := audit.NewSink(writer, audit.Config{Synchronous: true})
	defer sink.Close()
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	sweeper := NewSweeper(store, SweeperConfig{}, WithNow(func() time.Time { return now }),
		WithLocker(locker), WithAudit(sink), WithMetrics(metrics))
	n, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expired = %d, want 2", n)
	}

	want := map[string]models.SessionState{
		"stale-planning":  models.SessionFailed,
		"stale-executing": models.SessionFailed,
		"busy":            models.SessionExecuting,
		"fresh":           models.SessionAwaitingApproval,
		"done":            models.SessionCompleted,
	}
	for id, state := range want {
		got, err := store.GetSession(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.State != state {
			t.Errorf("%s state = %s, want %s", id, got.State, state)
		}
		if state == models.SessionFailed && got.Error != ExpiredMessage {
			t.Errorf("%s error = %q", id, got.Error)
		}
	}
	if len(writer.entries) != 2 || writer.entries[0].Action != audit.ActionSessionExpired || writer.entries[0].ActorType != audit.ActorSystem {
		t.Errorf("audit entries = %+v", writer.entries)
	}
	if got := testutil.ToFloat64(metrics.Sessions.WithLabelValues(string(models.SessionFailed))); got != 2 {
		t.Errorf("failed transitions = %v, want 2", got)
	}
	if !locker.Held("busy") {
		t.Error("sweeper must not release a lock it did not take")
	}
}

func TestSweeper_StartStop(t *testing.T) {
	s := NewSweeper(storage.NewMemoryStore(), SweeperConfig{Interval: time.Millisecond})
	s.Stop() // before Start must not block

	s = NewSweeper(storage.NewMemoryStore(), SweeperConfig{Interval: time.Millisecond})
	s.Start(context.Background())
	time.Sleep(5 * time.Millisecond)
	s.Stop()
	s.Stop()
}
