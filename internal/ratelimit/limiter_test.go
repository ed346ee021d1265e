package ratelimit

import (
	"errors"
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestLimiter_BurstThenRefill(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	l := New(DefaultConfig(), WithNow(c.now))

	for i := 0; i < 20; i++ {
		if err := l.Check("u1"); err != nil {
			t.Fatalf("request %d rejected: %v", i+1, err)
		}
	}
	err := l.Check("u1")
	var limited *LimitedError
	if !errors.As(err, &limited) || !errors.Is(err, ErrLimited) {
		t.Fatalf("err = %v, want LimitedError", err)
	}
	if limited.RetryAfter != 100*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 100ms", limited.RetryAfter)
	}

	if !l.Allow("u2") {
		t.Error("other users have their own bucket")
	}

	c.advance(100 * time.Millisecond)
	if !l.Allow("u1") {
		t.Error("one token should have refilled")
	}
	if l.Allow("u1") {
		t.Error("bucket should be empty again")
	}

	c.advance(time.Hour)
	if got := l.Remaining("u1"); got != 20 {
		t.Errorf("Remaining = %v, want capped at burst 20", got)
	}
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(Config{Enabled: false, RequestsPerSecond: 1, Burst: 1})
	for i := 0; i < 100; i++ {
		if !l.Allow("u") {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	var nilLimiter *Limiter
	if err := nilLimiter.Check("u"); err != nil {
		t.Errorf("nil limiter: %v", err)
	}
}

func TestLimiter_Defaults(t *testing.T) {
	l := New(Config{Enabled: true})
	if l.config.RequestsPerSecond != 10 || l.config.Burst != 20 {
		t.Errorf("config = %+v", l.config)
	}
}

func TestLimiter_ResetAndPrune(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	l := New(Config{Enabled: true, RequestsPerSecond: 1, Burst: 1}, WithNow(c.now), WithMaxKeys(2))

	l.Allow("a")
	l.Reset("a")
	if !l.Allow("a") {
		t.Error("reset key should start with a full bucket")
	}

	l.Allow("b")
	c.advance(10 * time.Second)
	l.Allow("c") // a and b have refilled and are pruned
	if len(l.buckets) != 1 {
		t.Errorf("buckets = %d, want 1 after pruning idle keys", len(l.buckets))
	}
}
