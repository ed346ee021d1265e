package backoff

import (
	"context"
	"testing"
	"time"
)

func TestSleepWithContext_Completes(t *testing.T) {
	start := time.Now()

	err := SleepWithContext(context.Background(), 30*time.Millisecond)

	if err != nil {
		t.Errorf("SleepWithContext() error = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("SleepWithContext() completed too quickly: %v", elapsed)
	}
}

func TestSleepWithContext_NonPositiveDuration(t *testing.T) {
	for _, d := range []time.Duration{0, -100 * time.Millisecond} {
		start := time.Now()
		if err := SleepWithContext(context.Background(), d); err != nil {
			t.Errorf("SleepWithContext(%v) error = %v, want nil", d, err)
		}
		if elapsed := time.Since(start); elapsed > 10*time.Millisecond {
			t.Errorf("SleepWithContext(%v) took too long: %v", d, elapsed)
		}
	}
}

func TestSleepWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := SleepWithContext(ctx, 500*time.Millisecond)

	if err != context.Canceled {
		t.Errorf("SleepWithContext() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("SleepWithContext() did not cancel quickly: %v", elapsed)
	}
}

func TestSleepWithContext_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := SleepWithContext(ctx, 0); err != context.Canceled {
		t.Errorf("SleepWithContext() error = %v, want context.Canceled", err)
	}
}

func TestSleepWithBackoff(t *testing.T) {
	policy := Policy{Initial: 20 * time.Millisecond, Max: time.Second, Factor: 2}

	start := time.Now()
	err := SleepWithBackoff(context.Background(), policy, 1)
	elapsed := time.Since(start)

	if err != nil {
		t.Errorf("SleepWithBackoff() error = %v, want nil", err)
	}
	// [10ms, 20ms) plus timer slack
	if elapsed < 9*time.Millisecond || elapsed > 100*time.Millisecond {
		t.Errorf("SleepWithBackoff() elapsed = %v", elapsed)
	}
}
