package backoff

import (
	"testing"
	"time"
)

func TestComputeWithRand(t *testing.T) {
	tests := []struct {
		name        string
		policy      Policy
		attempt     int
		randomValue float64
		expected    time.Duration
	}{
		{
			name:        "first attempt at minimum jitter",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2},
			attempt:     1,
			randomValue: 0,
			expected:    50 * time.Millisecond,
		},
		{
			name:        "first attempt at mid jitter",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2},
			attempt:     1,
			randomValue: 0.5,
			expected:    75 * time.Millisecond,
		},
		{
			name:        "third attempt quadruples",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: 10 * time.Second, Factor: 2},
			attempt:     3,
			randomValue: 0,
			// base = 400ms, jitter 0.5
			expected: 200 * time.Millisecond,
		},
		{
			name:        "factor 1.5",
			policy:      Policy{Initial: 500 * time.Millisecond, Max: 15 * time.Second, Factor: 1.5},
			attempt:     3,
			randomValue: 0,
			// base = 500 * 2.25 = 1125ms, jitter 0.5
			expected: 562500 * time.Microsecond,
		},
		{
			name:        "clamped to max",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: 2 * time.Second, Factor: 2},
			attempt:     10,
			randomValue: 0.9,
			expected:    2 * time.Second,
		},
		{
			name:        "attempt 0 treated as 1",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2},
			attempt:     0,
			randomValue: 0,
			expected:    50 * time.Millisecond,
		},
		{
			name:        "zero factor does not grow",
			policy:      Policy{Initial: 100 * time.Millisecond, Max: time.Second},
			attempt:     4,
			randomValue: 0,
			expected:    50 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeWithRand(tt.policy, tt.attempt, tt.randomValue)
			if got != tt.expected {
				t.Errorf("ComputeWithRand() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestCompute_JitterRange(t *testing.T) {
	policy := NetworkPolicy()

	// attempt 2: base = 750ms, range [375ms, 750ms)
	minExpected := 375 * time.Millisecond
	maxExpected := 750 * time.Millisecond

	for i := 0; i < 200; i++ {
		got := Compute(policy, 2)
		if got < minExpected || got >= maxExpected {
			t.Fatalf("Compute() = %v, want in [%v, %v)", got, minExpected, maxExpected)
		}
	}
}

func TestPresetPolicies(t *testing.T) {
	network := NetworkPolicy()
	if network.Initial != 500*time.Millisecond || network.Max != 15*time.Second || network.Factor != 1.5 {
		t.Errorf("NetworkPolicy() = %+v", network)
	}

	store := StorePolicy()
	if store.Initial != 100*time.Millisecond || store.Max != 2*time.Second || store.Factor != 2 {
		t.Errorf("StorePolicy() = %+v", store)
	}
}
