// Package backoff computes exponential backoff delays with jitter.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// Initial is the base delay before the first retry.
	Initial time.Duration
	// Max caps every computed delay.
	Max time.Duration
	// Factor is the exponential multiplier applied per attempt.
	Factor float64
}

// Compute returns the delay to wait after the given failed attempt.
// The formula is min(max, initial * factor^(attempt-1) * jitter) with
// jitter drawn uniformly from [0.5, 1.0). Attempt numbers start at 1.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand is Compute with a caller-provided random value in [0.0, 1.0).
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	factor := policy.Factor
	if factor <= 0 {
		factor = 1
	}

	base := float64(policy.Initial) * math.Pow(factor, exp)
	jitter := 0.5 + 0.5*clampUnit(randomValue)
	total := base * jitter

	if policy.Max > 0 {
		total = math.Min(float64(policy.Max), total)
	}
	return time.Duration(math.Round(total))
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v >= 1:
		return math.Nextafter(1, 0)
	default:
		return v
	}
}

// NetworkPolicy is tuned for connection, gateway and rate-limit failures.
// Initial: 500ms, Max: 15s, Factor: 1.5
func NetworkPolicy() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     15 * time.Second,
		Factor:  1.5,
	}
}

// StorePolicy is tuned for lock and connection-pool contention.
// Initial: 100ms, Max: 2s, Factor: 2
func StorePolicy() Policy {
	return Policy{
		Initial: 100 * time.Millisecond,
		Max:     2 * time.Second,
		Factor:  2,
	}
}
