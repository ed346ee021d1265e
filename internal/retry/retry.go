// Package retry runs operations with exponential backoff, retrying only
// errors that match a profile's retryable classes.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/foreman/internal/backoff"
)

// Options configures one retry profile.
type Options struct {
	// Name identifies the profile in logs and metrics.
	Name string
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// Policy computes the delay between attempts.
	Policy backoff.Policy
	// Retryable lists error classes matched against an error's code,
	// status and message. Empty means only explicitly classified errors retry.
	Retryable []string
	// OnRetry fires before each sleep with the failed attempt number.
	OnRetry func(attempt int, err error)
	// Sleep overrides the wait between attempts.
	Sleep backoff.SleepFunc
}

// Network profile: 5 attempts, 500ms initial, 15s max, 1.5x.
func Network() Options {
	return Options{
		Name:        "network",
		MaxAttempts: 5,
		Policy:      backoff.NetworkPolicy(),
		Retryable:   append([]string(nil), NetworkClasses...),
	}
}

// Store profile: 3 attempts, 100ms initial, 2s max, 2x.
func Store() Options {
	return Options{
		Name:        "store",
		MaxAttempts: 3,
		Policy:      backoff.StorePolicy(),
		Retryable:   append([]string(nil), StoreClasses...),
	}
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent, including sleeps.
	Duration time.Duration
}

// Do executes op until it succeeds, fails with a non-retryable error, or
// runs out of attempts. The final error is returned unchanged.
func Do(ctx context.Context, opts Options, op func(ctx context.Context) error) Result {
	start := time.Now()
	result := Result{}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = backoff.SleepWithContext
	}

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			if result.Err == nil {
				result.Err = err
			}
			break
		}

		err := op(ctx)
		if err == nil {
			result.Err = nil
			break
		}
		result.Err = err

		if attempt >= opts.MaxAttempts || !opts.retryable(err) {
			break
		}

		if opts.OnRetry != nil {
			opts.OnRetry(attempt, err)
		}
		if serr := sleep(ctx, backoff.Compute(opts.Policy, attempt)); serr != nil {
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// DoWithValue executes an operation that returns a value with retries.
func DoWithValue[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, Result) {
	var value T
	result := Do(ctx, opts, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	return value, result
}

func (o Options) retryable(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) && classified.Class == ClassNone {
		return false
	}
	return Matches(err, o.Retryable)
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}
