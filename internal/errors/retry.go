package errors

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior for transient fetch failures.
type RetryConfig struct {
	MaxRetries   int           // Retries after the first attempt (0 = no retries)
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap on the backoff delay
	Multiplier   float64       // Backoff multiplier per retry
	Jitter       float64       // Random jitter factor (0-1)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// Retrier re-runs an operation while it fails with a retryable scan
// error. The taxonomy decides: network, timeout, rate-limit and 5xx
// failures are retried; validation, parse, archive, storage and
// cancellation failures never are.
type Retrier struct {
	config RetryConfig
}

// NewRetrier creates a new retrier.
func NewRetrier(config RetryConfig) *Retrier {
	return &Retrier{config: config}
}

// RetryFunc is an operation that can be retried.
type RetryFunc func(ctx context.Context) error

// RetryResult holds the outcome of a retried operation.
type RetryResult struct {
	Attempts  int           // Number of attempts made
	LastError error         // Categorized error from the final attempt
	Duration  time.Duration // Total time spent, backoff included
	Success   bool          // Whether the operation eventually succeeded
}

// Do executes fn, retrying retryable failures with jittered
// exponential backoff. The error on the result is always a *ScanError
// carrying the operation and URL.
func (r *Retrier) Do(ctx context.Context, operation, url string, fn RetryFunc) *RetryResult {
	start := time.Now()
	result := &RetryResult{}

	for attempt := 0; ; attempt++ {
		result.Attempts++

		err := fn(ctx)
		if err == nil {
			result.Success = true
			break
		}

		if ctx.Err() != nil {
			result.LastError = NewCancelledError(url, operation)
			break
		}

		scanErr := Categorize(err, url)
		result.LastError = scanErr

		if attempt >= r.config.MaxRetries || !scanErr.Retryable {
			break
		}

		if waitErr := r.wait(ctx, attempt); waitErr != nil {
			result.LastError = NewCancelledError(url, operation)
			break
		}
	}

	result.Duration = time.Since(start)
	return result
}

// wait blocks for the backoff delay of the given attempt, jittered.
func (r *Retrier) wait(ctx context.Context, attempt int) error {
	delay := BackoffDuration(attempt+1, r.config.InitialDelay, r.config.MaxDelay, r.config.Multiplier)
	if r.config.Jitter > 0 {
		span := r.config.Jitter * float64(delay)
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*span)
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// BackoffDuration returns the exponential backoff delay before retry
// number attempt (1-based), capped at max.
func BackoffDuration(attempt int, initial, max time.Duration, multiplier float64) time.Duration {
	if attempt <= 1 {
		return initial
	}

	delay := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if delay > float64(max) {
		return max
	}
	return time.Duration(delay)
}
