package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig(maxRetries int) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = maxRetries
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	cfg.Jitter = 0
	return cfg
}

func TestRetrier_SucceedsFirstTry(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))

	calls := 0
	result := r.Do(context.Background(), "fetch", "http://example.com", func(ctx context.Context) error {
		calls++
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
}

func TestRetrier_RetriesTransientErrors(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))

	calls := 0
	result := r.Do(context.Background(), "fetch", "http://example.com", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewNetworkError("http://example.com", "fetch", nil)
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
}

func TestRetrier_DoesNotRetryNonRetryable(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))

	calls := 0
	result := r.Do(context.Background(), "fetch", "http://example.com", func(ctx context.Context) error {
		calls++
		return NewValidationError("http://example.com", "bad input")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Validation, GetErrorType(result.LastError))
}

func TestRetrier_ExhaustsRetries(t *testing.T) {
	r := NewRetrier(fastRetryConfig(2))

	calls := 0
	result := r.Do(context.Background(), "fetch", "http://example.com", func(ctx context.Context) error {
		calls++
		return NewTimeoutError("http://example.com", "fetch", nil)
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Equal(t, Timeout, GetErrorType(result.LastError))
}

func TestRetrier_CancelledContext(t *testing.T) {
	r := NewRetrier(fastRetryConfig(5))

	ctx, cancel := context.WithCancel(context.Background())
	result := r.Do(ctx, "fetch", "http://example.com", func(ctx context.Context) error {
		cancel()
		return NewNetworkError("http://example.com", "fetch", nil)
	})

	assert.False(t, result.Success)
	assert.Equal(t, Cancelled, GetErrorType(result.LastError))
}

func TestRetrier_CategorizesPlainErrors(t *testing.T) {
	r := NewRetrier(fastRetryConfig(3))

	calls := 0
	result := r.Do(context.Background(), "fetch", "http://example.com", func(ctx context.Context) error {
		calls++
		return errors.New("something odd")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls, "unknown errors are not retried")

	var scanErr *ScanError
	require.ErrorAs(t, result.LastError, &scanErr)
	assert.Equal(t, "http://example.com", scanErr.URL)
}

func TestBackoffDuration(t *testing.T) {
	initial := 100 * time.Millisecond
	max := time.Second

	assert.Equal(t, initial, BackoffDuration(0, initial, max, 2))
	assert.Equal(t, initial, BackoffDuration(1, initial, max, 2))
	assert.Equal(t, 200*time.Millisecond, BackoffDuration(2, initial, max, 2))
	assert.Equal(t, 400*time.Millisecond, BackoffDuration(3, initial, max, 2))
	assert.Equal(t, max, BackoffDuration(10, initial, max, 2), "capped at max")
}
