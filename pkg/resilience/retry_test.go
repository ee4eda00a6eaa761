package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/guardkit/guardkit/pkg/errors"
)

func TestRetrier_SuccessOnFirstAttempt(t *testing.T) {
	retrier := NewRetrier(DefaultRetryConfig())

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_SuccessAfterRetries(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return apperrors.NewTimeoutError("test timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetrier_ExhaustionWrapsLastFault(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	config.UseJitter = false
	retrier := NewRetrier(config)

	underlying := apperrors.NewTimeoutError("test timeout")
	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return underlying
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var exhausted *RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, err, underlying)
}

func TestRetrier_NonRetryableFaultPropagatesAsIs(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 3
	config.InitialDelay = 10 * time.Millisecond
	config.RetryOn = MatchTypes(apperrors.ErrorTypeTimeout)
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return apperrors.NewValidationError("validation failed")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.False(t, IsRetryExhausted(err))
	assert.Contains(t, err.Error(), "validation failed")
}

func TestRetrier_ZeroMaxAttemptsRunsOnce(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 0
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_BackoffSchedule(t *testing.T) {
	config := RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      10 * time.Millisecond,
		MaxDelay:          time.Second,
		BackoffMultiplier: 2.0,
		UseJitter:         false,
	}

	var delays []time.Duration
	config.OnRetry = func(err error, attempt int, delay time.Duration) {
		delays = append(delays, delay)
	}
	retrier := NewRetrier(config)

	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		return errors.New("always fails")
	})

	require.Error(t, err)
	// Attempt 1 runs immediately; waits follow attempts 1 and 2.
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestRetrier_GuardRejectionNeverRetried(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 5
	config.InitialDelay = 10 * time.Millisecond
	retrier := NewRetrier(config)

	attempts := 0
	err := retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return &CircuitOpenError{Key: "dep", RetryAfter: time.Now().Add(time.Minute)}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsCircuitOpen(err))

	attempts = 0
	err = retrier.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return &BulkheadRejectedError{Key: "dep", Reason: ReasonQueueFull}
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsBulkheadRejected(err))
}

func TestRetrier_ContextCancellation(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 5
	config.InitialDelay = 100 * time.Millisecond
	retrier := NewRetrier(config)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	attempts := 0
	err := retrier.Execute(ctx, func(ctx context.Context) error {
		attempts++
		return apperrors.NewTimeoutError("test timeout")
	})

	require.Error(t, err)
	assert.Equal(t, context.DeadlineExceeded, err)
	assert.Equal(t, 1, attempts)
}

func TestRetrier_ExecuteWithResult(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxAttempts = 2
	config.InitialDelay = 10 * time.Millisecond
	retrier := NewRetrier(config)

	attempts := 0
	result, err := retrier.ExecuteWithResult(context.Background(), func(ctx context.Context) (interface{}, error) {
		attempts++
		if attempts < 2 {
			return nil, apperrors.NewExternalError("svc", "blip")
		}
		return "payload", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "payload", result)
}

func TestRetryConvenienceFunctions(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	config := DefaultRetryConfig()
	config.MaxAttempts = 2
	config.InitialDelay = 5 * time.Millisecond
	attempts = 0
	err = RetryWithConfig(context.Background(), config, func(ctx context.Context) error {
		attempts++
		return errors.New("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}
