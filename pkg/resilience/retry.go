package resilience

import (
	"context"
	"time"

	"github.com/guardkit/guardkit/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxAttempts is the total number of attempts; 0 means a single
	// attempt with no retries
	MaxAttempts int
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the delay between retries
	MaxDelay time.Duration
	// BackoffMultiplier is the exponential growth factor
	BackoffMultiplier float64
	// UseJitter adds randomness to delays to avoid thundering herds
	UseJitter bool
	// JitterFactor bounds the jitter to +-JitterFactor*delay
	JitterFactor float64
	// RetryOn decides which faults are retryable
	RetryOn FailureFilter
	// OnRetry is called before each inter-attempt wait
	OnRetry func(err error, attempt int, delay time.Duration)
	// Rand supplies jitter randomness; injectable for tests
	Rand func() float64
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		UseJitter:         true,
		JitterFactor:      0.1,
	}
}

// Retrier drives repeated invocation of an operation until success,
// exhaustion, or a non-retryable fault
type Retrier struct {
	config  RetryConfig
	backoff *BackoffCalculator
	logger  *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}

	return &Retrier{
		config: config,
		backoff: NewBackoffCalculator(BackoffConfig{
			InitialDelay: config.InitialDelay,
			Multiplier:   config.BackoffMultiplier,
			MaxDelay:     config.MaxDelay,
			Jitter:       config.UseJitter,
			JitterFactor: config.JitterFactor,
			Rand:         config.Rand,
		}),
		logger: logging.GetLogger(),
	}
}

// Execute executes the given operation with retry logic. Guard rejections
// (circuit open, bulkhead rejected) are never retried regardless of the
// configured filter; they are terminal for the call. When all attempts fail
// the last fault is wrapped in a *RetryExhaustedError carrying the attempt
// count. A non-retryable fault propagates as-is.
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"max_attempts", r.config.MaxAttempts,
				)
			}
			return nil
		}

		lastErr = err

		if IsGuardRejection(err) {
			r.logger.Debug("Guard rejection is terminal, not retrying",
				"error", err.Error(),
				"attempt", attempt,
			)
			return err
		}

		if !r.config.RetryOn.ShouldCount(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return err
		}

		// Don't wait after the last attempt
		if attempt == r.config.MaxAttempts {
			break
		}

		delay := r.backoff.Delay(attempt)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", r.config.MaxAttempts,
			"delay", delay,
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(err, attempt, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
			// Continue to next attempt
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", r.config.MaxAttempts,
	)

	return &RetryExhaustedError{Attempts: r.config.MaxAttempts, Err: lastErr}
}

// ExecuteWithResult executes the given operation with retry logic and
// returns a result
func (r *Retrier) ExecuteWithResult(ctx context.Context, operation func(context.Context) (interface{}, error)) (interface{}, error) {
	var result interface{}
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

// RetryWithConfig is a convenience function to execute an operation with retry
func RetryWithConfig(ctx context.Context, config RetryConfig, operation func(context.Context) error) error {
	retrier := NewRetrier(config)
	return retrier.Execute(ctx, operation)
}

// Retry is a convenience function to execute an operation with default
// retry configuration
func Retry(ctx context.Context, operation func(context.Context) error) error {
	return RetryWithConfig(ctx, DefaultRetryConfig(), operation)
}
