package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/guardkit/guardkit/pkg/logging"
)

// ErrFaultyResult marks a completed operation whose result reported itself
// faulty. It is the original fault handed to the fallback in that case.
var ErrFaultyResult = errors.New("operation completed with a faulty result")

// Faulter lets a result flag itself as faulty even though the operation
// returned no error. With FallbackOnFaulty set, such a result is replaced
// by the fallback's.
type Faulter interface {
	Faulty() bool
}

// FallbackConfig holds configuration for fallback execution
type FallbackConfig struct {
	// FallbackOn decides which faults are fallback-eligible
	FallbackOn FailureFilter
	// FallbackOnFaulty also triggers the fallback when the result
	// implements Faulter and reports true
	FallbackOnFaulty bool
	// OnFallbackStarting is called before the fallback runs
	OnFallbackStarting func(original error)
	// OnFallbackCompleted is called after the fallback succeeds
	OnFallbackCompleted func(duration time.Duration)
	// OnFallbackFailed is called when the fallback itself fails
	OnFallbackFailed func(err error)
}

// FallbackExecutor invokes a substitute computation when the guarded
// operation fails or produces a faulty result
type FallbackExecutor struct {
	config FallbackConfig
	logger *logging.Logger
}

// NewFallbackExecutor creates a new fallback executor
func NewFallbackExecutor(config FallbackConfig) *FallbackExecutor {
	return &FallbackExecutor{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Execute runs the operation and, on an eligible failure, the fallback.
// The fallback receives the original fault. A fault from the fallback
// itself is wrapped in *FallbackFailedError and propagated without further
// retry or classification.
func (f *FallbackExecutor) Execute(ctx context.Context, operation func(context.Context) (interface{}, error), fallback func(context.Context, error) (interface{}, error)) (interface{}, error) {
	result, err := operation(ctx)

	original := err
	if err == nil {
		if !f.config.FallbackOnFaulty {
			return result, nil
		}
		faulty, ok := result.(Faulter)
		if !ok || !faulty.Faulty() {
			return result, nil
		}
		original = ErrFaultyResult
	} else if !f.config.FallbackOn.ShouldCount(err) {
		return result, err
	}

	if fallback == nil {
		return result, err
	}

	return f.runFallback(ctx, fallback, original)
}

func (f *FallbackExecutor) runFallback(ctx context.Context, fallback func(context.Context, error) (interface{}, error), original error) (interface{}, error) {
	if f.config.OnFallbackStarting != nil {
		f.config.OnFallbackStarting(original)
	}

	f.logger.Debug("Invoking fallback", "original_error", original.Error())

	start := time.Now()
	result, err := fallback(ctx, original)
	if err != nil {
		if f.config.OnFallbackFailed != nil {
			f.config.OnFallbackFailed(err)
		}
		f.logger.Error("Fallback failed",
			"error", err.Error(),
			"original_error", original.Error(),
		)
		return nil, &FallbackFailedError{Err: err, Original: original}
	}

	if f.config.OnFallbackCompleted != nil {
		f.config.OnFallbackCompleted(time.Since(start))
	}

	return result, nil
}
