package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObserver struct {
	mu                sync.Mutex
	completed         int
	completedSuccess  int
	breakerRejections int
	transitions       [][2]CircuitState
	bulkheadRejects   []RejectionReason
	retries           int
	fallbacks         int
}

func (o *testObserver) OperationCompleted(name string, success bool, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.completed++
	if success {
		o.completedSuccess++
	}
}

func (o *testObserver) BreakerTransition(key string, from, to CircuitState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, [2]CircuitState{from, to})
}

func (o *testObserver) BreakerRejected(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.breakerRejections++
}

func (o *testObserver) BulkheadRejected(key string, reason RejectionReason) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bulkheadRejects = append(o.bulkheadRejects, reason)
}

func (o *testObserver) BulkheadQueued(key string, waited time.Duration) {}

func (o *testObserver) RetryAttempted(name string, attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func (o *testObserver) FallbackInvoked(name string, success bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fallbacks++
}

func TestGuardComposer_EmptyOptionsPassthrough(t *testing.T) {
	composer := NewGuardComposer(ComposerConfig{})

	result, err := composer.Execute(context.Background(), "op", PolicyOptions{},
		func(ctx context.Context) (interface{}, error) {
			return 42, nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestGuardComposer_BulkheadReleasedOnAllPaths(t *testing.T) {
	composer := NewGuardComposer(ComposerConfig{})
	opts := PolicyOptions{
		Bulkhead: &BulkheadConfig{
			Key:            "slots",
			MaxConcurrency: 1,
			QueueLimit:     0,
			QueueTimeout:   time.Second,
		},
	}

	// Success, failure, and panic all hand the slot back; sequential
	// calls through a single slot only work if each release happens.
	_, err := composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) { return nil, nil }, nil)
	require.NoError(t, err)

	_, err = composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) { return nil, errors.New("boom") }, nil)
	require.Error(t, err)

	assert.Panics(t, func() {
		_, _ = composer.Execute(context.Background(), "op", opts,
			func(ctx context.Context) (interface{}, error) { panic("boom") }, nil)
	})

	assert.Equal(t, 0, composer.Bulkheads().Get("slots").Snapshot().Active)
}

func TestGuardComposer_BreakerFailsFastWithoutInvokingOperation(t *testing.T) {
	observer := &testObserver{}
	composer := NewGuardComposer(ComposerConfig{Observer: observer})
	opts := PolicyOptions{
		CircuitBreaker: &CircuitBreakerConfig{
			Key:              "dep",
			FailureThreshold: 2,
			SamplingDuration: time.Minute,
			OpenDuration:     time.Minute,
			SuccessThreshold: 1,
		},
	}

	calls := 0
	failing := func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errors.New("dependency down")
	}

	for i := 0; i < 2; i++ {
		_, err := composer.Execute(context.Background(), "op", opts, failing, nil)
		require.Error(t, err)
	}
	assert.Equal(t, 2, calls)

	_, err := composer.Execute(context.Background(), "op", opts, failing, nil)
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, observer.breakerRejections)
	assert.Equal(t, [][2]CircuitState{{StateClosed, StateOpen}}, observer.transitions)
}

func TestGuardComposer_BreakerRejectionStopsRetryLoop(t *testing.T) {
	composer := NewGuardComposer(ComposerConfig{})
	opts := PolicyOptions{
		CircuitBreaker: &CircuitBreakerConfig{
			Key:              "dep",
			FailureThreshold: 2,
			SamplingDuration: time.Minute,
			OpenDuration:     time.Minute,
			SuccessThreshold: 1,
		},
		Retry: &RetryConfig{
			MaxAttempts:       5,
			InitialDelay:      time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
	}

	calls := 0
	_, err := composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, errors.New("dependency down")
		}, nil)

	// Two attempts trip the breaker; the third admission is rejected
	// and the rejection is terminal, not retried.
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))
	assert.Equal(t, 2, calls)
}

func TestGuardComposer_FallbackOnRetryExhaustion(t *testing.T) {
	observer := &testObserver{}
	composer := NewGuardComposer(ComposerConfig{Observer: observer})
	opts := PolicyOptions{
		Retry: &RetryConfig{
			MaxAttempts:       2,
			InitialDelay:      time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		Fallback: &FallbackConfig{},
	}

	var received error
	result, err := composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("flaky")
		},
		func(ctx context.Context, original error) (interface{}, error) {
			received = original
			return "cached", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "cached", result)
	assert.True(t, IsRetryExhausted(received))
	assert.Equal(t, 1, observer.fallbacks)
	assert.Equal(t, 1, observer.retries)
}

func TestGuardComposer_FallbackOnBulkheadRejection(t *testing.T) {
	observer := &testObserver{}
	composer := NewGuardComposer(ComposerConfig{Observer: observer})
	opts := PolicyOptions{
		Bulkhead: &BulkheadConfig{
			Key:            "slots",
			MaxConcurrency: 1,
			QueueLimit:     0,
			QueueTimeout:   time.Second,
		},
		Fallback: &FallbackConfig{},
	}

	// Occupy the only slot with a blocking call through the composer so
	// the bulkhead is created with observer instrumentation attached.
	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, holdErr := composer.Execute(context.Background(), "op", opts,
			func(ctx context.Context) (interface{}, error) {
				close(started)
				<-release
				return "live", nil
			}, nil)
		assert.NoError(t, holdErr)
	}()
	<-started
	defer func() {
		close(release)
		<-done
	}()

	result, err := composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) {
			return "live", nil
		},
		func(ctx context.Context, original error) (interface{}, error) {
			assert.True(t, IsBulkheadRejected(original))
			return "cached", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "cached", result)
	assert.Equal(t, []RejectionReason{ReasonAtCapacity}, observer.bulkheadRejects)
}

func TestGuardComposer_FallbackFilterRespected(t *testing.T) {
	composer := NewGuardComposer(ComposerConfig{})
	sentinel := errors.New("eligible")
	opts := PolicyOptions{
		Fallback: &FallbackConfig{
			FallbackOn: MatchErrors(sentinel),
		},
	}

	fallbackCalls := 0
	fallback := func(ctx context.Context, original error) (interface{}, error) {
		fallbackCalls++
		return "cached", nil
	}

	_, err := composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) {
			return nil, errors.New("not eligible")
		}, fallback)
	require.Error(t, err)
	assert.Equal(t, 0, fallbackCalls)

	result, err := composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) {
			return nil, sentinel
		}, fallback)
	require.NoError(t, err)
	assert.Equal(t, "cached", result)
	assert.Equal(t, 1, fallbackCalls)
}

func TestGuardComposer_CancellationSkipsFallback(t *testing.T) {
	composer := NewGuardComposer(ComposerConfig{})
	opts := PolicyOptions{
		Fallback: &FallbackConfig{},
	}

	ctx, cancel := context.WithCancel(context.Background())

	fallbackCalls := 0
	_, err := composer.Execute(ctx, "op", opts,
		func(ctx context.Context) (interface{}, error) {
			cancel()
			return nil, ctx.Err()
		},
		func(ctx context.Context, original error) (interface{}, error) {
			fallbackCalls++
			return "cached", nil
		})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fallbackCalls)
}

func TestGuardComposer_FaultyResultRoutedToFallback(t *testing.T) {
	composer := NewGuardComposer(ComposerConfig{})
	opts := PolicyOptions{
		Fallback: &FallbackConfig{FallbackOnFaulty: true},
	}

	result, err := composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) {
			return faultyResult{value: "degraded", faulty: true}, nil
		},
		func(ctx context.Context, original error) (interface{}, error) {
			assert.ErrorIs(t, original, ErrFaultyResult)
			return "cached", nil
		})

	require.NoError(t, err)
	assert.Equal(t, "cached", result)
}

func TestGuardComposer_FaultyResultWithoutFallbackKeptAsIs(t *testing.T) {
	composer := NewGuardComposer(ComposerConfig{})
	opts := PolicyOptions{
		Fallback: &FallbackConfig{FallbackOnFaulty: true},
	}

	result, err := composer.Execute(context.Background(), "op", opts,
		func(ctx context.Context) (interface{}, error) {
			return faultyResult{value: "degraded", faulty: true}, nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, faultyResult{value: "degraded", faulty: true}, result)
}

func TestGuardComposer_ExecuteVoid(t *testing.T) {
	composer := NewGuardComposer(ComposerConfig{})

	err := composer.ExecuteVoid(context.Background(), "op", PolicyOptions{},
		func(ctx context.Context) error {
			return nil
		})
	require.NoError(t, err)

	sentinel := errors.New("boom")
	err = composer.ExecuteVoid(context.Background(), "op", PolicyOptions{},
		func(ctx context.Context) error {
			return sentinel
		})
	assert.ErrorIs(t, err, sentinel)
}

func TestGuardComposer_SuccessRecordedToObserver(t *testing.T) {
	observer := &testObserver{}
	composer := NewGuardComposer(ComposerConfig{Observer: observer})

	_, err := composer.Execute(context.Background(), "op", PolicyOptions{},
		func(ctx context.Context) (interface{}, error) {
			return nil, nil
		}, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, observer.completed)
	assert.Equal(t, 1, observer.completedSuccess)
}
