package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyService simulates an external dependency that can be switched
// between healthy and failing.
type flakyService struct {
	calls   int64
	failing int32
}

func (s *flakyService) setFailing(failing bool) {
	if failing {
		atomic.StoreInt32(&s.failing, 1)
	} else {
		atomic.StoreInt32(&s.failing, 0)
	}
}

func (s *flakyService) call(ctx context.Context) (interface{}, error) {
	atomic.AddInt64(&s.calls, 1)
	if atomic.LoadInt32(&s.failing) == 1 {
		return nil, &timeoutError{}
	}
	return "payload", nil
}

func (s *flakyService) callCount() int64 {
	return atomic.LoadInt64(&s.calls)
}

type timeoutError struct{}

func (e *timeoutError) Error() string { return "upstream timed out" }

func TestFullStack_OutageAndRecovery(t *testing.T) {
	service := &flakyService{}
	composer := NewGuardComposer(ComposerConfig{})

	opts := PolicyOptions{
		CircuitBreaker: &CircuitBreakerConfig{
			Key:              "upstream",
			FailureThreshold: 3,
			SamplingDuration: time.Minute,
			OpenDuration:     30 * time.Millisecond,
			SuccessThreshold: 1,
		},
		Retry: &RetryConfig{
			MaxAttempts:       2,
			InitialDelay:      time.Millisecond,
			MaxDelay:          5 * time.Millisecond,
			BackoffMultiplier: 2.0,
		},
		Bulkhead: &BulkheadConfig{
			Key:            "upstream",
			MaxConcurrency: 4,
			QueueLimit:     4,
			QueueTimeout:   time.Second,
		},
		Fallback: &FallbackConfig{},
	}

	fallback := func(ctx context.Context, original error) (interface{}, error) {
		return "cached", nil
	}

	ctx := context.Background()

	// Healthy: the live payload comes back.
	result, err := composer.Execute(ctx, "fetch", opts, service.call, fallback)
	require.NoError(t, err)
	assert.Equal(t, "payload", result)

	// Outage: the first guarded call burns two attempts, the second one
	// more before the breaker trips, and every call degrades to the
	// fallback payload.
	service.setFailing(true)
	for i := 0; i < 3; i++ {
		result, err = composer.Execute(ctx, "fetch", opts, service.call, fallback)
		require.NoError(t, err)
		assert.Equal(t, "cached", result)
	}
	assert.Equal(t, StateOpen, composer.Breakers().Get("upstream").State())

	// While open the service is not touched at all.
	before := service.callCount()
	_, err = composer.Execute(ctx, "fetch", opts, service.call, fallback)
	require.NoError(t, err)
	assert.Equal(t, before, service.callCount())

	// Recovery: after the open window a single probe succeeds and live
	// traffic resumes.
	service.setFailing(false)
	time.Sleep(40 * time.Millisecond)

	result, err = composer.Execute(ctx, "fetch", opts, service.call, fallback)
	require.NoError(t, err)
	assert.Equal(t, "payload", result)
	assert.Equal(t, StateClosed, composer.Breakers().Get("upstream").State())
}

func TestFullStack_ConcurrentCallersIsolatedByBulkhead(t *testing.T) {
	service := &flakyService{}
	composer := NewGuardComposer(ComposerConfig{})

	opts := PolicyOptions{
		Bulkhead: &BulkheadConfig{
			Key:            "upstream",
			MaxConcurrency: 2,
			QueueLimit:     0,
			QueueTimeout:   time.Second,
		},
		Fallback: &FallbackConfig{},
	}

	block := make(chan struct{})
	slow := func(ctx context.Context) (interface{}, error) {
		<-block
		return service.call(ctx)
	}
	fallback := func(ctx context.Context, original error) (interface{}, error) {
		return "cached", nil
	}

	var wg sync.WaitGroup
	var live, degraded int64
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := composer.Execute(context.Background(), "fetch", opts, slow, fallback)
			assert.NoError(t, err)
			switch result {
			case "payload":
				atomic.AddInt64(&live, 1)
			case "cached":
				atomic.AddInt64(&degraded, 1)
			}
		}()
	}

	// Wait for both slots to fill, then let the in-flight calls finish.
	assert.Eventually(t, func() bool {
		return composer.Bulkheads().Get("upstream").Snapshot().Active == 2
	}, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&degraded) == 4
	}, time.Second, time.Millisecond)
	close(block)
	wg.Wait()

	assert.Equal(t, int64(2), atomic.LoadInt64(&live))
	assert.Equal(t, int64(4), atomic.LoadInt64(&degraded))
}
