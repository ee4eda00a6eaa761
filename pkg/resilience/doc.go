// Package resilience implements a family of cross-cutting execution guards
// - circuit breaker, retry, bulkhead, and fallback - that wrap an arbitrary
// operation to protect a system from cascading failure, resource
// exhaustion, and transient faults.
//
// # Circuit Breaker
//
// Keyed state machines with a strict sliding window of failure timestamps.
// Operations sharing a key share breaker state; registries create state
// lazily per key.
//
//	registry := resilience.NewCircuitBreakerRegistry(nil)
//	cb := registry.GetWithConfig(resilience.CircuitBreakerConfig{
//		Key:              "billing-api",
//		FailureThreshold: 5,
//		SamplingDuration: time.Minute,
//		OpenDuration:     30 * time.Second,
//		SuccessThreshold: 2,
//	})
//
//	if err := cb.Admit(); err != nil {
//		return err // carries the retry-after instant
//	}
//	err := call()
//	cb.RecordResult(err)
//
// # Bulkhead
//
// Bounded concurrency per key with a FIFO wait queue. Callers beyond the
// slot count queue (up to the queue limit, for up to the queue timeout) and
// a released slot is handed to the head waiter atomically.
//
//	bh := resilience.NewBulkhead(resilience.BulkheadConfig{
//		Key:            "reports",
//		MaxConcurrency: 10,
//		QueueLimit:     20,
//		QueueTimeout:   5 * time.Second,
//	})
//	err := bh.Execute(ctx, func(ctx context.Context) error {
//		return generate(ctx)
//	})
//
// # Retry with Exponential Backoff
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	err := retrier.Execute(ctx, func(ctx context.Context) error {
//		return riskyOperation(ctx)
//	})
//
// # Fallback
//
//	executor := resilience.NewFallbackExecutor(resilience.FallbackConfig{})
//	result, err := executor.Execute(ctx, primary, func(ctx context.Context, original error) (interface{}, error) {
//		return cached(ctx)
//	})
//
// # Composition
//
// GuardComposer applies all configured guards in a fixed order: bulkhead
// admission, circuit breaker fail-fast inside the retry loop, fallback on
// terminal failure, bulkhead release on every exit path.
//
//	composer := resilience.NewGuardComposer(resilience.ComposerConfig{})
//	result, err := composer.Execute(ctx, "billing-charge", opts, operation, fallback)
//
// Guard rejections surface as typed errors (*CircuitOpenError,
// *BulkheadRejectedError) so callers can route them, for example to a
// dead-letter mechanism. They are never retried.
//
// The package is thread-safe; breaker and bulkhead state are the only
// shared mutable state, each key guarded by its own lock.
package resilience
