package resilience

import "time"

// Presets are pre-filled configuration bundles for common situations. They
// add no behavior: applying a preset is equivalent to setting the same
// fields by hand.

// SensitiveBreaker trips quickly and recovers cautiously. Suited to
// dependencies where a failing call is expensive for the caller.
func SensitiveBreaker(key string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Key:              key,
		FailureThreshold: 3,
		SamplingDuration: 30 * time.Second,
		OpenDuration:     time.Minute,
		SuccessThreshold: 3,
	}
}

// TolerantBreaker absorbs sporadic failures and reopens traffic quickly.
func TolerantBreaker(key string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Key:              key,
		FailureThreshold: 10,
		SamplingDuration: 2 * time.Minute,
		OpenDuration:     15 * time.Second,
		SuccessThreshold: 1,
	}
}

// AggressiveRetry retries often with short delays. For cheap, latency
// sensitive operations against flaky dependencies.
func AggressiveRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       5,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2.0,
		UseJitter:         true,
		JitterFactor:      0.2,
	}
}

// ConservativeRetry retries a few times with generous backoff. For
// expensive operations where hammering a struggling dependency hurts.
func ConservativeRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		MaxDelay:          time.Minute,
		BackoffMultiplier: 3.0,
		UseJitter:         true,
		JitterFactor:      0.1,
	}
}

// NoQueueBulkhead rejects immediately once all slots are taken.
// Equivalent to setting QueueLimit to 0 by hand.
func NoQueueBulkhead(key string, maxConcurrency int) BulkheadConfig {
	return BulkheadConfig{
		Key:            key,
		MaxConcurrency: maxConcurrency,
		QueueLimit:     0,
		QueueTimeout:   time.Second,
	}
}

// WideBulkhead admits many concurrent callers with a deep queue.
func WideBulkhead(key string) BulkheadConfig {
	return BulkheadConfig{
		Key:            key,
		MaxConcurrency: 50,
		QueueLimit:     100,
		QueueTimeout:   10 * time.Second,
	}
}

// NarrowBulkhead serializes access to a fragile dependency with a short
// queue.
func NarrowBulkhead(key string) BulkheadConfig {
	return BulkheadConfig{
		Key:            key,
		MaxConcurrency: 2,
		QueueLimit:     4,
		QueueTimeout:   2 * time.Second,
	}
}
