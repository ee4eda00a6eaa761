package resilience

// PolicyOptions bundles optional per-operation guard policies. Nil fields
// are skipped - zero options means pure passthrough with no guard overhead.
// Options are pure configuration: attaching them to an operation adds no
// behavior beyond what each guard defines.
type PolicyOptions struct {
	// CircuitBreaker fails fast once the keyed dependency keeps failing
	CircuitBreaker *CircuitBreakerConfig
	// Bulkhead bounds concurrent executions under the keyed slot pool
	Bulkhead *BulkheadConfig
	// Retry re-attempts the operation on retryable faults
	Retry *RetryConfig
	// Fallback substitutes a computation on terminal failure
	Fallback *FallbackConfig
}

// IsEmpty returns true if no guard policies are configured
func (o PolicyOptions) IsEmpty() bool {
	return o.CircuitBreaker == nil && o.Bulkhead == nil && o.Retry == nil && o.Fallback == nil
}
