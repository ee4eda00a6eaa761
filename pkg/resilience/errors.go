package resilience

import (
	"errors"
	"fmt"
	"time"
)

// RejectionReason explains why a bulkhead denied admission
type RejectionReason string

const (
	// ReasonAtCapacity - all slots are taken and the bulkhead does not queue
	ReasonAtCapacity RejectionReason = "at_capacity"
	// ReasonQueueFull - the wait queue has reached its limit
	ReasonQueueFull RejectionReason = "queue_full"
	// ReasonQueueTimeout - the caller waited the full queue timeout without getting a slot
	ReasonQueueTimeout RejectionReason = "queue_timeout"
)

// CircuitOpenError is returned when a circuit breaker rejects a call without
// invoking the underlying operation. RetryAfter is the earliest instant at
// which the breaker will admit a probe.
type CircuitOpenError struct {
	Key        string
	RetryAfter time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is open (retry after %s)", e.Key, e.RetryAfter.Format(time.RFC3339Nano))
}

// BulkheadRejectedError is returned when a bulkhead denies admission.
type BulkheadRejectedError struct {
	Key    string
	Reason RejectionReason
}

func (e *BulkheadRejectedError) Error() string {
	return fmt.Sprintf("bulkhead '%s' rejected call: %s", e.Key, e.Reason)
}

// RetryExhaustedError wraps the last fault after all retry attempts failed.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// FallbackFailedError is returned when the fallback itself failed. Original
// carries the fault that triggered the fallback.
type FallbackFailedError struct {
	Err      error
	Original error
}

func (e *FallbackFailedError) Error() string {
	return fmt.Sprintf("fallback failed: %v (original fault: %v)", e.Err, e.Original)
}

func (e *FallbackFailedError) Unwrap() error {
	return e.Err
}

// IsCircuitOpen checks if an error is a circuit breaker rejection
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitOpenError
	return errors.As(err, &cbErr)
}

// IsBulkheadRejected checks if an error is a bulkhead rejection
func IsBulkheadRejected(err error) bool {
	var bhErr *BulkheadRejectedError
	return errors.As(err, &bhErr)
}

// IsRetryExhausted checks if an error is a retry exhaustion
func IsRetryExhausted(err error) bool {
	var reErr *RetryExhaustedError
	return errors.As(err, &reErr)
}

// IsFallbackFailed checks if an error is a fallback failure
func IsFallbackFailed(err error) bool {
	var fbErr *FallbackFailedError
	return errors.As(err, &fbErr)
}

// IsGuardRejection reports whether an error is a guard-level admission denial
// (circuit open or bulkhead rejected). Guard rejections are terminal for the
// call: they are never retried and should be routed by the caller.
func IsGuardRejection(err error) bool {
	return IsCircuitOpen(err) || IsBulkheadRejected(err)
}

// RejectionReasonOf extracts the bulkhead rejection reason, if any
func RejectionReasonOf(err error) (RejectionReason, bool) {
	var bhErr *BulkheadRejectedError
	if errors.As(err, &bhErr) {
		return bhErr.Reason, true
	}
	return "", false
}
