package resilience

import (
	"sync"
	"time"

	"github.com/guardkit/guardkit/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single probe is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for a circuit breaker
type CircuitBreakerConfig struct {
	// Key identifies the breaker; operations sharing a key share state
	Key string
	// FailureThreshold is the number of failures within SamplingDuration
	// that trips the breaker
	FailureThreshold int
	// SamplingDuration is the width of the sliding failure window
	SamplingDuration time.Duration
	// OpenDuration is how long the breaker stays open before admitting
	// a probe
	OpenDuration time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker
	SuccessThreshold int
	// BreakOn decides which faults count as failures
	BreakOn FailureFilter
	// OnStateChange is called whenever the state of the breaker changes
	OnStateChange func(key string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns a default breaker configuration
func DefaultCircuitBreakerConfig(key string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Key:              key,
		FailureThreshold: 5,
		SamplingDuration: time.Minute,
		OpenDuration:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

// CircuitBreaker is a keyed state machine that fails fast once a dependency
// has produced too many failures within the sampling window.
//
// Failure accounting uses a strict sliding window of failure timestamps:
// every recorded failure prunes entries older than SamplingDuration before
// appending and comparing against the threshold. The Open->HalfOpen
// transition is lazy: it happens on the first admission check after the open
// period expires, not via a background timer. While half-open, exactly one
// probe is in flight at a time.
type CircuitBreaker struct {
	key              string
	failureThreshold int
	samplingDuration time.Duration
	openDuration     time.Duration
	successThreshold int
	breakOn          FailureFilter
	onStateChange    func(key string, from, to CircuitState)

	mutex             sync.Mutex
	state             CircuitState
	failureTimestamps []time.Time
	openedAt          time.Time
	halfOpenSuccesses int
	probeInFlight     bool

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SamplingDuration <= 0 {
		config.SamplingDuration = time.Minute
	}
	if config.OpenDuration <= 0 {
		config.OpenDuration = 30 * time.Second
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}

	return &CircuitBreaker{
		key:              config.Key,
		failureThreshold: config.FailureThreshold,
		samplingDuration: config.SamplingDuration,
		openDuration:     config.OpenDuration,
		successThreshold: config.SuccessThreshold,
		breakOn:          config.BreakOn,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		logger:           logging.GetLogger(),
	}
}

// Key returns the breaker identity
func (cb *CircuitBreaker) Key() string {
	return cb.key
}

// Admit decides whether a call may proceed. It returns nil when admitted or
// a *CircuitOpenError carrying the retry-after instant when rejected. Every
// admitted call must be paired with exactly one RecordOutcome.
func (cb *CircuitBreaker) Admit() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		retryAfter := cb.openedAt.Add(cb.openDuration)
		if now.Before(retryAfter) {
			return &CircuitOpenError{Key: cb.key, RetryAfter: retryAfter}
		}
		// Open period elapsed: move to half-open and admit this call
		// as the probe.
		cb.setState(StateHalfOpen, now)
		cb.probeInFlight = true
		return nil

	case StateHalfOpen:
		if cb.probeInFlight {
			// One probe at a time; concurrent callers come back once
			// the in-flight probe has had a chance to settle.
			return &CircuitOpenError{Key: cb.key, RetryAfter: now}
		}
		cb.probeInFlight = true
		return nil

	default:
		return nil
	}
}

// RecordOutcome reports the result of an admitted call
func (cb *CircuitBreaker) RecordOutcome(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	switch cb.state {
	case StateClosed:
		if !success {
			cb.recordFailure(now)
		}

	case StateHalfOpen:
		cb.probeInFlight = false
		if success {
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.successThreshold {
				cb.setState(StateClosed, now)
			}
		} else {
			// A single failing probe reopens the breaker.
			cb.setState(StateOpen, now)
		}

	case StateOpen:
		// Outcome from a call admitted before the trip; the window
		// already tripped, nothing more to account.
	}
}

// RecordResult classifies a fault through the breaker's filter and records
// the outcome. A fault the filter does not count is recorded as a success:
// the dependency responded, even if the call was not happy about the answer.
func (cb *CircuitBreaker) RecordResult(err error) {
	cb.RecordOutcome(err == nil || !cb.breakOn.ShouldCount(err))
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Snapshot describes the observable state of a breaker
type Snapshot struct {
	Key              string       `json:"key"`
	State            CircuitState `json:"-"`
	StateName        string       `json:"state"`
	WindowedFailures int          `json:"windowed_failures"`
	RetryAfter       time.Time    `json:"retry_after,omitempty"`
}

// Snapshot returns a consistent view of the breaker for health and metrics
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.pruneLocked(time.Now())
	snap := Snapshot{
		Key:              cb.key,
		State:            cb.state,
		StateName:        cb.state.String(),
		WindowedFailures: len(cb.failureTimestamps),
	}
	if cb.state == StateOpen {
		snap.RetryAfter = cb.openedAt.Add(cb.openDuration)
	}
	return snap
}

// recordFailure appends to the sliding window and trips the breaker once
// the threshold is reached. Caller holds the mutex.
func (cb *CircuitBreaker) recordFailure(now time.Time) {
	cb.pruneLocked(now)
	cb.failureTimestamps = append(cb.failureTimestamps, now)

	if len(cb.failureTimestamps) >= cb.failureThreshold {
		cb.setState(StateOpen, now)
	}
}

// pruneLocked drops window entries older than the sampling duration.
// Caller holds the mutex.
func (cb *CircuitBreaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-cb.samplingDuration)
	i := 0
	for i < len(cb.failureTimestamps) && !cb.failureTimestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		cb.failureTimestamps = append(cb.failureTimestamps[:0], cb.failureTimestamps[i:]...)
	}
}

// setState performs a transition and fires callbacks. Caller holds the mutex.
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	switch state {
	case StateOpen:
		cb.openedAt = now
		cb.halfOpenSuccesses = 0
		cb.probeInFlight = false
	case StateHalfOpen:
		cb.halfOpenSuccesses = 0
		cb.probeInFlight = false
	case StateClosed:
		cb.failureTimestamps = cb.failureTimestamps[:0]
		cb.halfOpenSuccesses = 0
		cb.probeInFlight = false
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.key, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"key", cb.key,
		"from", prev.String(),
		"to", state.String(),
		"windowed_failures", len(cb.failureTimestamps),
	)
}
