package resilience

import (
	"sync"
)

// CircuitBreakerRegistry owns one breaker per key. Breakers are created
// lazily on first use and live until Reset. The registry holds no global
// state: composing code owns its registry and passes it where needed.
type CircuitBreakerRegistry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults func(key string) CircuitBreakerConfig
}

// NewCircuitBreakerRegistry creates a registry. The defaults function
// supplies per-key configuration for lazily created breakers; nil uses
// DefaultCircuitBreakerConfig.
func NewCircuitBreakerRegistry(defaults func(key string) CircuitBreakerConfig) *CircuitBreakerRegistry {
	if defaults == nil {
		defaults = DefaultCircuitBreakerConfig
	}
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults,
	}
}

// Get returns the breaker for key, creating it from the registry defaults
// on first use
func (r *CircuitBreakerRegistry) Get(key string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[key]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[key]; exists {
		return cb
	}

	cb = NewCircuitBreaker(r.defaults(key))
	r.breakers[key] = cb
	return cb
}

// GetWithConfig returns the breaker for config.Key, creating it from the
// given configuration on first use. An existing breaker is returned as-is:
// the first caller to reach a key fixes its configuration.
func (r *CircuitBreakerRegistry) GetWithConfig(config CircuitBreakerConfig) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[config.Key]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, exists = r.breakers[config.Key]; exists {
		return cb
	}

	cb = NewCircuitBreaker(config)
	r.breakers[config.Key] = cb
	return cb
}

// Reset drops all breakers. Intended for tests.
func (r *CircuitBreakerRegistry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

// Stats returns a snapshot per breaker key
func (r *CircuitBreakerRegistry) Stats() map[string]Snapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]Snapshot, len(r.breakers))
	for key, cb := range r.breakers {
		stats[key] = cb.Snapshot()
	}
	return stats
}
