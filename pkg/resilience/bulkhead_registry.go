package resilience

import (
	"sync"
)

// BulkheadRegistry owns one bulkhead per key, created lazily on first use
type BulkheadRegistry struct {
	mutex     sync.RWMutex
	bulkheads map[string]*Bulkhead
	defaults  func(key string) BulkheadConfig
}

// NewBulkheadRegistry creates a registry. The defaults function supplies
// per-key configuration for lazily created bulkheads; nil uses
// DefaultBulkheadConfig.
func NewBulkheadRegistry(defaults func(key string) BulkheadConfig) *BulkheadRegistry {
	if defaults == nil {
		defaults = DefaultBulkheadConfig
	}
	return &BulkheadRegistry{
		bulkheads: make(map[string]*Bulkhead),
		defaults:  defaults,
	}
}

// Get returns the bulkhead for key, creating it from the registry defaults
// on first use
func (r *BulkheadRegistry) Get(key string) *Bulkhead {
	r.mutex.RLock()
	bh, exists := r.bulkheads[key]
	r.mutex.RUnlock()

	if exists {
		return bh
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if bh, exists = r.bulkheads[key]; exists {
		return bh
	}

	bh = NewBulkhead(r.defaults(key))
	r.bulkheads[key] = bh
	return bh
}

// GetWithConfig returns the bulkhead for config.Key, creating it from the
// given configuration on first use
func (r *BulkheadRegistry) GetWithConfig(config BulkheadConfig) *Bulkhead {
	r.mutex.RLock()
	bh, exists := r.bulkheads[config.Key]
	r.mutex.RUnlock()

	if exists {
		return bh
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if bh, exists = r.bulkheads[config.Key]; exists {
		return bh
	}

	bh = NewBulkhead(config)
	r.bulkheads[config.Key] = bh
	return bh
}

// Reset drops all bulkheads. Intended for tests.
func (r *BulkheadRegistry) Reset() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.bulkheads = make(map[string]*Bulkhead)
}

// Stats returns a snapshot per bulkhead key
func (r *BulkheadRegistry) Stats() map[string]BulkheadSnapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]BulkheadSnapshot, len(r.bulkheads))
	for key, bh := range r.bulkheads {
		stats[key] = bh.Snapshot()
	}
	return stats
}
