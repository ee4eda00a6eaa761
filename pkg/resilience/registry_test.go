package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerRegistry_SharedStatePerKey(t *testing.T) {
	registry := NewCircuitBreakerRegistry(nil)

	cb1 := registry.Get("payments")
	cb2 := registry.Get("payments")
	other := registry.Get("search")

	assert.Same(t, cb1, cb2)
	assert.NotSame(t, cb1, other)
}

func TestCircuitBreakerRegistry_ConcurrentGetCreatesOne(t *testing.T) {
	registry := NewCircuitBreakerRegistry(nil)

	var wg sync.WaitGroup
	breakers := make([]*CircuitBreaker, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			breakers[i] = registry.Get("shared")
		}(i)
	}
	wg.Wait()

	for i := 1; i < 20; i++ {
		assert.Same(t, breakers[0], breakers[i])
	}
}

func TestCircuitBreakerRegistry_FirstConfigWins(t *testing.T) {
	registry := NewCircuitBreakerRegistry(nil)

	first := registry.GetWithConfig(CircuitBreakerConfig{
		Key:              "dep",
		FailureThreshold: 1,
		SamplingDuration: time.Second,
		OpenDuration:     time.Minute,
		SuccessThreshold: 1,
	})
	second := registry.GetWithConfig(CircuitBreakerConfig{
		Key:              "dep",
		FailureThreshold: 100,
	})

	assert.Same(t, first, second)

	// The single-failure threshold from the first config is in effect.
	first.RecordOutcome(false)
	assert.Equal(t, StateOpen, second.State())
}

func TestCircuitBreakerRegistry_Reset(t *testing.T) {
	registry := NewCircuitBreakerRegistry(nil)

	cb := registry.Get("dep")
	cb.RecordOutcome(false)

	registry.Reset()

	fresh := registry.Get("dep")
	assert.NotSame(t, cb, fresh)
	assert.Equal(t, 0, fresh.Snapshot().WindowedFailures)
}

func TestCircuitBreakerRegistry_Stats(t *testing.T) {
	registry := NewCircuitBreakerRegistry(func(key string) CircuitBreakerConfig {
		cfg := DefaultCircuitBreakerConfig(key)
		cfg.FailureThreshold = 1
		return cfg
	})

	registry.Get("healthy")
	registry.Get("broken").RecordOutcome(false)

	stats := registry.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, StateClosed, stats["healthy"].State)
	assert.Equal(t, StateOpen, stats["broken"].State)
}

func TestBulkheadRegistry_SharedStatePerKey(t *testing.T) {
	registry := NewBulkheadRegistry(nil)

	bh1 := registry.Get("reports")
	bh2 := registry.Get("reports")
	other := registry.Get("exports")

	assert.Same(t, bh1, bh2)
	assert.NotSame(t, bh1, other)
}

func TestBulkheadRegistry_Stats(t *testing.T) {
	registry := NewBulkheadRegistry(func(key string) BulkheadConfig {
		return BulkheadConfig{Key: key, MaxConcurrency: 2, QueueLimit: 1, QueueTimeout: time.Second}
	})

	bh := registry.Get("reports")
	require.NoError(t, bh.Acquire(context.Background()))
	defer bh.Release()

	stats := registry.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, 1, stats["reports"].Active)
	assert.Equal(t, 2, stats["reports"].MaxConcurrency)
}
