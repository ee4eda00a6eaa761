package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guardkit/guardkit/pkg/resilience"
)

func TestService_CheckHealth(t *testing.T) {
	svc := NewService(nil, nil)

	svc.RegisterChecker("ok", NewCustomChecker("ok", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "fine", nil
	}))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusHealthy, resp.Status)
	require.Contains(t, resp.Checks, "ok")
	assert.Equal(t, StatusHealthy, resp.Checks["ok"].Status)
}

func TestService_UnhealthyCheckerDominates(t *testing.T) {
	svc := NewService(nil, nil)

	svc.RegisterChecker("ok", NewCustomChecker("ok", func(ctx context.Context) (Status, string, error) {
		return StatusHealthy, "fine", nil
	}))
	svc.RegisterChecker("degraded", NewCustomChecker("degraded", func(ctx context.Context) (Status, string, error) {
		return StatusDegraded, "slow", nil
	}))
	svc.RegisterChecker("broken", NewCustomChecker("broken", func(ctx context.Context) (Status, string, error) {
		return StatusUnhealthy, "down", nil
	}))

	resp := svc.CheckHealth(context.Background())
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestBreakerChecker(t *testing.T) {
	registry := resilience.NewCircuitBreakerRegistry(nil)
	checker := NewBreakerChecker(registry, "breakers")

	cb := registry.GetWithConfig(resilience.CircuitBreakerConfig{
		Key:              "upstream",
		FailureThreshold: 1,
		SamplingDuration: time.Minute,
		OpenDuration:     time.Minute,
		SuccessThreshold: 1,
	})

	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)

	require.NoError(t, cb.Admit())
	cb.RecordOutcome(false)

	check = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
	assert.Equal(t, "OPEN", check.Metadata["upstream"])
}

func TestBulkheadChecker(t *testing.T) {
	registry := resilience.NewBulkheadRegistry(nil)
	checker := NewBulkheadChecker(registry, "bulkheads")

	bh := registry.GetWithConfig(resilience.BulkheadConfig{
		Key:            "upstream",
		MaxConcurrency: 1,
		QueueLimit:     2,
		QueueTimeout:   time.Second,
	})

	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)

	// Fill the slot and put a caller in the queue.
	require.NoError(t, bh.Acquire(context.Background()))
	waiterDone := make(chan struct{})
	go func() {
		defer close(waiterDone)
		if err := bh.Acquire(context.Background()); err == nil {
			bh.Release()
		}
	}()
	require.Eventually(t, func() bool {
		return bh.Snapshot().Queued == 1
	}, time.Second, time.Millisecond)

	check = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)

	bh.Release()
	<-waiterDone
}

func TestDegradationChecker(t *testing.T) {
	dm := resilience.NewDegradationManager()
	dm.Register("db", resilience.LevelSevere)
	dm.Register("cache", resilience.LevelPartial)
	dm.Register("search", resilience.LevelPartial)
	dm.Register("email", resilience.LevelPartial)
	dm.Register("cdn", resilience.LevelPartial)
	checker := NewDegradationChecker(dm, "degradation")

	check := checker.Check(context.Background())
	assert.Equal(t, StatusHealthy, check.Status)

	dm.MarkDown("cache", "down")
	check = checker.Check(context.Background())
	assert.Equal(t, StatusDegraded, check.Status)

	dm.MarkDown("db", "down")
	check = checker.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, check.Status)
}
