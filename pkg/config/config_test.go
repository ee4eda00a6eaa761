package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://upstream.internal:9000/api")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, "upstream", cfg.Guards.Key)
	assert.True(t, cfg.Guards.BreakerEnabled)
	assert.Equal(t, 5, cfg.Guards.FailureThreshold)
	assert.Equal(t, 3, cfg.Guards.MaxAttempts)
	assert.Equal(t, 10, cfg.Guards.MaxConcurrency)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://upstream.internal:9000/api")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("GUARD_KEY", "billing")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "7")
	t.Setenv("BREAKER_OPEN_DURATION", "45s")
	t.Setenv("RETRY_ENABLED", "false")
	t.Setenv("BULKHEAD_QUEUE_LIMIT", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "billing", cfg.Guards.Key)
	assert.Equal(t, 7, cfg.Guards.FailureThreshold)
	assert.Equal(t, 45*time.Second, cfg.Guards.OpenDuration)
	assert.False(t, cfg.Guards.RetryEnabled)
	assert.Equal(t, 0, cfg.Guards.QueueLimit)
}

func TestLoad_RequiresUpstreamURL(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_RejectsInvalidUpstreamURL(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "not a url")

	_, err := Load()
	assert.Error(t, err)
}

func TestPolicyOptions(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://upstream.internal:9000/api")
	t.Setenv("RETRY_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	opts := cfg.PolicyOptions()
	require.NotNil(t, opts.CircuitBreaker)
	assert.Equal(t, "upstream", opts.CircuitBreaker.Key)
	assert.Nil(t, opts.Retry)
	require.NotNil(t, opts.Bulkhead)
	assert.Equal(t, 10, opts.Bulkhead.MaxConcurrency)
	assert.Nil(t, opts.Fallback)
}
