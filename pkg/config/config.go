package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/guardkit/guardkit/pkg/resilience"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Upstream UpstreamConfig `json:"upstream"`
	Guards   GuardsConfig   `json:"guards"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
	Tracing  TracingConfig  `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// UpstreamConfig describes the dependency the daemon proxies guarded
// calls to
type UpstreamConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// GuardsConfig contains the default guard policies applied to upstream
// calls
type GuardsConfig struct {
	Key string `json:"key"`

	BreakerEnabled   bool          `json:"breaker_enabled"`
	FailureThreshold int           `json:"failure_threshold"`
	SamplingDuration time.Duration `json:"sampling_duration"`
	OpenDuration     time.Duration `json:"open_duration"`
	SuccessThreshold int           `json:"success_threshold"`

	RetryEnabled      bool          `json:"retry_enabled"`
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	UseJitter         bool          `json:"use_jitter"`

	BulkheadEnabled bool          `json:"bulkhead_enabled"`
	MaxConcurrency  int           `json:"max_concurrency"`
	QueueLimit      int           `json:"queue_limit"`
	QueueTimeout    time.Duration `json:"queue_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Upstream: UpstreamConfig{
			URL:     getEnvString("UPSTREAM_URL", ""),
			Timeout: getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		},
		Guards: GuardsConfig{
			Key: getEnvString("GUARD_KEY", "upstream"),

			BreakerEnabled:   getEnvBool("BREAKER_ENABLED", true),
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			SamplingDuration: getEnvDuration("BREAKER_SAMPLING_DURATION", time.Minute),
			OpenDuration:     getEnvDuration("BREAKER_OPEN_DURATION", 30*time.Second),
			SuccessThreshold: getEnvInt("BREAKER_SUCCESS_THRESHOLD", 2),

			RetryEnabled:      getEnvBool("RETRY_ENABLED", true),
			MaxAttempts:       getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay:      getEnvDuration("RETRY_INITIAL_DELAY", 100*time.Millisecond),
			MaxDelay:          getEnvDuration("RETRY_MAX_DELAY", 30*time.Second),
			BackoffMultiplier: getEnvFloat("RETRY_BACKOFF_MULTIPLIER", 2.0),
			UseJitter:         getEnvBool("RETRY_USE_JITTER", true),

			BulkheadEnabled: getEnvBool("BULKHEAD_ENABLED", true),
			MaxConcurrency:  getEnvInt("BULKHEAD_MAX_CONCURRENCY", 10),
			QueueLimit:      getEnvInt("BULKHEAD_QUEUE_LIMIT", 20),
			QueueTimeout:    getEnvDuration("BULKHEAD_QUEUE_TIMEOUT", 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "guardkit"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream URL is required")
	}
	if _, err := url.ParseRequestURI(c.Upstream.URL); err != nil {
		return fmt.Errorf("upstream URL is invalid: %w", err)
	}

	if c.Guards.BreakerEnabled && c.Guards.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}
	if c.Guards.RetryEnabled && c.Guards.MaxAttempts < 0 {
		return fmt.Errorf("retry max attempts must not be negative")
	}
	if c.Guards.BulkheadEnabled && c.Guards.MaxConcurrency < 1 {
		return fmt.Errorf("bulkhead max concurrency must be at least 1")
	}

	return nil
}

// PolicyOptions builds the guard policy bundle for upstream calls
func (c *Config) PolicyOptions() resilience.PolicyOptions {
	var opts resilience.PolicyOptions

	if c.Guards.BreakerEnabled {
		opts.CircuitBreaker = &resilience.CircuitBreakerConfig{
			Key:              c.Guards.Key,
			FailureThreshold: c.Guards.FailureThreshold,
			SamplingDuration: c.Guards.SamplingDuration,
			OpenDuration:     c.Guards.OpenDuration,
			SuccessThreshold: c.Guards.SuccessThreshold,
		}
	}
	if c.Guards.RetryEnabled {
		opts.Retry = &resilience.RetryConfig{
			MaxAttempts:       c.Guards.MaxAttempts,
			InitialDelay:      c.Guards.InitialDelay,
			MaxDelay:          c.Guards.MaxDelay,
			BackoffMultiplier: c.Guards.BackoffMultiplier,
			UseJitter:         c.Guards.UseJitter,
		}
	}
	if c.Guards.BulkheadEnabled {
		opts.Bulkhead = &resilience.BulkheadConfig{
			Key:            c.Guards.Key,
			MaxConcurrency: c.Guards.MaxConcurrency,
			QueueLimit:     c.Guards.QueueLimit,
			QueueTimeout:   c.Guards.QueueTimeout,
		}
	}

	return opts
}

// Addr returns the server listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
