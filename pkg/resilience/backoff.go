package resilience

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig holds configuration for delay calculation between retries
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// Multiplier is the exponential growth factor; 1.0 yields constant delay
	Multiplier float64
	// MaxDelay caps the computed delay
	MaxDelay time.Duration
	// Jitter enables a uniformly random adjustment of the delay
	Jitter bool
	// JitterFactor bounds the adjustment to +-JitterFactor*delay
	JitterFactor float64
	// Rand supplies randomness in [0,1); defaults to math/rand when nil.
	// Injectable for deterministic tests.
	Rand func() float64
}

// BackoffCalculator computes retry delays with exponential backoff and
// optional jitter
type BackoffCalculator struct {
	config BackoffConfig
}

// NewBackoffCalculator creates a calculator, applying defaults for
// unset fields
func NewBackoffCalculator(config BackoffConfig) *BackoffCalculator {
	if config.InitialDelay <= 0 {
		config.InitialDelay = 100 * time.Millisecond
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}
	if config.JitterFactor <= 0 {
		config.JitterFactor = 0.1
	}
	if config.Rand == nil {
		config.Rand = rand.Float64
	}

	return &BackoffCalculator{config: config}
}

// Delay computes the delay before the retry following the given 1-based
// attempt number
func (b *BackoffCalculator) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := float64(b.config.InitialDelay) * math.Pow(b.config.Multiplier, float64(attempt-1))

	if delay > float64(b.config.MaxDelay) {
		delay = float64(b.config.MaxDelay)
	}

	if b.config.Jitter {
		// Uniform offset in [-factor*delay, +factor*delay], floored at zero
		offset := (b.config.Rand()*2 - 1) * b.config.JitterFactor * delay
		delay += offset
		if delay < 0 {
			delay = 0
		}
	}

	return time.Duration(delay)
}
