package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/guardkit/guardkit/pkg/logging"
)

// Observer receives guard activity, typically to record metrics. All
// methods may be called concurrently.
type Observer interface {
	OperationCompleted(name string, success bool, duration time.Duration)
	BreakerTransition(key string, from, to CircuitState)
	BreakerRejected(key string)
	BulkheadRejected(key string, reason RejectionReason)
	BulkheadQueued(key string, waited time.Duration)
	RetryAttempted(name string, attempt int)
	FallbackInvoked(name string, success bool)
}

// Tracer starts a span around a unit of guard work. The returned finish
// function records the outcome. Kept as a small local interface so the
// engine does not depend on a tracing backend.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, func(err error))
}

// ComposerConfig wires a GuardComposer
type ComposerConfig struct {
	Breakers  *CircuitBreakerRegistry
	Bulkheads *BulkheadRegistry
	Observer  Observer
	Tracer    Tracer
}

// GuardComposer applies an operation's guard policies in a fixed order:
// bulkhead admission, then the retry loop with a circuit breaker admission
// check and outcome report per attempt, then fallback on terminal failure.
// The bulkhead slot is released on every exit path, including panic and
// cancellation. A breaker or bulkhead rejection is terminal for the call;
// it is never retried, though it is still offered to the fallback filter.
type GuardComposer struct {
	breakers  *CircuitBreakerRegistry
	bulkheads *BulkheadRegistry
	observer  Observer
	tracer    Tracer
	logger    *logging.Logger
}

// NewGuardComposer creates a composer. Nil registries are created with
// default configuration functions.
func NewGuardComposer(config ComposerConfig) *GuardComposer {
	if config.Breakers == nil {
		config.Breakers = NewCircuitBreakerRegistry(nil)
	}
	if config.Bulkheads == nil {
		config.Bulkheads = NewBulkheadRegistry(nil)
	}
	return &GuardComposer{
		breakers:  config.Breakers,
		bulkheads: config.Bulkheads,
		observer:  config.Observer,
		tracer:    config.Tracer,
		logger:    logging.GetLogger(),
	}
}

// Breakers exposes the composer's breaker registry
func (g *GuardComposer) Breakers() *CircuitBreakerRegistry {
	return g.breakers
}

// Bulkheads exposes the composer's bulkhead registry
func (g *GuardComposer) Bulkheads() *BulkheadRegistry {
	return g.bulkheads
}

// Execute runs an operation under its guard policies. The fallback argument
// may be nil when opts.Fallback is unset.
func (g *GuardComposer) Execute(ctx context.Context, name string, opts PolicyOptions, operation func(context.Context) (interface{}, error), fallback func(context.Context, error) (interface{}, error)) (result interface{}, err error) {
	start := time.Now()

	if g.tracer != nil {
		var finish func(err error)
		ctx, finish = g.tracer.StartSpan(ctx, name)
		defer func() { finish(err) }()
	}

	defer func() {
		if g.observer != nil {
			g.observer.OperationCompleted(name, err == nil, time.Since(start))
		}
	}()

	// Bulkhead admission first: a caller that cannot get a slot must not
	// touch the breaker or the operation.
	if opts.Bulkhead != nil {
		bh := g.bulkheads.GetWithConfig(g.instrumentBulkhead(*opts.Bulkhead))
		if acquireErr := bh.Acquire(ctx); acquireErr != nil {
			err = acquireErr
			if IsBulkheadRejected(acquireErr) {
				result, err = g.offerFallback(ctx, name, opts, fallback, acquireErr)
			}
			return result, err
		}
		defer bh.Release()
	}

	guarded := g.guardedAttempt(name, opts, operation)

	if opts.Retry != nil {
		retryCfg := *opts.Retry
		userOnRetry := retryCfg.OnRetry
		retryCfg.OnRetry = func(err error, attempt int, delay time.Duration) {
			if g.observer != nil {
				g.observer.RetryAttempted(name, attempt)
			}
			if userOnRetry != nil {
				userOnRetry(err, attempt, delay)
			}
		}
		retrier := NewRetrier(retryCfg)
		result, err = retrier.ExecuteWithResult(ctx, guarded)
	} else {
		result, err = guarded(ctx)
	}

	if err != nil {
		result, err = g.offerFallback(ctx, name, opts, fallback, err)
		return result, err
	}

	// Success path may still be flagged faulty.
	if opts.Fallback != nil && opts.Fallback.FallbackOnFaulty && fallback != nil {
		if faulty, ok := result.(Faulter); ok && faulty.Faulty() {
			result, err = g.runFallback(ctx, name, *opts.Fallback, fallback, ErrFaultyResult)
		}
	}

	return result, err
}

// ExecuteVoid runs an operation without a result under its guard policies
func (g *GuardComposer) ExecuteVoid(ctx context.Context, name string, opts PolicyOptions, operation func(context.Context) error) error {
	_, err := g.Execute(ctx, name, opts, func(ctx context.Context) (interface{}, error) {
		return nil, operation(ctx)
	}, nil)
	return err
}

// guardedAttempt wraps a single operation call with circuit breaker
// admission and outcome recording
func (g *GuardComposer) guardedAttempt(name string, opts PolicyOptions, operation func(context.Context) (interface{}, error)) func(context.Context) (interface{}, error) {
	if opts.CircuitBreaker == nil {
		return operation
	}

	cbConfig := g.instrumentBreaker(*opts.CircuitBreaker)

	return func(ctx context.Context) (interface{}, error) {
		cb := g.breakers.GetWithConfig(cbConfig)

		if admitErr := cb.Admit(); admitErr != nil {
			if g.observer != nil {
				g.observer.BreakerRejected(cb.Key())
			}
			return nil, admitErr
		}

		defer func() {
			if r := recover(); r != nil {
				cb.RecordOutcome(false)
				panic(r)
			}
		}()

		result, err := operation(ctx)

		if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// The caller walked away; that says nothing about the
			// dependency. Record success so a half-open probe slot
			// is not left dangling.
			cb.RecordOutcome(true)
		} else {
			cb.RecordResult(err)
		}

		return result, err
	}
}

// offerFallback routes a terminal failure through the configured fallback
func (g *GuardComposer) offerFallback(ctx context.Context, name string, opts PolicyOptions, fallback func(context.Context, error) (interface{}, error), terminal error) (interface{}, error) {
	if opts.Fallback == nil || fallback == nil {
		return nil, terminal
	}
	if ctx.Err() != nil && errors.Is(terminal, ctx.Err()) {
		// Cancellation of the call itself is not a failure to paper
		// over.
		return nil, terminal
	}
	if !opts.Fallback.FallbackOn.ShouldCount(terminal) {
		return nil, terminal
	}
	return g.runFallback(ctx, name, *opts.Fallback, fallback, terminal)
}

func (g *GuardComposer) runFallback(ctx context.Context, name string, config FallbackConfig, fallback func(context.Context, error) (interface{}, error), original error) (interface{}, error) {
	executor := NewFallbackExecutor(config)
	result, err := executor.runFallback(ctx, fallback, original)
	if g.observer != nil {
		g.observer.FallbackInvoked(name, err == nil)
	}
	return result, err
}

// instrumentBreaker layers observer notification over a breaker config's
// state change callback
func (g *GuardComposer) instrumentBreaker(config CircuitBreakerConfig) CircuitBreakerConfig {
	if g.observer == nil {
		return config
	}
	userCallback := config.OnStateChange
	config.OnStateChange = func(key string, from, to CircuitState) {
		g.observer.BreakerTransition(key, from, to)
		if userCallback != nil {
			userCallback(key, from, to)
		}
	}
	return config
}

// instrumentBulkhead layers observer notification over a bulkhead config's
// callbacks
func (g *GuardComposer) instrumentBulkhead(config BulkheadConfig) BulkheadConfig {
	if g.observer == nil {
		return config
	}
	userRejected := config.OnRejected
	config.OnRejected = func(key string, reason RejectionReason) {
		g.observer.BulkheadRejected(key, reason)
		if userRejected != nil {
			userRejected(key, reason)
		}
	}
	userDequeued := config.OnDequeued
	config.OnDequeued = func(key string, waited time.Duration) {
		g.observer.BulkheadQueued(key, waited)
		if userDequeued != nil {
			userDequeued(key, waited)
		}
	}
	return config
}
