package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/guardkit/guardkit/pkg/logging"
)

// BulkheadConfig holds configuration for a bulkhead
type BulkheadConfig struct {
	// Key identifies the bulkhead; operations sharing a key share slots
	Key string
	// MaxConcurrency is the number of slots
	MaxConcurrency int
	// QueueLimit bounds the wait queue; 0 disables queueing entirely
	QueueLimit int
	// QueueTimeout bounds how long a queued caller waits for a slot
	QueueTimeout time.Duration
	// OnQueued is called when a caller enters the wait queue
	OnQueued func(key string, position int)
	// OnDequeued is called when a queued caller obtains a slot
	OnDequeued func(key string, waited time.Duration)
	// OnRejected is called when admission is denied
	OnRejected func(key string, reason RejectionReason)
}

// DefaultBulkheadConfig returns a default bulkhead configuration
func DefaultBulkheadConfig(key string) BulkheadConfig {
	return BulkheadConfig{
		Key:            key,
		MaxConcurrency: 10,
		QueueLimit:     20,
		QueueTimeout:   5 * time.Second,
	}
}

type waiter struct {
	ready      chan struct{}
	granted    bool
	enqueuedAt time.Time
}

// Bulkhead limits concurrent executions under a key. Callers beyond
// MaxConcurrency join a FIFO wait queue bounded by QueueLimit; a slot freed
// by Release is handed to the head waiter atomically, so an outside acquirer
// can never steal it between release and wake.
type Bulkhead struct {
	key            string
	maxConcurrency int
	queueLimit     int
	queueTimeout   time.Duration
	onQueued       func(key string, position int)
	onDequeued     func(key string, waited time.Duration)
	onRejected     func(key string, reason RejectionReason)

	mutex     sync.Mutex
	active    int
	waitQueue []*waiter

	logger *logging.Logger
}

// NewBulkhead creates a new bulkhead with the given configuration
func NewBulkhead(config BulkheadConfig) *Bulkhead {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.QueueTimeout <= 0 {
		config.QueueTimeout = 5 * time.Second
	}

	return &Bulkhead{
		key:            config.Key,
		maxConcurrency: config.MaxConcurrency,
		queueLimit:     config.QueueLimit,
		queueTimeout:   config.QueueTimeout,
		onQueued:       config.OnQueued,
		onDequeued:     config.OnDequeued,
		onRejected:     config.OnRejected,
		logger:         logging.GetLogger(),
	}
}

// Key returns the bulkhead identity
func (b *Bulkhead) Key() string {
	return b.key
}

// Acquire obtains a slot, queueing if necessary. It returns nil once a slot
// is held, a *BulkheadRejectedError when admission is denied, or the context
// error when the wait is cancelled. Every nil return must be paired with
// exactly one Release.
func (b *Bulkhead) Acquire(ctx context.Context) error {
	b.mutex.Lock()

	if b.active < b.maxConcurrency {
		b.active++
		b.mutex.Unlock()
		return nil
	}

	if b.queueLimit == 0 {
		b.mutex.Unlock()
		b.reject(ReasonAtCapacity)
		return &BulkheadRejectedError{Key: b.key, Reason: ReasonAtCapacity}
	}

	if len(b.waitQueue) >= b.queueLimit {
		b.mutex.Unlock()
		b.reject(ReasonQueueFull)
		return &BulkheadRejectedError{Key: b.key, Reason: ReasonQueueFull}
	}

	w := &waiter{
		ready:      make(chan struct{}),
		enqueuedAt: time.Now(),
	}
	b.waitQueue = append(b.waitQueue, w)
	position := len(b.waitQueue)
	b.mutex.Unlock()

	if b.onQueued != nil {
		b.onQueued(b.key, position)
	}

	timer := time.NewTimer(b.queueTimeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		if b.onDequeued != nil {
			b.onDequeued(b.key, time.Since(w.enqueuedAt))
		}
		return nil

	case <-timer.C:
		b.mutex.Lock()
		if w.granted {
			// The grant raced with the timer; the slot is already
			// ours, keep it.
			b.mutex.Unlock()
			if b.onDequeued != nil {
				b.onDequeued(b.key, time.Since(w.enqueuedAt))
			}
			return nil
		}
		b.removeWaiterLocked(w)
		b.mutex.Unlock()
		b.reject(ReasonQueueTimeout)
		return &BulkheadRejectedError{Key: b.key, Reason: ReasonQueueTimeout}

	case <-ctx.Done():
		b.mutex.Lock()
		if w.granted {
			// The slot was transferred just as the caller gave up;
			// pass it straight on so it is not leaked.
			b.releaseLocked()
			b.mutex.Unlock()
			return ctx.Err()
		}
		b.removeWaiterLocked(w)
		b.mutex.Unlock()
		return ctx.Err()
	}
}

// Release frees a slot, handing it to the head waiter if any
func (b *Bulkhead) Release() {
	b.mutex.Lock()
	b.releaseLocked()
	b.mutex.Unlock()
}

// releaseLocked transfers the slot to the head waiter or decrements the
// active count. Caller holds the mutex.
func (b *Bulkhead) releaseLocked() {
	if len(b.waitQueue) > 0 {
		head := b.waitQueue[0]
		b.waitQueue = b.waitQueue[1:]
		// The active count does not change: the slot moves from the
		// releaser to the waiter.
		head.granted = true
		close(head.ready)
		return
	}

	if b.active > 0 {
		b.active--
	} else {
		b.logger.Warn("Bulkhead release without matching acquire", "key", b.key)
	}
}

// removeWaiterLocked drops a waiter that gave up. Caller holds the mutex.
func (b *Bulkhead) removeWaiterLocked(w *waiter) {
	for i, queued := range b.waitQueue {
		if queued == w {
			b.waitQueue = append(b.waitQueue[:i], b.waitQueue[i+1:]...)
			return
		}
	}
}

func (b *Bulkhead) reject(reason RejectionReason) {
	if b.onRejected != nil {
		b.onRejected(b.key, reason)
	}
	b.logger.Debug("Bulkhead rejected call",
		"key", b.key,
		"reason", string(reason),
	)
}

// Execute runs the operation inside the bulkhead, releasing the slot on
// every exit path
func (b *Bulkhead) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.Acquire(ctx); err != nil {
		return err
	}
	defer b.Release()

	return op(ctx)
}

// BulkheadSnapshot describes the observable state of a bulkhead
type BulkheadSnapshot struct {
	Key            string `json:"key"`
	Active         int    `json:"active"`
	MaxConcurrency int    `json:"max_concurrency"`
	Queued         int    `json:"queued"`
	QueueLimit     int    `json:"queue_limit"`
}

// Snapshot returns a consistent view of the bulkhead for health and metrics
func (b *Bulkhead) Snapshot() BulkheadSnapshot {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return BulkheadSnapshot{
		Key:            b.key,
		Active:         b.active,
		MaxConcurrency: b.maxConcurrency,
		Queued:         len(b.waitQueue),
		QueueLimit:     b.queueLimit,
	}
}
