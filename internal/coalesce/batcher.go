// Package coalesce deduplicates concurrent requests for the same logical key
// into one upstream call, fanning the settled result out to every waiter.
// Requests accumulate over a short window and flush as a batch, so bursts of
// overlapping lookups produce one producer invocation per distinct key.
package coalesce

import (
	"context"
	"sync"
	"time"

	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/metrics"
)

const (
	// DefaultWindow is how long requests accumulate before a batch flushes.
	DefaultWindow = 50 * time.Millisecond
	// DefaultMaxBatch is the distinct-key count that forces an early flush.
	DefaultMaxBatch = 100
)

// Config configures a Batcher.
type Config struct {
	// Window is the accumulation interval before a batch executes.
	Window time.Duration
	// MaxBatch flushes early once this many distinct keys are pending.
	// Zero uses the default.
	MaxBatch int
}

// call is one in-flight producer and the result shared by its waiters.
type call[V any] struct {
	fn   func(context.Context) (V, error)
	done chan struct{}
	val  V
	err  error
}

// Batcher coalesces per-key producers. A key already pending or in flight
// never re-invokes its producer; callers attach to the existing call and all
// observe the identical settled result, success or failure. One key's failure
// never affects its batch siblings.
type Batcher[V any] struct {
	name     string
	window   time.Duration
	maxBatch int
	logger   logger.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	pending  map[string]*call[V] // accumulating, flushes with the batch
	inflight map[string]*call[V] // producer running, attachable until settled
	timer    *time.Timer
	timerSet bool
}

// New creates a Batcher. The name identifies it in logs.
func New[V any](name string, cfg Config, log logger.Logger, m *metrics.Metrics) *Batcher[V] {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}

	return &Batcher[V]{
		name:     name,
		window:   cfg.Window,
		maxBatch: cfg.MaxBatch,
		logger:   log,
		metrics:  m,
		pending:  make(map[string]*call[V]),
		inflight: make(map[string]*call[V]),
	}
}

// Do returns the value for key, invoking fn at most once per in-flight
// request chain regardless of how many callers ask concurrently. The call
// blocks until the shared result settles or ctx is cancelled; cancellation
// abandons the wait, not the producer.
func (b *Batcher[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, error) {
	b.mu.Lock()

	c, attached := b.inflight[key]
	if !attached {
		c, attached = b.pending[key]
	}

	if attached {
		b.mu.Unlock()
		if b.metrics != nil {
			b.metrics.CoalescedRequests.Inc()
		}
		return b.wait(ctx, c)
	}

	c = &call[V]{fn: fn, done: make(chan struct{})}
	b.pending[key] = c

	if !b.timerSet {
		b.timerSet = true
		b.timer = time.AfterFunc(b.window, b.flush)
	}

	if len(b.pending) >= b.maxBatch {
		b.timer.Stop()
		b.mu.Unlock()
		b.flush()
	} else {
		b.mu.Unlock()
	}

	return b.wait(ctx, c)
}

// wait blocks until c settles or ctx is cancelled.
func (b *Batcher[V]) wait(ctx context.Context, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// flush promotes all pending calls to in-flight and runs their producers,
// each on its own goroutine so one failure cannot fail siblings.
func (b *Batcher[V]) flush() {
	b.mu.Lock()

	batch := b.pending
	b.pending = make(map[string]*call[V])
	b.timerSet = false
	for key, c := range batch {
		b.inflight[key] = c
	}

	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	b.logger.Debug("flushing batch",
		logger.String("batcher", b.name),
		logger.Int("keys", len(batch)),
	)
	if b.metrics != nil {
		b.metrics.BatchesExecuted.Inc()
	}

	for key, c := range batch {
		go b.run(key, c)
	}
}

// run executes one producer and settles its call. Producers run detached
// from any single caller's context; they are expected to bound their own
// work (upstream calls carry absolute timeouts).
func (b *Batcher[V]) run(key string, c *call[V]) {
	c.val, c.err = c.fn(context.Background())

	b.mu.Lock()
	delete(b.inflight, key)
	b.mu.Unlock()

	close(c.done)
}

// Stats returns the number of pending and in-flight keys.
func (b *Batcher[V]) Stats() (pending, inflight int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending), len(b.inflight)
}
