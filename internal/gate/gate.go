// Package gate is the bounded-concurrency dispatcher in front of all upstream
// hub calls. It combines per-endpoint circuit breaking, retry with exponential
// backoff for transient failures, an absolute per-call timeout, and an
// adaptive minimum spacing between dispatches driven by latency variance.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonesrussell/castflow/internal/logger"
	"github.com/jonesrussell/castflow/internal/metrics"
	"github.com/jonesrussell/castflow/internal/models"
)

// Defaults for the dispatcher.
const (
	DefaultWorkers           = 3
	DefaultRequestTimeout    = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultRetryInitialDelay = 250 * time.Millisecond
	DefaultLatencyWindowSize = 20
	DefaultDelayFloor        = 10 * time.Millisecond
	DefaultDelayCeiling      = time.Second
	DefaultLowStdDev         = 50 * time.Millisecond
	DefaultHighStdDev        = 200 * time.Millisecond
)

// Config configures a Gate.
type Config struct {
	// Workers is the bounded in-flight call count. Excess dispatches queue
	// in arrival order.
	Workers int
	// RequestTimeout is the absolute timeout per upstream call; exceeding it
	// counts as a failure for circuit purposes.
	RequestTimeout time.Duration
	// MaxRetries is the retry ceiling for transient failures, on top of the
	// initial attempt. Zero selects the default; negative disables retries.
	MaxRetries int
	// RetryInitialDelay is the first backoff delay; it doubles per retry.
	RetryInitialDelay time.Duration
	// Breaker configures the per-endpoint circuits.
	Breaker BreakerConfig
	// LatencyWindowSize is the rolling-window sample count.
	LatencyWindowSize int
	// DelayFloor and DelayCeiling bound the adaptive inter-dispatch delay.
	DelayFloor   time.Duration
	DelayCeiling time.Duration
	// LowStdDev and HighStdDev are the variance thresholds that narrow or
	// widen the delay.
	LowStdDev  time.Duration
	HighStdDev time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	switch {
	case c.MaxRetries == 0:
		c.MaxRetries = DefaultMaxRetries
	case c.MaxRetries < 0:
		c.MaxRetries = 0
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = DefaultRetryInitialDelay
	}
	if c.LatencyWindowSize <= 0 {
		c.LatencyWindowSize = DefaultLatencyWindowSize
	}
	if c.DelayFloor < 0 {
		c.DelayFloor = DefaultDelayFloor
	}
	if c.DelayCeiling <= 0 {
		c.DelayCeiling = DefaultDelayCeiling
	}
	if c.LowStdDev <= 0 {
		c.LowStdDev = DefaultLowStdDev
	}
	if c.HighStdDev <= 0 {
		c.HighStdDev = DefaultHighStdDev
	}
}

// Gate dispatches upstream operations under shared process-wide limits.
type Gate struct {
	config   Config
	sem      chan struct{}
	breakers *BreakerRegistry
	window   *latencyWindow
	pacer    *pacer
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// New creates a Gate. Circuit transitions are logged and exported as metrics.
func New(cfg Config, log logger.Logger, m *metrics.Metrics) *Gate {
	cfg.applyDefaults()

	userCallback := cfg.Breaker.OnStateChange
	cfg.Breaker.OnStateChange = func(endpoint string, from, to State) {
		log.Warn("circuit state change",
			logger.String("endpoint", endpoint),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
		if m != nil {
			m.CircuitState.WithLabelValues(endpoint).Set(float64(to))
			if to == StateOpen {
				m.CircuitTrips.WithLabelValues(endpoint).Inc()
			}
		}
		if userCallback != nil {
			userCallback(endpoint, from, to)
		}
	}

	return &Gate{
		config:   cfg,
		sem:      make(chan struct{}, cfg.Workers),
		breakers: NewBreakerRegistry(cfg.Breaker),
		window:   newLatencyWindow(cfg.LatencyWindowSize),
		pacer:    newPacer(cfg.DelayFloor, cfg.DelayCeiling, cfg.LowStdDev, cfg.HighStdDev),
		logger:   log,
		metrics:  m,
	}
}

// Dispatch runs op against endpoint under the gate's limits. Transient
// failures (rate limiting, timeouts) are retried with exponential backoff up
// to the retry ceiling; every retry passes through the endpoint's circuit
// check. A rejected or exhausted dispatch returns the final error.
func (g *Gate) Dispatch(ctx context.Context, endpoint string, op func(context.Context) error) error {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-g.sem }()

	var lastErr error
	backoff := g.config.RetryInitialDelay

	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		if attempt > 0 {
			if g.metrics != nil {
				g.metrics.UpstreamRetriesTotal.WithLabelValues(endpoint).Inc()
			}
			g.logger.Debug("retrying upstream call",
				logger.String("endpoint", endpoint),
				logger.Int("attempt", attempt),
				logger.Duration("backoff", backoff),
			)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}

		if err := g.breakers.Allow(endpoint); err != nil {
			g.observe(endpoint, "circuit_open")
			return fmt.Errorf("%w: %s", models.ErrCircuitOpen, endpoint)
		}

		if wait := g.pacer.Reserve(time.Now()); wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				g.breakers.Record(endpoint, err)
				return err
			}
		}

		err := g.call(ctx, endpoint, op)

		// The caller going away says nothing about the endpoint's health.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return err
		}

		// A not-found answer is the upstream working correctly; it must not
		// feed the failure streak.
		if errors.Is(err, models.ErrNotFound) {
			g.breakers.Record(endpoint, nil)
			g.observe(endpoint, "not_found")
			return err
		}
		g.breakers.Record(endpoint, err)

		if err == nil {
			g.observe(endpoint, "success")
			return nil
		}

		lastErr = err
		g.observe(endpoint, "failure")

		if !models.IsTransient(err) || ctx.Err() != nil {
			return err
		}
	}

	return lastErr
}

// call runs one attempt under the absolute request timeout and feeds the
// observed latency into the adaptive pacer.
func (g *Gate) call(ctx context.Context, endpoint string, op func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	err := op(callCtx)
	elapsed := time.Since(start)

	g.window.Add(elapsed)
	if sd, ok := g.window.StdDev(); ok {
		g.pacer.Adjust(sd)
	}
	if g.metrics != nil {
		g.metrics.DispatchLatencySeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
	}

	// An expired per-call deadline is a timeout failure; a cancelled parent
	// context is the caller going away and passes through untouched.
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s after %s", models.ErrTimeout, endpoint, elapsed.Round(time.Millisecond))
	}
	return err
}

// observe counts one dispatch outcome.
func (g *Gate) observe(endpoint, outcome string) {
	if g.metrics != nil {
		g.metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	}
}

// CircuitStates returns a snapshot of all endpoint circuits, for health
// reporting.
func (g *Gate) CircuitStates() map[string]string {
	return g.breakers.States()
}

// Delay returns the current adaptive inter-dispatch delay.
func (g *Gate) Delay() time.Duration {
	return g.pacer.Delay()
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
