package gate

import (
	"sync"
	"time"

	"github.com/jonesrussell/castflow/internal/models"
)

// State represents the state of one endpoint's circuit.
type State int

const (
	// StateClosed means requests are allowed.
	StateClosed State = iota
	// StateOpen means requests are rejected until the reset timeout elapses.
	StateOpen
	// StateHalfOpen means a single trial request is probing for recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-endpoint circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a circuit.
	FailureThreshold int
	// ResetTimeout is how long a circuit stays open before admitting a trial.
	ResetTimeout time.Duration
	// OnStateChange is an optional callback on transitions.
	OnStateChange func(endpoint string, from, to State)
}

// breaker tracks consecutive failures for one endpoint.
type breaker struct {
	state           State
	failureCount    int
	lastFailureTime time.Time
	trialInFlight   bool
}

// BreakerRegistry holds one circuit per upstream endpoint. It is process-wide
// shared state; every mutation is applied under the registry lock.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig

	now func() time.Time // overridable in tests
}

// NewBreakerRegistry creates a registry with the given configuration.
func NewBreakerRegistry(cfg BreakerConfig) *BreakerRegistry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   cfg,
		now:      time.Now,
	}
}

// Allow reports whether a dispatch to endpoint may proceed. An open circuit
// rejects with ErrCircuitOpen until the reset timeout has elapsed, at which
// point exactly one trial dispatch is admitted (half-open).
func (r *BreakerRegistry) Allow(endpoint string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(endpoint)

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if r.now().Sub(b.lastFailureTime) < r.config.ResetTimeout {
			return models.ErrCircuitOpen
		}
		r.transition(endpoint, b, StateHalfOpen)
		b.trialInFlight = true
		return nil
	case StateHalfOpen:
		if b.trialInFlight {
			return models.ErrCircuitOpen
		}
		b.trialInFlight = true
		return nil
	default:
		return models.ErrCircuitOpen
	}
}

// Record reports the outcome of a dispatch admitted by Allow. A success in
// half-open closes the circuit and zeroes the failure count; a failure
// re-opens it and restarts the reset timeout. In closed state, failures
// accumulate until the threshold opens the circuit.
func (r *BreakerRegistry) Record(endpoint string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.get(endpoint)

	if err == nil {
		b.failureCount = 0
		if b.state == StateHalfOpen {
			b.trialInFlight = false
			r.transition(endpoint, b, StateClosed)
		}
		return
	}

	b.failureCount++
	b.lastFailureTime = r.now()

	switch b.state {
	case StateClosed:
		if b.failureCount >= r.config.FailureThreshold {
			r.transition(endpoint, b, StateOpen)
		}
	case StateHalfOpen:
		b.trialInFlight = false
		r.transition(endpoint, b, StateOpen)
	case StateOpen:
		// Already open; only the failure time moved.
	}
}

// get returns the breaker for endpoint, creating it closed if absent.
// Callers must hold r.mu.
func (r *BreakerRegistry) get(endpoint string) *breaker {
	b, ok := r.breakers[endpoint]
	if !ok {
		b = &breaker{state: StateClosed}
		r.breakers[endpoint] = b
	}
	return b
}

// transition moves b to next and fires the state-change callback.
// Callers must hold r.mu.
func (r *BreakerRegistry) transition(endpoint string, b *breaker, next State) {
	if b.state == next {
		return
	}
	prev := b.state
	b.state = next

	if next == StateClosed {
		b.failureCount = 0
	}

	if r.config.OnStateChange != nil {
		r.config.OnStateChange(endpoint, prev, next)
	}
}

// States returns a snapshot of every known endpoint's circuit state.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.breakers))
	for endpoint, b := range r.breakers {
		out[endpoint] = b.state.String()
	}
	return out
}
