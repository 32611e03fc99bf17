// Package resilience provides the retry, error-classification and circuit
// breaker plumbing shared by the provider adapters.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// CircuitState is the breaker's position.
type CircuitState int

const (
	// CircuitClosed lets calls through; consecutive transient failures are
	// counted.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the cooldown elapses. A flapping
	// provider endpoint stops burning rate-limit tokens and retry budget.
	CircuitOpen
	// CircuitHalfOpen lets probe calls through to test whether the provider
	// has recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned for calls rejected while the breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit open")

// CircuitBreakerConfig tunes one provider's breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold opens the circuit after this many consecutive
	// tripping failures.
	FailureThreshold int

	// ResetTimeout is the open-state cooldown before probing again.
	ResetTimeout time.Duration

	// HalfOpenMaxProbes is how many probes must succeed before closing.
	HalfOpenMaxProbes int

	// ShouldTrip decides which errors count toward the threshold. Nil means
	// every non-nil error trips. Provider adapters pass IsTransient so that
	// data-quality errors (no match, bad payload) never open the circuit.
	ShouldTrip func(err error) bool

	// OnStateChange observes transitions.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig matches the pacing of the paid provider APIs:
// five straight outages within a lookup batch is an endpoint problem, not
// noise, and 30s is long enough for a provider-side deploy blip to clear.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		ResetTimeout:      30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// CircuitBreaker guards a single provider endpoint.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failures     int
	probesPassed int
	openedAt     time.Time

	nowFunc func() time.Time
}

// NewCircuitBreaker creates a breaker, filling zero config values with the
// defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	return &CircuitBreaker{cfg: cfg, nowFunc: time.Now}
}

// Execute runs fn unless the breaker is open, then records the outcome.
// The function's own error is returned unchanged so callers keep their
// error taxonomy; only a rejected call yields ErrCircuitOpen.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	cb.observe(err)
	return err
}

// State reports the current position, accounting for an elapsed cooldown.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen && cb.cooldownElapsed() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Counters exposes the failure streak and state for the providers command.
func (cb *CircuitBreaker) Counters() (failures int, state CircuitState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures, cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		cb.setState(CircuitClosed)
	}
	cb.failures = 0
	cb.probesPassed = 0
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == CircuitOpen {
		if !cb.cooldownElapsed() {
			return false
		}
		cb.setState(CircuitHalfOpen)
	}
	return true
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	tripping := err != nil
	if tripping && cb.cfg.ShouldTrip != nil {
		tripping = cb.cfg.ShouldTrip(err)
	}

	if !tripping {
		switch cb.state {
		case CircuitClosed:
			cb.failures = 0
		case CircuitHalfOpen:
			cb.probesPassed++
			if cb.probesPassed >= cb.cfg.HalfOpenMaxProbes {
				cb.setState(CircuitClosed)
				cb.failures = 0
				cb.probesPassed = 0
			}
		}
		return
	}

	cb.failures++
	cb.openedAt = cb.nowFunc()
	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.setState(CircuitOpen)
		cb.probesPassed = 0
	}
}

// cooldownElapsed requires cb.mu held.
func (cb *CircuitBreaker) cooldownElapsed() bool {
	return cb.nowFunc().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
}

// setState requires cb.mu held.
func (cb *CircuitBreaker) setState(to CircuitState) {
	from := cb.state
	cb.state = to
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(from, to)
	}
}
