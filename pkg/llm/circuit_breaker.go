package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	// CircuitClosed lets every call through.
	CircuitClosed CircuitState = iota
	// CircuitOpen rejects calls until the reset period has passed.
	CircuitOpen
	// CircuitHalfOpen lets a single trial call through.
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

// CircuitBreakerConfig holds configuration for the circuit breaker.
// Zero values fall back to 5 failures and 30 seconds.
type CircuitBreakerConfig struct {
	// Threshold is the number of consecutive failures that opens the circuit.
	Threshold int
	// ResetAfter is how long the circuit stays open before a trial call is allowed.
	ResetAfter time.Duration
}

// CircuitBreaker stops calling an LLM provider that keeps failing, so an
// outage surfaces as llm_unavailable immediately instead of after every
// request has waited out its own retries.
type CircuitBreaker struct {
	mu          sync.Mutex
	threshold   int
	resetAfter  time.Duration
	now         func() time.Time
	state       CircuitState
	failures    int
	openedAt    time.Time
	trialActive bool
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Threshold <= 0 {
		config.Threshold = 5
	}
	if config.ResetAfter <= 0 {
		config.ResetAfter = 30 * time.Second
	}
	return &CircuitBreaker{
		threshold:  config.Threshold,
		resetAfter: config.ResetAfter,
		now:        time.Now,
	}
}

// Allow reports whether a call may proceed. A rejected call gets a
// non-retryable circuit error. Once the reset period has passed, exactly one
// caller is let through as a trial call; its outcome closes or reopens the circuit.
func (cb *CircuitBreaker) Allow() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if waited := cb.now().Sub(cb.openedAt); waited >= cb.resetAfter {
			cb.state = CircuitHalfOpen
		} else {
			return false, NewError(ErrorTypeCircuit,
				fmt.Sprintf("LLM provider circuit open after %d consecutive failures, retry in %s",
					cb.failures, (cb.resetAfter - waited).Round(time.Second)), false, nil)
		}
	}

	if cb.state == CircuitHalfOpen {
		if cb.trialActive {
			return false, NewError(ErrorTypeCircuit, "LLM provider circuit half-open, trial call in flight", false, nil)
		}
		cb.trialActive = true
	}
	return true, nil
}

// RecordSuccess closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = CircuitClosed
	cb.failures = 0
	cb.trialActive = false
}

// RecordFailure counts a provider failure. A failed trial call reopens the
// circuit at once.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == CircuitHalfOpen || cb.failures >= cb.threshold {
		cb.state = CircuitOpen
		cb.openedAt = cb.now()
	}
	cb.trialActive = false
}

// Abandon releases a half-open trial call whose call ended without saying
// anything about provider health, such as a caller cancellation or a
// rejected request. The circuit state is unchanged.
func (cb *CircuitBreaker) Abandon() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialActive = false
}

// State returns the current state. An open circuit whose reset period has
// passed still reports open until the next Allow.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the failures counted since the last success.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
