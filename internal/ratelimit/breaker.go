package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreaker.Allow while the breaker is
// open and its cooldown has not yet elapsed.
var ErrCircuitOpen = errors.New("ratelimit: circuit open")

const (
	// DefaultFailureThreshold is the default consecutive-failure count that
	// opens the breaker.
	DefaultFailureThreshold = 3
	// DefaultCooldown is the default duration the breaker stays open
	// before a call is allowed to probe it closed again.
	DefaultCooldown = 30 * time.Second
)

// CircuitBreaker opens after failureThreshold consecutive failures and
// denies calls until cooldown has elapsed since it opened.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	cooldown         time.Duration

	mu       sync.Mutex
	failures int
	openedAt time.Time
	open     bool
}

// NewCircuitBreaker constructs a CircuitBreaker. Zero values fall back to
// the package defaults. name labels the breaker's metrics (e.g. "spapi",
// "keepa") and is otherwise inert.
func NewCircuitBreaker(name string, failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
	}
}

// Allow fails with ErrCircuitOpen while the breaker is open and the
// cooldown has not elapsed. Once the cooldown has elapsed the breaker
// resets and the call is permitted — a state transition that is itself
// serialized under the breaker's own lock.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return nil
	}
	if time.Since(b.openedAt) >= b.cooldown {
		b.open = false
		b.failures = 0
		return nil
	}
	CircuitBreakerRejectedTotal.WithLabelValues(b.name).Inc()
	return ErrCircuitOpen
}

// RecordSuccess clears the failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

// RecordFailure increments the failure counter and opens the breaker once
// the threshold is reached. A failure recorded concurrently with a success
// is a last-writer-wins race confined to this counter; neither transition
// is ever partial because both hold the same lock.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.failureThreshold && !b.open {
		b.open = true
		b.openedAt = time.Now()
		CircuitBreakerOpenTotal.WithLabelValues(b.name).Inc()
	}
}

// IsOpen reports the current breaker state without mutating it.
func (b *CircuitBreaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}
