// Package ratelimit provides the three thread-safe primitives the retrying
// transport composes around every outbound call: a per-key request budget,
// a per-key in-flight semaphore, and a circuit breaker with cooldown.
package ratelimit

import (
	"errors"
	"sync"
)

// ErrBudgetExceeded is returned by Budget.Consume once a key has reached
// its configured limit.
var ErrBudgetExceeded = errors.New("ratelimit: budget exceeded")

// Budget maps an opaque key to a consumed-count ceiling. Counts are
// in-memory and scoped to the Budget's own lifetime — there is no time
// window, the limit is a hard per-process ceiling.
type Budget struct {
	mu       sync.Mutex
	consumed map[string]int
}

// NewBudget constructs an empty Budget.
func NewBudget() *Budget {
	return &Budget{consumed: make(map[string]int)}
}

// Consume atomically increments the counter for key and fails with
// ErrBudgetExceeded once consumed reaches limit. The (N+1)-th caller past
// the limit always observes the failure regardless of interleaving.
func (b *Budget) Consume(key string, limit int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumed[key] >= limit {
		BudgetExceededTotal.WithLabelValues(key).Inc()
		return ErrBudgetExceeded
	}
	b.consumed[key]++
	return nil
}

// Remaining reports how many calls are still admissible for key.
func (b *Budget) Remaining(key string, limit int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := limit - b.consumed[key]
	if remaining < 0 {
		return 0
	}
	return remaining
}
