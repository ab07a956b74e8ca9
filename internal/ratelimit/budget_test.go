package ratelimit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBudgetConsumeAdmitsExactlyLimit(t *testing.T) {
	t.Parallel()

	b := NewBudget()
	const limit = 5
	for i := 0; i < limit; i++ {
		require.NoError(t, b.Consume("spapi:jp", limit))
	}
	require.ErrorIs(t, b.Consume("spapi:jp", limit), ErrBudgetExceeded)
}

func TestBudgetConsumeConcurrent(t *testing.T) {
	t.Parallel()

	b := NewBudget()
	const limit = 50
	const callers = 200

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			if err := b.Consume("keepa:5:abcdef", limit); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, limit, successes)
}

func TestBudgetRemaining(t *testing.T) {
	t.Parallel()

	b := NewBudget()
	require.Equal(t, 3, b.Remaining("k", 3))
	require.NoError(t, b.Consume("k", 3))
	require.Equal(t, 2, b.Remaining("k", 3))
}
