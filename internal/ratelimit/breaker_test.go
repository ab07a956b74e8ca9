package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", 3, 30*time.Second)
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	cb.RecordFailure()
	require.False(t, cb.IsOpen())
	require.NoError(t, cb.Allow())

	cb.RecordFailure()
	require.True(t, cb.IsOpen())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
}

func TestCircuitBreakerResetsAfterCooldown(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	require.False(t, cb.IsOpen())
}

func TestCircuitBreakerRecordSuccessClearsFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("test", 3, 30*time.Second)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	require.False(t, cb.IsOpen())
}

func TestCircuitBreakerDefaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker("defaults", 0, 0)
	require.Equal(t, DefaultFailureThreshold, cb.failureThreshold)
	require.Equal(t, DefaultCooldown, cb.cooldown)
}
