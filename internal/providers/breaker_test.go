package providers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/domain"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, 2, time.Minute)

	for i := 0; i < 2; i++ {
		require.True(t, b.Allow())
		b.OnFailure()
		assert.Equal(t, domain.CircuitClosed, b.State())
	}

	b.OnFailure()
	assert.Equal(t, domain.CircuitOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := NewBreaker(1, 2, time.Minute)

	now := time.Now()
	b.now = func() time.Time { return now }

	b.OnFailure()
	require.Equal(t, domain.CircuitOpen, b.State())
	require.False(t, b.Allow())

	// Advance past the open timeout: next Allow moves to HALF_OPEN.
	now = now.Add(61 * time.Second)
	require.True(t, b.Allow())
	assert.Equal(t, domain.CircuitHalfOpen, b.State())
}

func TestBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	b := NewBreaker(1, 2, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.OnFailure()
	now = now.Add(61 * time.Second)
	require.True(t, b.Allow())

	b.OnSuccess()
	assert.Equal(t, domain.CircuitHalfOpen, b.State())
	b.OnSuccess()
	assert.Equal(t, domain.CircuitClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(1, 2, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	b.OnFailure()
	now = now.Add(61 * time.Second)
	require.True(t, b.Allow())
	require.Equal(t, domain.CircuitHalfOpen, b.State())

	// A single failure in HALF_OPEN reopens with a fresh timer.
	b.OnFailure()
	assert.Equal(t, domain.CircuitOpen, b.State())
	assert.False(t, b.Allow())

	// Not enough time since the reopen: still blocked.
	now = now.Add(30 * time.Second)
	assert.False(t, b.Allow())

	now = now.Add(31 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, domain.CircuitHalfOpen, b.State())
}

func TestBreaker_SuccessResetsClosedFailures(t *testing.T) {
	b := NewBreaker(3, 2, time.Minute)

	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()

	// Streak was broken, so we never reached three consecutive failures.
	assert.Equal(t, domain.CircuitClosed, b.State())
}
