package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/domain"
)

func testGuard(t *testing.T, mutate func(*config.ProviderConfig)) *Guard {
	t.Helper()
	cfg := config.ProviderDefaults()
	if mutate != nil {
		mutate(&cfg)
	}
	return NewGuard("testprov", cfg, zerolog.Nop())
}

func TestGuard_SuccessClearsFailureState(t *testing.T) {
	g := testGuard(t, nil)

	err := g.Do(context.Background(), "get_quote", func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	snap := g.Snapshot(true)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.False(t, snap.RateLimited)
	assert.Equal(t, domain.CircuitClosed, snap.Circuit)
	assert.NotZero(t, snap.LastSuccessUnix)
}

func TestGuard_RateLimitErrorSetsCooldown(t *testing.T) {
	g := testGuard(t, nil)

	err := g.Do(context.Background(), "get_quote", func(ctx context.Context) error {
		return NewError("testprov", "get_quote", KindRateLimit, fmt.Errorf("HTTP 429"))
	})
	require.Error(t, err)

	assert.True(t, g.IsRateLimited())
	assert.Equal(t, 1, g.Snapshot(true).ConsecutiveFailures)
}

func TestGuard_UnclassifiedErrorsAreClassified(t *testing.T) {
	g := testGuard(t, nil)

	err := g.Do(context.Background(), "get_quote", func(ctx context.Context) error {
		return errors.New("Too Many Requests")
	})
	require.Error(t, err)
	assert.True(t, g.IsRateLimited())
}

func TestGuard_InvalidSymbolNotCountedAsFailure(t *testing.T) {
	g := testGuard(t, nil)

	err := g.Do(context.Background(), "get_quote", func(ctx context.Context) error {
		return NewError("testprov", "get_quote", KindInvalidSymbol, errors.New("symbol not found"))
	})
	require.Error(t, err)

	snap := g.Snapshot(true)
	assert.Equal(t, 0, snap.ConsecutiveFailures)
	assert.False(t, snap.RateLimited)
	assert.Equal(t, domain.CircuitClosed, snap.Circuit)
}

func TestGuard_CircuitOpensAndBlocks(t *testing.T) {
	g := testGuard(t, func(cfg *config.ProviderConfig) {
		cfg.CircuitFailures = 2
	})

	fail := func(ctx context.Context) error {
		return NewError("testprov", "get_quote", KindNetwork, errors.New("connection refused"))
	}

	require.Error(t, g.Do(context.Background(), "get_quote", fail))
	require.Error(t, g.Do(context.Background(), "get_quote", fail))
	require.True(t, g.CircuitOpen())

	// Calls are refused without invoking fn.
	invoked := false
	err := g.Do(context.Background(), "get_quote", func(ctx context.Context) error {
		invoked = true
		return nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, invoked)
}

func TestGuard_LocalBudgetDenial(t *testing.T) {
	g := testGuard(t, func(cfg *config.ProviderConfig) {
		cfg.RequestsPerMinute = 60
	})

	// Exhaust the burst budget, then expect a rate-limit denial without the
	// call reaching fn.
	var denied bool
	for i := 0; i < 120; i++ {
		err := g.Do(context.Background(), "get_quote", func(ctx context.Context) error { return nil })
		if err != nil {
			var pe *Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, KindRateLimit, pe.Kind)
			denied = true
			break
		}
	}
	assert.True(t, denied, "expected the limiter to deny at least one call")
	assert.True(t, g.IsRateLimited())
}

func TestGuard_SemaphoreTimeoutFailsFast(t *testing.T) {
	g := testGuard(t, func(cfg *config.ProviderConfig) {
		cfg.MaxConcurrent = 1
	})

	block := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = g.Do(context.Background(), "get_quote", func(ctx context.Context) error {
			<-block
			return nil
		})
	}()

	// Give the first call time to take the only slot.
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := g.Do(ctx, "get_quote", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	// A local timeout is not an upstream failure.
	assert.Equal(t, 0, g.Snapshot(true).ConsecutiveFailures)

	close(block)
	<-done
}
