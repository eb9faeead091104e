package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/domain"
)

func quoteEntry(provider string, ttl time.Duration) *Entry {
	return &Entry{
		Value:     &domain.Quote{Symbol: "AAPL", CurrentPrice: 190.5},
		CreatedAt: time.Now(),
		TTL:       ttl,
		DataType:  domain.DataQuote,
		Provider:  provider,
	}
}

func TestMemoryCache_HitAndMiss(t *testing.T) {
	c, err := NewMemoryCache(10, true)
	require.NoError(t, err)

	_, ok := c.Get("quote:AAPL")
	assert.False(t, ok)

	c.Set("quote:AAPL", quoteEntry("yahoo", time.Minute))

	entry, ok := c.Get("quote:AAPL")
	require.True(t, ok)
	assert.Equal(t, "yahoo", entry.Provider)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestMemoryCache_ExpiredEntryIsMissAndRemoved(t *testing.T) {
	c, err := NewMemoryCache(10, true)
	require.NoError(t, err)

	entry := quoteEntry("yahoo", time.Minute)
	entry.CreatedAt = time.Now().Add(-2 * time.Minute)
	c.Set("quote:AAPL", entry)

	_, ok := c.Get("quote:AAPL")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
}

func TestMemoryCache_EvictsLRUAtCapacity(t *testing.T) {
	c, err := NewMemoryCache(1, true)
	require.NoError(t, err)

	c.Set("quote:AAPL", quoteEntry("yahoo", time.Minute))
	c.Set("quote:MSFT", quoteEntry("yahoo", time.Minute))

	_, ok := c.Get("quote:AAPL")
	assert.False(t, ok)
	_, ok = c.Get("quote:MSFT")
	assert.True(t, ok)
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

func TestMemoryCache_DisabledAlwaysMisses(t *testing.T) {
	c, err := NewMemoryCache(10, false)
	require.NoError(t, err)

	c.Set("quote:AAPL", quoteEntry("yahoo", time.Minute))

	_, ok := c.Get("quote:AAPL")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Size)
	assert.False(t, c.Stats().Enabled)
}

func TestMemoryCache_Clear(t *testing.T) {
	c, err := NewMemoryCache(10, true)
	require.NoError(t, err)

	c.Set("quote:AAPL", quoteEntry("yahoo", time.Minute))
	c.Set("quote:MSFT", quoteEntry("yahoo", time.Minute))
	c.Clear()

	assert.Equal(t, 0, c.Stats().Size)
	_, ok := c.Get("quote:AAPL")
	assert.False(t, ok)
}
