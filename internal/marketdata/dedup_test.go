package marketdata

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupKey_Canonical(t *testing.T) {
	a := DedupKey("history", "aapl", map[string]string{"period": "1y", "interval": "1d"})
	b := DedupKey("history", "AAPL", map[string]string{"interval": "1d", "period": "1y"})
	assert.Equal(t, a, b)
	assert.Equal(t, "history:AAPL:interval=1d:period=1y", a)

	assert.Equal(t, "quote:MSFT", DedupKey("quote", "msft", nil))
}

func TestDeduplicator_ConcurrentCallersShareOneFetch(t *testing.T) {
	d := NewDeduplicator(500*time.Millisecond, 5*time.Second)

	var fetches atomic.Int64
	release := make(chan struct{})

	fn := func() (interface{}, error) {
		fetches.Add(1)
		<-release
		return "payload", nil
	}

	const callers = 100
	var wg sync.WaitGroup
	results := make([]interface{}, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = d.Do("quote:AAPL", fn)
		}(i)
	}

	// Let every caller reach the dedup gate before the fetch completes.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), fetches.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "payload", results[i])
	}
}

func TestDeduplicator_GraceWindowServesLateCallers(t *testing.T) {
	d := NewDeduplicator(200*time.Millisecond, 5*time.Second)

	var fetches atomic.Int64
	fn := func() (interface{}, error) {
		fetches.Add(1)
		return 42, nil
	}

	v, _, err := d.Do("quote:AAPL", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	// Inside the window: served from the holdover, no second fetch.
	v, shared, err := d.Do("quote:AAPL", fn)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.True(t, shared)
	assert.Equal(t, int64(1), fetches.Load())

	// After the window the entry is gone and fn runs again.
	time.Sleep(300 * time.Millisecond)
	_, _, err = d.Do("quote:AAPL", fn)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fetches.Load())
}

func TestDeduplicator_SharedErrorPropagates(t *testing.T) {
	d := NewDeduplicator(200*time.Millisecond, 5*time.Second)

	boom := errors.New("upstream exploded")
	_, _, err := d.Do("quote:AAPL", func() (interface{}, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	// Holdover replays the error inside the window.
	_, shared, err := d.Do("quote:AAPL", func() (interface{}, error) { return nil, nil })
	assert.True(t, shared)
	assert.ErrorIs(t, err, boom)
}

func TestDeduplicator_WaitTimeout(t *testing.T) {
	d := NewDeduplicator(100*time.Millisecond, 100*time.Millisecond)

	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _, _ = d.Do("quote:SLOW", func() (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	_, _, err := d.Do("quote:SLOW", func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, ErrDedupTimeout)
}

func TestDeduplicator_DistinctKeysDoNotCoalesce(t *testing.T) {
	d := NewDeduplicator(100*time.Millisecond, time.Second)

	var fetches atomic.Int64
	fn := func() (interface{}, error) {
		fetches.Add(1)
		return nil, nil
	}

	_, _, _ = d.Do("quote:AAPL", fn)
	_, _, _ = d.Do("quote:MSFT", fn)
	assert.Equal(t, int64(2), fetches.Load())
}
