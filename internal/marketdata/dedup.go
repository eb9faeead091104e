package marketdata

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrDedupTimeout is returned when a caller gives up waiting for a sibling's
// in-flight fetch. The router treats it as a failed attempt.
var ErrDedupTimeout = fmt.Errorf("timed out waiting for in-flight request")

// Deduplicator joins concurrent identical requests onto one underlying
// fetch. Completed results are additionally held for a short grace window so
// near-simultaneous callers that arrive just after completion still coalesce
// instead of refetching.
type Deduplicator struct {
	group singleflight.Group

	mu     sync.Mutex
	recent map[string]*recentResult

	window      time.Duration
	waitTimeout time.Duration
}

type recentResult struct {
	value interface{}
	err   error
}

// NewDeduplicator creates a deduplicator with the given grace window and
// sibling-wait timeout.
func NewDeduplicator(window, waitTimeout time.Duration) *Deduplicator {
	if window <= 0 {
		window = 500 * time.Millisecond
	}
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &Deduplicator{
		recent:      make(map[string]*recentResult),
		window:      window,
		waitTimeout: waitTimeout,
	}
}

// Do runs fn under key, coalescing with any in-flight or just-completed
// identical request. shared is true when the result came from another
// caller's fetch.
func (d *Deduplicator) Do(key string, fn func() (interface{}, error)) (value interface{}, shared bool, err error) {
	d.mu.Lock()
	if res, ok := d.recent[key]; ok {
		d.mu.Unlock()
		return res.value, true, res.err
	}
	d.mu.Unlock()

	ch := d.group.DoChan(key, func() (interface{}, error) {
		v, fnErr := fn()
		d.remember(key, v, fnErr)
		return v, fnErr
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-time.After(d.waitTimeout):
		return nil, true, ErrDedupTimeout
	}
}

// remember holds a completed result for the grace window, then drops it.
func (d *Deduplicator) remember(key string, value interface{}, err error) {
	d.mu.Lock()
	d.recent[key] = &recentResult{value: value, err: err}
	d.mu.Unlock()

	time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.recent, key)
		d.mu.Unlock()
	})
}

// DedupKey builds the canonical deduplication key. Two requests that differ
// only in parameter ordering share a key.
func DedupKey(dataType, symbol string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(dataType)
	b.WriteByte(':')
	b.WriteString(strings.ToUpper(symbol))

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(':')
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(params[k])
		}
	}
	return b.String()
}
