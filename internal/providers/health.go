package providers

import (
	"sync"
	"sync/atomic"
	"time"
)

// Health tracks the adapter-owned failure and cooldown state. The rate-limit
// cooldown is independent of the circuit breaker: a cooling-down adapter is
// deprioritized by the router but still eligible as a last resort, while an
// open circuit excludes the adapter entirely.
type Health struct {
	mu sync.Mutex

	consecutiveFailures int
	lastSuccess         time.Time
	lastFailure         time.Time
	rateLimited         bool
	cooldownUntil       time.Time

	active atomic.Int64

	maxConsecutive int
	cooldown       time.Duration

	now func() time.Time
}

// NewHealth creates health state with the given cooldown settings.
func NewHealth(maxConsecutive int, cooldown time.Duration) *Health {
	if maxConsecutive <= 0 {
		maxConsecutive = 3
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Health{
		maxConsecutive: maxConsecutive,
		cooldown:       cooldown,
		now:            time.Now,
	}
}

// RecordSuccess resets the failure streak and clears any active cooldown.
func (h *Health) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures = 0
	h.lastSuccess = h.now()
	h.rateLimited = false
	h.cooldownUntil = time.Time{}
}

// RecordFailure records a classified failure. Rate-limit errors enter the
// cooldown immediately; other failures enter it once the consecutive-failure
// threshold is reached.
func (h *Health) RecordFailure(kind ErrorKind) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	h.lastFailure = h.now()

	if kind == KindRateLimit || h.consecutiveFailures >= h.maxConsecutive {
		h.rateLimited = true
		h.cooldownUntil = h.now().Add(h.cooldown)
	}
}

// IsRateLimited reports whether the adapter is in its cooldown window.
// An elapsed cooldown flips the flag back as a side effect.
func (h *Health) IsRateLimited() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rateLimited && h.now().After(h.cooldownUntil) {
		h.rateLimited = false
		h.cooldownUntil = time.Time{}
	}
	return h.rateLimited
}

// ConsecutiveFailures returns the current failure streak.
func (h *Health) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutiveFailures
}

// IncActive marks a request as in flight.
func (h *Health) IncActive() { h.active.Add(1) }

// DecActive marks a request as finished.
func (h *Health) DecActive() { h.active.Add(-1) }

// ActiveRequests returns the number of in-flight requests.
func (h *Health) ActiveRequests() int64 { return h.active.Load() }

// snapshotLocked copies the mutable fields. Caller provides the lock.
func (h *Health) snapshot() (failures int, rateLimited bool, cooldownUntil, lastSuccess, lastFailure time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rateLimited && h.now().After(h.cooldownUntil) {
		h.rateLimited = false
		h.cooldownUntil = time.Time{}
	}
	return h.consecutiveFailures, h.rateLimited, h.cooldownUntil, h.lastSuccess, h.lastFailure
}
