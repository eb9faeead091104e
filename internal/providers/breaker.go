package providers

import (
	"sync"
	"time"

	"github.com/fintelcore/fintel/internal/domain"
)

// Breaker is a per-adapter circuit breaker.
//
// CLOSED -> OPEN after failureThreshold consecutive failures. OPEN refuses
// calls until timeout has elapsed, then lazily moves to HALF_OPEN on the next
// Allow check. In HALF_OPEN a single failure reopens the circuit (with a
// fresh timer) and successThreshold consecutive successes close it.
type Breaker struct {
	mu sync.Mutex

	state             domain.CircuitState
	failures          int
	halfOpenSuccesses int
	openedAt          time.Time

	failureThreshold int
	successThreshold int
	timeout          time.Duration

	now func() time.Time // injectable clock for tests
}

// NewBreaker creates a circuit breaker with the given thresholds.
func NewBreaker(failureThreshold, successThreshold int, timeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 3
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Breaker{
		state:            domain.CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. An expired OPEN period moves the
// breaker to HALF_OPEN as a side effect.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == domain.CircuitOpen {
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = domain.CircuitHalfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	}
	return true
}

// OnSuccess records a successful call.
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.successThreshold {
			b.state = domain.CircuitClosed
			b.failures = 0
			b.halfOpenSuccesses = 0
		}
	case domain.CircuitClosed:
		b.failures = 0
	}
}

// OnFailure records a failed call.
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case domain.CircuitHalfOpen:
		b.state = domain.CircuitOpen
		b.openedAt = b.now()
		b.halfOpenSuccesses = 0
	case domain.CircuitClosed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.state = domain.CircuitOpen
			b.openedAt = b.now()
		}
	}
}

// State returns the current circuit state without side effects.
func (b *Breaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
