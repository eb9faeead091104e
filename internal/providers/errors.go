// Package providers implements the protection layer wrapped around every
// provider adapter call: error classification, rate-limit cooldown tracking,
// a circuit breaker, and a concurrency cap. Adapters own their protection
// state; the router only reads snapshots.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrorKind classifies a provider failure for the protection layer.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure. Counts toward circuit opening.
	KindUnknown ErrorKind = iota
	// KindRateLimit is an upstream throttle (HTTP 429 and friends).
	// Triggers the cooldown and counts toward circuit opening.
	KindRateLimit
	// KindNetwork is a transport failure or timeout. Counts toward circuit opening.
	KindNetwork
	// KindInvalidSymbol means the source does not know the symbol.
	// Never counted as a provider failure.
	KindInvalidSymbol
)

// String returns a stable name for the error kind, used in metrics records.
func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindNetwork:
		return "network"
	case KindInvalidSymbol:
		return "invalid_symbol"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is refused because the adapter's
// circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Error is a classified provider failure. Clients translate raw transport
// errors into Errors so nothing SDK-specific leaks past the adapter.
type Error struct {
	Provider string
	Op       string
	Kind     ErrorKind
	Timeout  bool // semaphore or deadline timeout
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Kind)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a classified provider error.
func NewError(provider, op string, kind ErrorKind, err error) *Error {
	return &Error{Provider: provider, Op: op, Kind: kind, Err: err}
}

// Classify determines the kind of an arbitrary error. Already-classified
// errors keep their kind; everything else is inspected for rate-limit and
// transport signatures.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"),
		// Throttled sources often return an empty body that fails JSON decoding.
		strings.Contains(msg, "unexpected end of json"),
		strings.Contains(msg, "invalid character") && strings.Contains(msg, "looking for beginning of value"):
		return KindRateLimit
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"):
		return KindNetwork
	case strings.Contains(msg, "symbol not found"),
		strings.Contains(msg, "unknown symbol"),
		strings.Contains(msg, "invalid symbol"):
		return KindInvalidSymbol
	}

	return KindUnknown
}

// IsTimeout reports whether err is a classified timeout.
func IsTimeout(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Timeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}
