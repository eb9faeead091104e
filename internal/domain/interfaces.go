package domain

import "context"

// CircuitState is the state of a provider's circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// HealthSnapshot is a read-only view of a provider's protection state.
// The provider owns the underlying state; the router only reads snapshots.
type HealthSnapshot struct {
	Provider            string       `json:"provider"`
	Available           bool         `json:"available"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	RateLimited         bool         `json:"rate_limited"`
	CooldownUntilUnix   int64        `json:"cooldown_until,omitempty"`
	Circuit             CircuitState `json:"circuit_state"`
	ActiveRequests      int64        `json:"active_requests"`
	LastSuccessUnix     int64        `json:"last_success,omitempty"`
	LastFailureUnix     int64        `json:"last_failure,omitempty"`
}

// Provider is the uniform surface over one external market-data source.
//
// Data methods return (nil, nil) for "no data": a symbol the source does not
// know, or a data type it carries nothing for. They return errors only for
// transport, rate-limit, and unclassified failures so the protection layer
// can classify them. Adapters never leak raw SDK errors to the router.
type Provider interface {
	Name() string
	Priority() int

	SupportedDataTypes() []DataType
	SupportedMarkets() []Market
	SupportsSymbol(symbol string) bool

	// CacheTTL returns how long a value of the given type from this provider
	// may be served from cache, in seconds.
	CacheTTL(dt DataType) int

	// Health returns the current protection-state snapshot.
	Health() HealthSnapshot

	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetHistory(ctx context.Context, symbol, period, interval string) (*History, error)
	GetFundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
	GetInfo(ctx context.Context, symbol string) (*Info, error)
	GetOptionsExpirations(ctx context.Context, symbol string) ([]string, error)
	GetOptionsChain(ctx context.Context, symbol, expiry string) (*OptionChain, error)
	GetEarnings(ctx context.Context, symbol string) ([]Earnings, error)
}

// StockRunner computes a full stock analysis for (ticker, style). It is
// injected into the task engine, which treats the returned payload as opaque
// apart from the summary fields needed for history rows. A payload carrying
// an "error" key is treated as a failed run.
type StockRunner func(ctx context.Context, ticker, style string) (Payload, error)

// OptionsRunner computes an options analysis. For basic chain analysis the
// params carry expiry_date; for enhanced analysis they carry
// option_identifier.
type OptionsRunner func(ctx context.Context, ticker string, params map[string]string) (Payload, error)

// QuotaService is the single hook for the external quota collaborator.
// The engine calls Charge exactly once per task creation; all usage counters
// live inside the collaborator.
type QuotaService interface {
	Charge(ctx context.Context, userID, taskType string) error
}

// NopQuota is a QuotaService that always allows.
type NopQuota struct{}

// Charge implements QuotaService.
func (NopQuota) Charge(ctx context.Context, userID, taskType string) error { return nil }
