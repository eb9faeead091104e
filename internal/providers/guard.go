package providers

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/domain"
)

// semAcquireTimeout bounds how long a caller waits for a concurrency slot
// before failing fast with a timeout outcome.
const semAcquireTimeout = 30 * time.Second

// Guard wraps every outgoing adapter call with the three protection
// mechanisms: concurrency semaphore, rate-limit cooldown tracking, and
// circuit breaker. One Guard per adapter instance.
type Guard struct {
	provider string
	sem      *semaphore.Weighted
	limiter  *rate.Limiter // nil when requests_per_minute is unset
	health   *Health
	breaker  *Breaker
	log      zerolog.Logger
}

// NewGuard builds the protection layer for one adapter from its config.
func NewGuard(name string, cfg config.ProviderConfig, log zerolog.Logger) *Guard {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &Guard{
		provider: name,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		limiter:  limiter,
		health:   NewHealth(cfg.MaxConsecutiveFailures, cfg.CooldownOnError),
		breaker:  NewBreaker(cfg.CircuitFailures, cfg.CircuitSuccesses, cfg.CircuitTimeout),
		log:      log.With().Str("provider", name).Logger(),
	}
}

// Do runs fn under the protection layer and updates health state from the
// classified outcome. Invalid-symbol errors pass through without counting as
// failures.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if !g.breaker.Allow() {
		return NewError(g.provider, op, KindNetwork, ErrCircuitOpen)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, semAcquireTimeout)
	defer cancel()
	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		// Local saturation, not an upstream failure: fail fast without
		// touching the breaker.
		return &Error{Provider: g.provider, Op: op, Kind: KindNetwork, Timeout: true, Err: err}
	}
	defer g.sem.Release(1)

	if g.limiter != nil && !g.limiter.Allow() {
		err := &Error{Provider: g.provider, Op: op, Kind: KindRateLimit, Err: rateBudgetExhausted}
		g.health.RecordFailure(KindRateLimit)
		g.breaker.OnFailure()
		return err
	}

	g.health.IncActive()
	err := fn(ctx)
	g.health.DecActive()

	if err == nil {
		g.health.RecordSuccess()
		g.breaker.OnSuccess()
		return nil
	}

	kind := Classify(err)
	if kind == KindInvalidSymbol {
		return err
	}

	g.health.RecordFailure(kind)
	g.breaker.OnFailure()

	g.log.Debug().
		Err(err).
		Str("op", op).
		Str("kind", kind.String()).
		Int("consecutive_failures", g.health.ConsecutiveFailures()).
		Msg("Provider call failed")

	return err
}

// rateBudgetExhausted marks a locally enforced requests-per-minute denial.
var rateBudgetExhausted = &budgetError{}

type budgetError struct{}

func (*budgetError) Error() string { return "request budget exhausted (requests per minute)" }

// CircuitOpen reports whether the breaker currently refuses calls. An
// elapsed OPEN period moves to HALF_OPEN, so a true result is authoritative.
func (g *Guard) CircuitOpen() bool {
	return !g.breaker.Allow()
}

// IsRateLimited reports whether the adapter is inside its cooldown window.
func (g *Guard) IsRateLimited() bool {
	return g.health.IsRateLimited()
}

// Snapshot returns a read-only health view for the router and status endpoints.
func (g *Guard) Snapshot(available bool) domain.HealthSnapshot {
	failures, rateLimited, cooldownUntil, lastSuccess, lastFailure := g.health.snapshot()

	snap := domain.HealthSnapshot{
		Provider:            g.provider,
		Available:           available,
		ConsecutiveFailures: failures,
		RateLimited:         rateLimited,
		Circuit:             g.breaker.State(),
		ActiveRequests:      g.health.ActiveRequests(),
	}
	if !cooldownUntil.IsZero() {
		snap.CooldownUntilUnix = cooldownUntil.Unix()
	}
	if !lastSuccess.IsZero() {
		snap.LastSuccessUnix = lastSuccess.Unix()
	}
	if !lastFailure.IsZero() {
		snap.LastFailureUnix = lastFailure.Unix()
	}
	return snap
}
