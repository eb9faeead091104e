package marketdata

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/domain"
	"github.com/fintelcore/fintel/internal/providers"
	"github.com/fintelcore/fintel/internal/symbols"
)

// ResponseStore is the persistent second-level cache consulted on memory
// misses. Implemented by the respcache package, which decodes blobs back into
// the typed value for the data type.
type ResponseStore interface {
	GetIfFresh(key string, dataType domain.DataType) (value interface{}, provider string, ok bool)
	Store(key string, dataType domain.DataType, provider string, ttlSeconds int, value interface{}) error
}

// Service is the central market-data router. It resolves the market, consults
// the caches, deduplicates concurrent identical requests, and walks the
// candidate adapters in priority order until one serves the value.
type Service struct {
	adapters []domain.Provider
	cache    *MemoryCache
	l2       ResponseStore
	dedup    *Deduplicator
	metrics  *Collector
	log      zerolog.Logger
}

// Options configures the Service.
type Options struct {
	Cache   *MemoryCache
	L2      ResponseStore
	Dedup   *Deduplicator
	Metrics *Collector
}

// rateLimitedPenalty keeps cooling-down adapters in the candidate list but
// behind every healthy one.
const rateLimitedPenalty = 1000

// NewService builds a router over the given adapters.
func NewService(adapters []domain.Provider, opts Options, log zerolog.Logger) *Service {
	return &Service{
		adapters: adapters,
		cache:    opts.Cache,
		l2:       opts.L2,
		dedup:    opts.Dedup,
		metrics:  opts.Metrics,
		log:      log.With().Str("component", "marketdata").Logger(),
	}
}

// cacheKey is "<SYMBOL>[:param:param…]" with params in a fixed order chosen
// by each getter.
func cacheKey(symbol string, params ...string) string {
	key := strings.ToUpper(symbol)
	for _, p := range params {
		key += ":" + p
	}
	return key
}

// candidates returns the adapters able to serve (dataType, market, symbol),
// priority ascending. Rate-limited adapters sort after healthy ones; adapters
// with an open circuit are excluded.
func (s *Service) candidates(dataType domain.DataType, market domain.Market, symbol string) []domain.Provider {
	type ranked struct {
		p    domain.Provider
		rank int
	}

	var list []ranked
	for _, p := range s.adapters {
		if !supportsDataType(p, dataType) || !supportsMarket(p, market) || !p.SupportsSymbol(symbol) {
			continue
		}
		health := p.Health()
		if health.Circuit == domain.CircuitOpen {
			continue
		}
		rank := p.Priority()
		if health.RateLimited {
			rank += rateLimitedPenalty
		}
		list = append(list, ranked{p, rank})
	}

	sort.SliceStable(list, func(i, j int) bool { return list[i].rank < list[j].rank })

	out := make([]domain.Provider, len(list))
	for i, r := range list {
		out[i] = r.p
	}
	return out
}

func supportsDataType(p domain.Provider, dt domain.DataType) bool {
	for _, d := range p.SupportedDataTypes() {
		if d == dt {
			return true
		}
	}
	return false
}

func supportsMarket(p domain.Provider, m domain.Market) bool {
	for _, sm := range p.SupportedMarkets() {
		if sm == m {
			return true
		}
	}
	return false
}

// fetch runs the full routing pipeline for one data type. call invokes the
// given adapter and returns its typed value as interface{}; a (nil, nil)
// return means the adapter has no data for this symbol.
func (s *Service) fetch(
	ctx context.Context,
	dataType domain.DataType,
	symbol string,
	params map[string]string,
	call func(ctx context.Context, p domain.Provider) (interface{}, error),
) (interface{}, error) {
	start := time.Now()
	symbol = symbols.Normalize(symbol)
	market := symbols.Detect(symbol)

	paramParts := sortedParamValues(params)
	key := string(dataType) + ":" + cacheKey(symbol, paramParts...)

	if s.cache != nil {
		if entry, ok := s.cache.Get(key); ok {
			s.record(CallRecord{
				DataType:     dataType,
				Symbol:       symbol,
				ProviderUsed: entry.Provider,
				Result:       ResultSuccess,
				CacheHit:     true,
				LatencyMS:    msSince(start),
			})
			return entry.Value, nil
		}
	}

	dedupKey := DedupKey(string(dataType), symbol, params)
	value, shared, err := s.dedup.Do(dedupKey, func() (interface{}, error) {
		return s.fetchFromProviders(ctx, dataType, market, symbol, key, start, call)
	})
	if errors.Is(err, ErrDedupTimeout) {
		// Giving up on a sibling's in-flight fetch is a failed attempt, not
		// an error for the caller.
		s.record(CallRecord{
			DataType:     dataType,
			Symbol:       symbol,
			Result:       ResultTimeout,
			ErrorType:    "timeout",
			ErrorMessage: err.Error(),
			LatencyMS:    msSince(start),
		})
		return nil, nil
	}
	if shared && err == nil && value != nil {
		// A sibling's fetch already recorded the call; count ours as a hit.
		s.record(CallRecord{
			DataType:  dataType,
			Symbol:    symbol,
			Result:    ResultSuccess,
			CacheHit:  true,
			LatencyMS: msSince(start),
		})
	}
	return value, err
}

// fetchFromProviders walks candidates in order. Only the deduplication owner
// runs this.
func (s *Service) fetchFromProviders(
	ctx context.Context,
	dataType domain.DataType,
	market domain.Market,
	symbol, key string,
	start time.Time,
	call func(ctx context.Context, p domain.Provider) (interface{}, error),
) (interface{}, error) {
	if s.l2 != nil {
		if blob, provider, ok := s.l2.GetIfFresh(key, dataType); ok {
			s.record(CallRecord{
				DataType:     dataType,
				Symbol:       symbol,
				ProviderUsed: provider + " (persisted)",
				Result:       ResultSuccess,
				CacheHit:     true,
				LatencyMS:    msSince(start),
			})
			return blob, nil
		}
	}

	cands := s.candidates(dataType, market, symbol)
	tried := make([]string, 0, len(cands))
	var lastErr error

	for i, p := range cands {
		tried = append(tried, p.Name())

		value, err := call(ctx, p)
		if err != nil {
			lastErr = err
			s.log.Warn().
				Str("provider", p.Name()).
				Str("data_type", string(dataType)).
				Str("symbol", symbol).
				Err(err).
				Msg("Provider attempt failed")
			continue
		}
		if isNil(value) {
			continue
		}

		ttl := p.CacheTTL(dataType)
		if s.cache != nil && ttl > 0 {
			s.cache.Set(key, &Entry{
				Value:     value,
				CreatedAt: time.Now(),
				TTL:       time.Duration(ttl) * time.Second,
				DataType:  dataType,
				Provider:  p.Name(),
			})
		}
		if s.l2 != nil && ttl > 0 {
			if storeErr := s.l2.Store(key, dataType, p.Name(), ttl, value); storeErr != nil {
				s.log.Warn().Err(storeErr).Str("key", key).Msg("Persistent cache write failed")
			}
		}

		s.record(CallRecord{
			DataType:       dataType,
			Symbol:         symbol,
			ProvidersTried: tried,
			ProviderUsed:   p.Name(),
			Result:         ResultSuccess,
			LatencyMS:      msSince(start),
			FallbackUsed:   i > 0,
		})
		return value, nil
	}

	rec := CallRecord{
		DataType:       dataType,
		Symbol:         symbol,
		ProvidersTried: tried,
		Result:         ResultFailure,
		LatencyMS:      msSince(start),
		FallbackUsed:   len(tried) > 1,
	}
	if lastErr != nil {
		rec.ErrorType = errorType(lastErr)
		rec.ErrorMessage = lastErr.Error()
		if providers.IsTimeout(lastErr) {
			rec.Result = ResultTimeout
		}
	}
	s.record(rec)

	// Exhausting candidates without data is not an error for the caller.
	return nil, nil
}

func (s *Service) record(rec CallRecord) {
	if s.metrics != nil {
		s.metrics.RecordCall(rec)
	}
}

func errorType(err error) string {
	return providers.Classify(err).String()
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func sortedParamValues(params map[string]string) []string {
	if len(params) == 0 {
		return nil
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, params[k])
	}
	return out
}

// isNil reports whether the adapter returned "no data". Typed nil pointers
// arrive boxed in a non-nil interface, so each getter converts them to a bare
// nil before handing the value to fetch.
func isNil(v interface{}) bool {
	return v == nil
}

// GetQuote returns the freshest available quote for symbol, or nil.
func (s *Service) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	v, err := s.fetch(ctx, domain.DataQuote, symbol, nil, func(ctx context.Context, p domain.Provider) (interface{}, error) {
		q, err := p.GetQuote(ctx, symbol)
		if q == nil {
			return nil, err
		}
		return q, err
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*domain.Quote), nil
}

// GetHistory returns normalized OHLCV history, or nil.
func (s *Service) GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error) {
	params := map[string]string{"period": period, "interval": interval}
	v, err := s.fetch(ctx, domain.DataHistory, symbol, params, func(ctx context.Context, p domain.Provider) (interface{}, error) {
		h, err := p.GetHistory(ctx, symbol, period, interval)
		if h == nil {
			return nil, err
		}
		return h, err
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*domain.History), nil
}

// GetFundamentals returns fundamentals, or nil.
func (s *Service) GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error) {
	v, err := s.fetch(ctx, domain.DataFundamentals, symbol, nil, func(ctx context.Context, p domain.Provider) (interface{}, error) {
		f, err := p.GetFundamentals(ctx, symbol)
		if f == nil {
			return nil, err
		}
		return f, err
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*domain.Fundamentals), nil
}

// GetInfo returns company metadata, or nil.
func (s *Service) GetInfo(ctx context.Context, symbol string) (*domain.Info, error) {
	v, err := s.fetch(ctx, domain.DataInfo, symbol, nil, func(ctx context.Context, p domain.Provider) (interface{}, error) {
		i, err := p.GetInfo(ctx, symbol)
		if i == nil {
			return nil, err
		}
		return i, err
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*domain.Info), nil
}

// GetOptionsExpirations returns the available expiry dates, or nil.
func (s *Service) GetOptionsExpirations(ctx context.Context, symbol string) ([]string, error) {
	v, err := s.fetch(ctx, domain.DataOptionsExpirations, symbol, nil, func(ctx context.Context, p domain.Provider) (interface{}, error) {
		exp, err := p.GetOptionsExpirations(ctx, symbol)
		if len(exp) == 0 {
			return nil, err
		}
		return exp, err
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]string), nil
}

// GetOptionsChain returns both sides of the chain for one expiry, or nil.
func (s *Service) GetOptionsChain(ctx context.Context, symbol, expiry string) (*domain.OptionChain, error) {
	params := map[string]string{"expiry": expiry}
	v, err := s.fetch(ctx, domain.DataOptionsChain, symbol, params, func(ctx context.Context, p domain.Provider) (interface{}, error) {
		c, err := p.GetOptionsChain(ctx, symbol, expiry)
		if c == nil {
			return nil, err
		}
		return c, err
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.(*domain.OptionChain), nil
}

// GetEarnings returns reported and upcoming earnings events, or nil.
func (s *Service) GetEarnings(ctx context.Context, symbol string) ([]domain.Earnings, error) {
	v, err := s.fetch(ctx, domain.DataEarnings, symbol, nil, func(ctx context.Context, p domain.Provider) (interface{}, error) {
		e, err := p.GetEarnings(ctx, symbol)
		if len(e) == 0 {
			return nil, err
		}
		return e, err
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]domain.Earnings), nil
}

// GetTickerData composes quote, info, and fundamentals for one symbol.
// Partial results are returned as-is; a symbol with no quote at all still
// yields a TickerData with the market filled in.
func (s *Service) GetTickerData(ctx context.Context, symbol string) (*domain.TickerData, error) {
	symbol = symbols.Normalize(symbol)
	td := &domain.TickerData{
		Symbol: symbol,
		Market: symbols.Detect(symbol),
	}

	quote, err := s.GetQuote(ctx, symbol)
	if err != nil {
		return nil, err
	}
	td.Quote = quote

	if info, err := s.GetInfo(ctx, symbol); err == nil {
		td.Info = info
	}
	if fund, err := s.GetFundamentals(ctx, symbol); err == nil {
		td.Fundamentals = fund
	}
	return td, nil
}

// GetHistoryRows returns history as row maps, one per bar, for callers that
// want a tabular view instead of the typed series.
func (s *Service) GetHistoryRows(ctx context.Context, symbol, period, interval string) ([]map[string]interface{}, error) {
	h, err := s.GetHistory(ctx, symbol, period, interval)
	if err != nil || h == nil {
		return nil, err
	}

	rows := make([]map[string]interface{}, len(h.Bars))
	for i, bar := range h.Bars {
		rows[i] = map[string]interface{}{
			"date":   bar.Date,
			"open":   bar.Open,
			"high":   bar.High,
			"low":    bar.Low,
			"close":  bar.Close,
			"volume": bar.Volume,
		}
	}
	return rows, nil
}

// ClearCache empties the in-memory cache.
func (s *Service) ClearCache() {
	if s.cache != nil {
		s.cache.Clear()
	}
	s.log.Info().Msg("Memory cache cleared")
}

// GetProviderStatus returns each adapter's health snapshot keyed by name.
func (s *Service) GetProviderStatus() map[string]domain.HealthSnapshot {
	out := make(map[string]domain.HealthSnapshot, len(s.adapters))
	for _, p := range s.adapters {
		out[p.Name()] = p.Health()
	}
	return out
}

// GetStats returns cache counters plus the adapter roster.
func (s *Service) GetStats() map[string]interface{} {
	names := make([]string, len(s.adapters))
	for i, p := range s.adapters {
		names[i] = p.Name()
	}

	stats := map[string]interface{}{
		"providers": names,
	}
	if s.cache != nil {
		stats["cache"] = s.cache.Stats()
	}
	return stats
}

// Metrics exposes the collector for the HTTP layer.
func (s *Service) Metrics() *Collector {
	return s.metrics
}
