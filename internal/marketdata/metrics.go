package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/fintelcore/fintel/internal/domain"
)

// CallResult tags the outcome of one routed call.
type CallResult string

const (
	ResultSuccess CallResult = "success"
	ResultFailure CallResult = "failure"
	ResultTimeout CallResult = "timeout"
)

// CallRecord captures one routed market-data call for the metrics ring.
type CallRecord struct {
	Timestamp      time.Time       `json:"timestamp"`
	DataType       domain.DataType `json:"data_type"`
	Symbol         string          `json:"symbol"`
	ProvidersTried []string        `json:"providers_tried"`
	ProviderUsed   string          `json:"provider_used,omitempty"`
	Result         CallResult      `json:"result"`
	CacheHit       bool            `json:"cache_hit"`
	LatencyMS      float64         `json:"latency_ms"`
	FallbackUsed   bool            `json:"fallback_used"`
	ErrorType      string          `json:"error_type,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
}

type providerStats struct {
	totalCalls      int64
	successfulCalls int64
	failedCalls     int64
	timeoutCalls    int64
	rateLimited     int64
	latencySum      float64
	latencyMin      float64
	latencyMax      float64
	lastError       string
	lastErrorTime   time.Time
	lastSuccessTime time.Time
}

type dataTypeStats struct {
	totalCalls   int64
	cacheHits    int64
	cacheMisses  int64
	fallbackUsed int64
	failures     int64
}

// Collector is the process-wide metrics collector: a bounded ring of call
// records plus per-provider and per-data-type aggregates.
type Collector struct {
	mu sync.Mutex

	buf  []CallRecord
	next int
	full bool

	startTime  time.Time
	byProvider map[string]*providerStats
	byDataType map[domain.DataType]*dataTypeStats

	totalCalls   int64
	cacheHits    int64
	failures     int64
	fallbackUsed int64

	log zerolog.Logger
}

// NewCollector creates a collector with the given ring size.
func NewCollector(bufferSize int, log zerolog.Logger) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		buf:        make([]CallRecord, bufferSize),
		startTime:  time.Now(),
		byProvider: make(map[string]*providerStats),
		byDataType: make(map[domain.DataType]*dataTypeStats),
		log:        log.With().Str("component", "metrics").Logger(),
	}
}

// RecordCall folds one call into the ring and the aggregates.
func (c *Collector) RecordCall(rec CallRecord) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	c.mu.Lock()

	c.buf[c.next] = rec
	c.next++
	if c.next == len(c.buf) {
		c.next = 0
		c.full = true
	}

	c.totalCalls++
	if rec.CacheHit {
		c.cacheHits++
	}
	if rec.Result == ResultFailure || rec.Result == ResultTimeout {
		c.failures++
	}
	if rec.FallbackUsed {
		c.fallbackUsed++
	}

	dt := c.byDataType[rec.DataType]
	if dt == nil {
		dt = &dataTypeStats{}
		c.byDataType[rec.DataType] = dt
	}
	dt.totalCalls++
	if rec.CacheHit {
		dt.cacheHits++
	} else {
		dt.cacheMisses++
	}
	if rec.FallbackUsed {
		dt.fallbackUsed++
	}
	if rec.Result != ResultSuccess {
		dt.failures++
	}

	// Every provider that was tried gets a call attempt; only the provider
	// that served the value gets the success and the latency sample.
	for _, name := range rec.ProvidersTried {
		ps := c.byProvider[name]
		if ps == nil {
			ps = &providerStats{latencyMin: -1}
			c.byProvider[name] = ps
		}
		ps.totalCalls++

		if rec.Result == ResultSuccess && name == rec.ProviderUsed {
			ps.successfulCalls++
			ps.lastSuccessTime = rec.Timestamp
			ps.latencySum += rec.LatencyMS
			if ps.latencyMin < 0 || rec.LatencyMS < ps.latencyMin {
				ps.latencyMin = rec.LatencyMS
			}
			if rec.LatencyMS > ps.latencyMax {
				ps.latencyMax = rec.LatencyMS
			}
			continue
		}

		ps.failedCalls++
		if rec.Result == ResultTimeout {
			ps.timeoutCalls++
		}
		if rec.ErrorType == "rate_limit" {
			ps.rateLimited++
		}
		if rec.ErrorMessage != "" {
			ps.lastError = rec.ErrorMessage
			ps.lastErrorTime = rec.Timestamp
		}
	}

	c.mu.Unlock()

	if rec.Result != ResultSuccess {
		c.log.Info().
			Str("data_type", string(rec.DataType)).
			Str("symbol", rec.Symbol).
			Strs("providers_tried", rec.ProvidersTried).
			Str("error_type", rec.ErrorType).
			Msg("Market data call failed")
	} else {
		c.log.Debug().
			Str("data_type", string(rec.DataType)).
			Str("symbol", rec.Symbol).
			Str("provider", rec.ProviderUsed).
			Bool("cache_hit", rec.CacheHit).
			Float64("latency_ms", rec.LatencyMS).
			Msg("Market data call")
	}
}

// records returns the ring contents in insertion order. Caller holds the lock.
func (c *Collector) records() []CallRecord {
	if !c.full {
		out := make([]CallRecord, c.next)
		copy(out, c.buf[:c.next])
		return out
	}
	out := make([]CallRecord, 0, len(c.buf))
	out = append(out, c.buf[c.next:]...)
	out = append(out, c.buf[:c.next]...)
	return out
}

// Snapshot produces the stable metrics document served by the API.
func (c *Collector) Snapshot() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	ratio := func(n, d int64) float64 {
		if d == 0 {
			return 0
		}
		return float64(n) / float64(d)
	}

	byProvider := make(map[string]interface{}, len(c.byProvider))
	for name, ps := range c.byProvider {
		avg := 0.0
		if ps.successfulCalls > 0 {
			avg = ps.latencySum / float64(ps.successfulCalls)
		}
		minLatency := ps.latencyMin
		if minLatency < 0 {
			minLatency = 0
		}
		entry := map[string]interface{}{
			"total_calls":        ps.totalCalls,
			"successful_calls":   ps.successfulCalls,
			"failed_calls":       ps.failedCalls,
			"timeout_calls":      ps.timeoutCalls,
			"rate_limited_calls": ps.rateLimited,
			"success_rate":       ratio(ps.successfulCalls, ps.totalCalls),
			"avg_latency_ms":     avg,
			"min_latency_ms":     minLatency,
			"max_latency_ms":     ps.latencyMax,
			"last_error":         ps.lastError,
		}
		if !ps.lastErrorTime.IsZero() {
			entry["last_error_time"] = ps.lastErrorTime
		}
		if !ps.lastSuccessTime.IsZero() {
			entry["last_success_time"] = ps.lastSuccessTime
		}
		byProvider[name] = entry
	}

	byDataType := make(map[string]interface{}, len(c.byDataType))
	for dt, ds := range c.byDataType {
		byDataType[string(dt)] = map[string]interface{}{
			"total_calls":    ds.totalCalls,
			"cache_hits":     ds.cacheHits,
			"cache_misses":   ds.cacheMisses,
			"cache_hit_rate": ratio(ds.cacheHits, ds.totalCalls),
			"fallback_used":  ds.fallbackUsed,
			"fallback_rate":  ratio(ds.fallbackUsed, ds.totalCalls),
			"failures":       ds.failures,
		}
	}

	recentErrors := make([]CallRecord, 0, 20)
	recs := c.records()
	for i := len(recs) - 1; i >= 0 && len(recentErrors) < 20; i-- {
		if recs[i].Result != ResultSuccess {
			recentErrors = append(recentErrors, recs[i])
		}
	}

	return map[string]interface{}{
		"uptime": map[string]interface{}{
			"start_time":     c.startTime,
			"uptime_seconds": time.Since(c.startTime).Seconds(),
		},
		"totals": map[string]interface{}{
			"total_calls":    c.totalCalls,
			"cache_hits":     c.cacheHits,
			"cache_hit_rate": ratio(c.cacheHits, c.totalCalls),
			"failures":       c.failures,
			"failure_rate":   ratio(c.failures, c.totalCalls),
			"fallback_used":  c.fallbackUsed,
			"fallback_rate":  ratio(c.fallbackUsed, c.totalCalls),
		},
		"by_provider":   byProvider,
		"by_data_type":  byDataType,
		"recent_errors": recentErrors,
		"buffer_size":   len(c.buf),
	}
}

// LatencyPercentiles computes p50/p90/p95/p99 over successful records,
// optionally filtered by provider and data type.
func (c *Collector) LatencyPercentiles(provider string, dataType domain.DataType) map[string]float64 {
	c.mu.Lock()
	recs := c.records()
	c.mu.Unlock()

	latencies := make([]float64, 0, len(recs))
	for _, r := range recs {
		if r.Result != ResultSuccess || r.CacheHit {
			continue
		}
		if provider != "" && r.ProviderUsed != provider {
			continue
		}
		if dataType != "" && r.DataType != dataType {
			continue
		}
		latencies = append(latencies, r.LatencyMS)
	}

	out := map[string]float64{"p50": 0, "p90": 0, "p95": 0, "p99": 0}
	if len(latencies) == 0 {
		return out
	}

	sort.Float64s(latencies)
	out["p50"] = stat.Quantile(0.50, stat.Empirical, latencies, nil)
	out["p90"] = stat.Quantile(0.90, stat.Empirical, latencies, nil)
	out["p95"] = stat.Quantile(0.95, stat.Empirical, latencies, nil)
	out["p99"] = stat.Quantile(0.99, stat.Empirical, latencies, nil)
	return out
}

// RecentCallsFilter narrows RecentCalls output.
type RecentCallsFilter struct {
	DataType   domain.DataType
	Provider   string
	Symbol     string
	ErrorsOnly bool
	Limit      int
}

// RecentCalls returns the newest matching records, newest first.
func (c *Collector) RecentCalls(f RecentCallsFilter) []CallRecord {
	c.mu.Lock()
	recs := c.records()
	c.mu.Unlock()

	limit := f.Limit
	if limit <= 0 || limit > len(recs) {
		limit = len(recs)
	}

	out := make([]CallRecord, 0, limit)
	for i := len(recs) - 1; i >= 0 && len(out) < limit; i-- {
		r := recs[i]
		if f.DataType != "" && r.DataType != f.DataType {
			continue
		}
		if f.Provider != "" && r.ProviderUsed != f.Provider && !contains(r.ProvidersTried, f.Provider) {
			continue
		}
		if f.Symbol != "" && r.Symbol != f.Symbol {
			continue
		}
		if f.ErrorsOnly && r.Result == ResultSuccess {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ProviderHealth classifies each provider by success rate: healthy >= 95%,
// degraded >= 80%, otherwise unhealthy.
func (c *Collector) ProviderHealth() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]string, len(c.byProvider))
	for name, ps := range c.byProvider {
		if ps.totalCalls == 0 {
			out[name] = "healthy"
			continue
		}
		rate := float64(ps.successfulCalls) / float64(ps.totalCalls)
		switch {
		case rate >= 0.95:
			out[name] = "healthy"
		case rate >= 0.80:
			out[name] = "degraded"
		default:
			out[name] = "unhealthy"
		}
	}
	return out
}

// LogSummary emits the periodic aggregate line. Wired to a cron schedule.
func (c *Collector) LogSummary() {
	c.mu.Lock()
	total := c.totalCalls
	hits := c.cacheHits
	failures := c.failures
	fallbacks := c.fallbackUsed
	providers := len(c.byProvider)
	c.mu.Unlock()

	c.log.Info().
		Int64("total_calls", total).
		Int64("cache_hits", hits).
		Int64("failures", failures).
		Int64("fallbacks", fallbacks).
		Int("providers", providers).
		Msg("Market data metrics summary")
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
