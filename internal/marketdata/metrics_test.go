package marketdata

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/domain"
)

func TestCollector_SnapshotSchema(t *testing.T) {
	c := NewCollector(100, zerolog.Nop())

	c.RecordCall(CallRecord{
		DataType:       domain.DataQuote,
		Symbol:         "AAPL",
		ProvidersTried: []string{"yahoo"},
		ProviderUsed:   "yahoo",
		Result:         ResultSuccess,
		LatencyMS:      12.5,
	})
	c.RecordCall(CallRecord{
		DataType: domain.DataQuote,
		Symbol:   "AAPL",
		Result:   ResultSuccess,
		CacheHit: true,
	})
	c.RecordCall(CallRecord{
		DataType:       domain.DataFundamentals,
		Symbol:         "MSFT",
		ProvidersTried: []string{"yahoo", "alphavantage"},
		ProviderUsed:   "alphavantage",
		Result:         ResultSuccess,
		LatencyMS:      80,
		FallbackUsed:   true,
	})
	c.RecordCall(CallRecord{
		DataType:       domain.DataQuote,
		Symbol:         "BADSYM",
		ProvidersTried: []string{"yahoo"},
		Result:         ResultFailure,
		ErrorType:      "network",
		ErrorMessage:   "connection refused",
	})

	snap := c.Snapshot()

	totals := snap["totals"].(map[string]interface{})
	assert.Equal(t, int64(4), totals["total_calls"])
	assert.Equal(t, int64(1), totals["cache_hits"])
	assert.Equal(t, 0.25, totals["cache_hit_rate"])
	assert.Equal(t, int64(1), totals["failures"])
	assert.Equal(t, int64(1), totals["fallback_used"])

	byProvider := snap["by_provider"].(map[string]interface{})
	yahoo := byProvider["yahoo"].(map[string]interface{})
	// yahoo was tried three times and served once.
	assert.Equal(t, int64(3), yahoo["total_calls"])
	assert.Equal(t, int64(1), yahoo["successful_calls"])
	assert.Equal(t, int64(2), yahoo["failed_calls"])
	assert.Equal(t, 12.5, yahoo["avg_latency_ms"])
	assert.Equal(t, "connection refused", yahoo["last_error"])

	av := byProvider["alphavantage"].(map[string]interface{})
	assert.Equal(t, int64(1), av["successful_calls"])

	byType := snap["by_data_type"].(map[string]interface{})
	quote := byType["quote"].(map[string]interface{})
	assert.Equal(t, int64(3), quote["total_calls"])
	assert.Equal(t, int64(1), quote["cache_hits"])
	assert.Equal(t, int64(1), quote["failures"])

	errors := snap["recent_errors"].([]CallRecord)
	require.Len(t, errors, 1)
	assert.Equal(t, "BADSYM", errors[0].Symbol)

	assert.Equal(t, 100, snap["buffer_size"])
}

func TestCollector_RingWrapsAtCapacity(t *testing.T) {
	c := NewCollector(5, zerolog.Nop())

	for i := 0; i < 8; i++ {
		c.RecordCall(CallRecord{
			DataType: domain.DataQuote,
			Symbol:   fmt.Sprintf("SYM%d", i),
			Result:   ResultSuccess,
			CacheHit: true,
		})
	}

	recs := c.RecentCalls(RecentCallsFilter{})
	require.Len(t, recs, 5)
	// Newest first; the oldest three fell off.
	assert.Equal(t, "SYM7", recs[0].Symbol)
	assert.Equal(t, "SYM3", recs[4].Symbol)
}

func TestCollector_LatencyPercentiles(t *testing.T) {
	c := NewCollector(100, zerolog.Nop())

	for i := 1; i <= 100; i++ {
		c.RecordCall(CallRecord{
			DataType:       domain.DataQuote,
			Symbol:         "AAPL",
			ProvidersTried: []string{"yahoo"},
			ProviderUsed:   "yahoo",
			Result:         ResultSuccess,
			LatencyMS:      float64(i),
		})
	}

	p := c.LatencyPercentiles("", "")
	assert.InDelta(t, 50, p["p50"], 1)
	assert.InDelta(t, 90, p["p90"], 1)
	assert.InDelta(t, 95, p["p95"], 1)
	assert.InDelta(t, 99, p["p99"], 1)

	// Filter by a provider with no samples.
	p = c.LatencyPercentiles("tiger", "")
	assert.Zero(t, p["p50"])
}

func TestCollector_ProviderHealthClassification(t *testing.T) {
	c := NewCollector(1000, zerolog.Nop())

	record := func(provider string, ok bool) {
		rec := CallRecord{
			DataType:       domain.DataQuote,
			Symbol:         "AAPL",
			ProvidersTried: []string{provider},
			Result:         ResultFailure,
		}
		if ok {
			rec.Result = ResultSuccess
			rec.ProviderUsed = provider
		}
		c.RecordCall(rec)
	}

	for i := 0; i < 100; i++ {
		record("healthy_one", i < 97)   // 97%
		record("degraded_one", i < 85)  // 85%
		record("unhealthy_one", i < 50) // 50%
	}

	health := c.ProviderHealth()
	assert.Equal(t, "healthy", health["healthy_one"])
	assert.Equal(t, "degraded", health["degraded_one"])
	assert.Equal(t, "unhealthy", health["unhealthy_one"])
}

func TestCollector_RecentCallsFilters(t *testing.T) {
	c := NewCollector(100, zerolog.Nop())

	c.RecordCall(CallRecord{DataType: domain.DataQuote, Symbol: "AAPL", ProvidersTried: []string{"yahoo"}, ProviderUsed: "yahoo", Result: ResultSuccess})
	c.RecordCall(CallRecord{DataType: domain.DataHistory, Symbol: "AAPL", ProvidersTried: []string{"dataset"}, ProviderUsed: "dataset", Result: ResultSuccess})
	c.RecordCall(CallRecord{DataType: domain.DataQuote, Symbol: "MSFT", ProvidersTried: []string{"yahoo"}, Result: ResultFailure, ErrorType: "network"})

	assert.Len(t, c.RecentCalls(RecentCallsFilter{DataType: domain.DataQuote}), 2)
	assert.Len(t, c.RecentCalls(RecentCallsFilter{Provider: "dataset"}), 1)
	assert.Len(t, c.RecentCalls(RecentCallsFilter{Symbol: "MSFT"}), 1)
	assert.Len(t, c.RecentCalls(RecentCallsFilter{ErrorsOnly: true}), 1)
	assert.Len(t, c.RecentCalls(RecentCallsFilter{Limit: 2}), 2)
}
