package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/providers"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(zerolog.Nop())
	c.baseURL = srv.URL
	return c
}

func TestGetChart_ParsesBarsAndMeta(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/AAPL")
		w.Write([]byte(`{"chart":{"result":[{
			"meta":{"currency":"USD","symbol":"AAPL","regularMarketPrice":190.5,"chartPreviousClose":188.2},
			"timestamp":[1700000000,1700086400],
			"indicators":{"quote":[{
				"open":[188.0,189.5],"high":[190.0,191.0],"low":[187.5,189.0],
				"close":[189.5,190.5],"volume":[1000,2000]}]}
		}],"error":null}}`))
	})

	data, err := c.GetChart(context.Background(), "AAPL", "1d", "1d")
	require.NoError(t, err)
	require.NotNil(t, data)
	assert.Equal(t, "AAPL", data.Symbol)
	assert.Equal(t, 190.5, data.MarketPrice)
	require.Len(t, data.Bars, 2)
	assert.Equal(t, 189.5, data.Bars[1].Open)
	assert.Equal(t, int64(2000), data.Bars[1].Volume)
}

func TestGetChart_NotFoundIsNoData(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	})

	data, err := c.GetChart(context.Background(), "NOPE", "1d", "1d")
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestGetChart_ThrottleClassifiesAsRateLimit(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.GetChart(context.Background(), "AAPL", "1d", "1d")
	require.Error(t, err)
	assert.Equal(t, providers.KindRateLimit, providers.Classify(err))
}

func TestGetSummary_FlattensModules(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quoteSummary":{"result":[{
			"assetProfile":{"sector":"Technology","industry":"Consumer Electronics","country":"United States","fullTimeEmployees":161000},
			"price":{"shortName":"Apple Inc.","exchangeName":"NasdaqGS","currency":"USD"},
			"summaryDetail":{"marketCap":{"raw":2900000000000},"trailingPE":{"raw":29.4}},
			"defaultKeyStatistics":{"trailingEps":{"raw":6.42},"sharesOutstanding":{"raw":15500000000}},
			"financialData":{"targetMeanPrice":{"raw":210.0},"returnOnEquity":{"raw":1.47}}
		}],"error":null}}`))
	})

	sum, err := c.GetSummary(context.Background(), "AAPL")
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, "Apple Inc.", sum.Name)
	assert.Equal(t, "Technology", sum.Sector)
	assert.Equal(t, 29.4, sum.TrailingPE)
	assert.Equal(t, int64(15500000000), sum.SharesOutstand)
	assert.Equal(t, 210.0, sum.AnalystTargetPx)
}

func TestAdapter_SupportsUSAndHKOnly(t *testing.T) {
	a := &Adapter{}
	assert.True(t, a.SupportsSymbol("AAPL"))
	assert.True(t, a.SupportsSymbol("0700.HK"))
	assert.False(t, a.SupportsSymbol("600519.SS"))
	assert.False(t, a.SupportsSymbol("SHFE.au2406"))
}
