package dataset

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/database"
)

const testSchema = `
CREATE TABLE dataset_bars (
    symbol   TEXT NOT NULL,
    bar_date TEXT NOT NULL,
    open     REAL NOT NULL,
    high     REAL NOT NULL,
    low      REAL NOT NULL,
    close    REAL NOT NULL,
    volume   INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (symbol, bar_date)
);`

var testDBSeq int

func testAdapter(t *testing.T) *Adapter {
	t.Helper()
	testDBSeq++
	db, err := database.New(database.Config{
		Path:    fmt.Sprintf("file:dataset_test_%d?mode=memory&cache=shared", testDBSeq),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.MigrateSQL(testSchema))
	return NewAdapter(db, config.ProviderDefaults(), zerolog.Nop())
}

func seedBars(t *testing.T, a *Adapter, symbol string, days int) {
	t.Helper()
	base := time.Now().UTC()
	for i := 0; i < days; i++ {
		date := base.AddDate(0, 0, -i).Format("2006-01-02")
		price := 100.0 + float64(i)
		_, err := a.db.Exec(`
			INSERT INTO dataset_bars (symbol, bar_date, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			symbol, date, price, price+1, price-1, price+0.5, 1000+i)
		require.NoError(t, err)
	}
}

func TestAdapter_QuoteFromLatestBars(t *testing.T) {
	a := testAdapter(t)
	seedBars(t, a, "AAPL", 5)

	q, err := a.GetQuote(context.Background(), "aapl")
	require.NoError(t, err)
	require.NotNil(t, q)
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, 100.5, q.CurrentPrice)
	assert.Equal(t, 101.5, q.PreviousClose)
	assert.Equal(t, "USD", q.Currency)
}

func TestAdapter_QuoteUnknownSymbolIsNoData(t *testing.T) {
	a := testAdapter(t)

	q, err := a.GetQuote(context.Background(), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestAdapter_HistoryOldestFirst(t *testing.T) {
	a := testAdapter(t)
	seedBars(t, a, "AAPL", 10)

	h, err := a.GetHistory(context.Background(), "AAPL", "1mo", "1d")
	require.NoError(t, err)
	require.NotNil(t, h)
	require.Len(t, h.Bars, 10)
	assert.True(t, h.Bars[0].Date.Before(h.Bars[9].Date))
}

func TestAdapter_NonDailyIntervalIsNoData(t *testing.T) {
	a := testAdapter(t)
	seedBars(t, a, "AAPL", 5)

	h, err := a.GetHistory(context.Background(), "AAPL", "1mo", "1m")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestAdapter_SupportsUSOnly(t *testing.T) {
	a := testAdapter(t)
	assert.True(t, a.SupportsSymbol("AAPL"))
	assert.False(t, a.SupportsSymbol("0700.HK"))
	assert.False(t, a.SupportsSymbol("600519.SS"))
}
