package analysis

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fintelcore/fintel/internal/domain"
)

type fakeMarketData struct {
	quote        *domain.Quote
	history      *domain.History
	fundamentals *domain.Fundamentals
	chain        *domain.OptionChain
	err          error
}

func (f *fakeMarketData) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	return f.quote, f.err
}

func (f *fakeMarketData) GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error) {
	return f.history, f.err
}

func (f *fakeMarketData) GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error) {
	return f.fundamentals, f.err
}

func (f *fakeMarketData) GetOptionsChain(ctx context.Context, symbol, expiry string) (*domain.OptionChain, error) {
	return f.chain, f.err
}

// trendingHistory builds a gently rising daily series long enough for the
// 50-day moving average.
func trendingHistory(symbol string, days int) *domain.History {
	bars := make([]domain.Bar, days)
	base := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := range bars {
		// Alternating wiggle on top of the drift keeps volatility nonzero.
		if i%2 == 0 {
			price *= 1.012
		} else {
			price *= 0.992
		}
		bars[i] = domain.Bar{
			Date:   base.AddDate(0, 0, i),
			Open:   price * 0.999,
			High:   price * 1.004,
			Low:    price * 0.996,
			Close:  price,
			Volume: 1_000_000,
		}
	}
	return &domain.History{Symbol: symbol, Bars: bars}
}

func TestStockRunner_ProducesHistoryFields(t *testing.T) {
	history := trendingHistory("AAPL", 120)
	lastClose := history.Bars[len(history.Bars)-1].Close

	md := &fakeMarketData{
		quote:        &domain.Quote{Symbol: "AAPL", CurrentPrice: lastClose},
		history:      history,
		fundamentals: &domain.Fundamentals{Symbol: "AAPL", PERatio: 28.5, EPS: 6.4},
	}
	run := NewStockRunner(md, zerolog.Nop())

	payload, err := run(context.Background(), "AAPL", "balanced")
	require.NoError(t, err)
	require.NotContains(t, payload, "error")

	price := payload.GetFloat("current_price")
	target := payload.GetFloat("target_price")
	stop := payload.GetFloat("stop_loss_price")
	assert.Equal(t, lastClose, price)
	assert.Greater(t, target, price)
	assert.Less(t, stop, price)
	assert.NotEmpty(t, payload.GetString("market_sentiment"))
	assert.NotEmpty(t, payload.GetString("ai_summary"))
	assert.NotEmpty(t, payload.GetString("risk_summary"))
	assert.Contains(t, payload, "indicators")
	assert.Contains(t, payload, "fundamentals")
}

func TestStockRunner_RisingTrendIsNotBearish(t *testing.T) {
	history := trendingHistory("MSFT", 200)
	lastClose := history.Bars[len(history.Bars)-1].Close

	md := &fakeMarketData{
		quote:   &domain.Quote{Symbol: "MSFT", CurrentPrice: lastClose},
		history: history,
	}
	run := NewStockRunner(md, zerolog.Nop())

	payload, err := run(context.Background(), "MSFT", "aggressive")
	require.NoError(t, err)
	sentiment := payload.GetString("market_sentiment")
	assert.NotEqual(t, "bearish", sentiment)
	assert.NotEqual(t, "oversold", sentiment)
}

func TestStockRunner_NoQuoteReportsErrorPayload(t *testing.T) {
	run := NewStockRunner(&fakeMarketData{}, zerolog.Nop())

	payload, err := run(context.Background(), "NOPE", "balanced")
	require.NoError(t, err)
	assert.Contains(t, payload.GetString("error"), "no market data")
}

func TestStockRunner_ShortHistoryReportsErrorPayload(t *testing.T) {
	md := &fakeMarketData{
		quote:   &domain.Quote{Symbol: "IPO", CurrentPrice: 42},
		history: trendingHistory("IPO", 10),
	}
	run := NewStockRunner(md, zerolog.Nop())

	payload, err := run(context.Background(), "IPO", "balanced")
	require.NoError(t, err)
	assert.Contains(t, payload.GetString("error"), "insufficient price history")
}

func testChain(symbol, expiry string) *domain.OptionChain {
	return &domain.OptionChain{
		Symbol:     symbol,
		ExpiryDate: expiry,
		Calls: []domain.OptionLeg{
			{ContractSymbol: symbol + "260918C00185000", Strike: 185, LastPrice: 9.1, Bid: 9.0, Ask: 9.2, OpenInterest: 4000, ImpliedVolatility: 0.28, Delta: 0.62},
			{ContractSymbol: symbol + "260918C00190000", Strike: 190, LastPrice: 6.3, Bid: 6.2, Ask: 6.4, OpenInterest: 6000, ImpliedVolatility: 0.27, Delta: 0.51},
		},
		Puts: []domain.OptionLeg{
			{ContractSymbol: symbol + "260918P00190000", Strike: 190, LastPrice: 5.8, Bid: 5.7, Ask: 5.9, OpenInterest: 3000, ImpliedVolatility: 0.30, Delta: -0.49},
		},
	}
}

func TestOptionsRunner_ChainMode(t *testing.T) {
	md := &fakeMarketData{
		quote: &domain.Quote{Symbol: "AAPL", CurrentPrice: 189.5},
		chain: testChain("AAPL", "2026-09-18"),
	}
	run := NewOptionsRunner(md, zerolog.Nop())

	payload, err := run(context.Background(), "AAPL", map[string]string{"expiry_date": "2026-09-18"})
	require.NoError(t, err)
	require.NotContains(t, payload, "error")

	assert.Equal(t, 190.0, payload.GetFloat("atm_strike"))
	assert.InDelta(t, 0.3, payload.GetFloat("put_call_ratio"), 0.01)
	assert.Equal(t, "covered call", payload.GetString("strategy"))
	assert.NotEmpty(t, payload.GetString("ai_summary"))
}

func TestOptionsRunner_ContractMode(t *testing.T) {
	md := &fakeMarketData{
		quote: &domain.Quote{Symbol: "AAPL", CurrentPrice: 189.5},
		chain: testChain("AAPL", "2026-09-18"),
	}
	run := NewOptionsRunner(md, zerolog.Nop())

	payload, err := run(context.Background(), "AAPL",
		map[string]string{"option_identifier": "AAPL260918C00190000"})
	require.NoError(t, err)
	require.NotContains(t, payload, "error")

	assert.Equal(t, "2026-09-18", payload.GetString("expiry_date"))
	assert.Equal(t, 190.0, payload.GetFloat("strike"))
	assert.Equal(t, "call", payload.GetString("right"))
	assert.Equal(t, 6.3, payload.GetFloat("last_price"))
}

func TestOptionsRunner_UnknownContract(t *testing.T) {
	md := &fakeMarketData{
		quote: &domain.Quote{Symbol: "AAPL", CurrentPrice: 189.5},
		chain: testChain("AAPL", "2026-09-18"),
	}
	run := NewOptionsRunner(md, zerolog.Nop())

	payload, err := run(context.Background(), "AAPL",
		map[string]string{"option_identifier": "AAPL260918C00500000"})
	require.NoError(t, err)
	assert.Contains(t, payload.GetString("error"), "not found")
}

func TestParseOptionSymbol(t *testing.T) {
	tests := []struct {
		in         string
		underlying string
		expiry     string
		right      byte
		strike     float64
		wantErr    bool
	}{
		{in: "AAPL260918C00190000", underlying: "AAPL", expiry: "2026-09-18", right: 'C', strike: 190},
		{in: "TSLA261120P00250500", underlying: "TSLA", expiry: "2026-11-20", right: 'P', strike: 250.5},
		{in: "spy260918c00450000", underlying: "SPY", expiry: "2026-09-18", right: 'C', strike: 450},
		{in: "260918C00190000", wantErr: true},
		{in: "AAPL260918X00190000", wantErr: true},
		{in: "garbage", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := parseOptionSymbol(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.underlying, c.Underlying)
			assert.Equal(t, tt.expiry, c.Expiry)
			assert.Equal(t, tt.right, c.Right)
			assert.Equal(t, tt.strike, c.Strike)
		})
	}
}
