// Package analysis provides the reference stock and options runners wired
// into the task engine. They pull everything through the market-data router,
// so a run exercises the full provider, cache, and metrics pipeline.
package analysis

import (
	"context"
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/fintelcore/fintel/internal/domain"
)

// MarketData is the slice of the router the runners consume. Satisfied by
// *marketdata.Service.
type MarketData interface {
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error)
	GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error)
	GetOptionsChain(ctx context.Context, symbol, expiry string) (*domain.OptionChain, error)
}

// Style tuning for price bands. Wider targets and tighter stops as the
// appetite grows.
type styleBand struct {
	targetMult float64
	stopMult   float64
}

var styleBands = map[string]styleBand{
	"conservative": {targetMult: 1.0, stopMult: 1.0},
	"balanced":     {targetMult: 1.5, stopMult: 1.25},
	"aggressive":   {targetMult: 2.5, stopMult: 1.5},
}

const (
	smaShortPeriod = 20
	smaLongPeriod  = 50
	rsiPeriod      = 14
	tradingDays    = 252
)

// NewStockRunner builds the stock analysis runner. The returned function
// reports missing market data as an "error" payload field, reserving Go
// errors for infrastructure failures.
func NewStockRunner(md MarketData, log zerolog.Logger) domain.StockRunner {
	log = log.With().Str("component", "stock_runner").Logger()

	return func(ctx context.Context, ticker, style string) (domain.Payload, error) {
		quote, err := md.GetQuote(ctx, ticker)
		if err != nil {
			return nil, fmt.Errorf("quote fetch failed for %s: %w", ticker, err)
		}
		if quote == nil {
			return domain.Payload{"error": fmt.Sprintf("no market data available for %s", ticker)}, nil
		}

		history, err := md.GetHistory(ctx, ticker, "1y", "1d")
		if err != nil {
			return nil, fmt.Errorf("history fetch failed for %s: %w", ticker, err)
		}
		if history == nil || len(history.Bars) < smaLongPeriod+1 {
			return domain.Payload{"error": fmt.Sprintf("insufficient price history for %s", ticker)}, nil
		}

		closes := make([]float64, len(history.Bars))
		for i, bar := range history.Bars {
			closes[i] = bar.Close
		}

		ind := computeIndicators(closes)
		price := quote.CurrentPrice
		sentiment := classifySentiment(price, ind)

		band, ok := styleBands[style]
		if !ok {
			band = styleBands["balanced"]
		}
		move := price * ind.AnnualVol / math.Sqrt(tradingDays) * 10
		target := round2(price + move*band.targetMult)
		stop := round2(price - move*band.stopMult)

		payload := domain.Payload{
			"ticker":           ticker,
			"style":            style,
			"current_price":    price,
			"target_price":     target,
			"stop_loss_price":  stop,
			"market_sentiment": sentiment,
			"indicators": map[string]interface{}{
				"sma_20":            round2(ind.SMAShort),
				"sma_50":            round2(ind.SMALong),
				"rsi_14":            round2(ind.RSI),
				"annual_volatility": round2(ind.AnnualVol),
			},
			"risk_summary": fmt.Sprintf(
				"Annualized volatility %.1f%%; stop placed %.1f%% below the last price.",
				ind.AnnualVol*100, (price-stop)/price*100),
			"ev_summary": fmt.Sprintf(
				"Upside to target %.1f%% against downside to stop %.1f%%.",
				(target-price)/price*100, (price-stop)/price*100),
			"ai_summary": fmt.Sprintf(
				"%s trades at %.2f with a %s technical posture (RSI %.0f, 20d SMA %.2f, 50d SMA %.2f). "+
					"A %s plan targets %.2f with a stop at %.2f.",
				ticker, price, sentiment, ind.RSI, ind.SMAShort, ind.SMALong, style, target, stop),
		}

		if fund, err := md.GetFundamentals(ctx, ticker); err == nil && fund != nil {
			payload["fundamentals"] = map[string]interface{}{
				"market_cap":     fund.MarketCap,
				"pe_ratio":       fund.PERatio,
				"eps":            fund.EPS,
				"dividend_yield": fund.DividendYield,
			}
		}

		log.Info().
			Str("ticker", ticker).
			Str("style", style).
			Str("sentiment", sentiment).
			Msg("Stock analysis computed")
		return payload, nil
	}
}

// indicators is the technical summary extracted from the close series.
type indicators struct {
	SMAShort  float64
	SMALong   float64
	RSI       float64
	AnnualVol float64
}

func computeIndicators(closes []float64) indicators {
	smaShort := talib.Sma(closes, smaShortPeriod)
	smaLong := talib.Sma(closes, smaLongPeriod)
	rsi := talib.Rsi(closes, rsiPeriod)

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] > 0 {
			returns = append(returns, math.Log(closes[i]/closes[i-1]))
		}
	}

	return indicators{
		SMAShort:  last(smaShort),
		SMALong:   last(smaLong),
		RSI:       last(rsi),
		AnnualVol: stat.StdDev(returns, nil) * math.Sqrt(tradingDays),
	}
}

func classifySentiment(price float64, ind indicators) string {
	switch {
	case ind.RSI >= 70:
		return "overbought"
	case ind.RSI <= 30:
		return "oversold"
	case price > ind.SMAShort && ind.SMAShort > ind.SMALong:
		return "bullish"
	case price < ind.SMAShort && ind.SMAShort < ind.SMALong:
		return "bearish"
	default:
		return "neutral"
	}
}

func last(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && series[i] != 0 {
			return series[i]
		}
	}
	return 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
