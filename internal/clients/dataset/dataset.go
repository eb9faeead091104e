// Package dataset serves quotes and history out of a locally imported bar
// table. There is no upstream to throttle, so it backs up the retail API for
// US symbols with unlimited throughput at the cost of slightly stale data.
package dataset

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/database"
	"github.com/fintelcore/fintel/internal/domain"
	"github.com/fintelcore/fintel/internal/providers"
	"github.com/fintelcore/fintel/internal/symbols"
)

var defaultTTL = map[domain.DataType]int{
	domain.DataQuote:   60,
	domain.DataHistory: 600,
}

var dataTypes = []domain.DataType{
	domain.DataQuote,
	domain.DataHistory,
}

// Adapter reads the dataset_bars table in the cache database.
type Adapter struct {
	*providers.AdapterBase
	db  *database.DB
	log zerolog.Logger
}

// NewAdapter wires the local dataset backend.
func NewAdapter(db *database.DB, cfg config.ProviderConfig, log zerolog.Logger) *Adapter {
	return &Adapter{
		AdapterBase: providers.NewAdapterBase(
			"dataset", cfg, dataTypes,
			[]domain.Market{domain.MarketUS},
			defaultTTL, log),
		db:  db,
		log: log.With().Str("client", "dataset").Logger(),
	}
}

// SupportsSymbol accepts US symbols only.
func (a *Adapter) SupportsSymbol(symbol string) bool {
	return symbols.Detect(symbol) == domain.MarketUS
}

// GetQuote implements domain.Provider. The quote is synthesized from the two
// most recent bars, so it lags the market by up to a trading day.
func (a *Adapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var out *domain.Quote
	err := a.Guard().Do(ctx, "get_quote", func(ctx context.Context) error {
		rows, err := a.db.QueryContext(ctx, `
			SELECT bar_date, open, high, low, close, volume
			FROM dataset_bars WHERE symbol = ?
			ORDER BY bar_date DESC LIMIT 2`,
			strings.ToUpper(symbol))
		if err != nil {
			return fmt.Errorf("dataset quote query failed: %w", err)
		}
		defer rows.Close()

		bars, err := scanBars(rows)
		if err != nil {
			return err
		}
		if len(bars) == 0 {
			return nil
		}

		latest := bars[0]
		out = &domain.Quote{
			Symbol:       strings.ToUpper(symbol),
			CurrentPrice: latest.Close,
			Open:         latest.Open,
			DayHigh:      latest.High,
			DayLow:       latest.Low,
			Volume:       latest.Volume,
			Currency:     "USD",
			Timestamp:    latest.Date,
			Source:       a.Name(),
		}
		if len(bars) > 1 {
			out.PreviousClose = bars[1].Close
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetHistory implements domain.Provider. Only daily bars exist locally, so
// any non-daily interval is "no data" and the router falls through.
func (a *Adapter) GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error) {
	if interval != "" && interval != "1d" {
		return nil, nil
	}

	since := periodStart(period, time.Now())

	var out *domain.History
	err := a.Guard().Do(ctx, "get_history", func(ctx context.Context) error {
		rows, err := a.db.QueryContext(ctx, `
			SELECT bar_date, open, high, low, close, volume
			FROM dataset_bars WHERE symbol = ? AND bar_date >= ?
			ORDER BY bar_date ASC`,
			strings.ToUpper(symbol), since.Format("2006-01-02"))
		if err != nil {
			return fmt.Errorf("dataset history query failed: %w", err)
		}
		defer rows.Close()

		bars, err := scanBars(rows)
		if err != nil {
			return err
		}
		if len(bars) == 0 {
			return nil
		}
		out = &domain.History{Symbol: strings.ToUpper(symbol), Bars: bars}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetFundamentals implements domain.Provider; the dataset has none.
func (a *Adapter) GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error) {
	return nil, nil
}

// GetInfo implements domain.Provider; the dataset has none.
func (a *Adapter) GetInfo(ctx context.Context, symbol string) (*domain.Info, error) {
	return nil, nil
}

// GetOptionsExpirations implements domain.Provider; no options locally.
func (a *Adapter) GetOptionsExpirations(ctx context.Context, symbol string) ([]string, error) {
	return nil, nil
}

// GetOptionsChain implements domain.Provider; no options locally.
func (a *Adapter) GetOptionsChain(ctx context.Context, symbol, expiry string) (*domain.OptionChain, error) {
	return nil, nil
}

// GetEarnings implements domain.Provider; no earnings locally.
func (a *Adapter) GetEarnings(ctx context.Context, symbol string) ([]domain.Earnings, error) {
	return nil, nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanBars(rows rowScanner) ([]domain.Bar, error) {
	var bars []domain.Bar
	for rows.Next() {
		var (
			dateStr string
			bar     domain.Bar
		)
		if err := rows.Scan(&dateStr, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan bar row: %w", err)
		}
		date, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("bad bar_date %q: %w", dateStr, err)
		}
		bar.Date = date
		bars = append(bars, bar)
	}
	return bars, rows.Err()
}

// periodStart converts a range token ("1mo", "6mo", "1y", "5y", "max") to the
// earliest bar date to include.
func periodStart(period string, now time.Time) time.Time {
	switch period {
	case "1d":
		return now.AddDate(0, 0, -1)
	case "5d":
		return now.AddDate(0, 0, -7)
	case "1mo":
		return now.AddDate(0, -1, 0)
	case "3mo":
		return now.AddDate(0, -3, 0)
	case "6mo":
		return now.AddDate(0, -6, 0)
	case "2y":
		return now.AddDate(-2, 0, 0)
	case "5y":
		return now.AddDate(-5, 0, 0)
	case "10y":
		return now.AddDate(-10, 0, 0)
	case "max":
		return time.Time{}
	default: // "1y" and anything unrecognized
		return now.AddDate(-1, 0, 0)
	}
}
