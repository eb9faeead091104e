package tushare

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/domain"
	"github.com/fintelcore/fintel/internal/providers"
	"github.com/fintelcore/fintel/internal/symbols"
)

var defaultTTL = map[domain.DataType]int{
	domain.DataQuote:        60,
	domain.DataHistory:      600,
	domain.DataFundamentals: 3600,
	domain.DataInfo:         86400,
}

var dataTypes = []domain.DataType{
	domain.DataQuote,
	domain.DataHistory,
	domain.DataFundamentals,
	domain.DataInfo,
}

// Adapter is the primary A-share provider.
type Adapter struct {
	*providers.AdapterBase
	client *Client
}

// NewAdapter wires the A-share adapter.
func NewAdapter(cfg config.ProviderConfig, log zerolog.Logger) *Adapter {
	return &Adapter{
		AdapterBase: providers.NewAdapterBase(
			"tushare", cfg, dataTypes,
			[]domain.Market{domain.MarketCN},
			defaultTTL, log),
		client: NewClient(cfg.APIKey, log),
	}
}

// SupportsSymbol accepts CN symbols only.
func (a *Adapter) SupportsSymbol(symbol string) bool {
	return symbols.Detect(symbol) == domain.MarketCN
}

// GetQuote implements domain.Provider. The daily endpoint's latest row
// stands in for a real-time quote.
func (a *Adapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var out *domain.Quote
	err := a.Guard().Do(ctx, "get_quote", func(ctx context.Context) error {
		table, err := a.client.Call(ctx, "daily",
			map[string]string{"ts_code": TSCode(symbol)},
			"trade_date,open,high,low,close,pre_close,vol")
		if err != nil || table == nil {
			return err
		}

		row := table.Rows[0]
		tradeDate, _ := time.Parse("20060102", table.String(row, table.Col("trade_date")))
		out = &domain.Quote{
			Symbol:        strings.ToUpper(symbol),
			CurrentPrice:  table.Float(row, table.Col("close")),
			PreviousClose: table.Float(row, table.Col("pre_close")),
			Open:          table.Float(row, table.Col("open")),
			DayHigh:       table.Float(row, table.Col("high")),
			DayLow:        table.Float(row, table.Col("low")),
			Volume:        int64(table.Float(row, table.Col("vol")) * 100), // vol is in lots of 100
			Currency:      "CNY",
			Timestamp:     tradeDate,
			Source:        a.Name(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetHistory implements domain.Provider. Daily bars only.
func (a *Adapter) GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error) {
	if interval != "" && interval != "1d" {
		return nil, nil
	}

	var out *domain.History
	err := a.Guard().Do(ctx, "get_history", func(ctx context.Context) error {
		table, err := a.client.Call(ctx, "daily",
			map[string]string{
				"ts_code":    TSCode(symbol),
				"start_date": periodStart(period, time.Now()).Format("20060102"),
			},
			"trade_date,open,high,low,close,vol")
		if err != nil || table == nil {
			return err
		}

		h := &domain.History{Symbol: strings.ToUpper(symbol)}
		dateCol := table.Col("trade_date")
		// Rows come newest first; the caller expects oldest first.
		for i := len(table.Rows) - 1; i >= 0; i-- {
			row := table.Rows[i]
			date, dateErr := time.Parse("20060102", table.String(row, dateCol))
			if dateErr != nil {
				continue
			}
			h.Bars = append(h.Bars, domain.Bar{
				Date:   date,
				Open:   table.Float(row, table.Col("open")),
				High:   table.Float(row, table.Col("high")),
				Low:    table.Float(row, table.Col("low")),
				Close:  table.Float(row, table.Col("close")),
				Volume: int64(table.Float(row, table.Col("vol")) * 100),
			})
		}
		if len(h.Bars) > 0 {
			out = h
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetFundamentals implements domain.Provider via the daily_basic indicators.
func (a *Adapter) GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error) {
	var out *domain.Fundamentals
	err := a.Guard().Do(ctx, "get_fundamentals", func(ctx context.Context) error {
		table, err := a.client.Call(ctx, "daily_basic",
			map[string]string{"ts_code": TSCode(symbol)},
			"total_mv,pe_ttm,pb,dv_ttm,total_share")
		if err != nil || table == nil {
			return err
		}

		row := table.Rows[0]
		out = &domain.Fundamentals{
			Symbol:         strings.ToUpper(symbol),
			MarketCap:      table.Float(row, table.Col("total_mv")) * 10000, // reported in 万元
			PERatio:        table.Float(row, table.Col("pe_ttm")),
			PBRatio:        table.Float(row, table.Col("pb")),
			DividendYield:  table.Float(row, table.Col("dv_ttm")) / 100,
			SharesOutstand: int64(table.Float(row, table.Col("total_share")) * 10000),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetInfo implements domain.Provider via stock_basic.
func (a *Adapter) GetInfo(ctx context.Context, symbol string) (*domain.Info, error) {
	var out *domain.Info
	err := a.Guard().Do(ctx, "get_info", func(ctx context.Context) error {
		table, err := a.client.Call(ctx, "stock_basic",
			map[string]string{"ts_code": TSCode(symbol)},
			"name,industry,exchange,market")
		if err != nil || table == nil {
			return err
		}

		row := table.Rows[0]
		out = &domain.Info{
			Symbol:   strings.ToUpper(symbol),
			Name:     table.String(row, table.Col("name")),
			Industry: table.String(row, table.Col("industry")),
			Exchange: table.String(row, table.Col("exchange")),
			Country:  "China",
			Currency: "CNY",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOptionsExpirations implements domain.Provider; equity options are not
// covered by this source.
func (a *Adapter) GetOptionsExpirations(ctx context.Context, symbol string) ([]string, error) {
	return nil, nil
}

// GetOptionsChain implements domain.Provider; no options coverage.
func (a *Adapter) GetOptionsChain(ctx context.Context, symbol, expiry string) (*domain.OptionChain, error) {
	return nil, nil
}

// GetEarnings implements domain.Provider; income statements are behind a
// higher permission tier.
func (a *Adapter) GetEarnings(ctx context.Context, symbol string) ([]domain.Earnings, error) {
	return nil, nil
}

func periodStart(period string, now time.Time) time.Time {
	switch period {
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
	default: // "1y"
		return now.AddDate(-1, 0, 0)
	}
}
