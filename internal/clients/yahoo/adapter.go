package yahoo

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/domain"
	"github.com/fintelcore/fintel/internal/providers"
	"github.com/fintelcore/fintel/internal/symbols"
)

// defaultTTL publishes per-data-type cache lifetimes in seconds.
var defaultTTL = map[domain.DataType]int{
	domain.DataQuote:              60,
	domain.DataHistory:            300,
	domain.DataFundamentals:       3600,
	domain.DataInfo:               86400,
	domain.DataOptionsExpirations: 3600,
	domain.DataOptionsChain:       300,
	domain.DataEarnings:           3600,
	domain.DataMacro:              60,
}

var dataTypes = []domain.DataType{
	domain.DataQuote,
	domain.DataHistory,
	domain.DataFundamentals,
	domain.DataInfo,
	domain.DataOptionsExpirations,
	domain.DataOptionsChain,
	domain.DataEarnings,
	domain.DataMacro,
}

// Adapter exposes the client as a domain.Provider behind the protection layer.
type Adapter struct {
	*providers.AdapterBase
	client *Client
}

// NewAdapter wires the client to its guard and capability tables.
func NewAdapter(cfg config.ProviderConfig, log zerolog.Logger) *Adapter {
	return &Adapter{
		AdapterBase: providers.NewAdapterBase(
			"yahoo", cfg, dataTypes,
			[]domain.Market{domain.MarketUS, domain.MarketHK},
			defaultTTL, log),
		client: NewClient(log),
	}
}

// SupportsSymbol accepts any symbol in a supported market.
func (a *Adapter) SupportsSymbol(symbol string) bool {
	m := symbols.Detect(symbol)
	return m == domain.MarketUS || m == domain.MarketHK
}

// GetQuote implements domain.Provider.
func (a *Adapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var out *domain.Quote
	err := a.Guard().Do(ctx, "get_quote", func(ctx context.Context) error {
		chart, err := a.client.GetChart(ctx, symbol, "1d", "1m")
		if err != nil || chart == nil {
			return err
		}

		out = &domain.Quote{
			Symbol:        chart.Symbol,
			CurrentPrice:  chart.MarketPrice,
			PreviousClose: chart.PreviousClose,
			Currency:      chart.Currency,
			Timestamp:     time.Now(),
			Source:        a.Name(),
		}
		if n := len(chart.Bars); n > 0 {
			first, last := chart.Bars[0], chart.Bars[n-1]
			out.Open = first.Open
			out.DayHigh, out.DayLow = dayRange(chart.Bars)
			out.Volume = sumVolume(chart.Bars)
			if out.CurrentPrice == 0 {
				out.CurrentPrice = last.Close
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetHistory implements domain.Provider.
func (a *Adapter) GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error) {
	var out *domain.History
	err := a.Guard().Do(ctx, "get_history", func(ctx context.Context) error {
		chart, err := a.client.GetChart(ctx, symbol, period, interval)
		if err != nil || chart == nil {
			return err
		}

		h := &domain.History{Symbol: chart.Symbol}
		for _, bar := range chart.Bars {
			h.Bars = append(h.Bars, domain.Bar{
				Date:   time.Unix(bar.Timestamp, 0).UTC(),
				Open:   bar.Open,
				High:   bar.High,
				Low:    bar.Low,
				Close:  bar.Close,
				Volume: bar.Volume,
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

// GetFundamentals implements domain.Provider.
func (a *Adapter) GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error) {
	var out *domain.Fundamentals
	err := a.Guard().Do(ctx, "get_fundamentals", func(ctx context.Context) error {
		sum, err := a.client.GetSummary(ctx, symbol)
		if err != nil || sum == nil {
			return err
		}
		out = &domain.Fundamentals{
			Symbol:          symbol,
			MarketCap:       sum.MarketCap,
			PERatio:         sum.TrailingPE,
			ForwardPE:       sum.ForwardPE,
			PBRatio:         sum.PriceToBook,
			EPS:             sum.TrailingEPS,
			DividendYield:   sum.DividendYield,
			RevenueGrowth:   sum.RevenueGrowth,
			ProfitMargin:    sum.ProfitMargin,
			DebtToEquity:    sum.DebtToEquity,
			FreeCashFlow:    sum.FreeCashFlow,
			ReturnOnEquity:  sum.ReturnOnEquity,
			BookValue:       sum.BookValue,
			SharesOutstand:  sum.SharesOutstand,
			FiftyTwoWkHigh:  sum.FiftyTwoWkHigh,
			FiftyTwoWkLow:   sum.FiftyTwoWkLow,
			AnalystTargetPx: sum.AnalystTargetPx,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetInfo implements domain.Provider.
func (a *Adapter) GetInfo(ctx context.Context, symbol string) (*domain.Info, error) {
	var out *domain.Info
	err := a.Guard().Do(ctx, "get_info", func(ctx context.Context) error {
		sum, err := a.client.GetSummary(ctx, symbol)
		if err != nil || sum == nil {
			return err
		}
		out = &domain.Info{
			Symbol:    symbol,
			Name:      sum.Name,
			Sector:    sum.Sector,
			Industry:  sum.Industry,
			Country:   sum.Country,
			Exchange:  sum.Exchange,
			Currency:  sum.Currency,
			Website:   sum.Website,
			Summary:   sum.Summary,
			Employees: sum.Employees,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOptionsExpirations implements domain.Provider.
func (a *Adapter) GetOptionsExpirations(ctx context.Context, symbol string) ([]string, error) {
	var out []string
	err := a.Guard().Do(ctx, "get_options_expirations", func(ctx context.Context) error {
		opts, err := a.client.GetOptions(ctx, symbol, 0)
		if err != nil || opts == nil {
			return err
		}
		for _, ts := range opts.ExpirationDates {
			out = append(out, time.Unix(ts, 0).UTC().Format("2006-01-02"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOptionsChain implements domain.Provider.
func (a *Adapter) GetOptionsChain(ctx context.Context, symbol, expiry string) (*domain.OptionChain, error) {
	expiryDate, err := time.Parse("2006-01-02", expiry)
	if err != nil {
		return nil, providers.NewError(a.Name(), "get_options_chain", providers.KindInvalidSymbol, err)
	}

	var out *domain.OptionChain
	err = a.Guard().Do(ctx, "get_options_chain", func(ctx context.Context) error {
		opts, err := a.client.GetOptions(ctx, symbol, expiryDate.Unix())
		if err != nil || opts == nil {
			return err
		}
		out = &domain.OptionChain{
			Symbol:     symbol,
			ExpiryDate: expiry,
			Calls:      toLegs(opts.Calls),
			Puts:       toLegs(opts.Puts),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEarnings implements domain.Provider.
func (a *Adapter) GetEarnings(ctx context.Context, symbol string) ([]domain.Earnings, error) {
	var out []domain.Earnings
	err := a.Guard().Do(ctx, "get_earnings", func(ctx context.Context) error {
		rows, err := a.client.GetEarningsHistory(ctx, symbol)
		if err != nil {
			return err
		}
		for _, row := range rows {
			out = append(out, domain.Earnings{
				Symbol:       symbol,
				FiscalPeriod: row.Period,
				ReportDate:   time.Unix(row.QuarterEnd, 0).UTC(),
				EPSEstimate:  row.EPSEstimate,
				EPSActual:    row.EPSActual,
				Surprise:     row.SurprisePercent,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func toLegs(contracts []OptionContract) []domain.OptionLeg {
	legs := make([]domain.OptionLeg, len(contracts))
	for i, c := range contracts {
		legs[i] = domain.OptionLeg{
			ContractSymbol:    c.ContractSymbol,
			Strike:            c.Strike,
			Bid:               c.Bid,
			Ask:               c.Ask,
			LastPrice:         c.LastPrice,
			Volume:            c.Volume,
			OpenInterest:      c.OpenInterest,
			ImpliedVolatility: c.ImpliedVolatility,
		}
	}
	return legs
}

func dayRange(bars []ChartBar) (high, low float64) {
	for _, b := range bars {
		if b.High > high {
			high = b.High
		}
		if low == 0 || (b.Low > 0 && b.Low < low) {
			low = b.Low
		}
	}
	return high, low
}

func sumVolume(bars []ChartBar) int64 {
	var total int64
	for _, b := range bars {
		total += b.Volume
	}
	return total
}
