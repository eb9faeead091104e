package alphavantage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/config"
	"github.com/fintelcore/fintel/internal/domain"
	"github.com/fintelcore/fintel/internal/providers"
	"github.com/fintelcore/fintel/internal/symbols"
)

// Long TTLs: at five requests per minute every served value should stay
// cached as long as its staleness allows.
var defaultTTL = map[domain.DataType]int{
	domain.DataQuote:        300,
	domain.DataFundamentals: 7200,
	domain.DataInfo:         172800,
	domain.DataEarnings:     7200,
}

var dataTypes = []domain.DataType{
	domain.DataQuote,
	domain.DataFundamentals,
	domain.DataInfo,
	domain.DataEarnings,
}

// Adapter exposes the client as a domain.Provider.
type Adapter struct {
	*providers.AdapterBase
	client *Client
}

// NewAdapter wires the fallback fundamentals adapter.
func NewAdapter(cfg config.ProviderConfig, log zerolog.Logger) *Adapter {
	return &Adapter{
		AdapterBase: providers.NewAdapterBase(
			"alphavantage", cfg, dataTypes,
			[]domain.Market{domain.MarketUS},
			defaultTTL, log),
		client: NewClient(cfg.APIKey, log),
	}
}

// SupportsSymbol accepts US symbols only.
func (a *Adapter) SupportsSymbol(symbol string) bool {
	return symbols.Detect(symbol) == domain.MarketUS
}

// GetQuote implements domain.Provider.
func (a *Adapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var out *domain.Quote
	err := a.Guard().Do(ctx, "get_quote", func(ctx context.Context) error {
		q, err := a.client.GetGlobalQuote(ctx, symbol)
		if err != nil || q == nil {
			return err
		}
		out = &domain.Quote{
			Symbol:        q.Symbol,
			CurrentPrice:  q.Price,
			PreviousClose: q.PreviousClose,
			Open:          q.Open,
			DayHigh:       q.High,
			DayLow:        q.Low,
			Volume:        q.Volume,
			Currency:      "USD",
			Timestamp:     time.Now(),
			Source:        a.Name(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetHistory implements domain.Provider; not worth a free-tier request.
func (a *Adapter) GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error) {
	return nil, nil
}

// GetFundamentals implements domain.Provider.
func (a *Adapter) GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error) {
	var out *domain.Fundamentals
	err := a.Guard().Do(ctx, "get_fundamentals", func(ctx context.Context) error {
		o, err := a.client.GetOverview(ctx, symbol)
		if err != nil || o == nil {
			return err
		}
		out = &domain.Fundamentals{
			Symbol:          o.Symbol,
			MarketCap:       parseFloat(o.MarketCap),
			PERatio:         parseFloat(o.PERatio),
			ForwardPE:       parseFloat(o.ForwardPE),
			PBRatio:         parseFloat(o.PBRatio),
			EPS:             parseFloat(o.EPS),
			DividendYield:   parseFloat(o.DividendYield),
			RevenueGrowth:   parseFloat(o.RevenueGrowth),
			ProfitMargin:    parseFloat(o.ProfitMargin),
			ReturnOnEquity:  parseFloat(o.ReturnOnEquity),
			BookValue:       parseFloat(o.BookValue),
			SharesOutstand:  parseInt(o.SharesOutstand),
			FiftyTwoWkHigh:  parseFloat(o.FiftyTwoWkHigh),
			FiftyTwoWkLow:   parseFloat(o.FiftyTwoWkLow),
			AnalystTargetPx: parseFloat(o.AnalystTargetPx),
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
		o, err := a.client.GetOverview(ctx, symbol)
		if err != nil || o == nil {
			return err
		}
		out = &domain.Info{
			Symbol:   o.Symbol,
			Name:     o.Name,
			Sector:   o.Sector,
			Industry: o.Industry,
			Country:  o.Country,
			Exchange: o.Exchange,
			Currency: o.Currency,
			Summary:  o.Description,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOptionsExpirations implements domain.Provider; no options coverage.
func (a *Adapter) GetOptionsExpirations(ctx context.Context, symbol string) ([]string, error) {
	return nil, nil
}

// GetOptionsChain implements domain.Provider; no options coverage.
func (a *Adapter) GetOptionsChain(ctx context.Context, symbol, expiry string) (*domain.OptionChain, error) {
	return nil, nil
}

// GetEarnings implements domain.Provider.
func (a *Adapter) GetEarnings(ctx context.Context, symbol string) ([]domain.Earnings, error) {
	var out []domain.Earnings
	err := a.Guard().Do(ctx, "get_earnings", func(ctx context.Context) error {
		quarters, err := a.client.GetEarnings(ctx, symbol)
		if err != nil {
			return err
		}
		for _, q := range quarters {
			reported, dateErr := time.Parse("2006-01-02", q.ReportedDate)
			if dateErr != nil {
				continue
			}
			out = append(out, domain.Earnings{
				Symbol:       symbol,
				FiscalPeriod: q.FiscalDateEnding,
				ReportDate:   reported,
				EPSEstimate:  parseFloat(q.EstimatedEPS),
				EPSActual:    parseFloat(q.ReportedEPS),
				Surprise:     parseFloat(q.SurprisePercentage),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
