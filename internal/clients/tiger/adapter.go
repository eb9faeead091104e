package tiger

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
	domain.DataQuote:              60,
	domain.DataHistory:            300,
	domain.DataOptionsExpirations: 1800,
	domain.DataOptionsChain:       90,
}

var dataTypes = []domain.DataType{
	domain.DataQuote,
	domain.DataHistory,
	domain.DataOptionsExpirations,
	domain.DataOptionsChain,
}

// Adapter exposes the broker client as a domain.Provider.
type Adapter struct {
	*providers.AdapterBase
	client *Client
}

// NewAdapter wires the broker adapter. Missing credentials fail construction
// so the router never lists the provider.
func NewAdapter(cfg config.ProviderConfig, log zerolog.Logger) (*Adapter, error) {
	client, err := NewClient(cfg.APIKey, cfg.APISecret, log)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		AdapterBase: providers.NewAdapterBase(
			"tiger", cfg, dataTypes,
			[]domain.Market{domain.MarketUS, domain.MarketHK, domain.MarketCN},
			defaultTTL, log),
		client: client,
	}, nil
}

// SupportsSymbol accepts stock symbols in the broker's markets; commodity
// contracts are out of scope.
func (a *Adapter) SupportsSymbol(symbol string) bool {
	switch symbols.Detect(symbol) {
	case domain.MarketUS, domain.MarketHK, domain.MarketCN:
		return true
	}
	return false
}

// GetQuote implements domain.Provider.
func (a *Adapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var out *domain.Quote
	err := a.Guard().Do(ctx, "get_quote", func(ctx context.Context) error {
		q, err := a.client.GetQuote(ctx, symbol)
		if err != nil || q == nil {
			return err
		}
		out = &domain.Quote{
			Symbol:        q.Symbol,
			CurrentPrice:  q.Latest,
			PreviousClose: q.PrevClose,
			Open:          q.Open,
			DayHigh:       q.High,
			DayLow:        q.Low,
			Volume:        q.Volume,
			Currency:      q.Currency,
			Timestamp:     time.UnixMilli(q.Timestamp),
			Source:        a.Name(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetHistory implements domain.Provider. The gateway serves daily and weekly
// klines; intraday intervals are "no data".
func (a *Adapter) GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error) {
	klinePeriod, limit, ok := translateRange(period, interval)
	if !ok {
		return nil, nil
	}

	var out *domain.History
	err := a.Guard().Do(ctx, "get_history", func(ctx context.Context) error {
		bars, err := a.client.GetKline(ctx, symbol, klinePeriod, limit)
		if err != nil || len(bars) == 0 {
			return err
		}

		h := &domain.History{Symbol: strings.ToUpper(symbol)}
		for _, b := range bars {
			h.Bars = append(h.Bars, domain.Bar{
				Date:   time.UnixMilli(b.Time).UTC(),
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
			})
		}
		out = h
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetFundamentals implements domain.Provider; not served by the gateway.
func (a *Adapter) GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error) {
	return nil, nil
}

// GetInfo implements domain.Provider; not served by the gateway.
func (a *Adapter) GetInfo(ctx context.Context, symbol string) (*domain.Info, error) {
	return nil, nil
}

// GetOptionsExpirations implements domain.Provider.
func (a *Adapter) GetOptionsExpirations(ctx context.Context, symbol string) ([]string, error) {
	var out []string
	err := a.Guard().Do(ctx, "get_options_expirations", func(ctx context.Context) error {
		dates, err := a.client.GetOptionExpirations(ctx, symbol)
		if err != nil {
			return err
		}
		for _, ms := range dates {
			out = append(out, time.UnixMilli(ms).UTC().Format("2006-01-02"))
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
		calls, puts, err := a.client.GetOptionChain(ctx, symbol, expiryDate.UnixMilli())
		if err != nil || (calls == nil && puts == nil) {
			return err
		}
		out = &domain.OptionChain{
			Symbol:     strings.ToUpper(symbol),
			ExpiryDate: expiry,
			Calls:      toLegs(calls),
			Puts:       toLegs(puts),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEarnings implements domain.Provider; not served by the gateway.
func (a *Adapter) GetEarnings(ctx context.Context, symbol string) ([]domain.Earnings, error) {
	return nil, nil
}

// toLegs translates broker column names to the canonical leg set.
func toLegs(legs []BrokerOptionLeg) []domain.OptionLeg {
	out := make([]domain.OptionLeg, len(legs))
	for i, l := range legs {
		out[i] = domain.OptionLeg{
			ContractSymbol:    l.Identifier,
			Strike:            l.Strike,
			Bid:               l.BidPrice,
			Ask:               l.AskPrice,
			LastPrice:         l.LatestPrice,
			Volume:            l.Volume,
			OpenInterest:      l.OpenInterest,
			ImpliedVolatility: l.ImpliedVol,
			Delta:             l.Delta,
			Gamma:             l.Gamma,
			Theta:             l.Theta,
			Vega:              l.Vega,
		}
	}
	return out
}

// translateRange maps the caller's period/interval grammar to the gateway's
// kline period and row limit.
func translateRange(period, interval string) (klinePeriod string, limit int, ok bool) {
	switch interval {
	case "", "1d":
		klinePeriod = "day"
	case "1wk":
		klinePeriod = "week"
	default:
		return "", 0, false
	}

	switch period {
	case "1mo":
		limit = 22
	case "3mo":
		limit = 66
	case "6mo":
		limit = 130
	case "2y":
		limit = 504
	case "5y":
		limit = 1260
	default: // "1y"
		limit = 252
	}
	if klinePeriod == "week" {
		limit = limit/5 + 1
	}
	return klinePeriod, limit, true
}
