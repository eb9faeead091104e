package akshare

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

// Option chains move fast on the futures exchanges; keep them short-lived.
var defaultTTL = map[domain.DataType]int{
	domain.DataQuote:              60,
	domain.DataHistory:            600,
	domain.DataOptionsExpirations: 1800,
	domain.DataOptionsChain:       90,
}

var dataTypes = []domain.DataType{
	domain.DataQuote,
	domain.DataHistory,
	domain.DataOptionsExpirations,
	domain.DataOptionsChain,
}

// Adapter is the commodity-futures provider.
type Adapter struct {
	*providers.AdapterBase
	client *Client
}

// NewAdapter wires the commodity adapter.
func NewAdapter(cfg config.ProviderConfig, log zerolog.Logger) *Adapter {
	return &Adapter{
		AdapterBase: providers.NewAdapterBase(
			"akshare", cfg, dataTypes,
			[]domain.Market{domain.MarketCommodity},
			defaultTTL, log),
		client: NewClient(log),
	}
}

// SupportsSymbol accepts whitelisted commodity products and their contracts.
func (a *Adapter) SupportsSymbol(symbol string) bool {
	_, ok := symbols.CommodityProduct(symbol)
	return ok
}

// contractCode strips any exchange prefix; the gateway keys on bare contract
// codes ("au2406").
func contractCode(symbol string) string {
	s := strings.TrimSpace(symbol)
	if i := strings.IndexAny(s, "."); i >= 0 {
		return strings.ToLower(s[i+1:])
	}
	return strings.ToLower(s)
}

// GetQuote implements domain.Provider.
func (a *Adapter) GetQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	var out *domain.Quote
	err := a.Guard().Do(ctx, "get_quote", func(ctx context.Context) error {
		q, err := a.client.GetQuote(ctx, contractCode(symbol))
		if err != nil || q == nil {
			return err
		}
		out = &domain.Quote{
			Symbol:        symbols.Normalize(symbol),
			CurrentPrice:  q.Last,
			PreviousClose: q.PrevClose,
			Open:          q.Open,
			DayHigh:       q.High,
			DayLow:        q.Low,
			Volume:        q.Volume,
			Currency:      "CNY",
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

// GetHistory implements domain.Provider. Daily bars only.
func (a *Adapter) GetHistory(ctx context.Context, symbol, period, interval string) (*domain.History, error) {
	if interval != "" && interval != "1d" {
		return nil, nil
	}

	var out *domain.History
	err := a.Guard().Do(ctx, "get_history", func(ctx context.Context) error {
		bars, err := a.client.GetDailyBars(ctx, contractCode(symbol))
		if err != nil || len(bars) == 0 {
			return err
		}

		h := &domain.History{Symbol: symbols.Normalize(symbol)}
		for _, b := range bars {
			date, dateErr := time.Parse("2006-01-02", b.Date)
			if dateErr != nil {
				continue
			}
			h.Bars = append(h.Bars, domain.Bar{
				Date:   date,
				Open:   b.Open,
				High:   b.High,
				Low:    b.Low,
				Close:  b.Close,
				Volume: b.Volume,
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

// GetFundamentals implements domain.Provider; futures have none.
func (a *Adapter) GetFundamentals(ctx context.Context, symbol string) (*domain.Fundamentals, error) {
	return nil, nil
}

// GetInfo implements domain.Provider; futures have none.
func (a *Adapter) GetInfo(ctx context.Context, symbol string) (*domain.Info, error) {
	return nil, nil
}

// GetOptionsExpirations implements domain.Provider.
func (a *Adapter) GetOptionsExpirations(ctx context.Context, symbol string) ([]string, error) {
	product, ok := symbols.CommodityProduct(symbol)
	if !ok {
		return nil, nil
	}

	var out []string
	err := a.Guard().Do(ctx, "get_options_expirations", func(ctx context.Context) error {
		expiries, err := a.client.GetOptionExpiries(ctx, product)
		if err != nil {
			return err
		}
		out = expiries
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetOptionsChain implements domain.Provider. The gateway reports one row per
// strike carrying both sides; split it into the canonical call/put legs.
func (a *Adapter) GetOptionsChain(ctx context.Context, symbol, expiry string) (*domain.OptionChain, error) {
	product, ok := symbols.CommodityProduct(symbol)
	if !ok {
		return nil, nil
	}

	var out *domain.OptionChain
	err := a.Guard().Do(ctx, "get_options_chain", func(ctx context.Context) error {
		rows, err := a.client.GetOptionChain(ctx, product, expiry)
		if err != nil || len(rows) == 0 {
			return err
		}

		chain := &domain.OptionChain{
			Symbol:     symbols.Normalize(symbol),
			ExpiryDate: expiry,
		}
		for _, r := range rows {
			chain.Calls = append(chain.Calls, domain.OptionLeg{
				ContractSymbol: r.CallSymbol,
				Strike:         r.Strike,
				Bid:            r.CallBid,
				Ask:            r.CallAsk,
				LastPrice:      r.CallLast,
				Volume:         r.CallVolume,
				OpenInterest:   r.CallOI,
			})
			chain.Puts = append(chain.Puts, domain.OptionLeg{
				ContractSymbol: r.PutSymbol,
				Strike:         r.Strike,
				Bid:            r.PutBid,
				Ask:            r.PutAsk,
				LastPrice:      r.PutLast,
				Volume:         r.PutVolume,
				OpenInterest:   r.PutOI,
			})
		}
		out = chain
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEarnings implements domain.Provider; futures have none.
func (a *Adapter) GetEarnings(ctx context.Context, symbol string) ([]domain.Earnings, error) {
	return nil, nil
}
