// Package yahoo provides the retail market-data API client. It covers every
// data type for US and HK symbols but throttles aggressively under load, so
// its adapter leans on the protection layer's cooldown tracking.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the public quote endpoints.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a client with the production base URL.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://query1.finance.yahoo.com",
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// chartResponse is the shape of /v8/finance/chart.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				PreviousClose      float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"chart"`
}

type apiError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// ChartBar is one OHLCV row from the chart endpoint.
type ChartBar struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// ChartData is the normalized chart payload.
type ChartData struct {
	Symbol        string
	Currency      string
	MarketPrice   float64
	PreviousClose float64
	Bars          []ChartBar
}

// GetChart fetches price history. period and interval use the API's own
// range grammar ("1mo", "1y", "1d", "1wk").
func (c *Client) GetChart(ctx context.Context, symbol, period, interval string) (*ChartData, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=%s",
		c.baseURL, url.PathEscape(symbol), url.QueryEscape(period), url.QueryEscape(interval))

	var parsed chartResponse
	if err := c.getJSON(ctx, endpoint, &parsed); err != nil {
		return nil, err
	}
	if parsed.Chart.Error != nil {
		if parsed.Chart.Error.Code == "Not Found" {
			return nil, nil
		}
		return nil, parsed.Chart.Error
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, nil
	}

	res := parsed.Chart.Result[0]
	data := &ChartData{
		Symbol:        res.Meta.Symbol,
		Currency:      res.Meta.Currency,
		MarketPrice:   res.Meta.RegularMarketPrice,
		PreviousClose: res.Meta.PreviousClose,
	}

	if len(res.Indicators.Quote) > 0 {
		q := res.Indicators.Quote[0]
		for i, ts := range res.Timestamp {
			if i >= len(q.Close) {
				break
			}
			data.Bars = append(data.Bars, ChartBar{
				Timestamp: ts,
				Open:      at(q.Open, i),
				High:      at(q.High, i),
				Low:       at(q.Low, i),
				Close:     at(q.Close, i),
				Volume:    atInt(q.Volume, i),
			})
		}
	}
	return data, nil
}

// SummaryData is the flattened quoteSummary payload.
type SummaryData struct {
	Symbol          string
	Name            string
	Sector          string
	Industry        string
	Country         string
	Exchange        string
	Currency        string
	Website         string
	Summary         string
	Employees       int64
	MarketCap       float64
	TrailingPE      float64
	ForwardPE       float64
	PriceToBook     float64
	TrailingEPS     float64
	DividendYield   float64
	RevenueGrowth   float64
	ProfitMargin    float64
	DebtToEquity    float64
	FreeCashFlow    float64
	ReturnOnEquity  float64
	BookValue       float64
	SharesOutstand  int64
	FiftyTwoWkHigh  float64
	FiftyTwoWkLow   float64
	AnalystTargetPx float64
}

// rawValue is the API's {raw, fmt} number wrapper.
type rawValue struct {
	Raw float64 `json:"raw"`
}

type summaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile *struct {
				Sector            string `json:"sector"`
				Industry          string `json:"industry"`
				Country           string `json:"country"`
				Website           string `json:"website"`
				LongBusinessSumm  string `json:"longBusinessSummary"`
				FullTimeEmployees int64  `json:"fullTimeEmployees"`
			} `json:"assetProfile"`
			Price *struct {
				ShortName string `json:"shortName"`
				Exchange  string `json:"exchangeName"`
				Currency  string `json:"currency"`
			} `json:"price"`
			SummaryDetail *struct {
				MarketCap      rawValue `json:"marketCap"`
				TrailingPE     rawValue `json:"trailingPE"`
				ForwardPE      rawValue `json:"forwardPE"`
				DividendYield  rawValue `json:"dividendYield"`
				FiftyTwoWkHigh rawValue `json:"fiftyTwoWeekHigh"`
				FiftyTwoWkLow  rawValue `json:"fiftyTwoWeekLow"`
			} `json:"summaryDetail"`
			KeyStatistics *struct {
				PriceToBook    rawValue `json:"priceToBook"`
				TrailingEPS    rawValue `json:"trailingEps"`
				BookValue      rawValue `json:"bookValue"`
				SharesOutstand rawValue `json:"sharesOutstanding"`
			} `json:"defaultKeyStatistics"`
			FinancialData *struct {
				RevenueGrowth   rawValue `json:"revenueGrowth"`
				ProfitMargin    rawValue `json:"profitMargins"`
				DebtToEquity    rawValue `json:"debtToEquity"`
				FreeCashFlow    rawValue `json:"freeCashflow"`
				ReturnOnEquity  rawValue `json:"returnOnEquity"`
				TargetMeanPrice rawValue `json:"targetMeanPrice"`
			} `json:"financialData"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"quoteSummary"`
}

// GetSummary fetches company profile, valuation, and financial figures.
func (c *Client) GetSummary(ctx context.Context, symbol string) (*SummaryData, error) {
	endpoint := fmt.Sprintf(
		"%s/v10/finance/quoteSummary/%s?modules=assetProfile,price,summaryDetail,defaultKeyStatistics,financialData",
		c.baseURL, url.PathEscape(symbol))

	var parsed summaryResponse
	if err := c.getJSON(ctx, endpoint, &parsed); err != nil {
		return nil, err
	}
	if parsed.QuoteSummary.Error != nil {
		if parsed.QuoteSummary.Error.Code == "Not Found" {
			return nil, nil
		}
		return nil, parsed.QuoteSummary.Error
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return nil, nil
	}

	res := parsed.QuoteSummary.Result[0]
	out := &SummaryData{Symbol: symbol}

	if p := res.AssetProfile; p != nil {
		out.Sector = p.Sector
		out.Industry = p.Industry
		out.Country = p.Country
		out.Website = p.Website
		out.Summary = p.LongBusinessSumm
		out.Employees = p.FullTimeEmployees
	}
	if p := res.Price; p != nil {
		out.Name = p.ShortName
		out.Exchange = p.Exchange
		out.Currency = p.Currency
	}
	if d := res.SummaryDetail; d != nil {
		out.MarketCap = d.MarketCap.Raw
		out.TrailingPE = d.TrailingPE.Raw
		out.ForwardPE = d.ForwardPE.Raw
		out.DividendYield = d.DividendYield.Raw
		out.FiftyTwoWkHigh = d.FiftyTwoWkHigh.Raw
		out.FiftyTwoWkLow = d.FiftyTwoWkLow.Raw
	}
	if k := res.KeyStatistics; k != nil {
		out.PriceToBook = k.PriceToBook.Raw
		out.TrailingEPS = k.TrailingEPS.Raw
		out.BookValue = k.BookValue.Raw
		out.SharesOutstand = int64(k.SharesOutstand.Raw)
	}
	if f := res.FinancialData; f != nil {
		out.RevenueGrowth = f.RevenueGrowth.Raw
		out.ProfitMargin = f.ProfitMargin.Raw
		out.DebtToEquity = f.DebtToEquity.Raw
		out.FreeCashFlow = f.FreeCashFlow.Raw
		out.ReturnOnEquity = f.ReturnOnEquity.Raw
		out.AnalystTargetPx = f.TargetMeanPrice.Raw
	}
	return out, nil
}

// OptionContract is one leg as the options endpoint reports it.
type OptionContract struct {
	ContractSymbol    string  `json:"contractSymbol"`
	Strike            float64 `json:"strike"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	LastPrice         float64 `json:"lastPrice"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"openInterest"`
	ImpliedVolatility float64 `json:"impliedVolatility"`
}

// OptionsData is the parsed options payload for one expiry.
type OptionsData struct {
	ExpirationDates []int64
	Calls           []OptionContract
	Puts            []OptionContract
}

type optionsResponse struct {
	OptionChain struct {
		Result []struct {
			ExpirationDates []int64 `json:"expirationDates"`
			Options         []struct {
				Calls []OptionContract `json:"calls"`
				Puts  []OptionContract `json:"puts"`
			} `json:"options"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"optionChain"`
}

// GetOptions fetches the chain. expiryUnix 0 returns the nearest expiry with
// the full expiration-date list.
func (c *Client) GetOptions(ctx context.Context, symbol string, expiryUnix int64) (*OptionsData, error) {
	endpoint := fmt.Sprintf("%s/v7/finance/options/%s", c.baseURL, url.PathEscape(symbol))
	if expiryUnix > 0 {
		endpoint += fmt.Sprintf("?date=%d", expiryUnix)
	}

	var parsed optionsResponse
	if err := c.getJSON(ctx, endpoint, &parsed); err != nil {
		return nil, err
	}
	if parsed.OptionChain.Error != nil {
		return nil, parsed.OptionChain.Error
	}
	if len(parsed.OptionChain.Result) == 0 {
		return nil, nil
	}

	res := parsed.OptionChain.Result[0]
	data := &OptionsData{ExpirationDates: res.ExpirationDates}
	if len(res.Options) > 0 {
		data.Calls = res.Options[0].Calls
		data.Puts = res.Options[0].Puts
	}
	return data, nil
}

// EarningsRow is one flattened earnings-history entry.
type EarningsRow struct {
	Period          string
	QuarterEnd      int64
	EPSEstimate     float64
	EPSActual       float64
	SurprisePercent float64
}

type earningsResponse struct {
	QuoteSummary struct {
		Result []struct {
			EarningsHistory *struct {
				History []struct {
					Period          string   `json:"period"`
					Quarter         rawValue `json:"quarter"`
					EPSEstimate     rawValue `json:"epsEstimate"`
					EPSActual       rawValue `json:"epsActual"`
					SurprisePercent rawValue `json:"surprisePercent"`
				} `json:"history"`
			} `json:"earningsHistory"`
		} `json:"result"`
		Error *apiError `json:"error"`
	} `json:"quoteSummary"`
}

// GetEarningsHistory fetches recent reported quarters.
func (c *Client) GetEarningsHistory(ctx context.Context, symbol string) ([]EarningsRow, error) {
	endpoint := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=earningsHistory",
		c.baseURL, url.PathEscape(symbol))

	var parsed earningsResponse
	if err := c.getJSON(ctx, endpoint, &parsed); err != nil {
		return nil, err
	}
	if parsed.QuoteSummary.Error != nil {
		if parsed.QuoteSummary.Error.Code == "Not Found" {
			return nil, nil
		}
		return nil, parsed.QuoteSummary.Error
	}
	if len(parsed.QuoteSummary.Result) == 0 || parsed.QuoteSummary.Result[0].EarningsHistory == nil {
		return nil, nil
	}

	var rows []EarningsRow
	for _, h := range parsed.QuoteSummary.Result[0].EarningsHistory.History {
		rows = append(rows, EarningsRow{
			Period:          h.Period,
			QuarterEnd:      int64(h.Quarter.Raw),
			EPSEstimate:     h.EPSEstimate.Raw,
			EPSActual:       h.EPSActual.Raw,
			SurprisePercent: h.SurprisePercent.Raw,
		})
	}
	return rows, nil
}

// getJSON performs a GET and decodes the body, surfacing throttle statuses
// verbatim so the classifier can recognize them.
func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; fintel/1.0)")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("HTTP 429: Too Many Requests")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, endpoint)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// Throttled responses often come back as empty bodies.
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func at(vals []float64, i int) float64 {
	if i < len(vals) {
		return vals[i]
	}
	return 0
}

func atInt(vals []int64, i int) int64 {
	if i < len(vals) {
		return vals[i]
	}
	return 0
}
