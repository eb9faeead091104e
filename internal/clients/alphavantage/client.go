// Package alphavantage provides the rate-limited public API client. The free
// tier allows five requests per minute, so it sits last in the failover order
// as a fundamentals backstop for US symbols.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the query endpoint.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a client. An empty API key is tolerated; the server
// rejects unauthenticated calls and the adapter surfaces that as an error.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://www.alphavantage.co/query",
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "alphavantage").Logger(),
	}
}

// GlobalQuote is the flattened GLOBAL_QUOTE payload.
type GlobalQuote struct {
	Symbol        string
	Price         float64
	Open          float64
	High          float64
	Low           float64
	Volume        int64
	PreviousClose float64
}

// GetGlobalQuote fetches a delayed quote.
func (c *Client) GetGlobalQuote(ctx context.Context, symbol string) (*GlobalQuote, error) {
	var parsed struct {
		Quote map[string]string `json:"Global Quote"`
		Note  string            `json:"Note"`
		Error string            `json:"Error Message"`
	}
	if err := c.getJSON(ctx, "GLOBAL_QUOTE", symbol, nil, &parsed); err != nil {
		return nil, err
	}
	if parsed.Note != "" {
		return nil, fmt.Errorf("rate limit note: %s", parsed.Note)
	}
	if parsed.Error != "" || len(parsed.Quote) == 0 {
		return nil, nil
	}

	q := parsed.Quote
	return &GlobalQuote{
		Symbol:        q["01. symbol"],
		Open:          parseFloat(q["02. open"]),
		High:          parseFloat(q["03. high"]),
		Low:           parseFloat(q["04. low"]),
		Price:         parseFloat(q["05. price"]),
		Volume:        parseInt(q["06. volume"]),
		PreviousClose: parseFloat(q["08. previous close"]),
	}, nil
}

// Overview is the flattened company OVERVIEW payload.
type Overview struct {
	Symbol          string `json:"Symbol"`
	Name            string `json:"Name"`
	Description     string `json:"Description"`
	Exchange        string `json:"Exchange"`
	Currency        string `json:"Currency"`
	Country         string `json:"Country"`
	Sector          string `json:"Sector"`
	Industry        string `json:"Industry"`
	MarketCap       string `json:"MarketCapitalization"`
	PERatio         string `json:"PERatio"`
	ForwardPE       string `json:"ForwardPE"`
	PBRatio         string `json:"PriceToBookRatio"`
	EPS             string `json:"EPS"`
	DividendYield   string `json:"DividendYield"`
	ProfitMargin    string `json:"ProfitMargin"`
	ReturnOnEquity  string `json:"ReturnOnEquityTTM"`
	RevenueGrowth   string `json:"QuarterlyRevenueGrowthYOY"`
	BookValue       string `json:"BookValue"`
	SharesOutstand  string `json:"SharesOutstanding"`
	FiftyTwoWkHigh  string `json:"52WeekHigh"`
	FiftyTwoWkLow   string `json:"52WeekLow"`
	AnalystTargetPx string `json:"AnalystTargetPrice"`
}

// GetOverview fetches company fundamentals and profile in one call.
func (c *Client) GetOverview(ctx context.Context, symbol string) (*Overview, error) {
	var raw map[string]json.RawMessage
	if err := c.getJSON(ctx, "OVERVIEW", symbol, nil, &raw); err != nil {
		return nil, err
	}
	if note, ok := raw["Note"]; ok {
		return nil, fmt.Errorf("rate limit note: %s", string(note))
	}
	if len(raw) == 0 {
		return nil, nil
	}

	blob, _ := json.Marshal(raw)
	var out Overview
	if err := json.Unmarshal(blob, &out); err != nil {
		return nil, fmt.Errorf("failed to parse overview: %w", err)
	}
	if out.Symbol == "" {
		return nil, nil
	}
	return &out, nil
}

// EarningsQuarter is one reported quarter.
type EarningsQuarter struct {
	FiscalDateEnding   string `json:"fiscalDateEnding"`
	ReportedDate       string `json:"reportedDate"`
	ReportedEPS        string `json:"reportedEPS"`
	EstimatedEPS       string `json:"estimatedEPS"`
	SurprisePercentage string `json:"surprisePercentage"`
}

// GetEarnings fetches quarterly earnings history.
func (c *Client) GetEarnings(ctx context.Context, symbol string) ([]EarningsQuarter, error) {
	var parsed struct {
		Symbol    string            `json:"symbol"`
		Quarterly []EarningsQuarter `json:"quarterlyEarnings"`
		Note      string            `json:"Note"`
	}
	if err := c.getJSON(ctx, "EARNINGS", symbol, nil, &parsed); err != nil {
		return nil, err
	}
	if parsed.Note != "" {
		return nil, fmt.Errorf("rate limit note: %s", parsed.Note)
	}
	return parsed.Quarterly, nil
}

func (c *Client) getJSON(ctx context.Context, function, symbol string, extra url.Values, out interface{}) error {
	params := url.Values{}
	for k, vs := range extra {
		params[k] = vs
	}
	params.Set("function", function)
	params.Set("symbol", symbol)
	params.Set("apikey", c.apiKey)

	endpoint := c.baseURL + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("HTTP 429: Too Many Requests")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, function)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", function, err)
	}
	return nil
}

func parseFloat(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return v
}
