// Package akshare provides the commodity-futures data client. It is the only
// source for commodity option chains; quotes are Sina-backed and slightly
// delayed.
package akshare

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the futures data gateway.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a client for the public futures endpoints.
func NewClient(log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://stock.finance.sina.com.cn/futures/api/openapi.php",
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "akshare").Logger(),
	}
}

// FuturesQuote is the delayed contract quote.
type FuturesQuote struct {
	Contract  string  `json:"symbol"`
	Last      float64 `json:"last,string"`
	PrevClose float64 `json:"prevclose,string"`
	Open      float64 `json:"open,string"`
	High      float64 `json:"high,string"`
	Low       float64 `json:"low,string"`
	Volume    int64   `json:"volume,string"`
}

// FuturesBar is one daily OHLCV row.
type FuturesBar struct {
	Date   string  `json:"d"`
	Open   float64 `json:"o,string"`
	High   float64 `json:"h,string"`
	Low    float64 `json:"l,string"`
	Close  float64 `json:"c,string"`
	Volume int64   `json:"v,string"`
}

// OptionRow is one strike row; the gateway reports both sides per strike.
type OptionRow struct {
	CallSymbol string  `json:"call_symbol"`
	PutSymbol  string  `json:"put_symbol"`
	Strike     float64 `json:"strike,string"`
	CallBid    float64 `json:"call_bid,string"`
	CallAsk    float64 `json:"call_ask,string"`
	CallLast   float64 `json:"call_last,string"`
	CallVolume int64   `json:"call_volume,string"`
	CallOI     int64   `json:"call_oi,string"`
	PutBid     float64 `json:"put_bid,string"`
	PutAsk     float64 `json:"put_ask,string"`
	PutLast    float64 `json:"put_last,string"`
	PutVolume  int64   `json:"put_volume,string"`
	PutOI      int64   `json:"put_oi,string"`
}

type envelope struct {
	Result struct {
		Status struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		} `json:"status"`
		Data json.RawMessage `json:"data"`
	} `json:"result"`
}

// GetQuote fetches the delayed quote for one contract code.
func (c *Client) GetQuote(ctx context.Context, contract string) (*FuturesQuote, error) {
	data, err := c.call(ctx, "FuturesService.getFuturesQuote", url.Values{"symbol": {contract}})
	if err != nil || data == nil {
		return nil, err
	}

	var q FuturesQuote
	if err := json.Unmarshal(data, &q); err != nil {
		return nil, fmt.Errorf("failed to parse quote payload: %w", err)
	}
	if q.Contract == "" {
		return nil, nil
	}
	return &q, nil
}

// GetDailyBars fetches daily history for one contract code.
func (c *Client) GetDailyBars(ctx context.Context, contract string) ([]FuturesBar, error) {
	data, err := c.call(ctx, "FuturesService.getDailyKLine", url.Values{"symbol": {contract}})
	if err != nil || data == nil {
		return nil, err
	}

	var bars []FuturesBar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse kline payload: %w", err)
	}
	return bars, nil
}

// GetOptionExpiries lists option expiry months ("2026-09") for a product.
func (c *Client) GetOptionExpiries(ctx context.Context, product string) ([]string, error) {
	data, err := c.call(ctx, "FuturesService.getOptionContracts", url.Values{"product": {product}})
	if err != nil || data == nil {
		return nil, err
	}

	var parsed struct {
		Expiries []string `json:"expiries"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse expiries payload: %w", err)
	}
	return parsed.Expiries, nil
}

// GetOptionChain fetches the strike table for a product and expiry month.
func (c *Client) GetOptionChain(ctx context.Context, product, expiry string) ([]OptionRow, error) {
	data, err := c.call(ctx, "FuturesService.getOptionChain", url.Values{
		"product": {product},
		"expiry":  {expiry},
	})
	if err != nil || data == nil {
		return nil, err
	}

	var rows []OptionRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse chain payload: %w", err)
	}
	return rows, nil
}

func (c *Client) call(ctx context.Context, service string, params url.Values) (json.RawMessage, error) {
	params.Set("__s", service)
	endpoint := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("HTTP 429: Too Many Requests")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, service)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", service, err)
	}

	switch env.Result.Status.Code {
	case 0:
		return env.Result.Data, nil
	case 1: // unknown contract
		return nil, nil
	default:
		return nil, fmt.Errorf("gateway error %d: %s", env.Result.Status.Code, env.Result.Status.Msg)
	}
}
