// Package tiger provides the broker API client: real-time quotes across US,
// HK, and CN plus options chains. Unlike the public sources it needs signed
// requests, so construction fails without credentials.
package tiger

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Client signs and sends broker API requests.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	client    *http.Client
	log       zerolog.Logger
}

// NewClient creates a signed-request client. Both credentials are required.
func NewClient(apiKey, apiSecret string, log zerolog.Logger) (*Client, error) {
	if apiKey == "" || apiSecret == "" {
		return nil, fmt.Errorf("tiger client requires TIGER_API_KEY and TIGER_API_SECRET")
	}
	return &Client{
		baseURL:   "https://openapi.tigerfintech.com/gateway",
		apiKey:    apiKey,
		apiSecret: apiSecret,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log.With().Str("client", "tiger").Logger(),
	}, nil
}

// BrokerQuote is the quote shape the gateway returns.
type BrokerQuote struct {
	Symbol    string  `json:"symbol"`
	Latest    float64 `json:"latest_price"`
	PrevClose float64 `json:"prev_close"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Volume    int64   `json:"volume"`
	Currency  string  `json:"currency"`
	Timestamp int64   `json:"timestamp"`
}

// BrokerBar is one kline row.
type BrokerBar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// BrokerOptionLeg is one chain row with broker column names.
type BrokerOptionLeg struct {
	Identifier   string  `json:"identifier"`
	Strike       float64 `json:"strike"`
	BidPrice     float64 `json:"bid_price"`
	AskPrice     float64 `json:"ask_price"`
	LatestPrice  float64 `json:"latest_price"`
	Volume       int64   `json:"volume"`
	OpenInterest int64   `json:"open_interest"`
	ImpliedVol   float64 `json:"implied_vol"`
	Delta        float64 `json:"delta"`
	Gamma        float64 `json:"gamma"`
	Theta        float64 `json:"theta"`
	Vega         float64 `json:"vega"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

const (
	codeOK            = 0
	codeRateLimited   = 4003
	codeUnknownSymbol = 4404
)

// GetQuote fetches a real-time quote.
func (c *Client) GetQuote(ctx context.Context, symbol string) (*BrokerQuote, error) {
	data, err := c.call(ctx, "quote/real-time", url.Values{"symbols": {symbol}})
	if err != nil || data == nil {
		return nil, err
	}

	var quotes []BrokerQuote
	if err := json.Unmarshal(data, &quotes); err != nil {
		return nil, fmt.Errorf("failed to parse quote payload: %w", err)
	}
	if len(quotes) == 0 {
		return nil, nil
	}
	return &quotes[0], nil
}

// GetKline fetches OHLCV bars. period uses the gateway grammar ("day",
// "week"); limit caps the row count.
func (c *Client) GetKline(ctx context.Context, symbol, period string, limit int) ([]BrokerBar, error) {
	data, err := c.call(ctx, "quote/kline", url.Values{
		"symbols": {symbol},
		"period":  {period},
		"limit":   {strconv.Itoa(limit)},
	})
	if err != nil || data == nil {
		return nil, err
	}

	var bars []BrokerBar
	if err := json.Unmarshal(data, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse kline payload: %w", err)
	}
	return bars, nil
}

// GetOptionExpirations fetches available expiries as unix millis.
func (c *Client) GetOptionExpirations(ctx context.Context, symbol string) ([]int64, error) {
	data, err := c.call(ctx, "option/expiration", url.Values{"symbols": {symbol}})
	if err != nil || data == nil {
		return nil, err
	}

	var parsed struct {
		Dates []int64 `json:"dates"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse expiration payload: %w", err)
	}
	return parsed.Dates, nil
}

// GetOptionChain fetches both sides for one expiry (unix millis).
func (c *Client) GetOptionChain(ctx context.Context, symbol string, expiryMillis int64) (calls, puts []BrokerOptionLeg, err error) {
	data, err := c.call(ctx, "option/chain", url.Values{
		"symbols": {symbol},
		"expiry":  {strconv.FormatInt(expiryMillis, 10)},
	})
	if err != nil || data == nil {
		return nil, nil, err
	}

	var parsed struct {
		Calls []BrokerOptionLeg `json:"call"`
		Puts  []BrokerOptionLeg `json:"put"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to parse chain payload: %w", err)
	}
	return parsed.Calls, parsed.Puts, nil
}

// call signs and performs one gateway request. A nil, nil return means the
// gateway knows nothing about the symbol.
func (c *Client) call(ctx context.Context, method string, params url.Values) (json.RawMessage, error) {
	params.Set("tiger_id", c.apiKey)
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("sign", c.sign(params))

	endpoint := fmt.Sprintf("%s/%s?%s", c.baseURL, method, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("HTTP 429: Too Many Requests")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from gateway %s", resp.StatusCode, method)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode gateway response: %w", err)
	}

	switch env.Code {
	case codeOK:
		return env.Data, nil
	case codeUnknownSymbol:
		return nil, nil
	case codeRateLimited:
		return nil, fmt.Errorf("rate limit exceeded: %s", env.Message)
	default:
		return nil, fmt.Errorf("gateway error %d: %s", env.Code, env.Message)
	}
}

// sign computes the HMAC-SHA256 request signature over the sorted query.
func (c *Client) sign(params url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(params.Encode()))
	return hex.EncodeToString(mac.Sum(nil))
}
