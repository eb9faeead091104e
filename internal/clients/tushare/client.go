// Package tushare provides the A-share data API client. The API is a single
// POST endpoint taking an api_name plus params and returning columnar data
// (a field list and row arrays); access is tiered by the account's points.
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Client posts api_name requests with the account token.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates a client for the pro endpoint.
func NewClient(token string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: "https://api.tushare.pro",
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log.With().Str("client", "tushare").Logger(),
	}
}

// Table is a columnar result: one field list, rows of positional values.
type Table struct {
	Fields []string
	Rows   [][]interface{}
}

// Col returns the index of a field, -1 when absent.
func (t *Table) Col(field string) int {
	for i, f := range t.Fields {
		if f == field {
			return i
		}
	}
	return -1
}

// Float reads a float cell, tolerating nulls.
func (t *Table) Float(row []interface{}, col int) float64 {
	if col < 0 || col >= len(row) {
		return 0
	}
	if v, ok := row[col].(float64); ok {
		return v
	}
	return 0
}

// String reads a string cell.
func (t *Table) String(row []interface{}, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	if v, ok := row[col].(string); ok {
		return v
	}
	return ""
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields,omitempty"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string        `json:"fields"`
		Items  [][]interface{} `json:"items"`
	} `json:"data"`
}

// Call executes one api_name query.
func (c *Client) Call(ctx context.Context, apiName string, params map[string]string, fields string) (*Table, error) {
	body, err := json.Marshal(apiRequest{
		APIName: apiName,
		Token:   c.token,
		Params:  params,
		Fields:  fields,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, apiName)
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", apiName, err)
	}

	if parsed.Code != 0 {
		// The throttle message mentions the per-minute allowance.
		if strings.Contains(parsed.Msg, "每分钟") || strings.Contains(parsed.Msg, "访问频率") {
			return nil, fmt.Errorf("rate limit exceeded: %s", parsed.Msg)
		}
		return nil, fmt.Errorf("api error %d: %s", parsed.Code, parsed.Msg)
	}
	if parsed.Data == nil || len(parsed.Data.Items) == 0 {
		return nil, nil
	}

	return &Table{Fields: parsed.Data.Fields, Rows: parsed.Data.Items}, nil
}

// TSCode converts a normalized symbol ("600519.SS", "000001.SZ") to the
// API's own code grammar ("600519.SH", "000001.SZ").
func TSCode(symbol string) string {
	upper := strings.ToUpper(symbol)
	if strings.HasSuffix(upper, ".SS") {
		return strings.TrimSuffix(upper, ".SS") + ".SH"
	}
	return upper
}
