// Package domain contains the core types shared across the market-data
// service and the analysis task engine. The domain layer is pure: no
// infrastructure dependencies.
package domain

import "time"

// Market identifies the trading venue a symbol belongs to.
type Market string

const (
	MarketUS        Market = "US"
	MarketHK        Market = "HK"
	MarketCN        Market = "CN"
	MarketCommodity Market = "COMMODITY"
)

// DataType identifies a category of market data served by providers.
type DataType string

const (
	DataQuote              DataType = "quote"
	DataHistory            DataType = "history"
	DataFundamentals       DataType = "fundamentals"
	DataInfo               DataType = "info"
	DataOptionsExpirations DataType = "options_expirations"
	DataOptionsChain       DataType = "options_chain"
	DataEarnings           DataType = "earnings"
	DataMacro              DataType = "macro"
)

// AllDataTypes lists every data type the router can serve.
var AllDataTypes = []DataType{
	DataQuote,
	DataHistory,
	DataFundamentals,
	DataInfo,
	DataOptionsExpirations,
	DataOptionsChain,
	DataEarnings,
	DataMacro,
}

// Quote is a real-time (or near-real-time) price snapshot.
type Quote struct {
	Symbol        string    `json:"symbol"`
	CurrentPrice  float64   `json:"current_price"`
	PreviousClose float64   `json:"previous_close"`
	Open          float64   `json:"open"`
	DayHigh       float64   `json:"day_high"`
	DayLow        float64   `json:"day_low"`
	Volume        int64     `json:"volume"`
	Currency      string    `json:"currency"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source,omitempty"`
}

// Bar is a single OHLCV candle. Date is timezone-aware.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// History is a normalized OHLCV series, oldest bar first.
type History struct {
	Symbol string `json:"symbol"`
	Bars   []Bar  `json:"bars"`
}

// Fundamentals carries valuation and balance-sheet summary figures.
// Ratios that the source does not report are zero.
type Fundamentals struct {
	Symbol          string  `json:"symbol"`
	MarketCap       float64 `json:"market_cap"`
	PERatio         float64 `json:"pe_ratio"`
	ForwardPE       float64 `json:"forward_pe"`
	PBRatio         float64 `json:"pb_ratio"`
	EPS             float64 `json:"eps"`
	DividendYield   float64 `json:"dividend_yield"`
	RevenueGrowth   float64 `json:"revenue_growth"`
	ProfitMargin    float64 `json:"profit_margin"`
	DebtToEquity    float64 `json:"debt_to_equity"`
	FreeCashFlow    float64 `json:"free_cash_flow"`
	ReturnOnEquity  float64 `json:"return_on_equity"`
	BookValue       float64 `json:"book_value"`
	SharesOutstand  int64   `json:"shares_outstanding"`
	FiftyTwoWkHigh  float64 `json:"fifty_two_week_high"`
	FiftyTwoWkLow   float64 `json:"fifty_two_week_low"`
	AnalystTargetPx float64 `json:"analyst_target_price"`
}

// Info carries static company metadata.
type Info struct {
	Symbol    string `json:"symbol"`
	Name      string `json:"name"`
	Sector    string `json:"sector"`
	Industry  string `json:"industry"`
	Country   string `json:"country"`
	Exchange  string `json:"exchange"`
	Currency  string `json:"currency"`
	Website   string `json:"website,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Employees int64  `json:"employees,omitempty"`
}

// OptionLeg is one strike row of an option chain, normalized to the
// canonical column set regardless of source naming.
type OptionLeg struct {
	ContractSymbol    string  `json:"contract_symbol"`
	Strike            float64 `json:"strike"`
	Bid               float64 `json:"bid"`
	Ask               float64 `json:"ask"`
	LastPrice         float64 `json:"last_price"`
	Volume            int64   `json:"volume"`
	OpenInterest      int64   `json:"open_interest"`
	ImpliedVolatility float64 `json:"implied_volatility"`
	Delta             float64 `json:"delta"`
	Gamma             float64 `json:"gamma"`
	Theta             float64 `json:"theta"`
	Vega              float64 `json:"vega"`
}

// OptionChain holds both sides of a chain for one expiry.
type OptionChain struct {
	Symbol     string      `json:"symbol"`
	ExpiryDate string      `json:"expiry_date"`
	Calls      []OptionLeg `json:"calls"`
	Puts       []OptionLeg `json:"puts"`
}

// Earnings is a single reported or upcoming earnings event.
type Earnings struct {
	Symbol       string    `json:"symbol"`
	FiscalPeriod string    `json:"fiscal_period"`
	ReportDate   time.Time `json:"report_date"`
	EPSEstimate  float64   `json:"eps_estimate"`
	EPSActual    float64   `json:"eps_actual"`
	Surprise     float64   `json:"surprise_percent"`
}

// TickerData is the composed quote + info + fundamentals view.
type TickerData struct {
	Symbol       string        `json:"symbol"`
	Market       Market        `json:"market"`
	Quote        *Quote        `json:"quote,omitempty"`
	Info         *Info         `json:"info,omitempty"`
	Fundamentals *Fundamentals `json:"fundamentals,omitempty"`
}

// Payload is the structured result of an analysis run. The engine treats it
// as opaque apart from the summary fields extracted for history rows.
type Payload map[string]interface{}

// GetString returns a string field from the payload, or "" if absent.
func (p Payload) GetString(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// GetFloat returns a numeric field from the payload, or 0 if absent.
// JSON round-trips turn all numbers into float64.
func (p Payload) GetFloat(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
