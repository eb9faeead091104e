package analysis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fintelcore/fintel/internal/domain"
)

// NewOptionsRunner builds the options analysis runner. Chain mode summarizes
// one expiry; enhanced mode drills into a single contract identified by its
// OCC symbol.
func NewOptionsRunner(md MarketData, log zerolog.Logger) domain.OptionsRunner {
	log = log.With().Str("component", "options_runner").Logger()

	return func(ctx context.Context, ticker string, params map[string]string) (domain.Payload, error) {
		if id := params["option_identifier"]; id != "" {
			return runContract(ctx, md, log, ticker, id)
		}
		return runChain(ctx, md, log, ticker, params["expiry_date"])
	}
}

func runChain(ctx context.Context, md MarketData, log zerolog.Logger, ticker, expiry string) (domain.Payload, error) {
	quote, err := md.GetQuote(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("quote fetch failed for %s: %w", ticker, err)
	}
	if quote == nil {
		return domain.Payload{"error": fmt.Sprintf("no market data available for %s", ticker)}, nil
	}

	chain, err := md.GetOptionsChain(ctx, ticker, expiry)
	if err != nil {
		return nil, fmt.Errorf("options chain fetch failed for %s: %w", ticker, err)
	}
	if chain == nil || (len(chain.Calls) == 0 && len(chain.Puts) == 0) {
		return domain.Payload{"error": fmt.Sprintf("no options chain for %s expiring %s", ticker, expiry)}, nil
	}

	summary := summarizeChain(chain, quote.CurrentPrice)
	strategy := suggestStrategy(summary)

	log.Info().
		Str("ticker", ticker).
		Str("expiry", expiry).
		Str("strategy", strategy).
		Msg("Options chain analysis computed")

	return domain.Payload{
		"ticker":           ticker,
		"expiry_date":      expiry,
		"underlying_price": quote.CurrentPrice,
		"atm_strike":       summary.ATMStrike,
		"put_call_ratio":   round2(summary.PutCallRatio),
		"avg_call_iv":      round2(summary.AvgCallIV),
		"avg_put_iv":       round2(summary.AvgPutIV),
		"total_call_oi":    summary.CallOI,
		"total_put_oi":     summary.PutOI,
		"strategy":         strategy,
		"ai_summary": fmt.Sprintf(
			"%s %s chain: %d calls / %d puts, put-call ratio %.2f, ATM strike %.2f, "+
				"average IV %.0f%% calls vs %.0f%% puts. Suggested posture: %s.",
			ticker, expiry, len(chain.Calls), len(chain.Puts), summary.PutCallRatio,
			summary.ATMStrike, summary.AvgCallIV*100, summary.AvgPutIV*100, strategy),
	}, nil
}

func runContract(ctx context.Context, md MarketData, log zerolog.Logger, ticker, identifier string) (domain.Payload, error) {
	contract, err := parseOptionSymbol(identifier)
	if err != nil {
		return domain.Payload{"error": err.Error()}, nil
	}

	quote, err := md.GetQuote(ctx, ticker)
	if err != nil {
		return nil, fmt.Errorf("quote fetch failed for %s: %w", ticker, err)
	}
	if quote == nil {
		return domain.Payload{"error": fmt.Sprintf("no market data available for %s", ticker)}, nil
	}

	chain, err := md.GetOptionsChain(ctx, ticker, contract.Expiry)
	if err != nil {
		return nil, fmt.Errorf("options chain fetch failed for %s: %w", ticker, err)
	}
	if chain == nil {
		return domain.Payload{"error": fmt.Sprintf("no options chain for %s expiring %s", ticker, contract.Expiry)}, nil
	}

	legs := chain.Calls
	right := "call"
	if contract.Right == 'P' {
		legs = chain.Puts
		right = "put"
	}

	leg := findLeg(legs, identifier, contract.Strike)
	if leg == nil {
		return domain.Payload{"error": fmt.Sprintf("contract %s not found in the %s chain", identifier, contract.Expiry)}, nil
	}

	moneyness := "out of the money"
	if (contract.Right == 'C' && quote.CurrentPrice > leg.Strike) ||
		(contract.Right == 'P' && quote.CurrentPrice < leg.Strike) {
		moneyness = "in the money"
	}

	log.Info().
		Str("ticker", ticker).
		Str("contract", identifier).
		Msg("Option contract analysis computed")

	return domain.Payload{
		"ticker":           ticker,
		"option_symbol":    identifier,
		"expiry_date":      contract.Expiry,
		"strike":           leg.Strike,
		"right":            right,
		"underlying_price": quote.CurrentPrice,
		"last_price":       leg.LastPrice,
		"bid":              leg.Bid,
		"ask":              leg.Ask,
		"open_interest":    leg.OpenInterest,
		"implied_vol":      round2(leg.ImpliedVolatility),
		"greeks": map[string]interface{}{
			"delta": leg.Delta,
			"gamma": leg.Gamma,
			"theta": leg.Theta,
			"vega":  leg.Vega,
		},
		"strategy": "single-leg " + right,
		"ai_summary": fmt.Sprintf(
			"%s %.2f %s expiring %s is %s with the underlying at %.2f. "+
				"Last %.2f (bid %.2f / ask %.2f), IV %.0f%%, delta %.2f.",
			ticker, leg.Strike, right, contract.Expiry, moneyness, quote.CurrentPrice,
			leg.LastPrice, leg.Bid, leg.Ask, leg.ImpliedVolatility*100, leg.Delta),
	}, nil
}

// chainSummary aggregates one expiry's chain around the spot price.
type chainSummary struct {
	ATMStrike    float64
	PutCallRatio float64
	AvgCallIV    float64
	AvgPutIV     float64
	CallOI       int64
	PutOI        int64
}

func summarizeChain(chain *domain.OptionChain, spot float64) chainSummary {
	var s chainSummary
	s.ATMStrike = math.NaN()

	for _, leg := range chain.Calls {
		s.CallOI += leg.OpenInterest
		s.AvgCallIV += leg.ImpliedVolatility
		if math.IsNaN(s.ATMStrike) || math.Abs(leg.Strike-spot) < math.Abs(s.ATMStrike-spot) {
			s.ATMStrike = leg.Strike
		}
	}
	for _, leg := range chain.Puts {
		s.PutOI += leg.OpenInterest
		s.AvgPutIV += leg.ImpliedVolatility
		if math.IsNaN(s.ATMStrike) || math.Abs(leg.Strike-spot) < math.Abs(s.ATMStrike-spot) {
			s.ATMStrike = leg.Strike
		}
	}

	if n := len(chain.Calls); n > 0 {
		s.AvgCallIV /= float64(n)
	}
	if n := len(chain.Puts); n > 0 {
		s.AvgPutIV /= float64(n)
	}
	if s.CallOI > 0 {
		s.PutCallRatio = float64(s.PutOI) / float64(s.CallOI)
	}
	if math.IsNaN(s.ATMStrike) {
		s.ATMStrike = 0
	}
	return s
}

func suggestStrategy(s chainSummary) string {
	switch {
	case s.PutCallRatio > 1.2:
		return "cash-secured put"
	case s.PutCallRatio < 0.7:
		return "covered call"
	default:
		return "iron condor"
	}
}

func findLeg(legs []domain.OptionLeg, identifier string, strike float64) *domain.OptionLeg {
	for i := range legs {
		if legs[i].ContractSymbol == identifier {
			return &legs[i]
		}
	}
	// Fall back to the strike when the source uses its own contract naming.
	for i := range legs {
		if math.Abs(legs[i].Strike-strike) < 1e-6 {
			return &legs[i]
		}
	}
	return nil
}

// occContract is a parsed OCC option symbol.
type occContract struct {
	Underlying string
	Expiry     string // YYYY-MM-DD
	Right      byte   // 'C' or 'P'
	Strike     float64
}

// parseOptionSymbol decodes an OCC identifier such as AAPL260918C00190000:
// underlying, YYMMDD expiry, C/P, and strike times 1000 in eight digits.
func parseOptionSymbol(s string) (*occContract, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) < 16 {
		return nil, fmt.Errorf("invalid option identifier %q", s)
	}

	tail := s[len(s)-15:]
	underlying := s[:len(s)-15]
	if underlying == "" {
		return nil, fmt.Errorf("invalid option identifier %q", s)
	}

	date := tail[:6]
	right := tail[6]
	strikeStr := tail[7:]

	if right != 'C' && right != 'P' {
		return nil, fmt.Errorf("invalid option right %q in %q", string(right), s)
	}
	for _, r := range date + strikeStr {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid option identifier %q", s)
		}
	}

	strikeRaw, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid strike in option identifier %q", s)
	}

	return &occContract{
		Underlying: underlying,
		Expiry:     fmt.Sprintf("20%s-%s-%s", date[:2], date[2:4], date[4:6]),
		Right:      right,
		Strike:     float64(strikeRaw) / 1000,
	}, nil
}
