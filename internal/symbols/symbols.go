// Package symbols centralizes market detection and symbol normalization.
// Both functions are deterministic and idempotent so routing decisions are
// reproducible no matter which layer normalized first.
package symbols

import (
	"strings"

	"github.com/fintelcore/fintel/internal/domain"
)

// commodityProducts is the whitelist of commodity product codes we route to
// the futures data source. Codes may arrive bare ("au") or with an exchange
// prefix ("SHFE.au").
var commodityProducts = map[string]bool{
	"au": true, // gold
	"ag": true, // silver
	"cu": true, // copper
	"al": true, // aluminium
	"m":  true, // soybean meal
}

// commodityExchanges are the futures exchanges whose prefix marks a symbol
// as a commodity contract.
var commodityExchanges = map[string]bool{
	"SHFE": true,
	"DCE":  true,
	"CZCE": true,
	"INE":  true,
}

// Detect maps a symbol to its market by shape. Suffix rules win over prefix
// rules; anything unrecognized is treated as US.
func Detect(symbol string) domain.Market {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return domain.MarketUS
	}

	upper := strings.ToUpper(s)

	switch {
	case strings.HasSuffix(upper, ".HK"):
		return domain.MarketHK
	case strings.HasSuffix(upper, ".SS"), strings.HasSuffix(upper, ".SZ"), strings.HasSuffix(upper, ".SH"):
		return domain.MarketCN
	}

	if isCommodity(s) {
		return domain.MarketCommodity
	}

	if isDigits(s) {
		// Bare 6-digit codes are mainland China listings; shorter bare
		// numeric codes are Hong Kong listings.
		if len(s) == 6 {
			return domain.MarketCN
		}
		if len(s) <= 4 {
			return domain.MarketHK
		}
	}

	return domain.MarketUS
}

// Normalize rewrites a symbol into the canonical form used for cache keys
// and provider calls. Idempotent: Normalize(Normalize(x)) == Normalize(x).
//
//   - bare 6-digit CN codes gain .SS (60/68 prefix) or .SZ (00/30 prefix)
//   - bare HK numeric codes are left-padded to 4 digits and suffixed .HK
//   - commodity symbols are lowercased product codes, keeping any exchange
//     prefix uppercased
//   - everything else is uppercased
func Normalize(symbol string) string {
	s := strings.TrimSpace(symbol)
	if s == "" {
		return s
	}

	if isCommodity(s) {
		return normalizeCommodity(s)
	}

	upper := strings.ToUpper(s)

	// Already suffixed CN/HK symbols only need case folding.
	for _, suffix := range []string{".HK", ".SS", ".SZ", ".SH"} {
		if strings.HasSuffix(upper, suffix) {
			base := strings.TrimSuffix(upper, suffix)
			if suffix == ".HK" && isDigits(base) && len(base) < 4 {
				base = strings.Repeat("0", 4-len(base)) + base
			}
			return base + suffix
		}
	}

	if len(s) == 6 && isDigits(s) {
		switch {
		case strings.HasPrefix(s, "60"), strings.HasPrefix(s, "68"):
			return s + ".SS"
		case strings.HasPrefix(s, "00"), strings.HasPrefix(s, "30"):
			return s + ".SZ"
		}
		// Unrecognized 6-digit prefix: leave bare, still CN for detection.
		return s
	}

	// Short bare numeric codes are Hong Kong listings.
	if isDigits(s) && len(s) <= 4 {
		padded := s
		if len(padded) < 4 {
			padded = strings.Repeat("0", 4-len(padded)) + padded
		}
		return padded + ".HK"
	}

	return upper
}

// CommodityProduct extracts the bare product code ("SHFE.au2406" -> "au").
// ok is false for non-commodity symbols.
func CommodityProduct(symbol string) (string, bool) {
	s := strings.TrimSpace(symbol)
	if !isCommodity(s) {
		return "", false
	}
	product := s
	if i := strings.IndexAny(s, "."); i >= 0 {
		product = s[i+1:]
	}
	return strings.ToLower(stripContractMonth(product)), true
}

// isCommodity reports whether the symbol is a whitelisted commodity product,
// optionally carrying an exchange prefix.
func isCommodity(symbol string) bool {
	product := symbol
	if i := strings.IndexAny(symbol, "."); i >= 0 {
		exchange := strings.ToUpper(symbol[:i])
		if !commodityExchanges[exchange] {
			return false
		}
		product = symbol[i+1:]
	}
	return commodityProducts[strings.ToLower(stripContractMonth(product))]
}

// normalizeCommodity lowercases the product code and uppercases the exchange
// prefix, if present.
func normalizeCommodity(symbol string) string {
	if i := strings.IndexAny(symbol, "."); i >= 0 {
		return strings.ToUpper(symbol[:i]) + "." + strings.ToLower(symbol[i+1:])
	}
	return strings.ToLower(symbol)
}

// stripContractMonth removes a trailing contract month ("au2406" -> "au")
// so product whitelisting works for dated contracts too.
func stripContractMonth(product string) string {
	end := len(product)
	for end > 0 && product[end-1] >= '0' && product[end-1] <= '9' {
		end--
	}
	return product[:end]
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
