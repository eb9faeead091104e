package symbols

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fintelcore/fintel/internal/domain"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		symbol string
		want   domain.Market
	}{
		{"AAPL", domain.MarketUS},
		{"msft", domain.MarketUS},
		{"BRK.B", domain.MarketUS},
		{"0700.HK", domain.MarketHK},
		{"9988.hk", domain.MarketHK},
		{"600519.SS", domain.MarketCN},
		{"000001.SZ", domain.MarketCN},
		{"600519.SH", domain.MarketCN},
		{"600519", domain.MarketCN},
		{"300750", domain.MarketCN},
		{"700", domain.MarketHK},
		{"5", domain.MarketHK},
		{"au", domain.MarketCommodity},
		{"SHFE.au", domain.MarketCommodity},
		{"au2406", domain.MarketCommodity},
		{"DCE.m", domain.MarketCommodity},
		{"", domain.MarketUS},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.symbol))
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
	}{
		{"aapl", "AAPL"},
		{"AAPL", "AAPL"},
		{"600519", "600519.SS"},
		{"688981", "688981.SS"},
		{"000001", "000001.SZ"},
		{"300750", "300750.SZ"},
		{"700", "0700.HK"},
		{"5", "0005.HK"},
		{"0700.hk", "0700.HK"},
		{"700.HK", "0700.HK"},
		{"600519.ss", "600519.SS"},
		{"SHFE.AU", "SHFE.au"},
		{"AU", "au"},
		{"au2406", "au2406"},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.symbol))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"aapl", "600519", "700", "0700.HK", "SHFE.au", "au", "BRK.B", "000001.SZ"}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "Normalize should be idempotent for %q", in)
	}
}

func TestDetectStableUnderNormalize(t *testing.T) {
	inputs := []string{"aapl", "600519", "300750", "700", "0700.HK", "SHFE.au", "au", "600519.SS"}
	for _, in := range inputs {
		assert.Equal(t, Detect(in), Detect(Normalize(in)), "market must not change for %q", in)
	}
}

func TestCommodityProduct(t *testing.T) {
	tests := []struct {
		symbol string
		want   string
		ok     bool
	}{
		{"SHFE.au2406", "au", true},
		{"SHFE.au", "au", true},
		{"au2406", "au", true},
		{"AU", "au", true},
		{"DCE.m2409", "m", true},
		{"AAPL", "", false},
		{"0700.HK", "", false},
		{"600519.SS", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			got, ok := CommodityProduct(tt.symbol)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
