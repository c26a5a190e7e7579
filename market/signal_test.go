package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDeriveSignal(t *testing.T) {
	thresh := dec("1.5")
	tests := []struct {
		name      string
		imbalance decimal.Decimal
		valid     bool
		want      Side
	}{
		{"buy pressure", dec("2"), true, SideBuy},
		{"sell pressure", dec("0.5"), true, SideSell},
		{"neutral zone", dec("1.1"), true, SideNone},
		{"exact long threshold", dec("1.5"), true, SideBuy},
		{"invalid book never trades", dec("3"), false, SideNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := BookMetrics{
				Symbol:    "BTCUSDT",
				Imbalance: tt.imbalance,
				Valid:     tt.valid,
				At:        time.Now(),
			}
			sig := DeriveSignal(m, thresh)
			if sig.Side != tt.want {
				t.Errorf("side = %s, want %s", sig.Side, tt.want)
			}
			if sig.Symbol != "BTCUSDT" {
				t.Errorf("symbol = %s", sig.Symbol)
			}
		})
	}
}
