package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTrackerWeightedAverageCost(t *testing.T) {
	tr := NewTracker()
	tr.Update("BTCUSDT", dec("1"), dec("100"))
	tr.Update("BTCUSDT", dec("1"), dec("110"))

	if got := tr.NetPosition("BTCUSDT"); !got.Equal(dec("2")) {
		t.Fatalf("net = %s, want 2", got)
	}
	if got := tr.NotionalExposure("BTCUSDT"); !got.Equal(dec("210")) {
		t.Fatalf("exposure = %s, want 210", got)
	}
}

func TestTrackerFlatPositionResetsCost(t *testing.T) {
	tr := NewTracker()
	tr.Update("BTCUSDT", dec("2"), dec("100"))
	tr.Update("BTCUSDT", dec("-2"), dec("105"))
	if got := tr.NetPosition("BTCUSDT"); !got.IsZero() {
		t.Fatalf("net = %s, want 0", got)
	}
	if got := tr.NotionalExposure("BTCUSDT"); !got.IsZero() {
		t.Fatalf("exposure = %s, want 0", got)
	}
}

func TestTrackerShortExposureAbsolute(t *testing.T) {
	tr := NewTracker()
	tr.Update("ETHUSDT", dec("-3"), dec("10"))
	if got := tr.NotionalExposure("ETHUSDT"); !got.Equal(dec("30")) {
		t.Fatalf("exposure = %s, want 30", got)
	}
}

func TestUnrealizedPnl(t *testing.T) {
	tr := NewTracker()
	tr.Update("BTCUSDT", dec("2"), dec("100"))
	if got := tr.UnrealizedPnl("BTCUSDT", dec("103")); !got.Equal(dec("6")) {
		t.Fatalf("pnl = %s, want 6", got)
	}
}

func TestSymbolsIndependent(t *testing.T) {
	tr := NewTracker()
	tr.Update("BTCUSDT", dec("1"), dec("100"))
	if got := tr.NotionalExposure("ETHUSDT"); !got.IsZero() {
		t.Fatalf("exposure leaked across symbols: %s", got)
	}
}
