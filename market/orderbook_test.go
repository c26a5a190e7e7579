package market

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func lv(price, qty string) PriceLevel {
	return PriceLevel{Price: dec(price), Quantity: dec(qty)}
}

func seededBook() *OrderBook {
	ob := NewOrderBook("BTCUSDT")
	ob.ApplySnapshot(100,
		[]PriceLevel{lv("100.0", "2"), lv("99.9", "3"), lv("99.8", "1")},
		[]PriceLevel{lv("100.1", "1"), lv("100.2", "2"), lv("100.3", "3")},
	)
	return ob
}

func TestApplyDeltaBeforeSnapshot(t *testing.T) {
	ob := NewOrderBook("BTCUSDT")
	err := ob.ApplyDelta(1, 1, []PriceLevel{lv("100", "1")}, nil)
	if !errors.Is(err, ErrNotSeeded) {
		t.Fatalf("expected ErrNotSeeded, got %v", err)
	}
}

func TestSequentialDeltasKeepBookValid(t *testing.T) {
	ob := seededBook()
	deltas := []struct {
		first, final int64
		bids, asks   []PriceLevel
	}{
		{101, 101, []PriceLevel{lv("100.05", "1")}, nil},
		{102, 103, nil, []PriceLevel{lv("100.15", "2")}},
		{104, 104, []PriceLevel{lv("99.8", "0")}, []PriceLevel{lv("100.3", "0")}},
	}
	for _, d := range deltas {
		if err := ob.ApplyDelta(d.first, d.final, d.bids, d.asks); err != nil {
			t.Fatalf("delta %d-%d: %v", d.first, d.final, err)
		}
		if !ob.IsValid(time.Minute) {
			t.Fatalf("book invalid after delta %d-%d", d.first, d.final)
		}
		bid, _ := ob.BestBid()
		ask, _ := ob.BestAsk()
		if !bid.LessThan(ask) {
			t.Fatalf("bestBid %s not < bestAsk %s", bid, ask)
		}
	}
	if got := ob.LastSequenceID(); got != 104 {
		t.Fatalf("lastSeq = %d, want 104", got)
	}
}

func TestSequenceGapRejected(t *testing.T) {
	ob := seededBook()
	// 102 不紧跟 100，整条增量必须被拒绝且簿状态不变。
	err := ob.ApplyDelta(102, 102, []PriceLevel{lv("100.05", "5")}, nil)
	if !errors.Is(err, ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
	if got := ob.LastSequenceID(); got != 100 {
		t.Fatalf("lastSeq mutated to %d on rejected delta", got)
	}
	if bid, _ := ob.BestBid(); !bid.Equal(dec("100.0")) {
		t.Fatalf("bids mutated on rejected delta: %s", bid)
	}
}

func TestZeroQuantityRemoves(t *testing.T) {
	ob := seededBook()
	// 不存在的价位删除是 no-op。
	if err := ob.ApplyDelta(101, 101, []PriceLevel{lv("98.7", "0")}, nil); err != nil {
		t.Fatalf("remove absent level: %v", err)
	}
	// 存在的价位删除后不再计入深度。
	if err := ob.ApplyDelta(102, 102, []PriceLevel{lv("100.0", "0")}, nil); err != nil {
		t.Fatalf("remove best bid: %v", err)
	}
	bid, ok := ob.BestBid()
	if !ok || !bid.Equal(dec("99.9")) {
		t.Fatalf("best bid after removal = %s, want 99.9", bid)
	}
}

func TestSnapshotDropsZeroQuantityLevels(t *testing.T) {
	ob := NewOrderBook("ETHUSDT")
	ob.ApplySnapshot(7,
		[]PriceLevel{lv("10", "0"), lv("9", "1")},
		[]PriceLevel{lv("11", "2")},
	)
	bid, ok := ob.BestBid()
	if !ok || !bid.Equal(dec("9")) {
		t.Fatalf("best bid = %s, want 9", bid)
	}
}

func TestImbalance(t *testing.T) {
	tests := []struct {
		name  string
		bids  []PriceLevel
		asks  []PriceLevel
		depth int
		want  decimal.Decimal
	}{
		{
			name:  "symmetric volumes give exactly one",
			bids:  []PriceLevel{lv("100", "1.1"), lv("99", "2.2")},
			asks:  []PriceLevel{lv("101", "2.2"), lv("102", "1.1")},
			depth: 2,
			want:  decimal.NewFromInt(1),
		},
		{
			name:  "bid heavy",
			bids:  []PriceLevel{lv("100", "6")},
			asks:  []PriceLevel{lv("101", "2")},
			depth: 1,
			want:  decimal.NewFromInt(3),
		},
		{
			name:  "zero ask volume returns sentinel",
			bids:  []PriceLevel{lv("100", "5")},
			asks:  nil,
			depth: 5,
			want:  MaxImbalanceRatio,
		},
		{
			name:  "both sides empty returns neutral",
			bids:  nil,
			asks:  nil,
			depth: 5,
			want:  decimal.NewFromInt(1),
		},
		{
			name:  "depth beyond available levels",
			bids:  []PriceLevel{lv("100", "2"), lv("99", "3")},
			asks:  []PriceLevel{lv("101", "1")},
			depth: 10,
			want:  decimal.NewFromInt(5),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := NewOrderBook("BTCUSDT")
			ob.ApplySnapshot(1, tt.bids, tt.asks)
			got := ob.Imbalance(tt.depth)
			if !got.Equal(tt.want) {
				t.Errorf("Imbalance(%d) = %s, want %s", tt.depth, got, tt.want)
			}
		})
	}
}

func TestTopDepthUsesBestLevels(t *testing.T) {
	ob := seededBook()
	// depth=1 应只取最优档：bid 100.0@2 / ask 100.1@1。
	if got := ob.Imbalance(1); !got.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("Imbalance(1) = %s, want 2", got)
	}
}

func TestMidAndSpread(t *testing.T) {
	ob := NewOrderBook("BTCUSDT")
	ob.ApplySnapshot(1, []PriceLevel{lv("99", "1")}, []PriceLevel{lv("101", "1")})
	mid, ok := ob.MidPrice()
	if !ok || !mid.Equal(dec("100")) {
		t.Fatalf("mid = %s, want 100", mid)
	}
	spread, ok := ob.SpreadBps()
	if !ok || !spread.Equal(dec("200")) {
		t.Fatalf("spreadBps = %s, want 200", spread)
	}

	empty := NewOrderBook("BTCUSDT")
	if _, ok := empty.MidPrice(); ok {
		t.Fatal("mid defined on empty book")
	}
}

func TestCrossedBookInvalid(t *testing.T) {
	ob := seededBook()
	err := ob.ApplyDelta(101, 101, []PriceLevel{lv("100.2", "4")}, nil)
	if !errors.Is(err, ErrCrossedBook) {
		t.Fatalf("expected ErrCrossedBook, got %v", err)
	}
	if ob.IsValid(time.Minute) {
		t.Fatal("crossed book reported valid")
	}
}

func TestStalenessInvalidates(t *testing.T) {
	ob := seededBook()
	base := time.Now()
	timeNow = func() time.Time { return base.Add(10 * time.Second) }
	defer func() { timeNow = time.Now }()

	if ob.IsValid(5 * time.Second) {
		t.Fatal("stale book reported valid")
	}
	if !ob.IsValid(time.Minute) {
		t.Fatal("fresh-enough book reported invalid")
	}
}

func TestMetricsSnapshot(t *testing.T) {
	ob := seededBook()
	m := ob.Metrics(2, time.Minute)
	if !m.Valid {
		t.Fatal("metrics not valid")
	}
	if !m.BestBid.Equal(dec("100.0")) || !m.BestAsk.Equal(dec("100.1")) {
		t.Fatalf("best bid/ask = %s/%s", m.BestBid, m.BestAsk)
	}
	if !m.Mid.Equal(dec("100.05")) {
		t.Fatalf("mid = %s, want 100.05", m.Mid)
	}
	if m.SequenceID != 100 {
		t.Fatalf("sequenceID = %d, want 100", m.SequenceID)
	}
	// top-2: bids 2+3, asks 1+2
	if !m.Imbalance.Equal(dec("5").Div(dec("3"))) {
		t.Fatalf("imbalance = %s", m.Imbalance)
	}
}
