package market

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotSeeded 表示还未应用快照就收到增量。
	ErrNotSeeded = errors.New("order book not seeded by snapshot")
	// ErrSequenceGap 表示增量序列号不连续，必须重新拉取快照。
	ErrSequenceGap = errors.New("order book sequence gap")
	// ErrCrossedBook 表示 bestBid >= bestAsk，簿已不可信。
	ErrCrossedBook = errors.New("order book crossed")
)

// MaxImbalanceRatio is returned by Imbalance when the ask side has zero
// volume and the bid side is positive. A large finite constant instead of
// +Inf keeps downstream decimal math well defined.
var MaxImbalanceRatio = decimal.NewFromInt(1000)

var timeNow = time.Now

// PriceLevel 为单个价格档，价格与数量均用精确小数。
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// bookSide keeps price->qty plus a best-first sorted price slice.
type bookSide struct {
	levels map[string]decimal.Decimal
	prices []decimal.Decimal // sorted best-first: bids descending, asks ascending
	desc   bool
}

func newBookSide(desc bool) *bookSide {
	return &bookSide{
		levels: make(map[string]decimal.Decimal),
		desc:   desc,
	}
}

func (s *bookSide) clear() {
	s.levels = make(map[string]decimal.Decimal)
	s.prices = s.prices[:0]
}

func (s *bookSide) upsert(price, qty decimal.Decimal) {
	key := price.String()
	if _, ok := s.levels[key]; !ok {
		i := sort.Search(len(s.prices), func(i int) bool {
			if s.desc {
				return s.prices[i].LessThan(price)
			}
			return s.prices[i].GreaterThan(price)
		})
		s.prices = append(s.prices, decimal.Decimal{})
		copy(s.prices[i+1:], s.prices[i:])
		s.prices[i] = price
	}
	s.levels[key] = qty
}

func (s *bookSide) remove(price decimal.Decimal) {
	key := price.String()
	if _, ok := s.levels[key]; !ok {
		return
	}
	delete(s.levels, key)
	for i := range s.prices {
		if s.prices[i].Equal(price) {
			s.prices = append(s.prices[:i], s.prices[i+1:]...)
			return
		}
	}
}

func (s *bookSide) best() (decimal.Decimal, bool) {
	if len(s.prices) == 0 {
		return decimal.Decimal{}, false
	}
	return s.prices[0], true
}

// topVolume 累加最优 depth 档的数量；档位不足时用现有档。
func (s *bookSide) topVolume(depth int) decimal.Decimal {
	total := decimal.Zero
	for i, p := range s.prices {
		if i >= depth {
			break
		}
		total = total.Add(s.levels[p.String()])
	}
	return total
}

func (s *bookSide) depth() int { return len(s.prices) }

// OrderBook 维护单个交易对的 L2 价格档状态。
// 唯一写入方是 feed.Session；读取方通过 Metrics 拿点时快照。
type OrderBook struct {
	mu      sync.RWMutex
	symbol  string
	bids    *bookSide
	asks    *bookSide
	lastSeq int64
	seeded  bool
	updated time.Time
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		symbol: symbol,
		bids:   newBookSide(true),
		asks:   newBookSide(false),
	}
}

func (ob *OrderBook) Symbol() string { return ob.symbol }

// ApplySnapshot 用快照整体替换两侧档位；数量为 0 的档不入簿。
func (ob *OrderBook) ApplySnapshot(sequenceID int64, bids, asks []PriceLevel) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.bids.clear()
	ob.asks.clear()
	for _, lv := range bids {
		if lv.Quantity.IsPositive() {
			ob.bids.upsert(lv.Price, lv.Quantity)
		}
	}
	for _, lv := range asks {
		if lv.Quantity.IsPositive() {
			ob.asks.upsert(lv.Price, lv.Quantity)
		}
	}
	ob.lastSeq = sequenceID
	ob.seeded = true
	ob.updated = timeNow()
}

// ApplyDelta 应用一条增量。qty 为 0 表示删除该档（不存在则 no-op）。
// firstSeq 必须紧跟当前序列号，否则整条增量被拒绝并返回 ErrSequenceGap，
// 调用方必须走重新拉快照的路径，不允许跳过继续。
func (ob *OrderBook) ApplyDelta(firstSeq, finalSeq int64, bidChanges, askChanges []PriceLevel) error {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if !ob.seeded {
		return ErrNotSeeded
	}
	if firstSeq != ob.lastSeq+1 {
		return ErrSequenceGap
	}
	applySide(ob.bids, bidChanges)
	applySide(ob.asks, askChanges)
	ob.lastSeq = finalSeq
	ob.updated = timeNow()
	if ob.crossedLocked() {
		return ErrCrossedBook
	}
	return nil
}

func applySide(side *bookSide, changes []PriceLevel) {
	for _, lv := range changes {
		if lv.Quantity.IsZero() {
			side.remove(lv.Price)
		} else {
			side.upsert(lv.Price, lv.Quantity)
		}
	}
}

// LastSequenceID 返回最近一次成功应用的序列号。
func (ob *OrderBook) LastSequenceID() int64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastSeq
}

// LastUpdate 返回最近一次快照/增量落地时间。
func (ob *OrderBook) LastUpdate() time.Time {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.updated
}

func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bids.best()
}

func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.asks.best()
}

// MidPrice 返回 (bestBid+bestAsk)/2；任一侧为空时 ok=false。
func (ob *OrderBook) MidPrice() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.midLocked()
}

func (ob *OrderBook) midLocked() (decimal.Decimal, bool) {
	bid, okB := ob.bids.best()
	ask, okA := ob.asks.best()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	return bid.Add(ask).Div(decimal.NewFromInt(2)), true
}

// SpreadBps 返回 (bestAsk-bestBid)/mid*10000；任一侧为空时 ok=false。
func (ob *OrderBook) SpreadBps() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bid, okB := ob.bids.best()
	ask, okA := ob.asks.best()
	if !okB || !okA {
		return decimal.Decimal{}, false
	}
	mid, _ := ob.midLocked()
	if mid.IsZero() {
		return decimal.Decimal{}, false
	}
	return ask.Sub(bid).Div(mid).Mul(decimal.NewFromInt(10000)), true
}

// Imbalance 返回最优 depth 档的买量/卖量。
// 卖侧为零且买侧为正时返回 MaxImbalanceRatio；两侧均为零返回 1。
func (ob *OrderBook) Imbalance(depth int) decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.imbalanceLocked(depth)
}

func (ob *OrderBook) imbalanceLocked(depth int) decimal.Decimal {
	bidVol := ob.bids.topVolume(depth)
	askVol := ob.asks.topVolume(depth)
	if askVol.IsZero() {
		if bidVol.IsPositive() {
			return MaxImbalanceRatio
		}
		return decimal.NewFromInt(1)
	}
	return bidVol.Div(askVol)
}

func (ob *OrderBook) crossedLocked() bool {
	bid, okB := ob.bids.best()
	ask, okA := ob.asks.best()
	return okB && okA && bid.GreaterThanOrEqual(ask)
}

// IsValid 判断簿是否可用于信号计算：
// 任一侧为空、超过 staleness 阈值未更新、或交叉簿均视为无效。
// 交叉簿不做任何自动修复，由会话层强制重新同步。
func (ob *OrderBook) IsValid(staleness time.Duration) bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	if !ob.seeded || ob.bids.depth() == 0 || ob.asks.depth() == 0 {
		return false
	}
	if timeNow().Sub(ob.updated) > staleness {
		return false
	}
	return !ob.crossedLocked()
}

// BookMetrics 是一次读锁内取出的点时快照，供策略/风控消费。
type BookMetrics struct {
	Symbol     string
	BestBid    decimal.Decimal
	BestAsk    decimal.Decimal
	Mid        decimal.Decimal
	SpreadBps  decimal.Decimal
	Imbalance  decimal.Decimal
	Valid      bool
	SequenceID int64
	At         time.Time
}

// Metrics 在单个读锁内取出全部派生指标，避免撕裂读。
func (ob *OrderBook) Metrics(depth int, staleness time.Duration) BookMetrics {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	m := BookMetrics{
		Symbol:     ob.symbol,
		SequenceID: ob.lastSeq,
		At:         ob.updated,
		Imbalance:  ob.imbalanceLocked(depth),
	}
	bid, okB := ob.bids.best()
	ask, okA := ob.asks.best()
	if okB {
		m.BestBid = bid
	}
	if okA {
		m.BestAsk = ask
	}
	if okB && okA {
		m.Mid = bid.Add(ask).Div(decimal.NewFromInt(2))
		if !m.Mid.IsZero() {
			m.SpreadBps = ask.Sub(bid).Div(m.Mid).Mul(decimal.NewFromInt(10000))
		}
	}
	m.Valid = ob.seeded && okB && okA &&
		timeNow().Sub(ob.updated) <= staleness &&
		!ob.crossedLocked()
	return m
}
