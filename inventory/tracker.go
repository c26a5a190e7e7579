package inventory

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Tracker 维护外部成交/资金推送落地的多交易对仓位与账户权益。
// 实现 risk.ExposureSource 与 risk.EquitySource。
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]position
	equity    decimal.Decimal
}

type position struct {
	qty  decimal.Decimal // 正买负卖
	cost decimal.Decimal // 加权平均成本
}

func NewTracker() *Tracker {
	return &Tracker{positions: make(map[string]position)}
}

// Update 根据成交数量与价格调整仓位，加权平均成本。
func (t *Tracker) Update(symbol string, deltaQty, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.positions[symbol]
	totalValue := p.cost.Mul(p.qty).Add(price.Mul(deltaQty))
	p.qty = p.qty.Add(deltaQty)
	if p.qty.IsZero() {
		p.cost = decimal.Zero
	} else {
		p.cost = totalValue.Div(p.qty)
	}
	t.positions[symbol] = p
}

// SetEquity 落地账户权益推送。
func (t *Tracker) SetEquity(equity decimal.Decimal) {
	t.mu.Lock()
	t.equity = equity
	t.mu.Unlock()
}

func (t *Tracker) Equity() decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.equity
}

// NetPosition 返回净仓数量（正买负卖）。
func (t *Tracker) NetPosition(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.positions[symbol].qty
}

// NotionalExposure 返回净仓名义敞口的绝对值（按均价计）。
func (t *Tracker) NotionalExposure(symbol string) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.positions[symbol]
	return p.qty.Mul(p.cost).Abs()
}

// UnrealizedPnl 基于当前 mid 价计算未实现盈亏。
func (t *Tracker) UnrealizedPnl(symbol string, mid decimal.Decimal) decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p := t.positions[symbol]
	return mid.Sub(p.cost).Mul(p.qty)
}
