package market

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side 表示方向信号。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideNone Side = "NONE"
)

// Signal 是从簿指标派生的方向压力信号，只作为值传递，不持久化。
type Signal struct {
	Symbol    string
	Side      Side
	Imbalance decimal.Decimal
	At        time.Time
}

// DeriveSignal 根据失衡比生成方向信号：
// ratio >= longThreshold 视为买压，ratio <= 1/longThreshold 视为卖压。
// 簿无效时返回 SideNone 信号，调用方不应交易。
func DeriveSignal(m BookMetrics, longThreshold decimal.Decimal) Signal {
	sig := Signal{
		Symbol:    m.Symbol,
		Side:      SideNone,
		Imbalance: m.Imbalance,
		At:        m.At,
	}
	if !m.Valid || longThreshold.LessThanOrEqual(decimal.Zero) {
		return sig
	}
	if m.Imbalance.GreaterThanOrEqual(longThreshold) {
		sig.Side = SideBuy
	} else if m.Imbalance.LessThanOrEqual(decimal.NewFromInt(1).Div(longThreshold)) {
		sig.Side = SideSell
	}
	return sig
}
