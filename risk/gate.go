package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamoates/Trade-Engine-sub001/infrastructure/logger"
	"github.com/adamoates/Trade-Engine-sub001/market"
	"github.com/adamoates/Trade-Engine-sub001/metrics"
)

// PortfolioLimits 是组合级限制，所有交易对共享同一份状态。
type PortfolioLimits struct {
	DailyLossLimit    decimal.Decimal // 日损上限（负数，例如 -500），触达即急停，含边界
	MaxDrawdown       decimal.Decimal // 距峰值权益的最大回撤比例，含边界
	MaxTradesPerDay   int
	Hours             TradingHours
	RolloverMinuteUTC int // 每日状态重置边界（UTC 当日第几分钟）
}

// InstrumentLimits 是按交易对生效的限制。
type InstrumentLimits struct {
	MaxPositionNotional decimal.Decimal // 单交易对最大名义持仓
	ExposureFraction    decimal.Decimal // 单交易对占权益的最大比例
}

// EquitySource 提供当前账户权益（外部资金/仓位推送方实现）。
type EquitySource interface {
	Equity() decimal.Decimal
}

// ExposureSource 提供某交易对当前名义敞口（绝对值）。
type ExposureSource interface {
	NotionalExposure(symbol string) decimal.Decimal
}

// Gate 是下单前的风控闸门。组合级限制（日损、回撤、频次、时段）
// 存在共享状态上；交易对级限制按 symbol 查表，两类限制刻意分开建模。
// 急停标志是粘性的：每日轮转不清除，只接受显式 ResetKillSwitch。
type Gate struct {
	mu         sync.Mutex
	portfolio  PortfolioLimits
	instrument map[string]InstrumentLimits

	clock      Clock
	killSource KillSwitchSource
	equity     EquitySource
	exposure   ExposureSource
	log        *logger.Logger

	killed     bool
	dailyPnl   decimal.Decimal
	tradeCount int
	peakEquity decimal.Decimal
	day        time.Time // 当前轮转周期的起点
}

// GateDeps 汇总 Gate 的外部依赖；KillSwitch 源必须显式注入。
type GateDeps struct {
	Clock      Clock
	KillSwitch KillSwitchSource
	Equity     EquitySource
	Exposure   ExposureSource
	Logger     *logger.Logger
}

func NewGate(portfolio PortfolioLimits, instrument map[string]InstrumentLimits, deps GateDeps) *Gate {
	if deps.Clock == nil {
		deps.Clock = NowUTC
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	g := &Gate{
		portfolio:  portfolio,
		instrument: instrument,
		clock:      deps.Clock,
		killSource: deps.KillSwitch,
		equity:     deps.Equity,
		exposure:   deps.Exposure,
		log:        deps.Logger,
	}
	g.day = lastRollover(g.clock.Now(), portfolio.RolloverMinuteUTC)
	if deps.Equity != nil {
		g.peakEquity = deps.Equity.Equity()
	}
	return g
}

// Authorize 按固定顺序做短路校验，第一条未通过的规则即为拒单原因。
func (g *Gate) Authorize(sig market.Signal, proposedNotional decimal.Decimal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	g.rolloverLocked(now)

	// 1. 急停：粘性标志或外部哨兵。
	if g.killed || (g.killSource != nil && g.killSource.Engaged()) {
		g.engageKillLocked("kill_switch_active", sig.Symbol)
		return g.denyLocked(DenyKillSwitchActive, sig.Symbol)
	}

	// 2. 日损（含边界），触发即挂急停。限额必须为负数才生效。
	if g.portfolio.DailyLossLimit.IsNegative() && g.dailyPnl.LessThanOrEqual(g.portfolio.DailyLossLimit) {
		g.engageKillLocked("daily_loss_limit", sig.Symbol)
		return g.denyLocked(DenyDailyLossExceeded, sig.Symbol)
	}

	// 3. 距峰值权益的回撤（含边界），触发即挂急停。
	if g.equity != nil && g.portfolio.MaxDrawdown.IsPositive() {
		eq := g.equity.Equity()
		if eq.GreaterThan(g.peakEquity) {
			g.peakEquity = eq
		}
		if g.peakEquity.IsPositive() {
			dd := g.peakEquity.Sub(eq).Div(g.peakEquity)
			if dd.GreaterThanOrEqual(g.portfolio.MaxDrawdown) {
				g.engageKillLocked("max_drawdown", sig.Symbol)
				return g.denyLocked(DenyMaxDrawdownExceeded, sig.Symbol)
			}
		}
	}

	// 4. 交易对级：现有敞口加本单名义不得超过上限或权益占比。
	if d, ok := g.checkExposureLocked(sig.Symbol, proposedNotional); !ok {
		return d
	}

	// 5. 当日下单次数。
	if g.portfolio.MaxTradesPerDay > 0 && g.tradeCount >= g.portfolio.MaxTradesPerDay {
		return g.denyLocked(DenyThrottleExceeded, sig.Symbol)
	}

	// 6. 交易时段（支持跨午夜，两端闭区间）。
	if !g.portfolio.Hours.Contains(now) {
		return g.denyLocked(DenyOutsideTradingHours, sig.Symbol)
	}

	g.tradeCount++
	metrics.RiskAllowed.Inc()
	return Allow()
}

func (g *Gate) checkExposureLocked(symbol string, proposedNotional decimal.Decimal) (Decision, bool) {
	lim, ok := g.instrument[symbol]
	if !ok {
		return Decision{}, true
	}
	current := decimal.Zero
	if g.exposure != nil {
		current = g.exposure.NotionalExposure(symbol)
	}
	combined := current.Abs().Add(proposedNotional.Abs())
	if lim.MaxPositionNotional.IsPositive() && combined.GreaterThan(lim.MaxPositionNotional) {
		return g.denyLocked(DenyPositionTooLarge, symbol), false
	}
	if lim.ExposureFraction.IsPositive() && g.equity != nil {
		eq := g.equity.Equity()
		if eq.IsPositive() && combined.GreaterThan(eq.Mul(lim.ExposureFraction)) {
			return g.denyLocked(DenyPositionTooLarge, symbol), false
		}
	}
	return Decision{}, true
}

// UpdateDailyPnl 用精确小数累计当日已实现+未实现盈亏。
// 该值每个交易日累计成百上千次，二进制浮点的舍入会漂移急停触发点。
func (g *Gate) UpdateDailyPnl(delta decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rolloverLocked(g.clock.Now())
	g.dailyPnl = g.dailyPnl.Add(delta)
	metrics.DailyPnl.Set(g.dailyPnl.InexactFloat64())
}

// DailyPnl 返回当日累计盈亏。
func (g *Gate) DailyPnl() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dailyPnl
}

// KillSwitchEngaged 返回粘性急停标志。
func (g *Gate) KillSwitchEngaged() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killed
}

// ResetKillSwitch 是唯一清除急停的途径，必须由运维显式调用；
// 每日轮转刻意不清除该标志。
func (g *Gate) ResetKillSwitch() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = false
	metrics.KillSwitchEngaged.Set(0)
	g.log.LogRisk("kill_switch_reset", nil)
}

// UpdateLimits 热替换限额配置，急停标志与当日状态不受影响。
func (g *Gate) UpdateLimits(portfolio PortfolioLimits, instrument map[string]InstrumentLimits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.portfolio = portfolio
	g.instrument = instrument
	g.log.LogRisk("limits_updated", map[string]interface{}{
		"daily_loss_limit": portfolio.DailyLossLimit.String(),
		"max_drawdown":     portfolio.MaxDrawdown.String(),
		"symbols":          len(instrument),
	})
}

// TradeCount 返回当日已授权次数。
func (g *Gate) TradeCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tradeCount
}

func (g *Gate) engageKillLocked(cause, symbol string) {
	if g.killed {
		return
	}
	g.killed = true
	metrics.KillSwitchEngaged.Set(1)
	g.log.LogRisk("kill_switch_engaged", map[string]interface{}{
		"cause":  cause,
		"symbol": symbol,
		"pnl":    g.dailyPnl.String(),
	})
}

func (g *Gate) denyLocked(reason DenyReason, symbol string) Decision {
	metrics.RiskDenials.WithLabelValues(string(reason)).Inc()
	g.log.LogRisk("authorize_denied", map[string]interface{}{
		"reason": string(reason),
		"symbol": symbol,
	})
	return Deny(reason)
}

// rolloverLocked 在越过每日边界时重置日内状态；急停标志除外。
func (g *Gate) rolloverLocked(now time.Time) {
	boundary := lastRollover(now, g.portfolio.RolloverMinuteUTC)
	if !boundary.After(g.day) {
		return
	}
	g.day = boundary
	g.dailyPnl = decimal.Zero
	g.tradeCount = 0
	if g.equity != nil {
		g.peakEquity = g.equity.Equity()
	}
	metrics.DailyPnl.Set(0)
	g.log.LogRisk("daily_rollover", map[string]interface{}{
		"boundary": boundary.Format(time.RFC3339),
	})
}

// lastRollover 返回 now 之前（含）最近的一个轮转边界。
func lastRollover(now time.Time, minuteUTC int) time.Time {
	now = now.UTC()
	b := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		Add(time.Duration(minuteUTC) * time.Minute)
	if b.After(now) {
		b = b.AddDate(0, 0, -1)
	}
	return b
}
