package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamoates/Trade-Engine-sub001/infrastructure/logger"
	"github.com/adamoates/Trade-Engine-sub001/market"
	"github.com/adamoates/Trade-Engine-sub001/metrics"
	"github.com/adamoates/Trade-Engine-sub001/risk"
)

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	Symbol                 string
	Depth                  int             // 失衡比计算深度
	Staleness              time.Duration   // 簿有效性时间阈值
	TickInterval           time.Duration   // 指标评估间隔
	LongImbalanceThreshold decimal.Decimal // 买压阈值，卖压取倒数
	BaseNotional           decimal.Decimal // 每次授权申请的名义金额
}

// BookSource 提供簿指标快照，*market.OrderBook 满足。
type BookSource interface {
	Metrics(depth int, staleness time.Duration) market.BookMetrics
}

// Authorizer 下单前风控校验，*risk.Gate 满足。
type Authorizer interface {
	Authorize(sig market.Signal, proposedNotional decimal.Decimal) risk.Decision
}

// EventSink 对外发布信号与决策，bus.Publisher 满足。
type EventSink interface {
	PublishSignal(sig market.Signal) error
	PublishDecision(sig market.Signal, notional decimal.Decimal, d risk.Decision) error
}

// Sizer 决定一次信号申请的名义金额；缺省用固定 BaseNotional。
type Sizer interface {
	Size(sig market.Signal) decimal.Decimal
}

// Broker 消费放行后的决策；缺省只发总线不执行。
type Broker interface {
	Execute(sig market.Signal, notional decimal.Decimal) error
}

// Components 引擎依赖组件
type Components struct {
	Book   BookSource
	Gate   Authorizer
	Sink   EventSink
	Sizer  Sizer
	Broker Broker
	Logger *logger.Logger
}

// Engine 周期性评估簿指标，派生信号并经风控决策后发布。
// 不落单：允许的决策只发到总线，由下游执行端消费。
type Engine struct {
	config Config

	book   BookSource
	gate   Authorizer
	sink   EventSink
	sizer  Sizer
	broker Broker
	log    *logger.Logger

	state EngineState
	mu    sync.RWMutex

	stopChan chan struct{}
	doneChan chan struct{}

	stats Statistics
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime    time.Time
	TotalTicks   int64
	TotalSignals int64
	TotalAllowed int64
	TotalDenied  int64
	TotalErrors  int64
	LastTickTime time.Time
	mu           sync.RWMutex
}

// New 创建引擎
func New(cfg Config, components Components) (*Engine, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if components.Book == nil {
		return nil, errors.New("book source is required")
	}
	if components.Gate == nil {
		return nil, errors.New("risk gate is required")
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.Depth <= 0 {
		cfg.Depth = 10
	}
	if cfg.Staleness <= 0 {
		cfg.Staleness = 30 * time.Second
	}
	if cfg.LongImbalanceThreshold.LessThanOrEqual(decimal.NewFromInt(1)) {
		cfg.LongImbalanceThreshold = decimal.RequireFromString("1.5")
	}
	if components.Logger == nil {
		components.Logger = logger.Nop()
	}

	return &Engine{
		config:   cfg,
		book:     components.Book,
		gate:     components.Gate,
		sink:     components.Sink,
		sizer:    components.Sizer,
		broker:   components.Broker,
		log:      components.Logger,
		state:    StateIdle,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start 启动引擎主循环。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	if e.state == StateStopped {
		e.stopChan = make(chan struct{})
		e.doneChan = make(chan struct{})
	}
	e.state = StateRunning
	e.stats.mu.Lock()
	e.stats.StartTime = time.Now()
	e.stats.mu.Unlock()
	e.mu.Unlock()

	e.log.LogFeed("engine_started", map[string]interface{}{
		"symbol":        e.config.Symbol,
		"tick_interval": e.config.TickInterval.String(),
		"depth":         e.config.Depth,
	})

	go e.run(ctx)
	return nil
}

// Stop 停止引擎，幂等。
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}

	select {
	case <-e.doneChan:
	case <-time.After(10 * time.Second):
		e.log.LogError(errors.New("timeout waiting for engine to stop"), map[string]interface{}{
			"symbol": e.config.Symbol,
		})
	}

	e.mu.Lock()
	e.state = StateStopped
	e.mu.Unlock()

	e.log.LogFeed("engine_stopped", map[string]interface{}{"symbol": e.config.Symbol})
}

// State 返回当前状态。
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Stats 返回统计快照。
func (e *Engine) Stats() Statistics {
	e.stats.mu.RLock()
	defer e.stats.mu.RUnlock()
	return Statistics{
		StartTime:    e.stats.StartTime,
		TotalTicks:   e.stats.TotalTicks,
		TotalSignals: e.stats.TotalSignals,
		TotalAllowed: e.stats.TotalAllowed,
		TotalDenied:  e.stats.TotalDenied,
		TotalErrors:  e.stats.TotalErrors,
		LastTickTime: e.stats.LastTickTime,
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneChan)

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopChan:
			return
		case <-ticker.C:
			if !e.onTick() {
				// 急停属致命状态，停循环不自愈；复位后由运维重启引擎。
				e.mu.Lock()
				e.state = StateStopped
				e.mu.Unlock()
				e.log.LogRisk("engine_halted", map[string]interface{}{
					"symbol": e.config.Symbol,
				})
				return
			}
		}
	}
}

// onTick 单次评估：簿指标、信号、风控决策、对外发布。
// 返回 false 表示遇到致命条件，主循环应当停止。
func (e *Engine) onTick() bool {
	e.stats.mu.Lock()
	e.stats.TotalTicks++
	e.stats.LastTickTime = time.Now()
	e.stats.mu.Unlock()

	m := e.book.Metrics(e.config.Depth, e.config.Staleness)

	imbalance, _ := m.Imbalance.Float64()
	metrics.BookImbalance.WithLabelValues(e.config.Symbol).Set(imbalance)
	if m.Valid {
		metrics.BookValid.WithLabelValues(e.config.Symbol).Set(1)
	} else {
		metrics.BookValid.WithLabelValues(e.config.Symbol).Set(0)
	}

	sig := market.DeriveSignal(m, e.config.LongImbalanceThreshold)
	if sig.Side == market.SideNone {
		return true
	}

	e.stats.mu.Lock()
	e.stats.TotalSignals++
	e.stats.mu.Unlock()

	if e.sink != nil {
		if err := e.sink.PublishSignal(sig); err != nil {
			e.recordError(err, "publish_signal")
		}
	}

	notional := e.config.BaseNotional
	if e.sizer != nil {
		notional = e.sizer.Size(sig)
	}

	d := e.gate.Authorize(sig, notional)

	e.stats.mu.Lock()
	if d.Allowed {
		e.stats.TotalAllowed++
	} else {
		e.stats.TotalDenied++
	}
	e.stats.mu.Unlock()

	if e.sink != nil {
		if err := e.sink.PublishDecision(sig, notional, d); err != nil {
			e.recordError(err, "publish_decision")
		}
	}

	if d.Allowed && e.broker != nil {
		if err := e.broker.Execute(sig, notional); err != nil {
			e.recordError(err, "broker_execute")
		}
	}

	return d.Reason != risk.DenyKillSwitchActive
}

func (e *Engine) recordError(err error, event string) {
	e.stats.mu.Lock()
	e.stats.TotalErrors++
	e.stats.mu.Unlock()
	e.log.LogError(err, map[string]interface{}{"event": event, "symbol": e.config.Symbol})
}
