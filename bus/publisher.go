package bus

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"

	"github.com/adamoates/Trade-Engine-sub001/infrastructure/logger"
	"github.com/adamoates/Trade-Engine-sub001/market"
	"github.com/adamoates/Trade-Engine-sub001/risk"
)

// Config NATS 总线配置
type Config struct {
	URL             string
	ClientName      string
	SignalSubject   string // 信号主题前缀，按 symbol 派生子主题
	DecisionSubject string // 决策主题前缀
	ConnectTimeout  time.Duration
	ReconnectWait   time.Duration
	MaxReconnects   int
}

func (c *Config) applyDefaults() {
	if c.ClientName == "" {
		c.ClientName = "trade-engine"
	}
	if c.SignalSubject == "" {
		c.SignalSubject = "trade.signals"
	}
	if c.DecisionSubject == "" {
		c.DecisionSubject = "trade.decisions"
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectWait <= 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = -1 // 无限重连
	}
}

// SignalEvent 是发往总线的信号消息体。
type SignalEvent struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Imbalance decimal.Decimal `json:"imbalance"`
	At        time.Time       `json:"at"`
}

// DecisionEvent 是发往总线的风控决策消息体。
type DecisionEvent struct {
	Symbol   string          `json:"symbol"`
	Side     string          `json:"side"`
	Notional decimal.Decimal `json:"notional"`
	Allowed  bool            `json:"allowed"`
	Reason   string          `json:"reason,omitempty"`
	At       time.Time       `json:"at"`
}

// conn 抽象底层 NATS 连接，*nats.Conn 天然满足。
type conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	IsClosed() bool
	Close()
}

// Publisher 把信号与决策以 fire-and-forget 方式发到 NATS core。
type Publisher struct {
	cfg Config
	log *logger.Logger

	mu sync.RWMutex
	nc conn
}

// NewPublisher 用已有连接构造发布器，测试时注入桩连接。
func NewPublisher(nc conn, cfg Config, log *logger.Logger) *Publisher {
	cfg.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{cfg: cfg, log: log, nc: nc}
}

// Connect 建立 NATS 连接并返回发布器。
func Connect(cfg Config, log *logger.Logger) (*Publisher, error) {
	cfg.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.LogError(err, map[string]interface{}{"event": "bus_disconnected"})
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.LogFeed("bus_reconnected", map[string]interface{}{"url": nc.ConnectedUrl()})
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.LogFeed("bus_closed", nil)
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	log.LogFeed("bus_connected", map[string]interface{}{"url": cfg.URL})
	return &Publisher{cfg: cfg, log: log, nc: nc}, nil
}

// PublishSignal 发布方向信号，子主题为 <prefix>.<symbol>。
func (p *Publisher) PublishSignal(sig market.Signal) error {
	ev := SignalEvent{
		Symbol:    sig.Symbol,
		Side:      string(sig.Side),
		Imbalance: sig.Imbalance,
		At:        sig.At,
	}
	return p.publish(fmt.Sprintf("%s.%s", p.cfg.SignalSubject, sig.Symbol), ev)
}

// PublishDecision 发布风控决策，子主题为 <prefix>.<symbol>。
func (p *Publisher) PublishDecision(sig market.Signal, notional decimal.Decimal, d risk.Decision) error {
	ev := DecisionEvent{
		Symbol:   sig.Symbol,
		Side:     string(sig.Side),
		Notional: notional,
		Allowed:  d.Allowed,
		Reason:   string(d.Reason),
		At:       sig.At,
	}
	return p.publish(fmt.Sprintf("%s.%s", p.cfg.DecisionSubject, sig.Symbol), ev)
}

func (p *Publisher) publish(subject string, v interface{}) error {
	p.mu.RLock()
	nc := p.nc
	p.mu.RUnlock()
	if nc == nil || nc.IsClosed() {
		return fmt.Errorf("bus not connected")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := nc.Publish(subject, raw); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Flush 等待已发布消息写入服务端，关停前调用。
func (p *Publisher) Flush() error {
	p.mu.RLock()
	nc := p.nc
	p.mu.RUnlock()
	if nc == nil || nc.IsClosed() {
		return nil
	}
	return nc.Flush()
}

// Close 关闭底层连接。
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.nc != nil && !p.nc.IsClosed() {
		p.nc.Close()
	}
}
