package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adamoates/Trade-Engine-sub001/gateway"
	"github.com/adamoates/Trade-Engine-sub001/infrastructure/logger"
	"github.com/adamoates/Trade-Engine-sub001/market"
	"github.com/adamoates/Trade-Engine-sub001/metrics"
)

var (
	errQueueOverflow   = errors.New("feed: inbound queue overflow")
	errResyncNeeded    = errors.New("feed: resync needed")
	errInvalidSnapshot = errors.New("feed: book invalid after snapshot")
)

// Transport 抽象一条流式连接；WSClient 是生产实现，测试注入假实现。
type Transport interface {
	Dial(ctx context.Context) error
	Subscribe(streams []string) error
	Unsubscribe(streams []string) error
	ReadMessage() ([]byte, error)
	Ping() error
	SetPongHandler(func())
	Close() error
}

// SnapshotFetcher 拉取订单簿快照。
type SnapshotFetcher interface {
	FetchDepth(ctx context.Context, symbol string, limit int) (gateway.DepthSnapshot, error)
}

// Config 为会话参数；零值字段取默认。
type Config struct {
	Symbol               string
	SnapshotLimit        int
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	Staleness            time.Duration
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	QueueSize            int
}

func (c *Config) applyDefaults() {
	if c.SnapshotLimit <= 0 {
		c.SnapshotLimit = 100
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
	if c.Staleness <= 0 {
		c.Staleness = 30 * time.Second
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
}

type subKey struct {
	symbol  string
	channel string
}

// Session 管理一条行情连接的完整生命周期：快照引导、增量续传、
// 心跳保活与重连。它是所属 OrderBook 的唯一写入方。
type Session struct {
	cfg       Config
	transport Transport
	snapshots SnapshotFetcher
	book      *market.OrderBook
	log       *logger.Logger

	mu    sync.Mutex
	state State
	subs  map[subKey]struct{}

	// msgCh/errCh 每次建连重建，旧连接残留的消息随旧通道一起丢弃，
	// 绝不会串进重建后的簿。
	msgCh  chan []byte
	errCh  chan error
	pongCh chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(cfg Config, transport Transport, snapshots SnapshotFetcher, book *market.OrderBook, log *logger.Logger) *Session {
	cfg.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	s := &Session{
		cfg:       cfg,
		transport: transport,
		snapshots: snapshots,
		book:      book,
		log:       log,
		state:     StateDisconnected,
		subs:      make(map[subKey]struct{}),
		pongCh:    make(chan struct{}, 1),
	}
	transport.SetPongHandler(func() {
		select {
		case s.pongCh <- struct{}{}:
		default:
		}
	})
	return s
}

// State 返回当前状态。
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.log.LogFeed("state_transition", map[string]interface{}{
			"symbol": s.cfg.Symbol,
			"from":   prev.String(),
			"to":     st.String(),
		})
	}
}

// Subscribe 订阅 (symbol, channel)；重复订阅是 no-op。
func (s *Session) Subscribe(symbol, channel string) error {
	key := subKey{symbol: symbol, channel: channel}
	s.mu.Lock()
	if _, ok := s.subs[key]; ok {
		s.mu.Unlock()
		return nil
	}
	s.subs[key] = struct{}{}
	connected := s.state == StateStreaming || s.state == StateAwaitingSnapshot
	s.mu.Unlock()
	if connected {
		return s.transport.Subscribe([]string{streamName(key)})
	}
	return nil
}

// Unsubscribe 退订；对未订阅的频道退订是 no-op，不是错误。
func (s *Session) Unsubscribe(symbol, channel string) error {
	key := subKey{symbol: symbol, channel: channel}
	s.mu.Lock()
	if _, ok := s.subs[key]; !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.subs, key)
	connected := s.state == StateStreaming || s.state == StateAwaitingSnapshot
	s.mu.Unlock()
	if connected {
		return s.transport.Unsubscribe([]string{streamName(key)})
	}
	return nil
}

// Subscriptions 返回当前订阅的流名，排序后便于确定性重订阅。
func (s *Session) Subscriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamsLocked()
}

func (s *Session) streamsLocked() []string {
	out := make([]string, 0, len(s.subs))
	for k := range s.subs {
		out = append(out, streamName(k))
	}
	sort.Strings(out)
	return out
}

func streamName(k subKey) string {
	return strings.ToLower(k.symbol) + "@" + k.channel
}

// Connect 建连并完成快照引导；成功后后台进入流式处理。
// 认证被拒是致命错误，会话进入 Failed 终态，不得重试。
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("connect from state %s", s.state)
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()
	s.setState(StateConnecting)

	if err := s.bootstrap(ctx); err != nil {
		cancel()
		close(done)
		if errors.Is(err, gateway.ErrAuthRejected) {
			s.setState(StateFailed)
		} else {
			s.setState(StateDisconnected)
		}
		return err
	}
	go s.run(ctx, done)
	return nil
}

// Disconnect 取消在途的重连/退避计时并关闭传输，是到达
// Disconnected 的唯一途径。
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	_ = s.transport.Close()
	if done != nil {
		<-done
	}
	metrics.WSConnected.Set(0)
	s.setState(StateDisconnected)
}

// bootstrap 走一遍完整引导：建连、重订阅、启动读泵、拉快照重建簿。
// 重连与初次连接共用这一条路径，簿永远重建、从不续用。
func (s *Session) bootstrap(ctx context.Context) error {
	if err := s.transport.Dial(ctx); err != nil {
		return err
	}
	metrics.WSConnected.Set(1)
	s.mu.Lock()
	streams := s.streamsLocked()
	s.mu.Unlock()
	if len(streams) > 0 {
		if err := s.transport.Subscribe(streams); err != nil {
			_ = s.transport.Close()
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	// 每条连接一组新通道：快照在途时先到的增量缓冲在这里，
	// 旧连接的残留消息随旧通道废弃。
	s.msgCh = make(chan []byte, s.cfg.QueueSize)
	s.errCh = make(chan error, 1)
	go s.readPump(s.transport, s.msgCh, s.errCh)

	return s.seedSnapshot(ctx)
}

func (s *Session) seedSnapshot(ctx context.Context) error {
	s.setState(StateAwaitingSnapshot)
	snap, err := s.snapshots.FetchDepth(ctx, s.cfg.Symbol, s.cfg.SnapshotLimit)
	if err != nil {
		_ = s.transport.Close()
		return fmt.Errorf("fetch snapshot: %w", err)
	}
	bids, err := gateway.Levels(snap.Bids)
	if err != nil {
		_ = s.transport.Close()
		return fmt.Errorf("snapshot bids: %w", err)
	}
	asks, err := gateway.Levels(snap.Asks)
	if err != nil {
		_ = s.transport.Close()
		return fmt.Errorf("snapshot asks: %w", err)
	}
	s.book.ApplySnapshot(snap.SequenceID, bids, asks)
	metrics.SnapshotReloads.Inc()
	if !s.book.IsValid(s.cfg.Staleness) {
		_ = s.transport.Close()
		return errInvalidSnapshot
	}
	s.log.LogFeed("snapshot_applied", map[string]interface{}{
		"symbol":     s.cfg.Symbol,
		"sequenceId": snap.SequenceID,
	})
	s.setState(StateStreaming)
	return nil
}

// readPump 把消息搬进有界队列；队列满视为下游停摆，
// 退出并上报溢出而不是无界膨胀，由主循环强制重新同步。
func (s *Session) readPump(t Transport, msgCh chan []byte, errCh chan error) {
	for {
		msg, err := t.ReadMessage()
		if err != nil {
			select {
			case errCh <- err:
			default:
			}
			return
		}
		select {
		case msgCh <- msg:
		default:
			select {
			case errCh <- errQueueOverflow:
			default:
			}
			return
		}
	}
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	var pongTimer *time.Timer
	var pongC <-chan time.Time
	disarm := func() {
		if pongTimer != nil {
			pongTimer.Stop()
			pongTimer = nil
			pongC = nil
		}
	}
	defer disarm()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-s.msgCh:
			if err := s.handleMessage(msg); err != nil {
				disarm()
				if !s.resyncOrFail(ctx, err) {
					return
				}
			}

		case err := <-s.errCh:
			disarm()
			if !s.resyncOrFail(ctx, err) {
				return
			}

		case <-heartbeat.C:
			if err := s.transport.Ping(); err != nil {
				disarm()
				if !s.resyncOrFail(ctx, err) {
					return
				}
				continue
			}
			if pongTimer == nil {
				pongTimer = time.NewTimer(s.cfg.HeartbeatTimeout)
				pongC = pongTimer.C
			}

		case <-s.pongCh:
			disarm()

		case <-pongC:
			// keepalive 未在期限内得到应答，连接视为已死。
			disarm()
			if !s.resyncOrFail(ctx, errors.New("feed: heartbeat timeout")) {
				return
			}
		}
	}
}

// handleMessage 处理一条流消息。单条坏消息只记录并丢弃；
// 序列缺口与交叉簿返回 errResyncNeeded，走与重连相同的重建路径。
func (s *Session) handleMessage(msg []byte) error {
	delta, err := gateway.ParseDepthDelta(msg)
	if errors.Is(err, gateway.ErrNotDepthUpdate) {
		return nil
	}
	if err != nil {
		metrics.MalformedMessages.Inc()
		s.log.LogFeed("malformed_message", map[string]interface{}{
			"symbol": s.cfg.Symbol,
			"error":  err.Error(),
		})
		return nil
	}
	if !strings.EqualFold(delta.Symbol, s.cfg.Symbol) {
		return nil
	}
	// 快照在途时缓冲下来的旧增量与重复投递：finalSeq 不超过当前
	// 序列号的一律丢弃。
	if delta.FinalSequenceID <= s.book.LastSequenceID() {
		return nil
	}
	bids, err := gateway.Levels(delta.BidChanges)
	if err == nil {
		var asks []market.PriceLevel
		asks, err = gateway.Levels(delta.AskChanges)
		if err == nil {
			err = s.book.ApplyDelta(delta.FirstSequenceID, delta.FinalSequenceID, bids, asks)
			if err == nil {
				return nil
			}
		}
	}
	switch {
	case errors.Is(err, market.ErrSequenceGap):
		metrics.SequenceGaps.Inc()
		s.log.LogFeed("sequence_gap", map[string]interface{}{
			"symbol":   s.cfg.Symbol,
			"firstSeq": delta.FirstSequenceID,
			"bookSeq":  s.book.LastSequenceID(),
		})
		return errResyncNeeded
	case errors.Is(err, market.ErrCrossedBook):
		metrics.CrossedBooks.Inc()
		s.log.LogFeed("crossed_book", map[string]interface{}{
			"symbol": s.cfg.Symbol,
		})
		return errResyncNeeded
	case errors.Is(err, market.ErrNotSeeded):
		return errResyncNeeded
	default:
		// 数字字段解析失败按坏消息丢弃。
		metrics.MalformedMessages.Inc()
		s.log.LogFeed("malformed_message", map[string]interface{}{
			"symbol": s.cfg.Symbol,
			"error":  err.Error(),
		})
		return nil
	}
}

// resyncOrFail 执行重连+快照重建；返回 false 表示会话进入 Failed 终态。
func (s *Session) resyncOrFail(ctx context.Context, cause error) bool {
	if errors.Is(cause, gateway.ErrAuthRejected) {
		s.failed(cause)
		return false
	}
	if err := s.resync(ctx, cause); err != nil {
		if ctx.Err() != nil {
			return false // 显式断开，状态由 Disconnect 收尾
		}
		s.failed(err)
		return false
	}
	return true
}

func (s *Session) resync(ctx context.Context, cause error) error {
	s.setState(StateReconnecting)
	metrics.WSConnected.Set(0)
	_ = s.transport.Close()
	s.log.LogFeed("resync", map[string]interface{}{
		"symbol": s.cfg.Symbol,
		"cause":  cause.Error(),
	})

	backoff := s.cfg.BackoffBase
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		metrics.WSReconnects.Inc()
		err := s.bootstrap(ctx)
		if err == nil {
			return nil
		}
		if errors.Is(err, gateway.ErrAuthRejected) {
			return err
		}
		_ = s.transport.Close()
		s.log.LogFeed("reconnect_failed", map[string]interface{}{
			"symbol":  s.cfg.Symbol,
			"attempt": attempt,
			"error":   err.Error(),
			"backoff": backoff.String(),
		})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("resync failed after %d attempts", s.cfg.MaxReconnectAttempts)
}

func (s *Session) failed(err error) {
	metrics.WSConnected.Set(0)
	_ = s.transport.Close()
	s.setState(StateFailed)
	s.log.LogError(err, map[string]interface{}{
		"symbol": s.cfg.Symbol,
		"state":  StateFailed.String(),
	})
}
