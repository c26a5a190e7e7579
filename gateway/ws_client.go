package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultReadTimeout = 75 * time.Second

// WSClient 是基于 gorilla/websocket 的行情流传输层。
// 一个实例对应一条连接；重连由上层会话负责，重连后调用方重新 Dial。
type WSClient struct {
	Endpoint    string
	Dialer      *websocket.Dialer
	ReadTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	onPong func()
	nextID atomic.Int64
}

func NewWSClient(endpoint string) *WSClient {
	return &WSClient{
		Endpoint: endpoint,
		Dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		ReadTimeout: defaultReadTimeout,
	}
}

// Dial 建立连接。握手被 401/403 拒绝时返回 ErrAuthRejected（不可重试）。
func (c *WSClient) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dialer := c.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("ws dial status %d: %w", resp.StatusCode, ErrAuthRejected)
		}
		return fmt.Errorf("ws dial: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
		if c.onPong != nil {
			c.onPong()
		}
		return nil
	})
	c.conn = conn
	return nil
}

// SetPongHandler 注册 pong 回调，必须在 Dial 之前调用。
func (c *WSClient) SetPongHandler(fn func()) {
	c.mu.Lock()
	c.onPong = fn
	c.mu.Unlock()
}

// Subscribe 发送订阅请求。
func (c *WSClient) Subscribe(streams []string) error {
	return c.writeStreamRequest("SUBSCRIBE", streams)
}

// Unsubscribe 发送退订请求。
func (c *WSClient) Unsubscribe(streams []string) error {
	return c.writeStreamRequest("UNSUBSCRIBE", streams)
}

func (c *WSClient) writeStreamRequest(method string, streams []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("ws not connected")
	}
	return c.conn.WriteJSON(map[string]interface{}{
		"method": method,
		"params": streams,
		"id":     c.nextID.Add(1),
	})
}

// ReadMessage 阻塞读取下一条消息。
func (c *WSClient) ReadMessage() ([]byte, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, errors.New("ws not connected")
	}
	_ = conn.SetReadDeadline(time.Now().Add(c.readTimeout()))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("ws read: %w", err)
	}
	return msg, nil
}

// Ping 发送 keepalive 控制帧。
func (c *WSClient) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return errors.New("ws not connected")
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

// Close 关闭底层连接；再次使用前需要重新 Dial。
func (c *WSClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *WSClient) readTimeout() time.Duration {
	if c.ReadTimeout > 0 {
		return c.ReadTimeout
	}
	return defaultReadTimeout
}
