package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"sudooom.im.chatsync/internal/config"
)

// Client NATS 客户端封装
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger

	mu        sync.RWMutex
	listeners []func(connected bool)
}

// NewClient 创建 NATS 客户端
func NewClient(cfg config.NATSConfig) (*Client, error) {
	c := &Client{logger: slog.Default()}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("Disconnected from NATS", "error", err)
			c.notify(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
			c.notify(true)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
			c.notify(false)
		}),
		nats.Timeout(10 * time.Second),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// OnStateChange 注册连接状态回调（在 NATS 内部协程中调用）
func (c *Client) OnStateChange(fn func(connected bool)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Client) notify(connected bool) {
	c.mu.RLock()
	listeners := append([]func(bool){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(connected)
	}
}

// Conn 返回底层 NATS 连接
func (c *Client) Conn() *nats.Conn {
	return c.conn
}

// PublishJSON 序列化后发布
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		c.logger.Error("Failed to publish", "subject", subject, "error", err)
		return err
	}
	return nil
}

// RequestJSON 请求/应答，resp 为 nil 时只等待应答
func (c *Client) RequestJSON(ctx context.Context, subject string, req, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	msg, err := c.conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return fmt.Errorf("request %s: %w", subject, err)
	}
	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("unmarshal %s reply: %w", subject, err)
	}
	return nil
}

// Close 关闭连接
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected 检查连接状态
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
