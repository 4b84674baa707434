package presence

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sudooom.im.chatsync/pkg/proto"
)

// WSConfig WebSocket 推送通道配置
type WSConfig struct {
	URL          string
	Header       http.Header
	ReconnectMin time.Duration
	ReconnectMax time.Duration
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

func (c *WSConfig) setDefaults() {
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = 500 * time.Millisecond
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = 30 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
}

// WSTransport 基于 WebSocket 的推送通道
// 读协程负责分发帧，写协程独占连接写入；断线后按指数退避重连
type WSTransport struct {
	cfg    WSConfig
	dialer *websocket.Dialer
	userID int64
	logger *slog.Logger

	send      chan []byte
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	startOnce sync.Once
}

// NewWSTransport 创建 WebSocket 推送通道
func NewWSTransport(cfg WSConfig, userID int64) *WSTransport {
	cfg.setDefaults()
	return &WSTransport{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		userID: userID,
		logger: slog.Default(),
		send:   make(chan []byte, cfg.SendBuffer),
	}
}

// Start 首次拨号，成功后在后台维持连接
func (t *WSTransport) Start(ctx context.Context, sink Sink) error {
	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}

	started := false
	t.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		t.cancel = cancel
		started = true

		t.wg.Add(1)
		go t.run(runCtx, conn, sink)
	})
	if !started {
		conn.Close()
		return fmt.Errorf("websocket transport already started")
	}
	return nil
}

func (t *WSTransport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}
	return conn, nil
}

// run 连接生命周期循环
func (t *WSTransport) run(ctx context.Context, conn *websocket.Conn, sink Sink) {
	defer t.wg.Done()

	for conn != nil {
		sink.State(true)
		t.serve(ctx, conn, sink)
		sink.State(false)

		if ctx.Err() != nil {
			return
		}
		conn = t.redial(ctx)
	}
}

// redial 指数退避重连，ctx 取消时返回 nil
func (t *WSTransport) redial(ctx context.Context) *websocket.Conn {
	delay := t.cfg.ReconnectMin
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		conn, err := t.dial(ctx)
		if err == nil {
			t.logger.Info("WebSocket reconnected", "attempt", attempt)
			return conn
		}
		t.logger.Warn("WebSocket reconnect failed", "attempt", attempt, "retryIn", delay, "error", err)
		delay = min(delay*2, t.cfg.ReconnectMax)
	}
}

// serve 处理一条连接直到它断开
func (t *WSTransport) serve(ctx context.Context, conn *websocket.Conn, sink Sink) {
	done := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		t.writeLoop(ctx, conn, done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				t.logger.Warn("WebSocket read failed", "error", err)
			}
			break
		}
		sink.Frame(data)
	}

	close(done)
	conn.Close()
	writer.Wait()
}

// writeLoop 独占写入，ctx 取消时关闭连接以解除读阻塞
func (t *WSTransport) writeLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ping := time.NewTicker(t.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(t.cfg.WriteTimeout))
			conn.Close()
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
				t.logger.Warn("WebSocket ping failed", "error", err)
				conn.Close()
				return
			}
		case frame := <-t.send:
			_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				t.logger.Warn("WebSocket write failed", "error", err)
				conn.Close()
				return
			}
		}
	}
}

// Join 发送加入房间指令
func (t *WSTransport) Join(conversationID string) error {
	return t.Send(proto.CommandJoinConversation, proto.RoomCommand{UserID: t.userID, ConversationID: conversationID})
}

// Leave 发送离开房间指令
func (t *WSTransport) Leave(conversationID string) error {
	return t.Send(proto.CommandLeaveConversation, proto.RoomCommand{UserID: t.userID, ConversationID: conversationID})
}

// Send 编码后放入发送队列，队列满时直接失败
func (t *WSTransport) Send(command string, payload any) error {
	frame, err := proto.Encode(command, payload)
	if err != nil {
		return err
	}
	select {
	case t.send <- frame:
		return nil
	default:
		return fmt.Errorf("websocket send buffer full (%d)", cap(t.send))
	}
}

// Close 停止重连并关闭连接
func (t *WSTransport) Close() error {
	t.closeOnce.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
	})
	return nil
}
