package presence

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/pkg/errors"
	"sudooom.im.chatsync/pkg/proto"
)

// Sink 传输层向通道回报帧和连接状态
type Sink interface {
	Frame(data []byte)
	State(connected bool)
}

// Transport 推送通道底层实现
// Start 首次连接成功后由实现自己负责断线重连
type Transport interface {
	Start(ctx context.Context, sink Sink) error
	Join(conversationID string) error
	Leave(conversationID string) error
	Send(command string, payload any) error
	Close() error
}

// Handler 事件处理函数，在传输层协程中调用
type Handler func(env proto.Envelope)

// Subscription 订阅句柄，必须显式释放
type Subscription struct {
	id     string
	once   sync.Once
	cancel func()
}

// ID 句柄 ID
func (s *Subscription) ID() string {
	return s.id
}

// Unsubscribe 取消订阅，可重复调用
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Channel 在线状态通道
type Channel struct {
	transport Transport
	userID    int64
	logger    *slog.Logger

	mu            sync.RWMutex
	handlers      map[string]map[string]Handler
	stateHandlers map[string]func(bool)
	rooms         map[string]struct{}
	started       bool

	connected atomic.Bool
}

// NewChannel 创建在线状态通道
func NewChannel(transport Transport, userID int64) *Channel {
	return &Channel{
		transport:     transport,
		userID:        userID,
		logger:        slog.Default(),
		handlers:      make(map[string]map[string]Handler),
		stateHandlers: make(map[string]func(bool)),
		rooms:         make(map[string]struct{}),
	}
}

// Connect 建立连接，返回当前连接状态
// 首次拨号失败返回 ErrTransportUnavailable，之后的断线由传输层重试
func (c *Channel) Connect(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return c.Connected(), nil
	}
	c.mu.Unlock()

	if err := c.transport.Start(ctx, c); err != nil {
		c.logger.Warn("Push transport unavailable", "error", err)
		return false, errors.ErrTransportUnavailable.Wrap(err)
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	return c.Connected(), nil
}

// Connected 是否已连接
func (c *Channel) Connected() bool {
	return c.connected.Load()
}

// Frame 实现 Sink，解码后分发给订阅者
func (c *Channel) Frame(data []byte) {
	env, err := proto.DecodeEnvelope(data)
	if err != nil {
		c.logger.Warn("Dropping malformed push frame", "error", err, "size", len(data))
		return
	}

	c.mu.RLock()
	handlers := make([]Handler, 0, len(c.handlers[env.Event]))
	for _, h := range c.handlers[env.Event] {
		handlers = append(handlers, h)
	}
	c.mu.RUnlock()

	if len(handlers) == 0 {
		c.logger.Debug("Push event without subscribers", "event", env.Event)
		return
	}
	for _, h := range handlers {
		h(env)
	}
}

// State 实现 Sink，只在状态真正变化时通知；重新连上后补加入房间
func (c *Channel) State(connected bool) {
	if c.connected.Swap(connected) == connected {
		return
	}
	c.logger.Info("Push channel state changed", "connected", connected)

	if connected {
		for _, id := range c.Rooms() {
			if err := c.transport.Join(id); err != nil {
				c.logger.Warn("Failed to rejoin conversation", "conversationId", id, "error", err)
			}
		}
	}

	c.mu.RLock()
	listeners := make([]func(bool), 0, len(c.stateHandlers))
	for _, fn := range c.stateHandlers {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn(connected)
	}
}

// Subscribe 订阅指定事件
func (c *Channel) Subscribe(event string, handler Handler) *Subscription {
	id := uuid.NewString()

	c.mu.Lock()
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[string]Handler)
	}
	c.handlers[event][id] = handler
	c.mu.Unlock()

	return &Subscription{id: id, cancel: func() {
		c.mu.Lock()
		delete(c.handlers[event], id)
		if len(c.handlers[event]) == 0 {
			delete(c.handlers, event)
		}
		c.mu.Unlock()
	}}
}

// OnState 订阅连接状态变化
func (c *Channel) OnState(fn func(connected bool)) *Subscription {
	id := uuid.NewString()

	c.mu.Lock()
	c.stateHandlers[id] = fn
	c.mu.Unlock()

	return &Subscription{id: id, cancel: func() {
		c.mu.Lock()
		delete(c.stateHandlers, id)
		c.mu.Unlock()
	}}
}

// SubscriberCount 事件订阅者数量
func (c *Channel) SubscriberCount(event string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers[event])
}

// JoinConversation 加入会话房间，断线期间记录下来等重连后加入
func (c *Channel) JoinConversation(conversationID string) {
	c.mu.Lock()
	c.rooms[conversationID] = struct{}{}
	c.mu.Unlock()

	if !c.Connected() {
		return
	}
	if err := c.transport.Join(conversationID); err != nil {
		c.logger.Warn("Failed to join conversation", "conversationId", conversationID, "error", err)
	}
}

// LeaveConversation 离开会话房间
func (c *Channel) LeaveConversation(conversationID string) {
	c.mu.Lock()
	_, joined := c.rooms[conversationID]
	delete(c.rooms, conversationID)
	c.mu.Unlock()

	if !joined || !c.Connected() {
		return
	}
	if err := c.transport.Leave(conversationID); err != nil {
		c.logger.Warn("Failed to leave conversation", "conversationId", conversationID, "error", err)
	}
}

// Rooms 已加入的房间
func (c *Channel) Rooms() []string {
	c.mu.RLock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.RUnlock()
	slices.Sort(rooms)
	return rooms
}

// AnnouncePresence 上报本端在线层级，尽力而为，失败只记日志
func (c *Channel) AnnouncePresence(tier model.Tier, value bool) {
	if !c.Connected() {
		c.logger.Debug("Presence not announced while disconnected", "tier", tier, "value", value)
		return
	}
	cmd := proto.PresenceCommand{UserID: c.userID, Tier: tier, Value: value}
	if err := c.transport.Send(proto.CommandPresence, cmd); err != nil {
		c.logger.Warn("Failed to announce presence", "tier", tier, "value", value, "error", err)
	}
}

// Close 关闭传输层并清空订阅
func (c *Channel) Close() error {
	c.mu.Lock()
	clear(c.handlers)
	clear(c.stateHandlers)
	clear(c.rooms)
	c.mu.Unlock()

	c.connected.Store(false)
	return c.transport.Close()
}
