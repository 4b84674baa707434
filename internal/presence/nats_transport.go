package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	natsclient "sudooom.im.chatsync/internal/nats"
	"sudooom.im.chatsync/pkg/proto"
)

// NATSTransport 基于 NATS 的推送通道
// 用户事件走 chatsync.user.{id}.events，加入房间即订阅 chatsync.conversation.{id}.events
type NATSTransport struct {
	client *natsclient.Client
	userID int64
	logger *slog.Logger

	mu      sync.Mutex
	sink    Sink
	userSub *nats.Subscription
	rooms   map[string]*nats.Subscription
}

// NewNATSTransport 创建 NATS 推送通道
func NewNATSTransport(client *natsclient.Client, userID int64) *NATSTransport {
	return &NATSTransport{
		client: client,
		userID: userID,
		logger: slog.Default(),
		rooms:  make(map[string]*nats.Subscription),
	}
}

// Start 订阅用户事件，连接状态来自 NATS 重连回调
func (t *NATSTransport) Start(ctx context.Context, sink Sink) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.userSub != nil {
		t.mu.Unlock()
		return fmt.Errorf("nats transport already started")
	}

	subject := proto.BuildUserEventsSubject(t.userID)
	sub, err := t.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		sink.Frame(msg.Data)
	})
	if err != nil {
		t.mu.Unlock()
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	t.sink = sink
	t.userSub = sub
	t.mu.Unlock()

	t.client.OnStateChange(t.forwardState)
	sink.State(t.client.IsConnected())

	t.logger.Info("NATS push transport started", "subject", subject)
	return nil
}

func (t *NATSTransport) forwardState(connected bool) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	if sink != nil {
		sink.State(connected)
	}
}

// Join 订阅会话房间并通知服务端
// NATS 订阅在重连后自动恢复，重复调用只重发加入指令
func (t *NATSTransport) Join(conversationID string) error {
	t.mu.Lock()
	if t.sink == nil {
		t.mu.Unlock()
		return fmt.Errorf("nats transport not started")
	}
	if _, ok := t.rooms[conversationID]; !ok {
		sink := t.sink
		subject := proto.BuildConversationEventsSubject(conversationID)
		sub, err := t.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
			sink.Frame(msg.Data)
		})
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		t.rooms[conversationID] = sub
	}
	t.mu.Unlock()

	return t.Send(proto.CommandJoinConversation, proto.RoomCommand{UserID: t.userID, ConversationID: conversationID})
}

// Leave 取消房间订阅并通知服务端
func (t *NATSTransport) Leave(conversationID string) error {
	t.mu.Lock()
	sub, ok := t.rooms[conversationID]
	delete(t.rooms, conversationID)
	t.mu.Unlock()

	if ok {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Warn("Failed to unsubscribe room", "conversationId", conversationID, "error", err)
		}
	}
	return t.Send(proto.CommandLeaveConversation, proto.RoomCommand{UserID: t.userID, ConversationID: conversationID})
}

// Send 发布上行指令
func (t *NATSTransport) Send(command string, payload any) error {
	data, err := proto.Encode(command, payload)
	if err != nil {
		return err
	}
	return t.client.Conn().Publish(proto.SubjectPresence, data)
}

// Close 取消所有订阅，连接本身由调用方关闭
func (t *NATSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, sub := range t.rooms {
		if err := sub.Unsubscribe(); err != nil {
			t.logger.Warn("Failed to unsubscribe room", "conversationId", id, "error", err)
		}
	}
	clear(t.rooms)

	if t.userSub != nil {
		if err := t.userSub.Unsubscribe(); err != nil {
			t.logger.Warn("Failed to unsubscribe user events", "error", err)
		}
		t.userSub = nil
	}
	t.sink = nil
	return nil
}
