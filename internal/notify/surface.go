package notify

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	natsclient "sudooom.im.chatsync/internal/nats"
	"sudooom.im.chatsync/pkg/proto"
)

// Surface 原生通知能力
type Surface interface {
	RequestPermission(ctx context.Context) (bool, error)
	Show(ctx context.Context, n proto.NotificationPayload) error
	Close(ctx context.Context, tag string) error
	// OnClick 订阅前台点击，返回取消函数
	OnClick(fn func(proto.NotificationClick)) (func(), error)
}

// NATSSurface 把通知交给订阅 chatsync.notify.{userId} 的原生通知进程
type NATSSurface struct {
	client *natsclient.Client
	userID int64
	logger *slog.Logger
}

// NewNATSSurface 创建 NATS 通知出口
func NewNATSSurface(client *natsclient.Client, userID int64) *NATSSurface {
	return &NATSSurface{
		client: client,
		userID: userID,
		logger: slog.Default(),
	}
}

// RequestPermission 向通知进程查询权限，没有应答视为拒绝
func (s *NATSSurface) RequestPermission(ctx context.Context) (bool, error) {
	var reply proto.PermissionReply
	if err := s.client.RequestJSON(ctx, proto.BuildNotifyPermissionSubject(s.userID), struct{}{}, &reply); err != nil {
		return false, err
	}
	return reply.Granted, nil
}

// Show 发布通知
func (s *NATSSurface) Show(ctx context.Context, n proto.NotificationPayload) error {
	return s.client.PublishJSON(proto.BuildNotifySubject(s.userID), n)
}

// Close 关闭同 tag 的通知
func (s *NATSSurface) Close(ctx context.Context, tag string) error {
	return s.client.PublishJSON(proto.BuildNotifySubject(s.userID), proto.NotificationPayload{Tag: tag, Close: true})
}

// OnClick 订阅点击回传
func (s *NATSSurface) OnClick(fn func(proto.NotificationClick)) (func(), error) {
	subject := proto.BuildNotifyClickSubject(s.userID)
	sub, err := s.client.Conn().Subscribe(subject, func(msg *nats.Msg) {
		var click proto.NotificationClick
		if err := json.Unmarshal(msg.Data, &click); err != nil {
			s.logger.Warn("Malformed notification click", "error", err)
			return
		}
		fn(click)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn("Failed to unsubscribe clicks", "subject", subject, "error", err)
		}
	}, nil
}

// LogSurface 只写日志，没有原生通知进程时使用
type LogSurface struct {
	logger *slog.Logger
}

// NewLogSurface 创建日志通知出口
func NewLogSurface() *LogSurface {
	return &LogSurface{logger: slog.Default()}
}

func (s *LogSurface) RequestPermission(ctx context.Context) (bool, error) {
	return true, nil
}

func (s *LogSurface) Show(ctx context.Context, n proto.NotificationPayload) error {
	s.logger.Info("Notification",
		"title", n.Title,
		"body", n.Body,
		"conversationId", n.ConversationID,
		"messageId", n.MessageID)
	return nil
}

func (s *LogSurface) Close(ctx context.Context, tag string) error {
	s.logger.Debug("Notification closed", "tag", tag)
	return nil
}

func (s *LogSurface) OnClick(fn func(proto.NotificationClick)) (func(), error) {
	return func() {}, nil
}
