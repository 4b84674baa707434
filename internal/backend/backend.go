package backend

import (
	"context"
	"time"

	"sudooom.im.chatsync/internal/model"
)

// Page 一页消息，Messages 按时间升序
type Page struct {
	Messages   []model.Message
	NextCursor string
}

// Outbound 待发送消息
type Outbound struct {
	ConversationID string
	Kind           model.Kind
	ClientMsgID    string
	Content        string
	Type           model.MessageType
}

// Settings 会话设置，nil 字段不修改
type Settings struct {
	IsMuted              *bool
	TempMessagesDuration *time.Duration
}

// Backend 兜底拉取与用户操作接口
type Backend interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	ListMessages(ctx context.Context, conversationID string, kind model.Kind, cursor string, limit int) (Page, error)
	MarkRead(ctx context.Context, conversationID string) error
	SendMessage(ctx context.Context, out Outbound) (model.Message, error)
	DeleteConversation(ctx context.Context, conversationID string) error
	UpdateSettings(ctx context.Context, conversationID string, settings Settings) error
}
