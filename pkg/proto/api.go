package proto

import (
	"time"

	"sudooom.im.chatsync/internal/model"
)

// ============== 兜底拉取接口 (Request/Reply) ==============

// Reply 通用响应头，Error 非空表示失败
type Reply struct {
	Error string `json:"error,omitempty"`
}

// ListConversationsRequest 拉取会话列表
type ListConversationsRequest struct {
	UserID int64 `json:"userId"`
}

// ListConversationsResponse 会话列表响应
type ListConversationsResponse struct {
	Reply
	Conversations []model.Conversation `json:"conversations"`
}

// ListMessagesRequest 拉取会话消息（Cursor 为空表示最新一页）
type ListMessagesRequest struct {
	UserID         int64      `json:"userId"`
	ConversationID string     `json:"conversationId"`
	Kind           model.Kind `json:"kind"`
	Cursor         string     `json:"cursor,omitempty"`
	Limit          int        `json:"limit"`
}

// ListMessagesResponse 消息列表响应，Messages 按时间升序
type ListMessagesResponse struct {
	Reply
	Messages   []model.Message `json:"messages"`
	NextCursor string          `json:"nextCursor,omitempty"`
}

// MarkReadRequest 标记会话已读
type MarkReadRequest struct {
	UserID         int64  `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// SendMessageRequest 发送消息
type SendMessageRequest struct {
	UserID         int64             `json:"userId"`
	ConversationID string            `json:"conversationId"`
	Kind           model.Kind        `json:"kind"`
	ClientMsgID    string            `json:"clientMsgId"`
	Content        string            `json:"content"`
	Type           model.MessageType `json:"type"`
}

// SendMessageResponse 发送结果，Message 带服务端 ID
type SendMessageResponse struct {
	Reply
	Message model.Message `json:"message"`
}

// DeleteConversationRequest 删除会话
type DeleteConversationRequest struct {
	UserID         int64  `json:"userId"`
	ConversationID string `json:"conversationId"`
}

// UpdateSettingsRequest 更新会话设置，nil 字段不修改
type UpdateSettingsRequest struct {
	UserID               int64          `json:"userId"`
	ConversationID       string         `json:"conversationId"`
	IsMuted              *bool          `json:"isMuted,omitempty"`
	TempMessagesDuration *time.Duration `json:"tempMessagesDuration,omitempty"`
}

// NotificationPayload 交给原生通知进程渲染的通知
type NotificationPayload struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	Icon           string `json:"icon,omitempty"`
	Tag            string `json:"tag"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Close          bool   `json:"close,omitempty"`
}

// NotificationClick 原生通知点击回传
type NotificationClick struct {
	Tag            string     `json:"tag"`
	ConversationID string     `json:"conversationId"`
	Kind           model.Kind `json:"kind,omitempty"`
	ClickedAt      int64      `json:"clickedAt"`
}

// PermissionReply 原生通知权限查询结果
type PermissionReply struct {
	Reply
	Granted bool `json:"granted"`
}
