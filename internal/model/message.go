package model

import (
	"time"
	"unicode/utf8"
)

// MessageType 消息类型
type MessageType string

const (
	MessageTypeText         MessageType = "text"          // 文本
	MessageTypeLocation     MessageType = "location"      // 位置
	MessageTypeSessionShare MessageType = "session_share" // 训练分享
	MessageTypeSystem       MessageType = "system"        // 系统消息
)

// previewLimit 列表预览最大字符数
const previewLimit = 80

// Message 消息实体
// 除 Read 从 false 到 true 的单向变化外，消息入库后不再修改
type Message struct {
	ID             string      `json:"id"`
	ClientMsgID    string      `json:"clientMsgId,omitempty"`
	ConversationID string      `json:"conversationId"`
	SenderID       int64       `json:"senderId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"createdAt"`
	Read           bool        `json:"read"`
}

// Pending 是否为尚未拿到服务端 ID 的本地回显
func (m *Message) Pending() bool {
	return m.ID == "" && m.ClientMsgID != ""
}

// Key 去重键，本地回显使用 ClientMsgID
func (m *Message) Key() string {
	if m.ID != "" {
		return m.ID
	}
	return "local:" + m.ClientMsgID
}

// Preview 生成列表预览
func (m *Message) Preview() string {
	switch m.Type {
	case MessageTypeLocation:
		return "[位置]"
	case MessageTypeSessionShare:
		return "[训练分享]"
	}
	if utf8.RuneCountInString(m.Content) <= previewLimit {
		return m.Content
	}
	runes := []rune(m.Content)
	return string(runes[:previewLimit]) + "…"
}

// ToLastMessage 转换为会话摘要
func (m *Message) ToLastMessage() *LastMessage {
	return &LastMessage{
		ID:        m.ID,
		SenderID:  m.SenderID,
		Preview:   m.Preview(),
		Timestamp: m.CreatedAt,
	}
}

// After 判断 m 是否排在 other 之后（时间优先，ID 兜底）
func (m *Message) After(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.After(other.CreatedAt)
	}
	return m.ID > other.ID
}
