package proto

import (
	"encoding/json"
	"fmt"

	"sudooom.im.chatsync/internal/model"
)

// ============== 下行事件 (Server -> Client) ==============

// 事件名称
const (
	EventNewMessage           = "new_message"
	EventMessagesRead         = "messages_read"
	EventConversationUpdated  = "conversation_updated"
	EventConversationRestored = "conversation_restored"
	EventUserOnline           = "user_online"
	EventUserOffline          = "user_offline"
	EventUserChatListStatus   = "user_chat_list_status"
)

// ============== 上行指令 (Client -> Server) ==============

const (
	CommandJoinConversation  = "join_conversation"
	CommandLeaveConversation = "leave_conversation"
	CommandPresence          = "presence"
)

// Envelope 推送通道帧
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewMessage 新消息事件
type NewMessage struct {
	ConversationID string        `json:"conversationId"`
	Kind           model.Kind    `json:"kind,omitempty"`
	Message        model.Message `json:"message"`
}

// MessagesRead 已读回执事件
type MessagesRead struct {
	ConversationID string   `json:"conversationId"`
	ReadBy         int64    `json:"readBy"`
	MessageIDs     []string `json:"messageIds,omitempty"`
}

// ConversationUpdated 会话元数据变化事件
type ConversationUpdated struct {
	ConversationID string             `json:"conversationId"`
	Conversation   model.Conversation `json:"conversation"`
}

// ConversationRestored 已删除会话被服务端恢复
type ConversationRestored struct {
	ConversationID string             `json:"conversationId"`
	Conversation   model.Conversation `json:"conversation"`
}

// UserOnline 用户上线
type UserOnline struct {
	UserID int64 `json:"userId"`
}

// UserOffline 用户下线
type UserOffline struct {
	UserID int64 `json:"userId"`
}

// UserChatListStatus 用户是否正在查看会话列表
type UserChatListStatus struct {
	UserID     int64 `json:"userId"`
	InChatList bool  `json:"inChatList"`
}

// RoomCommand 加入/离开会话房间
type RoomCommand struct {
	UserID         int64  `json:"userId,omitempty"`
	ConversationID string `json:"conversationId"`
}

// PresenceCommand 上报本端在线层级
type PresenceCommand struct {
	UserID int64      `json:"userId"`
	Tier   model.Tier `json:"tier"`
	Value  bool       `json:"value"`
}

// Encode 编码为推送帧
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEnvelope 解析推送帧
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return env, err
	}
	if env.Event == "" {
		return env, fmt.Errorf("envelope without event name")
	}
	return env, nil
}

// Decode 解析事件载荷
func Decode[T any](env Envelope) (T, error) {
	var payload T
	if len(env.Data) == 0 {
		return payload, fmt.Errorf("event %s has empty payload", env.Event)
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return payload, fmt.Errorf("decode %s payload: %w", env.Event, err)
	}
	return payload, nil
}
