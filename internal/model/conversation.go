package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Kind 会话类型
type Kind string

const (
	KindAssistant Kind = "assistant" // 助手会话
	KindPeer      Kind = "peer"      // 匹配用户私聊
)

// Valid 检查会话类型是否合法
func (k Kind) Valid() bool {
	return k == KindAssistant || k == KindPeer
}

// ReadState 最后一条消息的已读状态（仅发送方视角）
type ReadState int8

const (
	ReadUnknown ReadState = iota // 不适用/未知（对方发的消息）
	ReadPending                  // 我发的，对方未读
	ReadDone                     // 我发的，对方已读
)

// MarshalJSON 编码为 null/false/true
func (s ReadState) MarshalJSON() ([]byte, error) {
	switch s {
	case ReadPending:
		return []byte("false"), nil
	case ReadDone:
		return []byte("true"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON 解析 null/false/true
func (s *ReadState) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "null", "":
		*s = ReadUnknown
	case "false":
		*s = ReadPending
	case "true":
		*s = ReadDone
	default:
		return fmt.Errorf("invalid read state %q", data)
	}
	return nil
}

func (s ReadState) String() string {
	switch s {
	case ReadPending:
		return "pending"
	case ReadDone:
		return "read"
	default:
		return "unknown"
	}
}

// LastMessage 会话列表展示用的最后一条消息摘要
type LastMessage struct {
	ID        string    `json:"id"`
	SenderID  int64     `json:"senderId"`
	Preview   string    `json:"preview"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation 会话
type Conversation struct {
	ID                   string        `json:"id"`
	Kind                 Kind          `json:"kind"`
	Participants         []int64       `json:"participants"`
	LastMessage          *LastMessage  `json:"lastMessage,omitempty"`
	UnreadCount          int           `json:"unreadCount"`
	LastMessageReadState ReadState     `json:"lastMessageReadState"`
	OtherUserOnline      bool          `json:"otherUserOnline"`
	OtherUserInChatList  bool          `json:"otherUserInChatList"`
	IsMuted              bool          `json:"isMuted"`
	TempMessagesDuration time.Duration `json:"tempMessagesDuration"`
}

// Clone 深拷贝，供只读视图使用
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return out
}

// PeerID 返回会话中除 me 之外的用户，助手会话返回 0
func (c *Conversation) PeerID(me int64) int64 {
	if c.Kind != KindPeer {
		return 0
	}
	for _, id := range c.Participants {
		if id != me {
			return id
		}
	}
	return 0
}

// HasParticipant 判断用户是否在会话中
func (c *Conversation) HasParticipant(userID int64) bool {
	return slices.Contains(c.Participants, userID)
}

// LastTimestamp 最后一条消息时间，没有消息时为零值
func (c *Conversation) LastTimestamp() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.Timestamp
}

// Snapshot 会话列表快照
type Snapshot struct {
	Conversations []Conversation `json:"conversations"`
	TotalUnread   int            `json:"totalUnread"`
}

// MarshalIndent 调试输出
func (s Snapshot) MarshalIndent() string {
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
