package model

import "time"

// Tier 在线状态层级，各层相互独立
type Tier string

const (
	TierOnline     Tier = "online"       // 已连接
	TierInChatList Tier = "in_chat_list" // 正在查看会话列表
)

// Presence 用户在线状态
type Presence struct {
	Online     bool `json:"online"`
	InChatList bool `json:"inChatList"`
}

// NotificationRecord 已弹出通知记录，仅用于去重
type NotificationRecord struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ShownAt        time.Time `json:"shownAt"`
}

// IntentSource 意图来源
type IntentSource string

const (
	IntentSourceClick      IntentSource = "click"      // 前台通知点击
	IntentSourceBackground IntentSource = "background" // 后台通道补投的点击
)

// Intent 打开会话意图，由视图路由消费
type Intent struct {
	ConversationID string       `json:"conversationId"`
	Kind           Kind         `json:"kind"`
	Source         IntentSource `json:"source"`
}
