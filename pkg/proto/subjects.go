package proto

import "strconv"

// NATS Subject 常量定义
const (
	// SubjectPresence Client -> Server 上行指令（加入/离开房间、在线层级）
	SubjectPresence = "chatsync.presence"

	// SubjectUserEventsPrefix Server -> Client 用户级事件前缀
	// 完整格式: chatsync.user.{user_id}.events
	SubjectUserEventsPrefix = "chatsync.user."
	SubjectEventsSuffix     = ".events"

	// SubjectConversationEventsPrefix 会话房间事件前缀
	// 完整格式: chatsync.conversation.{conversation_id}.events
	SubjectConversationEventsPrefix = "chatsync.conversation."

	// 兜底接口 Request/Reply
	SubjectAPIListConversations  = "chatsync.api.conversations.list"
	SubjectAPIListMessages       = "chatsync.api.messages.list"
	SubjectAPIMarkRead           = "chatsync.api.conversations.read"
	SubjectAPISendMessage        = "chatsync.api.messages.send"
	SubjectAPIDeleteConversation = "chatsync.api.conversations.delete"
	SubjectAPIUpdateSettings     = "chatsync.api.conversations.settings"

	// SubjectNotifyPrefix 原生通知进程
	// 完整格式: chatsync.notify.{user_id} / chatsync.notify.{user_id}.click
	SubjectNotifyPrefix     = "chatsync.notify."
	SubjectClickSuffix      = ".click"
	SubjectPermissionSuffix = ".permission"
)

// BuildUserEventsSubject 构建用户事件 Subject
func BuildUserEventsSubject(userID int64) string {
	return SubjectUserEventsPrefix + strconv.FormatInt(userID, 10) + SubjectEventsSuffix
}

// BuildConversationEventsSubject 构建会话房间 Subject
func BuildConversationEventsSubject(conversationID string) string {
	return SubjectConversationEventsPrefix + conversationID + SubjectEventsSuffix
}

// BuildNotifySubject 构建通知 Subject
func BuildNotifySubject(userID int64) string {
	return SubjectNotifyPrefix + strconv.FormatInt(userID, 10)
}

// BuildNotifyClickSubject 构建通知点击回传 Subject
func BuildNotifyClickSubject(userID int64) string {
	return BuildNotifySubject(userID) + SubjectClickSuffix
}

// BuildNotifyPermissionSubject 构建通知权限查询 Subject
func BuildNotifyPermissionSubject(userID int64) string {
	return BuildNotifySubject(userID) + SubjectPermissionSuffix
}
