package store

import (
	"time"

	"sudooom.im.chatsync/internal/model"
)

// defaultPresenceLogLimit 日志超过该长度时把较旧的一半折叠进基线
const defaultPresenceLogLimit = 1024

// PresenceEvent 在线状态事件
type PresenceEvent struct {
	UserID int64
	Tier   model.Tier
	Value  bool
	At     time.Time
}

// PresenceLog 只追加的在线状态日志
// 会话上的 OtherUserOnline/OtherUserInChatList 都由它回放得出，没有全局可变单例
type PresenceLog struct {
	base   map[int64]model.Presence
	events []PresenceEvent
	limit  int
}

// NewPresenceLog 创建在线状态日志
func NewPresenceLog(limit int) *PresenceLog {
	if limit <= 1 {
		limit = defaultPresenceLogLimit
	}
	return &PresenceLog{
		base:  make(map[int64]model.Presence),
		limit: limit,
	}
}

// fold 把一个事件叠加到状态上
// 离线强制 InChatList=false；出现在列表中意味着在线
func fold(p model.Presence, ev PresenceEvent) model.Presence {
	switch ev.Tier {
	case model.TierOnline:
		p.Online = ev.Value
		if !ev.Value {
			p.InChatList = false
		}
	case model.TierInChatList:
		p.InChatList = ev.Value
		if ev.Value {
			p.Online = true
		}
	}
	return p
}

// Append 追加事件，返回该用户回放后的状态
func (l *PresenceLog) Append(ev PresenceEvent) model.Presence {
	l.events = append(l.events, ev)
	if len(l.events) > l.limit {
		l.compact(len(l.events) / 2)
	}
	p, _ := l.Current(ev.UserID)
	return p
}

// compact 折叠最旧的 n 个事件
func (l *PresenceLog) compact(n int) {
	for _, ev := range l.events[:n] {
		l.base[ev.UserID] = fold(l.base[ev.UserID], ev)
	}
	l.events = append([]PresenceEvent(nil), l.events[n:]...)
}

// Current 回放得到用户当前状态，没有任何记录时 ok=false
func (l *PresenceLog) Current(userID int64) (model.Presence, bool) {
	p, ok := l.base[userID]
	for _, ev := range l.events {
		if ev.UserID == userID {
			p = fold(p, ev)
			ok = true
		}
	}
	return p, ok
}

// Replay 回放全部用户状态
func (l *PresenceLog) Replay() map[int64]model.Presence {
	out := make(map[int64]model.Presence, len(l.base))
	for id, p := range l.base {
		out[id] = p
	}
	for _, ev := range l.events {
		out[ev.UserID] = fold(out[ev.UserID], ev)
	}
	return out
}

// Len 未折叠事件数
func (l *PresenceLog) Len() int {
	return len(l.events)
}
