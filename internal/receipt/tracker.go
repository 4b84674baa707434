package receipt

import (
	"sudooom.im.chatsync/internal/model"
)

// Change 会话回执变化
type Change struct {
	ConversationID string  `json:"conversationId" yaml:"conversationId"`
	From           Receipt `json:"from" yaml:"from"`
	To             Receipt `json:"to" yaml:"to"`
}

// Tracker 记录上一次渲染的回执，每次变更后给出差异
type Tracker struct {
	last map[string]Receipt
}

// NewTracker 创建回执跟踪器
func NewTracker() *Tracker {
	return &Tracker{last: make(map[string]Receipt)}
}

// Recompute 按列表顺序重新计算，返回与上次不同的会话
// 不在列表里的会话被遗忘
func (t *Tracker) Recompute(convs []model.Conversation) []Change {
	var changes []Change
	seen := make(map[string]struct{}, len(convs))
	for _, conv := range convs {
		seen[conv.ID] = struct{}{}
		cur := ForConversation(conv)
		prev, ok := t.last[conv.ID]
		if !ok {
			prev = ReceiptNone
		}
		if cur != prev {
			changes = append(changes, Change{ConversationID: conv.ID, From: prev, To: cur})
		}
		t.last[conv.ID] = cur
	}
	for id := range t.last {
		if _, ok := seen[id]; !ok {
			delete(t.last, id)
		}
	}
	return changes
}

// Get 上一次计算的回执
func (t *Tracker) Get(conversationID string) Receipt {
	return t.last[conversationID]
}

// Reset 清空
func (t *Tracker) Reset() {
	clear(t.last)
}
