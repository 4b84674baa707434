package notify

import (
	"container/list"
	"time"

	"sudooom.im.chatsync/internal/model"
)

// DefaultCapacity 已通知消息记录上限
const DefaultCapacity = 100

// RecencySet 已通知消息的有界集合，满了淘汰最旧的
type RecencySet struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewRecencySet 创建集合
func NewRecencySet(capacity int) *RecencySet {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RecencySet{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Contains 是否已记录
func (s *RecencySet) Contains(messageID string) bool {
	_, ok := s.index[messageID]
	return ok
}

// Add 记录一条消息，已存在时返回 false
func (s *RecencySet) Add(rec model.NotificationRecord) bool {
	if _, ok := s.index[rec.MessageID]; ok {
		return false
	}
	if rec.ShownAt.IsZero() {
		rec.ShownAt = time.Now()
	}
	s.index[rec.MessageID] = s.order.PushBack(rec)

	for s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.index, oldest.Value.(model.NotificationRecord).MessageID)
	}
	return true
}

// Len 当前记录数
func (s *RecencySet) Len() int {
	return s.order.Len()
}

// Records 按记录先后返回
func (s *RecencySet) Records() []model.NotificationRecord {
	out := make([]model.NotificationRecord, 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(model.NotificationRecord))
	}
	return out
}

// Reset 清空
func (s *RecencySet) Reset() {
	s.order.Init()
	clear(s.index)
}
