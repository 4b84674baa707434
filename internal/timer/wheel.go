package timer

import (
	"sync"
	"time"
)

const (
	// DefaultSlotCount 默认槽位数量
	DefaultSlotCount = 64
)

// TimeWheel 时间轮
// 任务按 ID 建索引，取消时不需要知道原始延迟
type TimeWheel struct {
	mu          sync.Mutex
	slots       []*Slot
	index       map[string]*Task
	currentSlot int
	tick        time.Duration
}

// NewTimeWheel 创建时间轮
func NewTimeWheel(tick time.Duration, slotCount int) *TimeWheel {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}

	tw := &TimeWheel{
		slots: make([]*Slot, slotCount),
		index: make(map[string]*Task),
		tick:  tick,
	}
	for i := range tw.slots {
		tw.slots[i] = NewSlot()
	}
	return tw
}

// ticksFor 延迟换算为刻度数（向上取整，至少 1）
func (tw *TimeWheel) ticksFor(delay time.Duration) int {
	ticks := int((delay + tw.tick - 1) / tw.tick)
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// AddTask 添加任务，同 ID 的旧任务被替换
func (tw *TimeWheel) AddTask(task *Task, delay time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if old, ok := tw.index[task.ID]; ok {
		tw.slots[old.slot].RemoveTask(old.ID)
		task.Version = old.Version + 1
	}

	ticks := tw.ticksFor(delay)
	n := len(tw.slots)
	task.slot = (tw.currentSlot + ticks) % n
	task.Rounds = (ticks - 1) / n

	tw.slots[task.slot].AddTask(task)
	tw.index[task.ID] = task
}

// RemoveTask 从时间轮删除任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	task, ok := tw.index[taskID]
	if !ok {
		return false
	}
	delete(tw.index, taskID)
	return tw.slots[task.slot].RemoveTask(taskID)
}

// Tick 推进时间轮，返回到期任务
func (tw *TimeWheel) Tick() []*Task {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.currentSlot = (tw.currentSlot + 1) % len(tw.slots)
	due := tw.slots[tw.currentSlot].Expire()
	for _, task := range due {
		delete(tw.index, task.ID)
	}
	return due
}

// Has 任务是否仍在等待
func (tw *TimeWheel) Has(taskID string) bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	_, ok := tw.index[taskID]
	return ok
}

// TickDuration 刻度
func (tw *TimeWheel) TickDuration() time.Duration {
	return tw.tick
}

// GetTotalTaskCount 获取所有槽位的任务总数
func (tw *TimeWheel) GetTotalTaskCount() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return len(tw.index)
}

// Clear 清空所有任务
func (tw *TimeWheel) Clear() int {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	n := len(tw.index)
	for _, slot := range tw.slots {
		clear(slot.tasks)
	}
	clear(tw.index)
	return n
}
