package timer

// Slot 时间轮槽位（由 TimeWheel 的锁保护）
type Slot struct {
	tasks map[string]*Task
}

// NewSlot 创建新槽位
func NewSlot() *Slot {
	return &Slot{
		tasks: make(map[string]*Task),
	}
}

// AddTask 添加任务到槽位
func (s *Slot) AddTask(task *Task) {
	s.tasks[task.ID] = task
}

// RemoveTask 从槽位删除任务
func (s *Slot) RemoveTask(taskID string) bool {
	if _, exists := s.tasks[taskID]; exists {
		delete(s.tasks, taskID)
		return true
	}
	return false
}

// Expire 取出本圈到期的任务，其余任务圈数减一
func (s *Slot) Expire() []*Task {
	if len(s.tasks) == 0 {
		return nil
	}

	var due []*Task
	for id, task := range s.tasks {
		if task.Rounds > 0 {
			task.Rounds--
			continue
		}
		due = append(due, task)
		delete(s.tasks, id)
	}
	return due
}

// Count 获取槽位任务数量
func (s *Slot) Count() int {
	return len(s.tasks)
}
