package timer

import (
	"context"
	"time"
)

// Func 定时任务执行函数
type Func func(ctx context.Context)

// Task 定时任务
type Task struct {
	ID        string    // 任务唯一ID，同 ID 重复调度会替换旧任务
	Version   int64     // 版本号，每次替换递增
	Rounds    int       // 剩余圈数（延迟超过一圈时使用）
	Fn        Func      // 执行函数
	CreatedAt time.Time // 创建时间
	slot      int
}

// newTask 创建任务
func newTask(id string, fn Func) *Task {
	return &Task{
		ID:        id,
		Version:   1,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) {
	if t.Fn == nil {
		return
	}
	t.Fn(ctx)
}
