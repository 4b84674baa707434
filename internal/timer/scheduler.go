package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.chatsync/internal/workerpool"
)

// Scheduler 定时任务调度器
// 轮询节拍、通知自动关闭、周期全量同步都挂在这里，所有任务都可以按 ID 取消
type Scheduler struct {
	wheel     *TimeWheel
	pool      *workerpool.Pool
	ownsPool  bool
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	running   bool
	runningMu sync.RWMutex
}

// NewScheduler 创建任务调度器，pool 为 nil 时自建一个
func NewScheduler(tick time.Duration, pool *workerpool.Pool) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		wheel:  NewTimeWheel(tick, DefaultSlotCount),
		pool:   pool,
		ctx:    ctx,
		cancel: cancel,
		logger: slog.Default(),
	}
	if s.pool == nil {
		s.pool = workerpool.New(2, 64, s.logger)
		s.ownsPool = true
	}
	return s
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	if s.ctx.Err() != nil {
		s.runningMu.Unlock()
		return fmt.Errorf("scheduler already stopped")
	}
	s.running = true
	s.runningMu.Unlock()

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Debug("Timer scheduler started", "tick", s.wheel.TickDuration())
	return nil
}

// tickLoop 时钟循环协程
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.wheel.TickDuration())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.onTick()
		}
	}
}

// onTick 时钟触发处理
func (s *Scheduler) onTick() {
	tasks := s.wheel.Tick()
	for _, task := range tasks {
		if !s.pool.Submit(func() { task.Execute(s.ctx) }) {
			s.logger.Warn("Timer task dropped", "taskId", task.ID)
		}
	}
}

// Stop 停止调度器，未到期任务全部丢弃
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		s.cancel()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()

	dropped := s.wheel.Clear()
	if s.ownsPool {
		s.pool.Shutdown()
	}

	s.logger.Debug("Timer scheduler stopped", "dropped", dropped)
}

// Schedule 在 after 之后执行 fn，同 ID 的旧任务被替换
func (s *Scheduler) Schedule(id string, after time.Duration, fn Func) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return fmt.Errorf("scheduler not running")
	}
	if id == "" {
		return fmt.Errorf("task id must not be empty")
	}

	s.wheel.AddTask(newTask(id, fn), after)
	return nil
}

// Cancel 取消任务，任务不存在时返回 false
func (s *Scheduler) Cancel(id string) bool {
	return s.wheel.RemoveTask(id)
}

// Pending 任务是否仍在等待
func (s *Scheduler) Pending(id string) bool {
	return s.wheel.Has(id)
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

// GetStats 获取调度器统计信息
func (s *Scheduler) GetStats() map[string]any {
	return map[string]any{
		"running":        s.IsRunning(),
		"totalTaskCount": s.wheel.GetTotalTaskCount(),
		"queueSize":      s.pool.QueueSize(),
	}
}
