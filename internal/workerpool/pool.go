package workerpool

import (
	"context"
	"log/slog"
	"sync"
)

// Task 定义任务函数类型
type Task func()

// Pool Worker Pool 实现
// 同步引擎的网络调用（拉取、发送、标记已读）都在这里执行，结果再投递回事件循环
type Pool struct {
	workers   int
	taskQueue chan Task
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *slog.Logger
	closeOnce sync.Once
}

// New 创建一个新的 Worker Pool
// workers: worker 数量
// queueSize: 任务队列大小
func New(workers int, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		workers:   workers,
		taskQueue: make(chan Task, queueSize),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Debug("Worker pool started",
		"workers", workers,
		"queueSize", queueSize)

	return pool
}

// worker 工作协程
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case task := <-p.taskQueue:
			p.run(id, task)
		}
	}
}

// run 执行任务，捕获 panic
func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panic recovered",
				"workerId", id,
				"panic", r)
		}
	}()
	task()
}

// Submit 提交任务到 Worker Pool
// 如果队列满了，会阻塞直到有空位或 Pool 被关闭
func (p *Pool) Submit(task Task) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.taskQueue <- task:
		return true
	}
}

// TrySubmit 尝试提交任务，如果队列满了立即返回 false
func (p *Pool) TrySubmit(task Task) bool {
	if p.ctx.Err() != nil {
		return false
	}
	select {
	case <-p.ctx.Done():
		return false
	case p.taskQueue <- task:
		return true
	default:
		p.logger.Warn("Worker pool queue full", "queueSize", cap(p.taskQueue))
		return false
	}
}

// QueueSize 当前排队任务数（用于监控）
func (p *Pool) QueueSize() int {
	return len(p.taskQueue)
}

// Shutdown 关闭 Worker Pool
// 正在执行的任务会跑完，队列中未开始的任务被丢弃
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Debug("Worker pool shutdown completed")
	})
}
