package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/timer"
	"sudooom.im.chatsync/internal/workerpool"
)

// ListKey 会话列表的限流键，引擎按需刷新列表时复用
const ListKey = "list"

const (
	conversationKey  = "conversation:"
	taskPrefix       = "poll:"
	defaultFactor    = 4
	defaultListEvery = 10 * time.Second
)

// Fetcher 拉取实现，由引擎提供；结果在其内部送回事件循环
type Fetcher interface {
	FetchConversation(ctx context.Context, conversationID string, kind model.Kind) error
	FetchList(ctx context.Context) error
}

// Config 轮询配置
type Config struct {
	ConversationInterval time.Duration
	ListInterval         time.Duration
	BackgroundFactor     int
	MinInterval          time.Duration
}

// target 一个轮询目标（当前打开的会话或会话列表）
type target struct {
	key            string
	conversationID string
	kind           model.Kind
	interval       time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
}

func (t *target) taskID() string {
	return taskPrefix + t.key
}

// Poller 推送的兜底轮询
// 每个目标同一时刻最多一个定时任务，任务按 ID 挂在共享调度器上，切换/关闭时取消
type Poller struct {
	cfg       Config
	fetcher   Fetcher
	scheduler *timer.Scheduler
	pool      *workerpool.Pool
	limiter   *Limiter
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conv    *target
	list    *target
	focused bool
	visible bool
}

// NewPoller 创建轮询器
func NewPoller(cfg Config, fetcher Fetcher, scheduler *timer.Scheduler, pool *workerpool.Pool) *Poller {
	if cfg.BackgroundFactor <= 0 {
		cfg.BackgroundFactor = defaultFactor
	}
	if cfg.ListInterval <= 0 {
		cfg.ListInterval = defaultListEvery
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		cfg:       cfg,
		fetcher:   fetcher,
		scheduler: scheduler,
		pool:      pool,
		limiter:   NewLimiter(cfg.MinInterval),
		logger:    slog.Default(),
		ctx:       ctx,
		cancel:    cancel,
		focused:   true,
		visible:   true,
	}
}

// Limiter 共享限流器（手动刷新等路径也走它）
func (p *Poller) Limiter() *Limiter {
	return p.limiter
}

// StartPolling 轮询指定会话：立即拉取一次，之后按间隔拉取
// 替换之前的会话轮询
func (p *Poller) StartPolling(conversationID string, kind model.Kind, interval time.Duration) {
	if interval <= 0 {
		interval = p.cfg.ConversationInterval
	}

	p.mu.Lock()
	if p.conv != nil {
		p.stopLocked(p.conv)
	}
	t := p.newTarget(conversationKey+conversationID, interval)
	t.conversationID = conversationID
	t.kind = kind
	p.conv = t
	p.mu.Unlock()

	p.logger.Debug("Conversation polling started", "conversationId", conversationID, "interval", interval)
	p.trigger(t)
}

// StopPolling 停止会话轮询，取消定时器和进行中的拉取
func (p *Poller) StopPolling() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conv != nil {
		p.stopLocked(p.conv)
		p.conv = nil
	}
}

// StartListPolling 轮询会话列表
func (p *Poller) StartListPolling(interval time.Duration) {
	if interval <= 0 {
		interval = p.cfg.ListInterval
	}

	p.mu.Lock()
	if p.list != nil {
		p.stopLocked(p.list)
	}
	t := p.newTarget(ListKey, interval)
	p.list = t
	p.mu.Unlock()

	p.trigger(t)
}

// StopListPolling 停止会话列表轮询
func (p *Poller) StopListPolling() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.list != nil {
		p.stopLocked(p.list)
		p.list = nil
	}
}

// SetFocus 窗口焦点变化，重新获得焦点时立即拉取一次（仍受限流）
func (p *Poller) SetFocus(focused bool) {
	p.setAttention(func() bool {
		changed := p.focused != focused
		p.focused = focused
		return changed && focused
	})
}

// SetVisible 页面可见性变化
func (p *Poller) SetVisible(visible bool) {
	p.setAttention(func() bool {
		changed := p.visible != visible
		p.visible = visible
		return changed && visible
	})
}

func (p *Poller) setAttention(update func() (regained bool)) {
	p.mu.Lock()
	regained := update()
	targets := p.activeLocked()
	p.mu.Unlock()

	for _, t := range targets {
		if regained {
			p.trigger(t)
		} else {
			p.schedule(t)
		}
	}
}

// Refresh 手动刷新所有活跃目标
func (p *Poller) Refresh() {
	p.mu.Lock()
	targets := p.activeLocked()
	p.mu.Unlock()
	for _, t := range targets {
		p.trigger(t)
	}
}

// Active 当前轮询的会话 ID
func (p *Poller) Active() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conv == nil {
		return "", false
	}
	return p.conv.conversationID, true
}

// Cadence 当前焦点状态下的轮询间隔
func (p *Poller) Cadence(interval time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cadenceLocked(interval)
}

func (p *Poller) cadenceLocked(interval time.Duration) time.Duration {
	if p.focused && p.visible {
		return interval
	}
	return interval * time.Duration(p.cfg.BackgroundFactor)
}

// Stop 停止全部轮询并等待立即触发的拉取退出
// 定时触发的拉取随调度器停止
func (p *Poller) Stop() {
	p.mu.Lock()
	if p.conv != nil {
		p.stopLocked(p.conv)
		p.conv = nil
	}
	if p.list != nil {
		p.stopLocked(p.list)
		p.list = nil
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.limiter.Reset()
}

func (p *Poller) newTarget(key string, interval time.Duration) *target {
	ctx, cancel := context.WithCancel(p.ctx)
	return &target{key: key, interval: interval, ctx: ctx, cancel: cancel}
}

func (p *Poller) stopLocked(t *target) {
	t.cancel()
	p.scheduler.Cancel(t.taskID())
	p.logger.Debug("Polling stopped", "key", t.key)
}

func (p *Poller) activeLocked() []*target {
	var out []*target
	for _, t := range []*target{p.conv, p.list} {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

func (p *Poller) current(t *target) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return (p.conv == t || p.list == t) && t.ctx.Err() == nil
}

// trigger 立即在工作池里拉取一次
func (p *Poller) trigger(t *target) {
	if p.ctx.Err() != nil {
		return
	}
	p.wg.Add(1)
	if !p.pool.Submit(func() {
		defer p.wg.Done()
		p.run(t)
	}) {
		p.wg.Done()
		p.logger.Warn("Poll dropped, worker pool unavailable", "key", t.key)
	}
}

// schedule 按当前节奏安排下一次拉取，同 ID 的旧定时器被替换
func (p *Poller) schedule(t *target) {
	if !p.current(t) {
		return
	}
	p.mu.Lock()
	after := p.cadenceLocked(t.interval)
	p.mu.Unlock()

	err := p.scheduler.Schedule(t.taskID(), after, func(ctx context.Context) {
		p.run(t)
	})
	if err != nil {
		p.logger.Warn("Failed to schedule poll", "key", t.key, "error", err)
	}
}

// run 拉取一次然后安排下一次；失败只记日志，下个周期重试
func (p *Poller) run(t *target) {
	if !p.current(t) {
		return
	}

	ran, err := p.limiter.Do(t.ctx, t.key, func(ctx context.Context) error {
		if t.conversationID != "" {
			return p.fetcher.FetchConversation(ctx, t.conversationID, t.kind)
		}
		return p.fetcher.FetchList(ctx)
	})
	switch {
	case err != nil && t.ctx.Err() == nil:
		p.logger.Warn("Poll failed, retrying next tick", "key", t.key, "error", err)
	case !ran:
		p.logger.Debug("Poll skipped by rate limit", "key", t.key)
	}

	p.schedule(t)
}
