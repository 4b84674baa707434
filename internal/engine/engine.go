package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sudooom.im.chatsync/internal/backend"
	"sudooom.im.chatsync/internal/kv"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/notify"
	"sudooom.im.chatsync/internal/presence"
	"sudooom.im.chatsync/internal/receipt"
	"sudooom.im.chatsync/internal/reconcile"
	"sudooom.im.chatsync/internal/store"
	"sudooom.im.chatsync/internal/timer"
	"sudooom.im.chatsync/internal/workerpool"
	"sudooom.im.chatsync/pkg/errors"
)

const (
	defaultEventBuffer = 256
	defaultPageSize    = 50
	resyncTaskID       = "sync:resync"
)

// Config 引擎配置
type Config struct {
	Me             int64
	Poll           reconcile.Config
	PageSize       int
	ResyncInterval time.Duration // 0 关闭周期全量同步
	EventBuffer    int
	Notify         notify.Config
}

// Deps 外部依赖
type Deps struct {
	Channel   *presence.Channel
	Backend   backend.Backend
	Surface   notify.Surface
	Clicks    *notify.ClickQueue // 可选，后台点击通道
	KV        kv.Store           // 可选
	Scheduler *timer.Scheduler
	Pool      *workerpool.Pool
}

// Engine 会话同步引擎
// 单个事件循环协程独占 store，推送、轮询、定时器只向循环投递闭包
type Engine struct {
	cfg        Config
	channel    *presence.Channel
	backend    backend.Backend
	kv         kv.Store
	scheduler  *timer.Scheduler
	pool       *workerpool.Pool
	store      *store.Store
	tracker    *receipt.Tracker
	poller     *reconcile.Poller
	lastSeen   *reconcile.LastSeen
	dispatcher *notify.Dispatcher
	bus        *notify.IntentBus
	logger     *slog.Logger
	now        func() time.Time

	events  chan func()
	done    chan struct{}
	ready   chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool

	asyncMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup

	// 以下字段只在事件循环中访问
	subs     []*presence.Subscription
	listOpen bool
	openID   string
	openKind model.Kind
	focused  bool
	visible  bool
}

// New 创建引擎
func New(cfg Config, deps Deps) *Engine {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	cfg.Notify.Me = cfg.Me

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:       cfg,
		channel:   deps.Channel,
		backend:   deps.Backend,
		kv:        deps.KV,
		scheduler: deps.Scheduler,
		pool:      deps.Pool,
		store:     store.New(cfg.Me),
		tracker:   receipt.NewTracker(),
		lastSeen:  reconcile.NewLastSeen(deps.KV),
		bus:       notify.NewIntentBus(),
		logger:    slog.Default(),
		now:       time.Now,
		events:    make(chan func(), cfg.EventBuffer),
		done:      make(chan struct{}),
		ready:     make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		visible:   true,
	}
	e.poller = reconcile.NewPoller(cfg.Poll, e, deps.Scheduler, deps.Pool)
	e.dispatcher = notify.NewDispatcher(cfg.Notify, deps.Surface, notify.FocuserFunc(e.focusFromNotification), e.bus, deps.Scheduler, deps.Clicks)

	// 无界面运行时视为后台窗口
	e.poller.SetFocus(false)
	e.dispatcher.SetFocused(false)
	return e
}

// Run 运行事件循环直到 ctx 取消
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already running")
	}
	stop := context.AfterFunc(ctx, e.cancel)
	defer stop()

	e.subscribe()
	if err := e.dispatcher.Start(); err != nil {
		e.logger.Warn("Notification clicks unavailable", "error", err)
	}
	intents, cancelIntents := e.bus.Subscribe()
	e.wg.Add(1)
	go e.routeIntents(intents)

	e.async(e.warmup)

	connected, err := e.channel.Connect(e.ctx)
	if err != nil {
		e.logger.Warn("Push channel unavailable, relying on polling", "error", err)
	}
	e.scheduleResync()

	e.logger.Info("Sync engine started", "userId", e.cfg.Me, "connected", connected)

	for {
		select {
		case fn := <-e.events:
			fn()
		case <-e.ctx.Done():
			e.shutdown(cancelIntents)
			return nil
		}
	}
}

func (e *Engine) shutdown(cancelIntents func()) {
	close(e.done)

	e.asyncMu.Lock()
	e.closed = true
	e.asyncMu.Unlock()

	for _, sub := range e.subs {
		sub.Unsubscribe()
	}
	e.subs = nil

	e.poller.Stop()
	if e.scheduler != nil {
		e.scheduler.Cancel(resyncTaskID)
	}
	e.dispatcher.Stop()
	cancelIntents()
	e.wg.Wait()

	e.logger.Info("Sync engine stopped", "userId", e.cfg.Me)
}

// submit 投递到事件循环，引擎停止后返回 false
func (e *Engine) submit(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- fn:
		return true
	case <-e.done:
		return false
	}
}

// call 在事件循环中执行 fn 并等待完成
func (e *Engine) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		fn()
		close(finished)
	}

	select {
	case e.events <- task:
	case <-e.done:
		return errors.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-e.done:
		return errors.ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func query[T any](ctx context.Context, e *Engine, fn func() T) (T, error) {
	var out T
	if err := e.call(ctx, func() { out = fn() }); err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// async 在工作池中执行网络调用，引擎停止后不再接受
// 返回 false 表示任务没有提交，调用方负责回滚已做的乐观修改
func (e *Engine) async(fn func(ctx context.Context)) bool {
	e.asyncMu.Lock()
	if e.closed {
		e.asyncMu.Unlock()
		return false
	}
	e.wg.Add(1)
	e.asyncMu.Unlock()

	if !e.pool.TrySubmit(func() {
		defer e.wg.Done()
		fn(e.ctx)
	}) {
		e.wg.Done()
		e.logger.Warn("Async task dropped, worker pool busy")
		return false
	}
	return true
}

// afterMutation 重新计算回执，记录变化
func (e *Engine) afterMutation() {
	for _, change := range e.tracker.Recompute(e.store.List()) {
		e.logger.Debug("Receipt changed",
			"conversationId", change.ConversationID,
			"from", change.From.String(),
			"to", change.To.String())
	}
}

// Ready 启动时的首次同步完成后关闭
func (e *Engine) Ready() <-chan struct{} {
	return e.ready
}

// Connected 推送通道是否连通
func (e *Engine) Connected() bool {
	return e.channel.Connected()
}

// Intents 订阅打开会话意图，视图层消费
func (e *Engine) Intents() (<-chan model.Intent, func()) {
	return e.bus.Subscribe()
}
