package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/timer"
	"sudooom.im.chatsync/pkg/proto"
)

const timerPrefix = "notify:"

// Decision 通知分发结果
type Decision int

const (
	DecisionShown       Decision = iota // 已弹出
	DecisionSelf                        // 自己发的
	DecisionDuplicate                   // 已通知过
	DecisionMuted                       // 会话免打扰
	DecisionOpen                        // 会话正在前台打开
	DecisionFocused                     // 窗口有焦点
	DecisionBadgeOnly                   // 没有通知权限，只计角标
	DecisionFailed                      // 通知出口失败
)

func (d Decision) String() string {
	switch d {
	case DecisionShown:
		return "shown"
	case DecisionSelf:
		return "self"
	case DecisionDuplicate:
		return "duplicate"
	case DecisionMuted:
		return "muted"
	case DecisionOpen:
		return "open"
	case DecisionFocused:
		return "focused"
	case DecisionBadgeOnly:
		return "badge_only"
	default:
		return "failed"
	}
}

// Focuser 点击通知后把窗口拉回前台
type Focuser interface {
	Focus()
}

// FocuserFunc 函数适配
type FocuserFunc func()

func (f FocuserFunc) Focus() { f() }

// Config 分发配置
type Config struct {
	Me        int64
	Capacity  int
	AutoClose time.Duration
	Icon      string
}

// Dispatcher 通知分发器
type Dispatcher struct {
	cfg       Config
	surface   Surface
	focuser   Focuser
	bus       *IntentBus
	scheduler *timer.Scheduler
	queue     *ClickQueue
	logger    *slog.Logger

	permOnce sync.Once
	granted  bool

	mu         sync.Mutex
	recent     *RecencySet
	shown      map[string]model.Kind // tag -> 会话类型
	focused    bool
	visible    bool
	openID     string
	unsubClick func()
}

// NewDispatcher 创建分发器，scheduler 和 queue 可以为 nil
func NewDispatcher(cfg Config, surface Surface, focuser Focuser, bus *IntentBus, scheduler *timer.Scheduler, queue *ClickQueue) *Dispatcher {
	if focuser == nil {
		focuser = FocuserFunc(func() {})
	}
	return &Dispatcher{
		cfg:       cfg,
		surface:   surface,
		focuser:   focuser,
		bus:       bus,
		scheduler: scheduler,
		queue:     queue,
		logger:    slog.Default(),
		recent:    NewRecencySet(cfg.Capacity),
		shown:     make(map[string]model.Kind),
		visible:   true,
	}
}

// Start 订阅前台点击
func (d *Dispatcher) Start() error {
	unsub, err := d.surface.OnClick(func(click proto.NotificationClick) {
		d.HandleClick(context.Background(), click, model.IntentSourceClick)
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.unsubClick = unsub
	d.mu.Unlock()
	return nil
}

// Stop 取消点击订阅并清理
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	unsub := d.unsubClick
	d.unsubClick = nil
	d.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	d.Reset()
}

// SetFocused 窗口焦点
func (d *Dispatcher) SetFocused(focused bool) {
	d.mu.Lock()
	d.focused = focused
	d.mu.Unlock()
}

// SetVisible 窗口可见性
func (d *Dispatcher) SetVisible(visible bool) {
	d.mu.Lock()
	d.visible = visible
	d.mu.Unlock()
}

// SetOpenConversation 当前打开的会话，空串表示没有
func (d *Dispatcher) SetOpenConversation(id string) {
	d.mu.Lock()
	d.openID = id
	d.mu.Unlock()
}

// EnsurePermission 只请求一次权限，失败按拒绝处理
func (d *Dispatcher) EnsurePermission(ctx context.Context) bool {
	d.permOnce.Do(func() {
		granted, err := d.surface.RequestPermission(ctx)
		if err != nil {
			d.logger.Warn("Notification permission request failed", "error", err)
		}
		d.granted = granted && err == nil
		if !d.granted {
			d.logger.Info("Notification permission denied, badge only")
		}
	})
	return d.granted
}

// Dispatch 判断新消息是否弹出通知
func (d *Dispatcher) Dispatch(ctx context.Context, msg model.Message, conv model.Conversation) Decision {
	if decision, suppressed := d.suppress(msg, conv); suppressed {
		d.logger.Debug("Notification suppressed",
			"conversationId", conv.ID,
			"messageId", msg.ID,
			"reason", decision.String())
		return decision
	}

	record := model.NotificationRecord{MessageID: msg.ID, ConversationID: conv.ID}
	if !d.EnsurePermission(ctx) {
		d.mu.Lock()
		d.recent.Add(record)
		d.mu.Unlock()
		return DecisionBadgeOnly
	}

	tag := conv.ID
	payload := proto.NotificationPayload{
		Title:          title(conv),
		Body:           msg.Preview(),
		Icon:           d.cfg.Icon,
		Tag:            tag,
		ConversationID: conv.ID,
		MessageID:      msg.ID,
	}
	if err := d.surface.Show(ctx, payload); err != nil {
		d.logger.Warn("Failed to show notification", "conversationId", conv.ID, "messageId", msg.ID, "error", err)
		return DecisionFailed
	}

	d.mu.Lock()
	d.recent.Add(record)
	d.shown[tag] = conv.Kind
	d.mu.Unlock()

	d.scheduleClose(tag)
	return DecisionShown
}

func (d *Dispatcher) suppress(msg model.Message, conv model.Conversation) (Decision, bool) {
	if msg.SenderID == d.cfg.Me {
		return DecisionSelf, true
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.recent.Contains(msg.ID):
		return DecisionDuplicate, true
	case conv.IsMuted:
		return DecisionMuted, true
	case d.openID == conv.ID && d.visible:
		return DecisionOpen, true
	case d.focused:
		return DecisionFocused, true
	}
	return DecisionShown, false
}

func title(conv model.Conversation) string {
	if conv.Kind == model.KindAssistant {
		return "AI 助手"
	}
	return "新消息"
}

func (d *Dispatcher) scheduleClose(tag string) {
	if d.scheduler == nil || d.cfg.AutoClose <= 0 {
		return
	}
	err := d.scheduler.Schedule(timerPrefix+tag, d.cfg.AutoClose, func(ctx context.Context) {
		d.mu.Lock()
		delete(d.shown, tag)
		d.mu.Unlock()
		if err := d.surface.Close(ctx, tag); err != nil {
			d.logger.Warn("Failed to close notification", "tag", tag, "error", err)
		}
	})
	if err != nil {
		d.logger.Warn("Failed to schedule notification close", "tag", tag, "error", err)
	}
}

// HandleClick 点击通知：拉回前台、关闭通知、发布打开会话意图
func (d *Dispatcher) HandleClick(ctx context.Context, click proto.NotificationClick, source model.IntentSource) {
	tag := click.Tag
	if tag == "" {
		tag = click.ConversationID
	}
	conversationID := click.ConversationID
	if conversationID == "" {
		conversationID = tag
	}
	if conversationID == "" {
		d.logger.Warn("Notification click without conversation")
		return
	}

	d.mu.Lock()
	kind := click.Kind
	if k, ok := d.shown[tag]; ok && kind == "" {
		kind = k
	}
	_, open := d.shown[tag]
	delete(d.shown, tag)
	d.mu.Unlock()

	d.focuser.Focus()
	if open {
		if d.scheduler != nil {
			d.scheduler.Cancel(timerPrefix + tag)
		}
		if err := d.surface.Close(ctx, tag); err != nil {
			d.logger.Warn("Failed to close notification", "tag", tag, "error", err)
		}
	}

	d.bus.Publish(model.Intent{ConversationID: conversationID, Kind: kind, Source: source})
}

// Activate 取出后台点击，转成同样的打开会话意图
func (d *Dispatcher) Activate(ctx context.Context) (int, error) {
	if d.queue == nil {
		return 0, nil
	}
	clicks, err := d.queue.Drain(ctx)
	for _, click := range clicks {
		d.HandleClick(ctx, click, model.IntentSourceBackground)
	}
	return len(clicks), err
}

// Notified 已记录的通知
func (d *Dispatcher) Notified() []model.NotificationRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.recent.Records()
}

// Reset 登出时清空去重记录并取消自动关闭
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	tags := make([]string, 0, len(d.shown))
	for tag := range d.shown {
		tags = append(tags, tag)
	}
	clear(d.shown)
	d.recent.Reset()
	d.openID = ""
	d.mu.Unlock()

	if d.scheduler == nil {
		return
	}
	for _, tag := range tags {
		d.scheduler.Cancel(timerPrefix + tag)
	}
}
