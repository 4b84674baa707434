package engine

import (
	"context"

	"sudooom.im.chatsync/internal/kv"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/reconcile"
	"sudooom.im.chatsync/pkg/errors"
)

var _ reconcile.Fetcher = (*Engine)(nil)

// FetchConversation 拉取会话第一页消息，结果送回事件循环合并
func (e *Engine) FetchConversation(ctx context.Context, conversationID string, kind model.Kind) error {
	page, err := e.backend.ListMessages(ctx, conversationID, kind, "", e.cfg.PageSize)
	if err != nil {
		return errors.ErrFetchFailed.Wrap(err)
	}
	fresh := e.lastSeen.Fresh(ctx, conversationID, page.Messages)
	if !e.submit(func() { e.mergeMessages(conversationID, page.Messages, fresh) }) {
		return errors.ErrEngineStopped
	}
	return nil
}

// FetchList 拉取会话列表（非权威合并）
func (e *Engine) FetchList(ctx context.Context) error {
	list, err := e.backend.ListConversations(ctx)
	if err != nil {
		return errors.ErrFetchFailed.Wrap(err)
	}
	if !e.submit(func() { e.mergeList(list, false) }) {
		return errors.ErrEngineStopped
	}
	return nil
}

// mergeMessages 整批入库；只有未见过且排在已见标记之后的消息才通知
func (e *Engine) mergeMessages(conversationID string, batch, fresh []model.Message) {
	res := e.store.MergeMessages(conversationID, batch, true)
	if len(res.Removed) > 0 {
		e.logger.Info("Messages removed out of band", "conversationId", conversationID, "messageIds", res.Removed)
	}

	if len(res.Added) > 0 && len(fresh) > 0 {
		freshIDs := make(map[string]struct{}, len(fresh))
		for _, m := range fresh {
			freshIDs[m.ID] = struct{}{}
		}
		for _, m := range res.Added {
			if _, ok := freshIDs[m.ID]; ok {
				e.notify(m)
			}
		}
	}
	if res.Changed {
		e.afterMutation()
	}
	if e.viewing(conversationID) {
		e.markReadInBackground(conversationID)
	}
}

func (e *Engine) mergeList(list []model.Conversation, authoritative bool) {
	changed := e.store.MergeConversations(list, authoritative)
	if authoritative {
		e.logger.Info("Authoritative resync applied", "conversations", len(list), "changed", len(changed))
	}
	if len(changed) > 0 || authoritative {
		e.afterMutation()
	}
	if e.openID != "" && e.viewing(e.openID) {
		e.markReadInBackground(e.openID)
	}
}

// resync 权威全量同步，未读数以服务端为准；与列表轮询分开限流
func (e *Engine) resync(ctx context.Context) {
	_, err := e.poller.Limiter().Do(ctx, resyncTaskID, func(ctx context.Context) error {
		list, err := e.backend.ListConversations(ctx)
		if err != nil {
			return errors.ErrFetchFailed.Wrap(err)
		}
		e.submit(func() { e.mergeList(list, true) })
		return nil
	})
	if err != nil {
		e.logger.Warn("Resync failed, retrying next interval", "error", err)
	}
}

// Resync 立即执行一次权威同步并等待结果写入
func (e *Engine) Resync(ctx context.Context) error {
	list, err := e.backend.ListConversations(ctx)
	if err != nil {
		return errors.ErrFetchFailed.Wrap(err)
	}
	return e.call(ctx, func() { e.mergeList(list, true) })
}

func (e *Engine) scheduleResync() {
	if e.scheduler == nil || e.cfg.ResyncInterval <= 0 {
		return
	}
	e.asyncMu.Lock()
	closed := e.closed
	e.asyncMu.Unlock()
	if closed {
		return
	}

	err := e.scheduler.Schedule(resyncTaskID, e.cfg.ResyncInterval, func(ctx context.Context) {
		e.resync(e.ctx)
		e.scheduleResync()
	})
	if err != nil {
		e.logger.Warn("Failed to schedule resync", "error", err)
	}
}

// warmup 启动时：请求通知权限、恢复助手会话、全量同步、取出后台点击
func (e *Engine) warmup(ctx context.Context) {
	defer close(e.ready)
	e.dispatcher.EnsurePermission(ctx)

	if id, err := e.ActiveAssistant(ctx); err != nil {
		e.logger.Warn("Failed to load active assistant", "error", err)
	} else if id != "" {
		e.submit(func() {
			if e.store.Ensure(id, model.KindAssistant) {
				e.afterMutation()
			}
		})
	}

	e.resync(ctx)
	e.activate(ctx)
}

// activate 取出后台通知点击
func (e *Engine) activate(ctx context.Context) {
	n, err := e.dispatcher.Activate(ctx)
	if err != nil {
		e.logger.Warn("Failed to drain background clicks", "error", err)
	}
	if n > 0 {
		e.logger.Info("Background notification clicks delivered", "count", n)
	}
}

// ActiveAssistant 记住的助手会话 ID
func (e *Engine) ActiveAssistant(ctx context.Context) (string, error) {
	if e.kv == nil {
		return "", nil
	}
	id, _, err := e.kv.Get(ctx, kv.KeyActiveAssistant)
	return id, err
}

// routeIntents 收到打开会话意图时切换到该会话
func (e *Engine) routeIntents(intents <-chan model.Intent) {
	defer e.wg.Done()
	for intent := range intents {
		e.logger.Info("Opening conversation from intent",
			"conversationId", intent.ConversationID,
			"source", string(intent.Source))
		if err := e.OpenConversation(e.ctx, intent.ConversationID, intent.Kind); err != nil {
			e.logger.Warn("Failed to open conversation from intent", "conversationId", intent.ConversationID, "error", err)
		}
	}
}
