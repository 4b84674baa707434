package engine

import (
	"context"

	"sudooom.im.chatsync/internal/kv"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/receipt"
	"sudooom.im.chatsync/pkg/errors"
)

// OpenList 进入会话列表：上报 in_chat_list，开始列表轮询
func (e *Engine) OpenList(ctx context.Context) error {
	return e.call(ctx, func() {
		if e.listOpen {
			return
		}
		e.listOpen = true
		e.channel.AnnouncePresence(model.TierInChatList, true)
		e.poller.StartListPolling(e.cfg.Poll.ListInterval)
	})
}

// CloseList 离开会话列表
func (e *Engine) CloseList(ctx context.Context) error {
	return e.call(ctx, e.closeList)
}

func (e *Engine) closeList() {
	if !e.listOpen {
		return
	}
	e.listOpen = false
	e.channel.AnnouncePresence(model.TierInChatList, false)
	e.poller.StopListPolling()
}

// OpenConversation 打开会话：加入房间、开始轮询、清零未读
// 切换会话时先离开之前的房间
func (e *Engine) OpenConversation(ctx context.Context, conversationID string, kind model.Kind) error {
	if conversationID == "" {
		return errors.ErrInvalidParams
	}

	var openErr error
	err := e.call(ctx, func() {
		if !kind.Valid() {
			conv, ok := e.store.Get(conversationID)
			if !ok {
				openErr = errors.ErrConversationNotFound
				return
			}
			kind = conv.Kind
		}
		if e.openID == conversationID {
			return
		}
		e.closeConversation()

		if e.store.Ensure(conversationID, kind) {
			e.afterMutation()
		}
		e.openID = conversationID
		e.openKind = kind
		e.channel.JoinConversation(conversationID)
		e.dispatcher.SetOpenConversation(conversationID)
		e.poller.StartPolling(conversationID, kind, e.cfg.Poll.ConversationInterval)

		if kind == model.KindAssistant && e.kv != nil {
			e.async(func(ctx context.Context) {
				if err := e.kv.Set(ctx, kv.KeyActiveAssistant, conversationID); err != nil {
					e.logger.Warn("Failed to remember assistant conversation", "conversationId", conversationID, "error", err)
				}
			})
		}
		if e.visible {
			e.markReadInBackground(conversationID)
		}
		e.logger.Debug("Conversation opened", "conversationId", conversationID, "kind", string(kind))
	})
	if err != nil {
		return err
	}
	return openErr
}

// CloseConversation 关闭当前会话
func (e *Engine) CloseConversation(ctx context.Context) error {
	return e.call(ctx, e.closeConversation)
}

func (e *Engine) closeConversation() {
	if e.openID == "" {
		return
	}
	e.channel.LeaveConversation(e.openID)
	e.dispatcher.SetOpenConversation("")
	e.poller.StopPolling()
	e.logger.Debug("Conversation closed", "conversationId", e.openID)
	e.openID = ""
	e.openKind = ""
}

// Current 当前打开的会话，未打开时为空
func (e *Engine) Current(ctx context.Context) (string, error) {
	return query(ctx, e, func() string { return e.openID })
}

// SetFocus 窗口焦点变化
func (e *Engine) SetFocus(ctx context.Context, focused bool) error {
	return e.call(ctx, func() { e.setFocus(focused) })
}

func (e *Engine) setFocus(focused bool) {
	regained := focused && !e.focused
	e.focused = focused
	e.dispatcher.SetFocused(focused)
	e.poller.SetFocus(focused)
	if regained {
		e.async(e.activate)
	}
}

// SetVisible 窗口可见性变化，重新可见时当前会话清零未读
func (e *Engine) SetVisible(ctx context.Context, visible bool) error {
	return e.call(ctx, func() {
		regained := visible && !e.visible
		e.visible = visible
		e.dispatcher.SetVisible(visible)
		e.poller.SetVisible(visible)
		if regained && e.openID != "" {
			e.markReadInBackground(e.openID)
		}
	})
}

// Refresh 手动刷新
func (e *Engine) Refresh(ctx context.Context) error {
	return e.call(ctx, e.poller.Refresh)
}

// Logout 登出：停止轮询、离开房间、清空本地状态和通知记录
func (e *Engine) Logout(ctx context.Context) error {
	err := e.call(ctx, func() {
		e.closeConversation()
		e.closeList()
		e.store.Reset()
		e.tracker.Reset()
		e.lastSeen.Reset()
		e.poller.Limiter().Reset()
		e.dispatcher.Reset()
	})
	if err != nil {
		return err
	}
	if e.kv != nil {
		if err := e.kv.Delete(ctx, kv.KeyActiveAssistant); err != nil {
			e.logger.Warn("Failed to forget assistant conversation", "error", err)
		}
	}
	e.logger.Info("Logged out", "userId", e.cfg.Me)
	return nil
}

// Conversations 会话列表快照
func (e *Engine) Conversations(ctx context.Context) ([]model.Conversation, error) {
	return query(ctx, e, e.store.List)
}

// Snapshot 会话列表与总未读
func (e *Engine) Snapshot(ctx context.Context) (model.Snapshot, error) {
	return query(ctx, e, e.store.Snapshot)
}

// Conversation 单个会话
func (e *Engine) Conversation(ctx context.Context, conversationID string) (model.Conversation, bool, error) {
	type result struct {
		conv model.Conversation
		ok   bool
	}
	r, err := query(ctx, e, func() result {
		conv, ok := e.store.Get(conversationID)
		return result{conv, ok}
	})
	return r.conv, r.ok, err
}

// TotalUnread 总未读数
func (e *Engine) TotalUnread(ctx context.Context) (int, error) {
	return query(ctx, e, e.store.TotalUnread)
}

// Stats 会话数和总未读，供健康检查使用
func (e *Engine) Stats(ctx context.Context) (int, int, error) {
	snap, err := e.Snapshot(ctx)
	if err != nil {
		return 0, 0, err
	}
	return len(snap.Conversations), snap.TotalUnread, nil
}

// MessageView 带回执的消息
type MessageView struct {
	model.Message
	Receipt receipt.Receipt `json:"receipt"`
}

// Messages 会话消息（按时间升序）及每条消息的回执
func (e *Engine) Messages(ctx context.Context, conversationID string) ([]MessageView, error) {
	return query(ctx, e, func() []MessageView {
		conv, ok := e.store.Get(conversationID)
		if !ok {
			return nil
		}
		msgs := e.store.Messages(conversationID)
		views := make([]MessageView, 0, len(msgs))
		for _, m := range msgs {
			views = append(views, MessageView{Message: m, Receipt: receipt.ForMessage(m, conv, e.cfg.Me)})
		}
		return views
	})
}

// Receipts 每个会话最后一条消息的回执
func (e *Engine) Receipts(ctx context.Context) (map[string]receipt.Receipt, error) {
	return query(ctx, e, func() map[string]receipt.Receipt {
		out := make(map[string]receipt.Receipt)
		for _, conv := range e.store.List() {
			out[conv.ID] = e.tracker.Get(conv.ID)
		}
		return out
	})
}

// Notified 已弹出的通知
func (e *Engine) Notified() []model.NotificationRecord {
	return e.dispatcher.Notified()
}
