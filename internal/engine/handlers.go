package engine

import (
	"context"

	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/internal/presence"
	"sudooom.im.chatsync/internal/reconcile"
	"sudooom.im.chatsync/pkg/proto"
)

// on 订阅推送事件，解码后投递到事件循环
func on[T any](e *Engine, event string, apply func(T)) *presence.Subscription {
	return e.channel.Subscribe(event, func(env proto.Envelope) {
		payload, err := proto.Decode[T](env)
		if err != nil {
			e.logger.Warn("Dropping undecodable push event", "event", event, "error", err)
			return
		}
		e.submit(func() { apply(payload) })
	})
}

func (e *Engine) subscribe() {
	e.subs = append(e.subs,
		on(e, proto.EventNewMessage, e.onNewMessage),
		on(e, proto.EventMessagesRead, e.onMessagesRead),
		on(e, proto.EventConversationUpdated, e.onConversationUpdated),
		on(e, proto.EventConversationRestored, e.onConversationRestored),
		on(e, proto.EventUserOnline, func(p proto.UserOnline) {
			e.onPresence(p.UserID, model.TierOnline, true)
		}),
		on(e, proto.EventUserOffline, func(p proto.UserOffline) {
			e.onPresence(p.UserID, model.TierOnline, false)
		}),
		on(e, proto.EventUserChatListStatus, func(p proto.UserChatListStatus) {
			e.onPresence(p.UserID, model.TierInChatList, p.InChatList)
		}),
		e.channel.OnState(func(connected bool) {
			e.submit(func() { e.onConnection(connected) })
		}),
	)
}

func (e *Engine) onNewMessage(p proto.NewMessage) {
	msg := p.Message
	if msg.ConversationID == "" {
		msg.ConversationID = p.ConversationID
	}
	e.applyMessage(msg)
}

// applyMessage 推送消息入库；新消息推进已见标记并尝试通知
func (e *Engine) applyMessage(msg model.Message) {
	res := e.store.ApplyIncomingMessage(msg)
	if !res.Applied {
		e.logger.Debug("Duplicate message ignored", "conversationId", msg.ConversationID, "messageId", msg.ID)
		return
	}
	if res.Restored {
		e.logger.Info("Conversation restored by new message", "conversationId", msg.ConversationID)
	}
	if res.Unknown {
		e.refreshList()
	}
	if res.New {
		e.async(func(ctx context.Context) { e.lastSeen.Observe(ctx, msg) })
		e.notify(msg)
		if msg.SenderID != e.cfg.Me && e.viewing(msg.ConversationID) {
			e.markReadInBackground(msg.ConversationID)
		}
	}
	e.afterMutation()
}

func (e *Engine) onMessagesRead(p proto.MessagesRead) {
	if e.store.ApplyReadReceipt(p.ConversationID, p.ReadBy, p.MessageIDs...) {
		e.afterMutation()
	}
}

func (e *Engine) onConversationUpdated(p proto.ConversationUpdated) {
	conv := p.Conversation
	if conv.ID == "" {
		conv.ID = p.ConversationID
	}
	if e.store.ApplyConversationUpdate(conv).Applied {
		e.afterMutation()
	}
}

func (e *Engine) onConversationRestored(p proto.ConversationRestored) {
	conv := p.Conversation
	if conv.ID == "" {
		conv.ID = p.ConversationID
	}
	res := e.store.RestoreConversation(conv)
	if res.Restored {
		e.logger.Info("Conversation restored", "conversationId", conv.ID)
	}
	if res.Applied {
		e.afterMutation()
	}
}

func (e *Engine) onPresence(userID int64, tier model.Tier, value bool) {
	if userID == e.cfg.Me {
		return
	}
	if changed := e.store.ApplyPresence(userID, tier, value); len(changed) > 0 {
		e.afterMutation()
	}
}

// onConnection 重连后重新上报在线层级，全量同步纠正断线期间的漂移
func (e *Engine) onConnection(connected bool) {
	if !connected {
		e.logger.Warn("Push channel lost, polling continues")
		return
	}
	if e.listOpen {
		e.channel.AnnouncePresence(model.TierInChatList, true)
	}
	e.async(func(ctx context.Context) {
		e.resync(ctx)
		e.activate(ctx)
	})
}

func (e *Engine) notify(msg model.Message) {
	conv, ok := e.store.Get(msg.ConversationID)
	if !ok {
		return
	}
	decision := e.dispatcher.Dispatch(e.ctx, msg, conv)
	e.logger.Debug("Notification decision",
		"conversationId", msg.ConversationID,
		"messageId", msg.ID,
		"decision", decision.String())
}

// viewing 会话是否在前台打开
func (e *Engine) viewing(conversationID string) bool {
	return e.openID == conversationID && e.visible
}

// refreshList 遇到未知会话时补拉列表，与列表轮询共用限流
func (e *Engine) refreshList() {
	e.async(func(ctx context.Context) {
		if _, err := e.poller.Limiter().Do(ctx, reconcile.ListKey, e.FetchList); err != nil {
			e.logger.Warn("List refresh failed", "error", err)
		}
	})
}

// focusFromNotification 点击通知把窗口拉回前台
func (e *Engine) focusFromNotification() {
	e.submit(func() { e.setFocus(true) })
}
