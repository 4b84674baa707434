package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"sudooom.im.chatsync/internal/backend"
	"sudooom.im.chatsync/internal/model"
	"sudooom.im.chatsync/pkg/errors"
)

// 用户操作：先乐观修改本地状态，请求失败回滚并把错误返回给调用方

// SendMessage 发送消息，本地立即回显，服务端确认后替换为正式消息
func (e *Engine) SendMessage(ctx context.Context, conversationID, content string, msgType model.MessageType) (model.Message, error) {
	if conversationID == "" || strings.TrimSpace(content) == "" {
		return model.Message{}, errors.ErrInvalidParams
	}
	if msgType == "" {
		msgType = model.MessageTypeText
	}

	echo := model.Message{
		ClientMsgID:    uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       e.cfg.Me,
		Content:        content,
		Type:           msgType,
	}

	var (
		kind  model.Kind
		found bool
	)
	err := e.call(ctx, func() {
		conv, ok := e.store.Get(conversationID)
		if !ok {
			return
		}
		found = true
		kind = conv.Kind
		echo.CreatedAt = e.now()
		e.store.AddPending(echo)
		e.afterMutation()
	})
	if err != nil {
		return model.Message{}, err
	}
	if !found {
		return model.Message{}, errors.ErrConversationNotFound
	}

	sent, err := e.backend.SendMessage(ctx, backend.Outbound{
		ConversationID: conversationID,
		Kind:           kind,
		ClientMsgID:    echo.ClientMsgID,
		Content:        content,
		Type:           msgType,
	})
	if err != nil {
		e.logger.Warn("Send failed, dropping local echo", "conversationId", conversationID, "clientMsgId", echo.ClientMsgID, "error", err)
		e.rollback(func() { e.store.DropPending(echo.ClientMsgID) })
		return model.Message{}, errors.ErrSendFailed.Wrap(err)
	}

	if sent.ConversationID == "" {
		sent.ConversationID = conversationID
	}
	if sent.CreatedAt.IsZero() {
		sent.CreatedAt = echo.CreatedAt
	}
	e.rollback(func() {
		e.store.ConfirmPending(echo.ClientMsgID, sent)
		e.afterMutation()
	})
	e.async(func(ctx context.Context) { e.lastSeen.Observe(ctx, sent) })
	return sent, nil
}

// DeleteConversation 删除会话，失败时恢复
func (e *Engine) DeleteConversation(ctx context.Context, conversationID string) error {
	var (
		prev  model.Conversation
		found bool
	)
	err := e.call(ctx, func() {
		prev, found = e.store.RemoveConversation(conversationID)
		if !found {
			return
		}
		if e.openID == conversationID {
			e.closeConversation()
		}
		e.afterMutation()
	})
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrConversationNotFound
	}

	if err := e.backend.DeleteConversation(ctx, conversationID); err != nil {
		e.logger.Warn("Delete failed, reinstating conversation", "conversationId", conversationID, "error", err)
		e.rollback(func() {
			e.store.ReinstateConversation(prev)
			e.afterMutation()
		})
		return errors.ErrDeleteFailed.Wrap(err)
	}
	return nil
}

// SetMuted 设置免打扰
func (e *Engine) SetMuted(ctx context.Context, conversationID string, muted bool) error {
	prev, found, err := setting(ctx, e, conversationID, muted, e.store.SetMuted)
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrConversationNotFound
	}

	if err := e.backend.UpdateSettings(ctx, conversationID, backend.Settings{IsMuted: &muted}); err != nil {
		e.logger.Warn("Mute update failed, rolling back", "conversationId", conversationID, "error", err)
		e.rollback(func() { e.store.SetMuted(conversationID, prev) })
		return errors.ErrSettingsFailed.Wrap(err)
	}
	return nil
}

// SetTempMessagesDuration 设置阅后即焚时长
func (e *Engine) SetTempMessagesDuration(ctx context.Context, conversationID string, d time.Duration) error {
	if d < 0 {
		return errors.ErrInvalidParams
	}
	prev, found, err := setting(ctx, e, conversationID, d, e.store.SetTempMessagesDuration)
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrConversationNotFound
	}

	if err := e.backend.UpdateSettings(ctx, conversationID, backend.Settings{TempMessagesDuration: &d}); err != nil {
		e.logger.Warn("Temp messages update failed, rolling back", "conversationId", conversationID, "error", err)
		e.rollback(func() { e.store.SetTempMessagesDuration(conversationID, prev) })
		return errors.ErrSettingsFailed.Wrap(err)
	}
	return nil
}

func setting[T any](ctx context.Context, e *Engine, conversationID string, v T, set func(string, T) (T, bool)) (T, bool, error) {
	var (
		prev  T
		found bool
	)
	err := e.call(ctx, func() { prev, found = set(conversationID, v) })
	return prev, found, err
}

// MarkRead 标记会话已读
func (e *Engine) MarkRead(ctx context.Context, conversationID string) error {
	prev, found, err := e.clearUnread(ctx, conversationID)
	if err != nil {
		return err
	}
	if !found {
		return errors.ErrConversationNotFound
	}

	if err := e.backend.MarkRead(ctx, conversationID); err != nil {
		e.logger.Warn("Mark read failed, restoring unread", "conversationId", conversationID, "error", err)
		e.rollback(func() {
			e.store.SetUnread(conversationID, prev)
			e.afterMutation()
		})
		return errors.ErrMarkReadFailed.Wrap(err)
	}
	return nil
}

func (e *Engine) clearUnread(ctx context.Context, conversationID string) (int, bool, error) {
	var (
		prev  int
		found bool
	)
	err := e.call(ctx, func() { prev, found = e.clearUnreadLocked(conversationID) })
	return prev, found, err
}

func (e *Engine) clearUnreadLocked(conversationID string) (int, bool) {
	conv, ok := e.store.Get(conversationID)
	if !ok {
		return 0, false
	}
	if e.store.ApplyReadReceipt(conversationID, e.cfg.Me) {
		e.afterMutation()
	}
	return conv.UnreadCount, true
}

// markReadInBackground 打开会话时的自动已读，失败只记日志并恢复未读
func (e *Engine) markReadInBackground(conversationID string) {
	prev, ok := e.clearUnreadLocked(conversationID)
	if !ok || prev == 0 {
		return
	}
	submitted := e.async(func(ctx context.Context) {
		if err := e.backend.MarkRead(ctx, conversationID); err != nil {
			e.logger.Warn("Background mark read failed", "conversationId", conversationID, "error", err)
			e.submit(func() {
				e.store.SetUnread(conversationID, prev)
				e.afterMutation()
			})
		}
	})
	if !submitted {
		e.logger.Warn("Background mark read not sent, restoring unread", "conversationId", conversationID)
		e.store.SetUnread(conversationID, prev)
		e.afterMutation()
	}
}

// rollback 调用方 ctx 可能已取消，回滚仍要执行
func (e *Engine) rollback(fn func()) {
	if err := e.call(context.Background(), fn); err != nil {
		e.logger.Warn("Rollback skipped, engine stopped", "error", err)
	}
}
