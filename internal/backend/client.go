package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sudooom.im.chatsync/internal/model"
	natsclient "sudooom.im.chatsync/internal/nats"
	"sudooom.im.chatsync/pkg/proto"
)

const defaultTimeout = 5 * time.Second

// Requester 请求/应答能力，*nats.Client 实现
type Requester interface {
	RequestJSON(ctx context.Context, subject string, req, resp any) error
}

var _ Requester = (*natsclient.Client)(nil)

// Client 通过 NATS Request/Reply 访问服务端接口
type Client struct {
	requester Requester
	userID    int64
	timeout   time.Duration
	logger    *slog.Logger
}

// NewClient 创建接口客户端
func NewClient(requester Requester, userID int64, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		requester: requester,
		userID:    userID,
		timeout:   timeout,
		logger:    slog.Default(),
	}
}

// replier 带通用响应头的应答
type replier interface {
	failure() string
}

func (c *Client) call(ctx context.Context, subject string, req any, resp replier) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	if err := c.requester.RequestJSON(ctx, subject, req, resp); err != nil {
		c.logger.Debug("Backend request failed", "subject", subject, "error", err)
		return err
	}
	if msg := resp.failure(); msg != "" {
		return fmt.Errorf("%s: %s", subject, msg)
	}
	c.logger.Debug("Backend request done", "subject", subject, "cost", time.Since(start))
	return nil
}

type ack struct{ proto.Reply }

func (a *ack) failure() string { return a.Error }

type conversationsReply struct{ proto.ListConversationsResponse }

func (r *conversationsReply) failure() string { return r.Error }

type messagesReply struct{ proto.ListMessagesResponse }

func (r *messagesReply) failure() string { return r.Error }

type sendReply struct{ proto.SendMessageResponse }

func (r *sendReply) failure() string { return r.Error }

func (c *Client) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var resp conversationsReply
	req := proto.ListConversationsRequest{UserID: c.userID}
	if err := c.call(ctx, proto.SubjectAPIListConversations, req, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

func (c *Client) ListMessages(ctx context.Context, conversationID string, kind model.Kind, cursor string, limit int) (Page, error) {
	var resp messagesReply
	req := proto.ListMessagesRequest{
		UserID:         c.userID,
		ConversationID: conversationID,
		Kind:           kind,
		Cursor:         cursor,
		Limit:          limit,
	}
	if err := c.call(ctx, proto.SubjectAPIListMessages, req, &resp); err != nil {
		return Page{}, err
	}
	return Page{Messages: resp.Messages, NextCursor: resp.NextCursor}, nil
}

func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	req := proto.MarkReadRequest{UserID: c.userID, ConversationID: conversationID}
	return c.call(ctx, proto.SubjectAPIMarkRead, req, &ack{})
}

func (c *Client) SendMessage(ctx context.Context, out Outbound) (model.Message, error) {
	var resp sendReply
	req := proto.SendMessageRequest{
		UserID:         c.userID,
		ConversationID: out.ConversationID,
		Kind:           out.Kind,
		ClientMsgID:    out.ClientMsgID,
		Content:        out.Content,
		Type:           out.Type,
	}
	if err := c.call(ctx, proto.SubjectAPISendMessage, req, &resp); err != nil {
		return model.Message{}, err
	}
	msg := resp.Message
	if msg.ClientMsgID == "" {
		msg.ClientMsgID = out.ClientMsgID
	}
	return msg, nil
}

func (c *Client) DeleteConversation(ctx context.Context, conversationID string) error {
	req := proto.DeleteConversationRequest{UserID: c.userID, ConversationID: conversationID}
	return c.call(ctx, proto.SubjectAPIDeleteConversation, req, &ack{})
}

func (c *Client) UpdateSettings(ctx context.Context, conversationID string, settings Settings) error {
	req := proto.UpdateSettingsRequest{
		UserID:               c.userID,
		ConversationID:       conversationID,
		IsMuted:              settings.IsMuted,
		TempMessagesDuration: settings.TempMessagesDuration,
	}
	return c.call(ctx, proto.SubjectAPIUpdateSettings, req, &ack{})
}
