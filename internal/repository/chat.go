package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.chatsync/internal/backend"
	"sudooom.im.chatsync/internal/config"
	"sudooom.im.chatsync/internal/model"
)

//go:embed schema.sql
var schema string

// ErrNotMember 用户不在会话中
var ErrNotMember = errors.New("user is not a member of the conversation")

// NewPool 创建 PostgreSQL 连接池
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}

// ChatRepository 直连数据库的会话仓库，实现 backend.Backend
type ChatRepository struct {
	db     *pgxpool.Pool
	userID int64
}

var _ backend.Backend = (*ChatRepository)(nil)

// NewChatRepository 创建会话仓库
func NewChatRepository(db *pgxpool.Pool, userID int64) *ChatRepository {
	return &ChatRepository{db: db, userID: userID}
}

// EnsureSchema 建表
func (r *ChatRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, schema)
	return err
}

// ListConversations 当前用户未删除的会话，按最后消息时间倒序
func (r *ChatRepository) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	query := `
		SELECT c.id, c.kind, m.is_muted, m.temp_messages_seconds,
			(SELECT array_agg(p.user_id ORDER BY p.user_id) FROM chat_members p WHERE p.conversation_id = c.id),
			(SELECT count(*) FROM chat_messages u
				WHERE u.conversation_id = c.id AND u.sender_id <> $1 AND u.read_at IS NULL),
			l.id, l.sender_id, l.content, l.msg_type, l.created_at, l.read_at
		FROM chat_members m
		JOIN chat_conversations c ON c.id = m.conversation_id
		LEFT JOIN LATERAL (
			SELECT id, sender_id, content, msg_type, created_at, read_at
			FROM chat_messages WHERE conversation_id = c.id
			ORDER BY id DESC LIMIT 1
		) l ON TRUE
		WHERE m.user_id = $1 AND m.deleted_at IS NULL
		ORDER BY l.created_at DESC NULLS LAST, c.id
	`

	rows, err := r.db.Query(ctx, query, r.userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var (
			conv        model.Conversation
			kind        string
			tempSeconds int64
			unread      int64
			lastID      *int64
			lastSender  *int64
			lastContent *string
			lastType    *string
			lastAt      *time.Time
			lastReadAt  *time.Time
		)
		err := rows.Scan(
			&conv.ID,
			&kind,
			&conv.IsMuted,
			&tempSeconds,
			&conv.Participants,
			&unread,
			&lastID,
			&lastSender,
			&lastContent,
			&lastType,
			&lastAt,
			&lastReadAt,
		)
		if err != nil {
			return nil, err
		}

		conv.Kind = model.Kind(kind)
		conv.UnreadCount = int(unread)
		conv.TempMessagesDuration = time.Duration(tempSeconds) * time.Second
		if lastID != nil {
			last := model.Message{
				ID:        strconv.FormatInt(*lastID, 10),
				SenderID:  *lastSender,
				Content:   *lastContent,
				Type:      model.MessageType(*lastType),
				CreatedAt: *lastAt,
			}
			conv.LastMessage = last.ToLastMessage()
			if last.SenderID == r.userID {
				conv.LastMessageReadState = model.ReadPending
				if lastReadAt != nil {
					conv.LastMessageReadState = model.ReadDone
				}
			}
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// ListMessages 分页拉取，cursor 为上一页最旧消息 ID
func (r *ChatRepository) ListMessages(ctx context.Context, conversationID string, kind model.Kind, cursor string, limit int) (backend.Page, error) {
	var before int64
	if cursor != "" {
		var err error
		if before, err = strconv.ParseInt(cursor, 10, 64); err != nil {
			return backend.Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, sender_id, client_msg_id, content, msg_type, created_at, read_at IS NOT NULL
		FROM chat_messages
		WHERE conversation_id = $1 AND ($2::bigint = 0 OR id < $2::bigint)
			AND EXISTS (SELECT 1 FROM chat_members WHERE conversation_id = $1 AND user_id = $3)
		ORDER BY id DESC
		LIMIT $4
	`

	rows, err := r.db.Query(ctx, query, conversationID, before, r.userID, limit)
	if err != nil {
		return backend.Page{}, err
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var (
			msg     model.Message
			id      int64
			msgType string
		)
		if err := rows.Scan(&id, &msg.SenderID, &msg.ClientMsgID, &msg.Content, &msgType, &msg.CreatedAt, &msg.Read); err != nil {
			return backend.Page{}, err
		}
		msg.ID = strconv.FormatInt(id, 10)
		msg.ConversationID = conversationID
		msg.Type = model.MessageType(msgType)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return backend.Page{}, err
	}

	page := backend.Page{}
	if len(msgs) == limit {
		page.NextCursor = msgs[len(msgs)-1].ID
	}
	slices.Reverse(msgs)
	page.Messages = msgs
	return page, nil
}

// MarkRead 把对方发来的消息标记为已读
func (r *ChatRepository) MarkRead(ctx context.Context, conversationID string) error {
	query := `
		UPDATE chat_messages SET read_at = now()
		WHERE conversation_id = $1 AND sender_id <> $2 AND read_at IS NULL
	`
	_, err := r.db.Exec(ctx, query, conversationID, r.userID)
	return err
}

// SendMessage 写入消息，同一 ClientMsgID 重复提交返回已有消息
func (r *ChatRepository) SendMessage(ctx context.Context, out backend.Outbound) (model.Message, error) {
	msg := model.Message{
		ClientMsgID:    out.ClientMsgID,
		ConversationID: out.ConversationID,
		SenderID:       r.userID,
		Content:        out.Content,
		Type:           out.Type,
	}
	if msg.Type == "" {
		msg.Type = model.MessageTypeText
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return msg, err
	}
	defer tx.Rollback(ctx)

	var member bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_members WHERE conversation_id = $1 AND user_id = $2)`,
		out.ConversationID, r.userID,
	).Scan(&member)
	if err != nil {
		return msg, err
	}
	if !member {
		return msg, ErrNotMember
	}

	var id int64
	err = tx.QueryRow(ctx, `
		SELECT id, created_at FROM chat_messages
		WHERE conversation_id = $1 AND sender_id = $2 AND client_msg_id = $3 AND client_msg_id <> ''
	`, out.ConversationID, r.userID, out.ClientMsgID).Scan(&id, &msg.CreatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		err = tx.QueryRow(ctx, `
			INSERT INTO chat_messages (conversation_id, sender_id, client_msg_id, content, msg_type)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, out.ConversationID, r.userID, out.ClientMsgID, out.Content, string(msg.Type)).Scan(&id, &msg.CreatedAt)
		if err != nil {
			return msg, err
		}
	case err != nil:
		return msg, err
	}

	// 新消息恢复所有成员已删除的会话
	if _, err := tx.Exec(ctx,
		`UPDATE chat_members SET deleted_at = NULL WHERE conversation_id = $1 AND deleted_at IS NOT NULL`,
		out.ConversationID,
	); err != nil {
		return msg, err
	}

	if err := tx.Commit(ctx); err != nil {
		return msg, err
	}
	msg.ID = strconv.FormatInt(id, 10)
	return msg, nil
}

// DeleteConversation 软删除，只影响当前用户
func (r *ChatRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE chat_members SET deleted_at = now() WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, r.userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// UpdateSettings 更新免打扰和阅后即焚时长
func (r *ChatRepository) UpdateSettings(ctx context.Context, conversationID string, settings backend.Settings) error {
	var tempSeconds *int64
	if settings.TempMessagesDuration != nil {
		s := int64(*settings.TempMessagesDuration / time.Second)
		tempSeconds = &s
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE chat_members
		SET is_muted = COALESCE($3, is_muted),
			temp_messages_seconds = COALESCE($4, temp_messages_seconds)
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, r.userID, settings.IsMuted, tempSeconds)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// CreateConversation 建会话并加入成员，测试和数据初始化使用
func (r *ChatRepository) CreateConversation(ctx context.Context, id string, kind model.Kind, members ...int64) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_conversations (id, kind) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, string(kind),
	); err != nil {
		return err
	}
	for _, userID := range members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_members (conversation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			id, userID,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
