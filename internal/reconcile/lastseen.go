package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.chatsync/internal/kv"
	"sudooom.im.chatsync/internal/model"
)

// seenMark 已见到的最新消息
type seenMark struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

// precedes 标记是否早于消息
func (m seenMark) precedes(msg *model.Message) bool {
	return m.precedesMark(seenMark{ID: msg.ID, CreatedAt: msg.CreatedAt})
}

func (m seenMark) precedesMark(o seenMark) bool {
	if !o.CreatedAt.Equal(m.CreatedAt) {
		return o.CreatedAt.After(m.CreatedAt)
	}
	return o.ID > m.ID
}

// LastSeen 每个会话最后已见消息的缓存，决定哪些拉取结果算"新消息"
// 整批消息仍然全部合并进存储，这里只影响通知
type LastSeen struct {
	store  kv.Store
	logger *slog.Logger

	mu    sync.Mutex
	marks map[string]seenMark
}

// NewLastSeen 创建缓存，store 为 nil 时不持久化
func NewLastSeen(store kv.Store) *LastSeen {
	return &LastSeen{
		store:  store,
		logger: slog.Default(),
		marks:  make(map[string]seenMark),
	}
}

// Fresh 返回 batch 中排在已见标记之后的消息并推进标记
// 首次见到会话时只建立标记，不返回任何消息
func (c *LastSeen) Fresh(ctx context.Context, conversationID string, batch []model.Message) []model.Message {
	if len(batch) == 0 {
		return nil
	}

	c.mu.Lock()
	mark, ok := c.marks[conversationID]
	c.mu.Unlock()
	if !ok {
		mark, ok = c.load(ctx, conversationID)
	}

	var fresh []model.Message
	newest := mark
	for i := range batch {
		m := &batch[i]
		if m.ID == "" {
			continue
		}
		if ok && mark.precedes(m) {
			fresh = append(fresh, *m)
		}
		if newest.ID == "" || newest.precedes(m) {
			newest = seenMark{ID: m.ID, CreatedAt: m.CreatedAt}
		}
	}

	c.mu.Lock()
	// 推送可能在拉取期间推进了标记
	if cur, has := c.marks[conversationID]; has && !cur.precedesMark(newest) {
		newest = cur
	}
	advanced := newest != mark
	c.marks[conversationID] = newest
	c.mu.Unlock()

	if advanced {
		c.save(ctx, conversationID, newest)
	}
	return fresh
}

// Observe 推送消息也推进标记，避免随后的轮询把它当新消息
func (c *LastSeen) Observe(ctx context.Context, msg model.Message) {
	c.mu.Lock()
	mark, ok := c.marks[msg.ConversationID]
	if ok && !mark.precedes(&msg) {
		c.mu.Unlock()
		return
	}
	next := seenMark{ID: msg.ID, CreatedAt: msg.CreatedAt}
	c.marks[msg.ConversationID] = next
	c.mu.Unlock()

	c.save(ctx, msg.ConversationID, next)
}

// ID 会话最后已见消息 ID
func (c *LastSeen) ID(conversationID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.marks[conversationID].ID
}

// Reset 清空内存标记（登出）
func (c *LastSeen) Reset() {
	c.mu.Lock()
	clear(c.marks)
	c.mu.Unlock()
}

func (c *LastSeen) load(ctx context.Context, conversationID string) (seenMark, bool) {
	if c.store == nil {
		return seenMark{}, false
	}
	raw, ok, err := c.store.Get(ctx, kv.KeyLastSeenPrefix+conversationID)
	if err != nil {
		c.logger.Warn("Failed to load last seen", "conversationId", conversationID, "error", err)
		return seenMark{}, false
	}
	if !ok {
		return seenMark{}, false
	}
	var mark seenMark
	if err := json.Unmarshal([]byte(raw), &mark); err != nil {
		c.logger.Warn("Corrupt last seen entry", "conversationId", conversationID, "error", err)
		return seenMark{}, false
	}
	return mark, true
}

func (c *LastSeen) save(ctx context.Context, conversationID string, mark seenMark) {
	if c.store == nil {
		return
	}
	data, err := json.Marshal(mark)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, kv.KeyLastSeenPrefix+conversationID, string(data)); err != nil {
		c.logger.Warn("Failed to save last seen", "conversationId", conversationID, "error", err)
	}
}
