package notify

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"sudooom.im.chatsync/internal/model"
)

const intentBuffer = 8

// IntentBus 打开会话意图的广播
// 订阅者消费太慢时丢弃，不阻塞点击路径
type IntentBus struct {
	mu     sync.Mutex
	subs   map[string]chan model.Intent
	logger *slog.Logger
}

// NewIntentBus 创建意图总线
func NewIntentBus() *IntentBus {
	return &IntentBus{
		subs:   make(map[string]chan model.Intent),
		logger: slog.Default(),
	}
}

// Subscribe 订阅意图，cancel 之后通道被关闭
func (b *IntentBus) Subscribe() (<-chan model.Intent, func()) {
	id := uuid.NewString()
	ch := make(chan model.Intent, intentBuffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish 投递意图
func (b *IntentBus) Publish(intent model.Intent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- intent:
		default:
			b.logger.Warn("Intent subscriber full, dropping", "subscriber", id, "conversationId", intent.ConversationID)
		}
	}
}
