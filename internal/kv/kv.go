package kv

import (
	"context"
	"fmt"
	"sync"
)

const (
	// KeyPrefix 客户端持久化 Key 前缀
	// 完整格式: im:chatsync:kv:{userId}:{key}
	KeyPrefix = "im:chatsync:kv:"

	// ClickQueuePrefix 后台通知点击队列
	// 完整格式: im:chatsync:clicks:{userId}
	ClickQueuePrefix = "im:chatsync:clicks:"

	// KeyActiveAssistant 当前助手会话 ID
	KeyActiveAssistant = "assistant:active"

	// KeyLastSeenPrefix 会话最后已见消息
	KeyLastSeenPrefix = "lastseen:"
)

// BuildKey 构建用户级 Key
func BuildKey(userID int64, key string) string {
	return fmt.Sprintf("%s%d:%s", KeyPrefix, userID, key)
}

// BuildClickQueueKey 构建点击队列 Key
func BuildClickQueueKey(userID int64) string {
	return fmt.Sprintf("%s%d", ClickQueuePrefix, userID)
}

// Store 客户端键值存储
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore 进程内实现，用于测试和未配置 Redis 时
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
