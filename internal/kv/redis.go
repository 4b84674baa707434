package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.im.chatsync/internal/config"
)

// defaultTTL 客户端状态保留时长，每次写入续期
const defaultTTL = 30 * 24 * time.Hour

// NewRedisClient 按配置创建 Redis 客户端
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisStore 以用户为命名空间的 Redis 键值存储
type RedisStore struct {
	rdb    *redis.Client
	userID int64
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore 创建 Redis 键值存储
func NewRedisStore(rdb *redis.Client, userID int64) *RedisStore {
	return &RedisStore{
		rdb:    rdb,
		userID: userID,
		ttl:    defaultTTL,
		logger: slog.Default(),
	}
}

// Get 读取，不存在时 ok=false
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.rdb.Get(ctx, BuildKey(s.userID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Set 写入并续期
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.rdb.Set(ctx, BuildKey(s.userID, key), value, s.ttl).Err(); err != nil {
		return err
	}
	s.logger.Debug("KV saved", "key", key, "userId", s.userID)
	return nil
}

// Delete 删除
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, BuildKey(s.userID, key)).Err()
}
