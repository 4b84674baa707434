package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sudooom.im.chatsync/internal/kv"
	"sudooom.im.chatsync/pkg/proto"
)

// clickTTL 后台点击在队列里的保留时长，过期的点击不再打开会话
const clickTTL = 10 * time.Minute

// ClickQueue 后台通知点击队列（Redis List）
// 通知进程在引擎不在前台时把点击推进来，引擎激活时取出
type ClickQueue struct {
	rdb    *redis.Client
	userID int64
}

// NewClickQueue 创建点击队列
func NewClickQueue(rdb *redis.Client, userID int64) *ClickQueue {
	return &ClickQueue{rdb: rdb, userID: userID}
}

// Push 追加一次点击
func (q *ClickQueue) Push(ctx context.Context, click proto.NotificationClick) error {
	if click.ClickedAt == 0 {
		click.ClickedAt = time.Now().UnixMilli()
	}
	data, err := json.Marshal(click)
	if err != nil {
		return fmt.Errorf("failed to marshal click: %w", err)
	}

	key := kv.BuildClickQueueKey(q.userID)
	pipe := q.rdb.Pipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, clickTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push click: %w", err)
	}
	return nil
}

// Drain 按先后取出全部点击，过期和无法解析的丢弃
func (q *ClickQueue) Drain(ctx context.Context) ([]proto.NotificationClick, error) {
	key := kv.BuildClickQueueKey(q.userID)
	cutoff := time.Now().Add(-clickTTL).UnixMilli()

	var clicks []proto.NotificationClick
	for {
		raw, err := q.rdb.LPop(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return clicks, nil
		}
		if err != nil {
			return clicks, err
		}
		var click proto.NotificationClick
		if err := json.Unmarshal([]byte(raw), &click); err != nil {
			continue
		}
		if click.ClickedAt < cutoff {
			continue
		}
		clicks = append(clicks, click)
	}
}
