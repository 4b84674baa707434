package reconcile

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Limiter 拉取限流
// 同一个 key 上一次拉取完成后 MinInterval 内的请求直接跳过，并发请求合并为一次
type Limiter struct {
	minInterval time.Duration
	group       singleflight.Group
	now         func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

// NewLimiter 创建限流器
func NewLimiter(minInterval time.Duration) *Limiter {
	return &Limiter{
		minInterval: minInterval,
		now:         time.Now,
		last:        make(map[string]time.Time),
	}
}

// Allow 距上一次完成是否已超过最小间隔
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	last, ok := l.last[key]
	return !ok || l.now().Sub(last) >= l.minInterval
}

// Do 在限流允许时执行 fn，ran 表示本次调用是否触发或加入了一次拉取
func (l *Limiter) Do(ctx context.Context, key string, fn func(ctx context.Context) error) (ran bool, err error) {
	if !l.Allow(key) {
		return false, nil
	}
	_, err, _ = l.group.Do(key, func() (any, error) {
		defer l.markDone(key)
		return nil, fn(ctx)
	})
	return true, err
}

func (l *Limiter) markDone(key string) {
	l.mu.Lock()
	l.last[key] = l.now()
	l.mu.Unlock()
}

// Forget 清除 key 的记录
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.last, key)
	l.mu.Unlock()
	l.group.Forget(key)
}

// Reset 清空全部记录
func (l *Limiter) Reset() {
	l.mu.Lock()
	clear(l.last)
	l.mu.Unlock()
}
