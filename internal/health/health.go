package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

const (
	StateConnected     = "connected"
	StateDisconnected  = "disconnected"
	StateNotConfigured = "not configured"
)

// Status 健康状态
type Status struct {
	Service       string `json:"service"`
	NATS          string `json:"nats"`
	Redis         string `json:"redis"`
	Database      string `json:"database"`
	Push          string `json:"push"`
	Conversations int    `json:"conversations"`
	TotalUnread   int    `json:"totalUnread"`
}

// EngineProbe 同步引擎状态
type EngineProbe interface {
	Connected() bool
	Stats(ctx context.Context) (conversations, unread int, err error)
}

// Checker 健康检查器，依赖都可以为 nil
type Checker struct {
	nc          *nats.Conn
	redisClient *redis.Client
	db          *pgxpool.Pool
	engine      EngineProbe
}

// NewChecker 创建健康检查器
func NewChecker(nc *nats.Conn, redisClient *redis.Client, db *pgxpool.Pool, engine EngineProbe) *Checker {
	return &Checker{
		nc:          nc,
		redisClient: redisClient,
		db:          db,
		engine:      engine,
	}
}

// Check 执行健康检查
func (h *Checker) Check(ctx context.Context) *Status {
	status := &Status{
		Service:  "chatsync",
		NATS:     StateNotConfigured,
		Redis:    StateNotConfigured,
		Database: StateNotConfigured,
		Push:     StateNotConfigured,
	}

	if h.nc != nil {
		status.NATS = state(h.nc.IsConnected())
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if h.redisClient != nil {
		status.Redis = state(h.redisClient.Ping(ctx).Err() == nil)
	}
	if h.db != nil {
		status.Database = state(h.db.Ping(ctx) == nil)
	}

	if h.engine != nil {
		status.Push = state(h.engine.Connected())
		if convs, unread, err := h.engine.Stats(ctx); err == nil {
			status.Conversations = convs
			status.TotalUnread = unread
		}
	}

	return status
}

func state(ok bool) string {
	if ok {
		return StateConnected
	}
	return StateDisconnected
}

// IsHealthy 已配置的依赖都连通即健康，推送断开时有轮询兜底不算不健康
func (s *Status) IsHealthy() bool {
	for _, dep := range []string{s.NATS, s.Redis, s.Database} {
		if dep == StateDisconnected {
			return false
		}
	}
	return true
}

// ServeHTTP HTTP 健康检查端点
func (h *Checker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if status.IsHealthy() {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
