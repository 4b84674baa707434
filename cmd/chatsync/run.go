package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"sudooom.im.chatsync/internal/auth"
	"sudooom.im.chatsync/internal/backend"
	"sudooom.im.chatsync/internal/config"
	"sudooom.im.chatsync/internal/engine"
	"sudooom.im.chatsync/internal/health"
	"sudooom.im.chatsync/internal/kv"
	natsclient "sudooom.im.chatsync/internal/nats"
	"sudooom.im.chatsync/internal/notify"
	"sudooom.im.chatsync/internal/presence"
	"sudooom.im.chatsync/internal/reconcile"
	"sudooom.im.chatsync/internal/repository"
	"sudooom.im.chatsync/internal/timer"
	"sudooom.im.chatsync/internal/workerpool"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine for the signed-in user",
		Long: `Run the conversation sync engine for one signed-in user.

Push events arrive over NATS or WebSocket, polling fills the gaps, and
notifications are handed to the native notification helper.

Example:
  chatsync run --token $TOKEN
  chatsync run -c ./configs/config.yaml --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			id, err := identity(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runAgent(ctx, cfg, id)
		},
	}
	cmd.Flags().String("health-addr", "", "health endpoint address")
	_ = opts.v.BindPFlag("health.addr", cmd.Flags().Lookup("health-addr"))
	return cmd
}

func runAgent(ctx context.Context, cfg *config.Config, id auth.Identity) error {
	logger := slog.Default()

	pool := workerpool.New(cfg.Sync.WorkerCount, cfg.Sync.QueueSize, logger)
	defer pool.Shutdown()

	scheduler := timer.NewScheduler(cfg.Sync.TimerTick, pool)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	var nc *natsclient.Client
	if cfg.Push.Transport == "nats" || cfg.Backend.Driver == "nats" || cfg.Notify.Surface == "nats" {
		client, err := natsclient.NewClient(cfg.NATS)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer client.Close()
		nc = client
		logger.Info("Connected to NATS", "url", cfg.NATS.URL)
	}

	rdb, store, clicks := openRedis(ctx, cfg, id.UserID)
	if rdb != nil {
		defer rdb.Close()
	}

	be, db, err := openBackend(ctx, cfg, nc, id.UserID)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	transport, err := openTransport(cfg, nc, id)
	if err != nil {
		return err
	}
	channel := presence.NewChannel(transport, id.UserID)
	defer channel.Close()

	var surface notify.Surface = notify.NewLogSurface()
	if cfg.Notify.Surface == "nats" {
		surface = notify.NewNATSSurface(nc, id.UserID)
	}

	eng := engine.New(engine.Config{
		Me: id.UserID,
		Poll: reconcile.Config{
			ConversationInterval: cfg.Poll.ConversationInterval,
			ListInterval:         cfg.Poll.ListInterval,
			BackgroundFactor:     cfg.Poll.BackgroundFactor,
			MinInterval:          cfg.Poll.MinInterval,
		},
		PageSize:       cfg.Poll.PageSize,
		ResyncInterval: cfg.Sync.ResyncInterval,
		Notify: notify.Config{
			Capacity:  cfg.Notify.Capacity,
			AutoClose: cfg.Notify.AutoClose,
			Icon:      cfg.Notify.Icon,
		},
	}, engine.Deps{
		Channel:   channel,
		Backend:   be,
		Surface:   surface,
		Clicks:    clicks,
		KV:        store,
		Scheduler: scheduler,
		Pool:      pool,
	})

	var conn *nats.Conn
	if nc != nil {
		conn = nc.Conn()
	}
	srv := startHealthServer(cfg.Health.Addr, health.NewChecker(conn, rdb, db, eng))

	logger.Info("Chat sync agent started",
		"userId", id.UserID,
		"deviceId", id.DeviceID,
		"transport", cfg.Push.Transport,
		"backend", cfg.Backend.Driver)

	err = eng.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if srv != nil {
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			logger.Warn("Health server shutdown failed", "error", serr)
		}
	}
	logger.Info("Chat sync agent stopped", "userId", id.UserID)
	return err
}

// openRedis Redis 不可用时退回内存存储，后台点击通道关闭
func openRedis(ctx context.Context, cfg *config.Config, userID int64) (*redis.Client, kv.Store, *notify.ClickQueue) {
	rdb := kv.NewRedisClient(cfg.Redis)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		slog.Warn("Redis unavailable, client state kept in memory", "addr", rdb.Options().Addr, "error", err)
		rdb.Close()
		return nil, kv.NewMemoryStore(), nil
	}
	slog.Info("Connected to Redis", "addr", rdb.Options().Addr)
	return rdb, kv.NewRedisStore(rdb, userID), notify.NewClickQueue(rdb, userID)
}

func openBackend(ctx context.Context, cfg *config.Config, nc *natsclient.Client, userID int64) (backend.Backend, *pgxpool.Pool, error) {
	switch cfg.Backend.Driver {
	case "nats":
		return backend.NewClient(nc, userID, cfg.Backend.RequestTimeout), nil, nil
	case "postgres":
		db, err := repository.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		repo := repository.NewChatRepository(db, userID)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		slog.Info("Connected to PostgreSQL", "host", cfg.Database.Host, "database", cfg.Database.Name)
		return repo, db, nil
	}
	return nil, nil, fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
}

func openTransport(cfg *config.Config, nc *natsclient.Client, id auth.Identity) (presence.Transport, error) {
	switch cfg.Push.Transport {
	case "nats":
		return presence.NewNATSTransport(nc, id.UserID), nil
	case "websocket":
		if cfg.Push.URL == "" {
			return nil, errors.New("push.url required for websocket transport")
		}
		header := http.Header{}
		header.Set("Authorization", "Bearer "+cfg.Auth.AccessToken)
		return presence.NewWSTransport(presence.WSConfig{
			URL:          cfg.Push.URL,
			Header:       header,
			ReconnectMin: cfg.Push.ReconnectMin,
			ReconnectMax: cfg.Push.ReconnectMax,
			WriteTimeout: cfg.Push.WriteTimeout,
			PingInterval: cfg.Push.PingInterval,
		}, id.UserID), nil
	}
	return nil, fmt.Errorf("unknown push transport %q", cfg.Push.Transport)
}

// startHealthServer 启动健康检查 HTTP 服务，地址为空时不启动
func startHealthServer(addr string, checker *health.Checker) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/health", checker)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if checker.Check(r.Context()).IsHealthy() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
		}
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("Health check server started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health check server failed", "error", err)
		}
	}()
	return srv
}
