package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Push     PushConfig     `mapstructure:"push"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Backend  BackendConfig  `mapstructure:"backend"`
	Poll     PollConfig     `mapstructure:"poll"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Health   HealthConfig   `mapstructure:"health"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// AuthConfig 会话身份（只读取，不签发）
type AuthConfig struct {
	AccessToken string `mapstructure:"access_token"`
	TokenSecret string `mapstructure:"token_secret"`
}

// PushConfig 推送通道
type PushConfig struct {
	Transport    string        `mapstructure:"transport"` // nats | websocket
	URL          string        `mapstructure:"url"`       // websocket 地址
	ReconnectMin time.Duration `mapstructure:"reconnect_min"`
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// BackendConfig 兜底拉取接口
type BackendConfig struct {
	Driver         string        `mapstructure:"driver"` // nats | postgres
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// PollConfig 轮询节奏
type PollConfig struct {
	ConversationInterval time.Duration `mapstructure:"conversation_interval"`
	ListInterval         time.Duration `mapstructure:"list_interval"`
	BackgroundFactor     int           `mapstructure:"background_factor"`
	MinInterval          time.Duration `mapstructure:"min_interval"`
	PageSize             int           `mapstructure:"page_size"`
}

// NotifyConfig 原生通知
type NotifyConfig struct {
	Surface   string        `mapstructure:"surface"` // nats | log
	Capacity  int           `mapstructure:"capacity"`
	AutoClose time.Duration `mapstructure:"auto_close"`
	Icon      string        `mapstructure:"icon"`
}

// SyncConfig 引擎
type SyncConfig struct {
	ResyncInterval time.Duration `mapstructure:"resync_interval"`
	WorkerCount    int           `mapstructure:"worker_count"`
	QueueSize      int           `mapstructure:"queue_size"`
	TimerTick      time.Duration `mapstructure:"timer_tick"`
}

type HealthConfig struct {
	Addr string `mapstructure:"addr"`
}

// setDefaults 默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "chatsync")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("push.transport", "nats")
	v.SetDefault("push.reconnect_min", 500*time.Millisecond)
	v.SetDefault("push.reconnect_max", 30*time.Second)
	v.SetDefault("push.write_timeout", 10*time.Second)
	v.SetDefault("push.ping_interval", 30*time.Second)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.max_reconnects", -1)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("backend.driver", "nats")
	v.SetDefault("backend.request_timeout", 5*time.Second)

	v.SetDefault("poll.conversation_interval", 3*time.Second)
	v.SetDefault("poll.list_interval", 10*time.Second)
	v.SetDefault("poll.background_factor", 4)
	v.SetDefault("poll.min_interval", time.Second)
	v.SetDefault("poll.page_size", 50)

	v.SetDefault("notify.surface", "nats")
	v.SetDefault("notify.capacity", 100)
	v.SetDefault("notify.auto_close", 8*time.Second)

	v.SetDefault("sync.resync_interval", time.Minute)
	v.SetDefault("sync.worker_count", 4)
	v.SetDefault("sync.queue_size", 256)
	v.SetDefault("sync.timer_tick", 100*time.Millisecond)

	v.SetDefault("health.addr", ":8082")
}

// New 创建带默认值和环境变量覆盖的 viper 实例
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CHATSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 从指定路径加载配置，路径为空时只使用默认值和环境变量
func Load(configPath string) (*Config, error) {
	return LoadWith(New(), configPath)
}

// LoadWith 使用给定 viper 实例加载（命令行参数已绑定到该实例）
func LoadWith(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
