package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"sudooom.im.chatsync/internal/auth"
	"sudooom.im.chatsync/internal/config"
)

const defaultConfigPath = "configs/config.yaml"

// rootOptions 全局参数
type rootOptions struct {
	v          *viper.Viper
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:           "chatsync",
		Short:         "Headless conversation sync agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "config file path (empty for env only)")
	flags.String("log-level", "info", "log level (debug|info|warn|error)")
	flags.String("token", "", "access token of the signed-in user")
	_ = opts.v.BindPFlag("app.log_level", flags.Lookup("log-level"))
	_ = opts.v.BindPFlag("auth.access_token", flags.Lookup("token"))

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newClickCommand(opts))
	return cmd
}

// load 加载配置并初始化日志
func (o *rootOptions) load() (*config.Config, error) {
	path := o.configPath
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			if path != defaultConfigPath {
				return nil, fmt.Errorf("config file: %w", err)
			}
			path = ""
		}
	}
	cfg, err := config.LoadWith(o.v, path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.App.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger.With("service", cfg.App.Name))
	return cfg, nil
}

// identity 从 access token 读取当前用户
func identity(cfg *config.Config) (auth.Identity, error) {
	if cfg.Auth.AccessToken == "" {
		return auth.Identity{}, fmt.Errorf("access token required (--token or CHATSYNC_AUTH_ACCESS_TOKEN)")
	}
	id, err := auth.FromAccessToken(cfg.Auth.AccessToken, cfg.Auth.TokenSecret)
	if err != nil {
		return auth.Identity{}, err
	}
	return id, nil
}
