package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"recipe_recommend/internal/logger"
	"recipe_recommend/internal/recommend"
	"recipe_recommend/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix         = "RECIPE_RECOMMEND"
	defaultConfigPath = "configs/server.yaml"
)

// AppConfig 对应 configs/server.yaml
type AppConfig struct {
	recommend.Config `mapstructure:",squash"`

	Server server.Config `mapstructure:"server"`
	Log    logger.Config `mapstructure:"log"`
	Tasks  TasksConfig   `mapstructure:"tasks"`
}

// TasksConfig 异步管理任务的参数
type TasksConfig struct {
	MaxTasks int           `mapstructure:"max_tasks"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.debug", false)
	v.SetDefault("server.user_limit", 50)
	v.SetDefault("server.max_user_limit", 1000)
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.rate_burst", 0)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("tasks.max_tasks", 100)
	v.SetDefault("tasks.timeout", "10m")

	v.SetDefault("default_n", 20)
	v.SetDefault("max_n", 500)
	v.SetDefault("tie_break", "recipe_id_asc")
	v.SetDefault("artifacts.catalog.path", "")
	v.SetDefault("artifacts.user_map", "")
	v.SetDefault("artifacts.watch", false)
	v.SetDefault("artifacts.watch_debounce", "500ms")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", "60s")
	v.SetDefault("remote.max_bytes", 0)
}

// flagKeys 命令行参数到配置项的映射，命令行优先级最高
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"debug":     "server.debug",
	"log-level": "log.level",
	"catalog":   "artifacts.catalog.path",
	"user-map":  "artifacts.user_map",
	"watch":     "artifacts.watch",
}

// loadConfig 优先级：命令行参数 > 环境变量 > 配置文件 > 默认值
func loadConfig(cmd *cobra.Command, path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for name, key := range flagKeys {
		if f := cmd.Flags().Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	// 未配置 models 时使用内置的两个变体
	if len(cfg.Models) == 0 {
		cfg.Models = recommend.DefaultConfig().Models
	}
	cfg.Server.DefaultN = cfg.DefaultN
	cfg.Server.MaxN = cfg.MaxN
	return cfg, nil
}
