// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 先读取可选的 .env 文件, 再使用反射自动填充。
package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/errors"
	"github.com/Jetapult/Gamepac-CM-ProdCoP-Frontend-sub001/pkg/util"
)

// 存储驱动。
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverNone     = "none"
)

// 历史来源。
const (
	HistoryUpstream = "upstream"
	HistoryLocal    = "local"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 运行环境
	AppEnv     string `env:"APP_ENV" default:"production"`
	LogLevel   string `env:"LOG_LEVEL" default:"INFO"`
	ListenAddr string `env:"LISTEN_ADDR" default:":8080"`

	// Agent runtime (上游)
	AgentBaseURL           string `env:"AGENT_BASE_URL" default:"http://127.0.0.1:8000"`
	AgentAPIToken          string `env:"AGENT_API_TOKEN"`
	AgentRequestTimeoutSec int    `env:"AGENT_REQUEST_TIMEOUT_SEC" default:"0" min:"0"`
	HistorySource          string `env:"HISTORY_SOURCE" default:"upstream"`

	// 存储
	StoreDriver         string `env:"STORE_DRIVER" default:"sqlite"`
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	MigrationsDir       string `env:"MIGRATIONS_DIR" default:"migrations"`
	SQLitePath          string `env:"SQLITE_PATH" default:"data/superagent.db"`

	// 查表目录 (agent 名称 / 工具标签 / 报告类型)
	CatalogPath  string `env:"CATALOG_PATH"`
	CatalogWatch bool   `env:"CATALOG_WATCH" default:"true"`

	// API
	SendRatePerMin  int      `env:"SEND_RATE_PER_MIN" default:"20" min:"1"`
	SSEKeepaliveSec int      `env:"SSE_KEEPALIVE_SEC" default:"30" min:"1"`
	AllowedOrigins  []string `env:"ALLOWED_ORIGINS"`
}

// Load 从 .env (可选) 与环境变量加载配置并校验。
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.Wrap(err, "config.Load", "read .env")
	}
	var cfg Config
	if err := util.LoadFromEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.HistorySource = strings.ToLower(cfg.HistorySource)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查枚举字段与依赖字段。
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.PostgresConnStr == "" {
			return apperrors.Wrap(apperrors.ErrInvalidInput, "Config.Validate", "POSTGRES_CONNECTION_STRING is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return apperrors.Wrap(apperrors.ErrInvalidInput, "Config.Validate", "SQLITE_PATH is required for the sqlite driver")
		}
	case DriverNone:
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "Config.Validate", "unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.HistorySource {
	case HistoryUpstream:
	case HistoryLocal:
		if c.StoreDriver == DriverNone {
			return apperrors.Wrap(apperrors.ErrInvalidInput, "Config.Validate", "HISTORY_SOURCE=local needs a store driver")
		}
	default:
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "Config.Validate", "unknown HISTORY_SOURCE %q", c.HistorySource)
	}
	if c.PostgresPoolMinSize > c.PostgresPoolMaxSize {
		c.PostgresPoolMinSize = c.PostgresPoolMaxSize
	}
	return nil
}

// AgentRequestTimeout 0 表示不设超时, 仅由用户取消终止。
func (c *Config) AgentRequestTimeout() time.Duration {
	return time.Duration(c.AgentRequestTimeoutSec) * time.Second
}

// SSEKeepalive SSE 心跳间隔。
func (c *Config) SSEKeepalive() time.Duration {
	return time.Duration(c.SSEKeepaliveSec) * time.Second
}

// IsDevelopment 开发模式 (彩色日志, gin debug)。
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "development", "dev", "local":
		return true
	}
	return false
}
