// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0" mapstructure:"file_key"`
//
// Defaults() 仅取 default tag; Load() 叠加环境变量; LoadFile() 先读配置文件再叠加环境变量。
package config

import (
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	pkgerr "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

// Config 服务配置。setup 完成后只读, 需要时通过 Clone() 取快照。
type Config struct {
	// 记录存储 (嵌入模式: SQLite 单文件; 纯网络部署: PostgreSQL)
	DBPath              string `env:"ZKNOTES_DB_PATH" default:"zknotes.db" mapstructure:"db_path"`
	PostgresConnStr     string `env:"POSTGRES_CONNECTION_STRING" mapstructure:"postgres_connection_string"`
	PostgresSchema      string `env:"POSTGRES_SCHEMA" default:"public" mapstructure:"postgres_schema"`
	PostgresPoolMinSize int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1" mapstructure:"postgres_pool_min_size"`
	PostgresPoolMaxSize int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1" mapstructure:"postgres_pool_max_size"`

	// 文件存储 (内容寻址: FilePath/<hash>)
	FilePath       string `env:"ZKNOTES_FILE_PATH" default:"files" mapstructure:"file_path"`
	FileTmpPath    string `env:"ZKNOTES_FILE_TMP_PATH" default:"temp" mapstructure:"file_tmp_path"`
	CreateDirs     bool   `env:"ZKNOTES_CREATEDIRS" default:"false" mapstructure:"createdirs"`
	MaxUploadBytes int64  `env:"ZKNOTES_MAX_UPLOAD_BYTES" default:"1073741824" min:"1" mapstructure:"max_upload_bytes"`

	// 运行模式
	EmbeddedMode           bool  `env:"ZKNOTES_EMBEDDED_MODE" default:"false" mapstructure:"embedded_mode"`
	OpenRegistration       bool  `env:"ZKNOTES_OPEN_REGISTRATION" default:"false" mapstructure:"open_registration"`
	LoginTokenExpirationMS int64 `env:"ZKNOTES_LOGIN_TOKEN_EXPIRATION_MS" default:"604800000" min:"1000" mapstructure:"login_token_expiration_ms"`

	// 网络监听
	ListenAddr string `env:"ZKNOTES_LISTEN_ADDR" default:"127.0.0.1:8000" mapstructure:"listen_addr"`

	// 桥接 worker 池
	WorkerPoolSize  int `env:"ZKNOTES_WORKER_POOL_SIZE" default:"4" min:"1" mapstructure:"worker_pool_size"`
	WorkerQueueSize int `env:"ZKNOTES_WORKER_QUEUE_SIZE" default:"64" min:"1" mapstructure:"worker_queue_size"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO" mapstructure:"log_level"`
}

// Defaults 返回编译期默认配置 (不读环境变量)。
func Defaults() *Config {
	var cfg Config
	util.ApplyDefaults(&cfg)
	return &cfg
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg, false)
	return &cfg
}

// LoadFile 读取配置文件 (toml/yaml/json, 按扩展名识别), 未出现的键保留默认值,
// 最后叠加已设置的环境变量。
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		util.LoadFromEnv(cfg, true)
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, pkgerr.Wrapf(err, "Config.LoadFile", "read %s", path)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, pkgerr.Wrapf(err, "Config.LoadFile", "decode %s", path)
	}
	cfg.resolveRelative(filepath.Dir(path))
	util.LoadFromEnv(cfg, true)
	return cfg, nil
}

// Clone 返回配置快照。所有字段均为值类型, 复制即深拷贝。
func (c *Config) Clone() Config {
	if c == nil {
		return *Defaults()
	}
	return *c
}

// UsePostgres 是否使用 PostgreSQL 作为记录存储。
func (c *Config) UsePostgres() bool {
	return strings.TrimSpace(c.PostgresConnStr) != ""
}

// resolveRelative 配置文件中的相对路径以配置文件所在目录为基准。
func (c *Config) resolveRelative(base string) {
	for _, p := range []*string{&c.DBPath, &c.FilePath, &c.FileTmpPath} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}
