// Package database 提供记录存储的连接与迁移。
//
// 嵌入模式使用 SQLite 单文件 (modernc.org/sqlite, 纯 Go);
// 纯网络部署使用 PostgreSQL (pgxpool 管理连接, 经 pgx/stdlib 暴露为 *sql.DB)。
// 两种方言共用同一套 SQL (以 `?` 书写, Rebind 改写占位符), 不使用 ORM。
package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// Open 按配置打开记录存储, 返回 *sql.DB 与其方言。
// 配置了 POSTGRES_CONNECTION_STRING 时走 PostgreSQL, 否则打开 cfg.DBPath 处的 SQLite 文件。
func Open(ctx context.Context, cfg *config.Config) (*sql.DB, Dialect, error) {
	if cfg.UsePostgres() {
		pool, err := NewPool(ctx, cfg)
		if err != nil {
			return nil, Postgres, err
		}
		return stdlib.OpenDBFromPool(pool), Postgres, nil
	}
	db, err := OpenSQLite(ctx, cfg.DBPath)
	return db, SQLite, err
}

// OpenSQLite 打开 SQLite 文件: WAL + busy_timeout, 允许 UI 线程与监听线程并发访问。
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	dsn := sqliteURI(path, q)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	logger.Info("sqlite store opened", logger.FieldPath, path)
	return db, nil
}

// uriPathEscaper SQLite URI 中路径部分需要转义的字符: '?' 与 '#' 会截断路径, '%' 会被解码。
var uriPathEscaper = strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23")

// sqliteURI 构造 file: URI。路径转义后再拼接查询参数。
func sqliteURI(path string, q url.Values) string {
	return "file:" + uriPathEscaper.Replace(filepath.ToSlash(path)) + "?" + q.Encode()
}

// NewPool 创建 PostgreSQL 连接池。
func NewPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.PostgresConnStr == "" {
		return nil, fmt.Errorf("POSTGRES_CONNECTION_STRING is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MinConns = safeInt32(cfg.PostgresPoolMinSize, "PostgresPoolMinSize")
	poolCfg.MaxConns = safeInt32(cfg.PostgresPoolMaxSize, "PostgresPoolMaxSize")

	// AfterConnect: 设置 search_path (使用 Identifier.Sanitize 防止 SQL 注入)
	schema := cfg.PostgresSchema
	if schema != "" && schema != "public" {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres pool created",
		"min_conns", cfg.PostgresPoolMinSize,
		"max_conns", cfg.PostgresPoolMaxSize,
		"schema", schema,
	)
	return pool, nil
}

// safeInt32 将 int 安全转为 int32，超出范围时 clamp 并记录警告。
func safeInt32(v int, name string) int32 {
	if v > math.MaxInt32 {
		logger.Warn("pool config overflow, clamped to MaxInt32", "field", name, "value", v)
		return math.MaxInt32
	}
	if v < 0 {
		logger.Warn("pool config negative, clamped to 0", "field", name, "value", v)
		return 0
	}
	return int32(v)
}
