// store.go — 记录存储连接与通用执行工具。
//
// 所有表访问经 Conn 完成; SQL 统一以 `?` 书写, 由 Dialect.Rebind 适配 PostgreSQL。
// 同一 DSN 只打开一个 *sql.DB (连接池), 请求级 Open 复用该池。
package store

import (
	"context"
	"database/sql"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/database"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// Conn 记录存储连接。并发安全。
type Conn struct {
	db      *sql.DB
	dialect database.Dialect
}

// NewConn 以已打开的 *sql.DB 构造 Conn (不执行迁移)。
func NewConn(db *sql.DB, dialect database.Dialect) *Conn {
	return &Conn{db: db, dialect: dialect}
}

// DB 返回底层 *sql.DB。
func (c *Conn) DB() *sql.DB { return c.db }

// Dialect 返回 SQL 方言。
func (c *Conn) Dialect() database.Dialect { return c.dialect }

var (
	connMu    sync.RWMutex
	conns     = map[string]*Conn{}
	openGroup singleflight.Group
)

func dsnKey(cfg *config.Config) string {
	if cfg.UsePostgres() {
		return "postgres:" + cfg.PostgresConnStr + "#" + cfg.PostgresSchema
	}
	return "sqlite:" + cfg.DBPath
}

// Open 按配置取得记录存储连接。首次打开时执行迁移, 之后复用缓存的连接池。
// 同一 DSN 的并发首次打开合并为一次; 打开与迁移不受调用方取消影响。
func Open(ctx context.Context, cfg *config.Config) (*Conn, error) {
	key := dsnKey(cfg)

	connMu.RLock()
	c, ok := conns[key]
	connMu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := openGroup.Do(key, func() (any, error) {
		connMu.RLock()
		c, ok := conns[key]
		connMu.RUnlock()
		if ok {
			return c, nil
		}

		octx := context.WithoutCancel(ctx)
		db, dialect, err := database.Open(octx, cfg)
		if err != nil {
			return nil, apperrors.Coded(apperrors.ErrStore, apperrors.CodeStore, "Store.Open", "open record store", err)
		}
		if err := database.Migrate(octx, db, dialect); err != nil {
			_ = db.Close()
			return nil, apperrors.Coded(apperrors.ErrStore, apperrors.CodeStore, "Store.Open", "migrate record store", err)
		}
		c = NewConn(db, dialect)
		connMu.Lock()
		conns[key] = c
		connMu.Unlock()
		logger.Info("store: opened", logger.FieldDriver, string(dialect))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Conn), nil
}

// CloseAll 关闭所有缓存的连接池 (进程退出时调用)。
func CloseAll() {
	connMu.Lock()
	defer connMu.Unlock()
	for key, c := range conns {
		if err := c.db.Close(); err != nil {
			logger.Warn("store: close failed", logger.FieldKey, key, logger.FieldError, err)
		}
		delete(conns, key)
	}
}

// ========================================
// 执行工具
// ========================================

func (c *Conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *Conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, c.dialect.Rebind(query), args...)
}

func (c *Conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, c.dialect.Rebind(query), args...)
}

// storeErr 将底层错误归类为 ErrStore。
func storeErr(err error, op, message string) error {
	return apperrors.Coded(apperrors.ErrStore, apperrors.CodeStore, op, message, err)
}

// notFound 构造 ErrNotFound 错误。
func notFound(op, message string) error {
	return apperrors.Coded(apperrors.ErrNotFound, apperrors.CodeNotFound, op, message, nil)
}
