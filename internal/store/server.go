package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// Server 本服务实例的身份 (内部 id + 对外 UUID)。
type Server struct {
	ID   int64  `json:"id"`
	UUID string `json:"uuid"`
}

// PlaceholderServer setup 之前使用的占位身份。
var PlaceholderServer = Server{ID: 0, UUID: ""}

// DBInit 打开并迁移记录存储, 清理过期登录令牌, 返回服务实例身份 (首次运行时生成)。
func DBInit(ctx context.Context, cfg *config.Config) (Server, error) {
	conn, err := Open(ctx, cfg)
	if err != nil {
		return PlaceholderServer, err
	}

	srv, err := conn.ReadServer(ctx)
	if err != nil {
		return PlaceholderServer, err
	}

	cutoff := time.Now().UnixMilli() - cfg.LoginTokenExpirationMS
	if n, err := conn.PurgeTokens(ctx, cutoff); err != nil {
		logger.Warn("dbinit: purge expired tokens failed", logger.FieldError, err)
	} else if n > 0 {
		logger.Info("dbinit: purged expired tokens", logger.FieldCount, n)
	}

	logger.Info("dbinit: record store ready",
		logger.FieldServerID, srv.ID,
		logger.FieldUUID, srv.UUID,
		logger.FieldDriver, string(conn.dialect),
	)
	return srv, nil
}

// ReadServer 读取服务实例身份, 不存在时创建。
func (c *Conn) ReadServer(ctx context.Context) (Server, error) {
	var srv Server
	err := c.queryRow(ctx, `SELECT id, uuid FROM server ORDER BY id LIMIT 1`).Scan(&srv.ID, &srv.UUID)
	if err == nil {
		return srv, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return PlaceholderServer, storeErr(err, "Store.ReadServer", "query server")
	}

	srv.UUID = uuid.NewString()
	err = c.queryRow(ctx,
		`INSERT INTO server (uuid, createdate) VALUES (?, ?) RETURNING id`,
		srv.UUID, time.Now().UnixMilli(),
	).Scan(&srv.ID)
	if err != nil {
		return PlaceholderServer, storeErr(err, "Store.ReadServer", "insert server")
	}
	return srv, nil
}
