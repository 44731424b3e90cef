// Package identity 本地身份存储: 记录当前登录的本地用户。
//
// 身份保存在记录存储的单值 `last_login` 中 (十进制用户 id, 空串表示已登出)。
// 它是嵌入模式下"谁在使用本实例"的唯一来源, 不存在并行的会话表。
package identity

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/zknotes/zknotes-bridge/internal/protocol"
	"github.com/zknotes/zknotes-bridge/internal/store"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// LastLoginKey 单值表中的键名。
const LastLoginKey = "last_login"

// UserID 内部用户 id。
type UserID = int64

// Conn 身份存储依赖的记录存储能力。*store.Conn 满足该接口。
type Conn interface {
	GetSingleValue(ctx context.Context, name string) (string, bool, error)
	SetSingleValue(ctx context.Context, name, value string) error
	ReadUserByID(ctx context.Context, id int64) (*store.User, error)
}

// ExtraLoginData 协作方注入的扩展登录数据回调。
type ExtraLoginData interface {
	ExtraLoginData(ctx context.Context, conn *store.Conn, uid UserID) (json.RawMessage, error)
}

// ExtraLoginDataFunc 函数适配器。
type ExtraLoginDataFunc func(ctx context.Context, conn *store.Conn, uid UserID) (json.RawMessage, error)

// ExtraLoginData 实现 ExtraLoginData。
func (f ExtraLoginDataFunc) ExtraLoginData(ctx context.Context, conn *store.Conn, uid UserID) (json.RawMessage, error) {
	return f(ctx, conn, uid)
}

// Session 账户请求的会话上下文: 当前身份及其登录档案。
type Session struct {
	UserID   UserID
	LoggedIn bool
	Profile  *protocol.LoginData
}

// GetCurrentUser 读取当前用户。缺失、为空或无法解析均视为已登出 (ok=false), 不是错误。
func GetCurrentUser(ctx context.Context, conn Conn) (UserID, bool, error) {
	raw, found, err := conn.GetSingleValue(ctx, LastLoginKey)
	if err != nil {
		return 0, false, apperrors.Coded(apperrors.ErrStore, apperrors.CodeStore,
			"Identity.GetCurrentUser", "read "+LastLoginKey, err)
	}
	raw = strings.TrimSpace(raw)
	if !found || raw == "" {
		return 0, false, nil
	}
	uid, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		logger.Warn("identity: unparsable last_login, treating as logged out", logger.FieldState, raw)
		return 0, false, nil
	}
	return uid, true, nil
}

// SetCurrentUser 记录当前用户, 覆盖旧值。
func SetCurrentUser(ctx context.Context, conn Conn, uid UserID) error {
	if err := conn.SetSingleValue(ctx, LastLoginKey, strconv.FormatInt(uid, 10)); err != nil {
		return apperrors.Coded(apperrors.ErrStore, apperrors.CodeStore,
			"Identity.SetCurrentUser", "write "+LastLoginKey, err)
	}
	return nil
}

// ClearCurrentUser 写入空值表示已登出。幂等。
func ClearCurrentUser(ctx context.Context, conn Conn) error {
	if err := conn.SetSingleValue(ctx, LastLoginKey, ""); err != nil {
		return apperrors.Coded(apperrors.ErrStore, apperrors.CodeStore,
			"Identity.ClearCurrentUser", "clear "+LastLoginKey, err)
	}
	return nil
}

// GetLoginProfile 组装完整登录档案: 用户记录 + 协作方扩展数据 (extra 可为 nil)。
func GetLoginProfile(ctx context.Context, conn *store.Conn, uid UserID, extra ExtraLoginData) (*protocol.LoginData, error) {
	u, err := conn.ReadUserByID(ctx, uid)
	if err != nil {
		return nil, apperrors.Wrap(err, "Identity.GetLoginProfile", "read user")
	}
	ld := &protocol.LoginData{
		UserID: u.ID,
		UUID:   u.UUID,
		Name:   u.Name,
		Email:  u.Email,
		Admin:  u.Admin,
		Active: u.Active,
	}
	if extra != nil {
		data, err := extra.ExtraLoginData(ctx, conn, uid)
		if err != nil {
			return nil, apperrors.Coded(apperrors.ErrCollaborator, apperrors.CodeCollaborator,
				"Identity.GetLoginProfile", "extra login data", err)
		}
		ld.Data = data
	}
	return ld, nil
}
