package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
)

// CreateToken 为网络客户端签发登录令牌。
func (c *Conn) CreateToken(ctx context.Context, uid int64) (string, error) {
	tok := uuid.NewString()
	if _, err := c.exec(ctx,
		`INSERT INTO token (token, user_id, tokendate) VALUES (?, ?, ?)`,
		tok, uid, time.Now().UnixMilli(),
	); err != nil {
		return "", storeErr(err, "Store.CreateToken", "insert token")
	}
	return tok, nil
}

// UserIDForToken 校验令牌并返回用户 id。过期或不存在返回 ErrUnauthorized。
func (c *Conn) UserIDForToken(ctx context.Context, tok string, expirationMS int64) (int64, error) {
	var (
		uid       int64
		tokendate int64
	)
	err := c.queryRow(ctx, `SELECT user_id, tokendate FROM token WHERE token = ?`, tok).Scan(&uid, &tokendate)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, apperrors.Wrap(apperrors.ErrUnauthorized, "Store.UserIDForToken", "invalid token")
		}
		return 0, storeErr(err, "Store.UserIDForToken", "query token")
	}
	if time.Now().UnixMilli()-tokendate > expirationMS {
		_ = c.DeleteToken(ctx, tok)
		return 0, apperrors.Wrap(apperrors.ErrUnauthorized, "Store.UserIDForToken", "token expired")
	}
	return uid, nil
}

// DeleteToken 删除令牌 (登出)。
func (c *Conn) DeleteToken(ctx context.Context, tok string) error {
	if _, err := c.exec(ctx, `DELETE FROM token WHERE token = ?`, tok); err != nil {
		return storeErr(err, "Store.DeleteToken", "delete token")
	}
	return nil
}

// PurgeTokens 删除 tokendate 早于 before 的令牌, 返回删除数量。
func (c *Conn) PurgeTokens(ctx context.Context, before int64) (int64, error) {
	res, err := c.exec(ctx, `DELETE FROM token WHERE tokendate < ?`, before)
	if err != nil {
		return 0, storeErr(err, "Store.PurgeTokens", "delete tokens")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
