package store

import (
	"context"
	"database/sql"
	"errors"
)

// GetSingleValue 读取命名单值。不存在时 ok=false。
func (c *Conn) GetSingleValue(ctx context.Context, name string) (string, bool, error) {
	var val string
	err := c.queryRow(ctx, `SELECT value FROM singlevalue WHERE name = ?`, name).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, storeErr(err, "Store.GetSingleValue", "query "+name)
	}
	return val, true, nil
}

// SetSingleValue 写入命名单值, 覆盖已有值。
func (c *Conn) SetSingleValue(ctx context.Context, name, value string) error {
	_, err := c.exec(ctx, `
		INSERT INTO singlevalue (name, value)
		VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`, name, value)
	if err != nil {
		return storeErr(err, "Store.SetSingleValue", "upsert "+name)
	}
	return nil
}
