package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/zknotes/zknotes-bridge/internal/protocol"
)

// CreateFileNote 登记内容哈希 (已存在则复用) 并创建关联该文件的笔记。
func (c *Conn) CreateFileNote(ctx context.Context, uid int64, title, hash string, size int64) (protocol.ZkListNote, error) {
	now := time.Now().UnixMilli()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return protocol.ZkListNote{}, storeErr(err, "Store.CreateFileNote", "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var fileID int64
	err = tx.QueryRowContext(ctx, c.dialect.Rebind(`SELECT id FROM file WHERE hash = ?`), hash).Scan(&fileID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRowContext(ctx,
			c.dialect.Rebind(`INSERT INTO file (hash, size, createdate) VALUES (?, ?, ?) RETURNING id`),
			hash, size, now,
		).Scan(&fileID)
		if err != nil {
			return protocol.ZkListNote{}, storeErr(err, "Store.CreateFileNote", "insert file")
		}
	case err != nil:
		return protocol.ZkListNote{}, storeErr(err, "Store.CreateFileNote", "query file")
	}

	id := uuid.NewString()
	_, err = tx.ExecContext(ctx, c.dialect.Rebind(`
		INSERT INTO zknote (uuid, title, content, user_id, public, file_id, createdate, changeddate)
		VALUES (?, ?, '', ?, ?, ?, ?, ?)
	`), id, title, uid, false, fileID, now, now)
	if err != nil {
		return protocol.ZkListNote{}, storeErr(err, "Store.CreateFileNote", "insert note")
	}
	if err := tx.Commit(); err != nil {
		return protocol.ZkListNote{}, storeErr(err, "Store.CreateFileNote", "commit")
	}

	return protocol.ZkListNote{
		ID:          id,
		Title:       title,
		IsFile:      true,
		CreateDate:  now,
		ChangedDate: now,
	}, nil
}
