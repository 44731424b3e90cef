package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zknotes/zknotes-bridge/internal/protocol"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

// Anonymous 未登录查看者的用户 id (只能访问公开笔记)。
const Anonymous int64 = 0

// ========================================
// 笔记写入
// ========================================

// SaveNote 新建 (ID 为空) 或更新笔记。只能更新自己的笔记。
func (c *Conn) SaveNote(ctx context.Context, uid int64, note protocol.SaveZkNote) (protocol.SavedZkNote, error) {
	now := time.Now().UnixMilli()

	if note.ID == "" {
		id := uuid.NewString()
		_, err := c.exec(ctx, `
			INSERT INTO zknote (uuid, title, content, user_id, public, createdate, changeddate)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, id, note.Title, note.Content, uid, note.Public, now, now)
		if err != nil {
			return protocol.SavedZkNote{}, storeErr(err, "Store.SaveNote", "insert note")
		}
		return protocol.SavedZkNote{ID: id, ChangedDate: now}, nil
	}

	if _, err := uuid.Parse(note.ID); err != nil {
		return protocol.SavedZkNote{}, apperrors.Coded(apperrors.ErrInvalidInput, apperrors.CodeInvalidInput,
			"Store.SaveNote", "invalid note id "+note.ID, err)
	}
	res, err := c.exec(ctx, `
		UPDATE zknote SET title = ?, content = ?, public = ?, changeddate = ?
		WHERE uuid = ? AND user_id = ?
	`, note.Title, note.Content, note.Public, now, note.ID, uid)
	if err != nil {
		return protocol.SavedZkNote{}, storeErr(err, "Store.SaveNote", "update note")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return protocol.SavedZkNote{}, notFound("Store.SaveNote", "note "+note.ID+" not found")
	}
	return protocol.SavedZkNote{ID: note.ID, ChangedDate: now}, nil
}

// DeleteNote 删除自己的笔记。
func (c *Conn) DeleteNote(ctx context.Context, uid int64, noteUUID string) error {
	res, err := c.exec(ctx, `DELETE FROM zknote WHERE uuid = ? AND user_id = ?`, noteUUID, uid)
	if err != nil {
		return storeErr(err, "Store.DeleteNote", "delete note")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("Store.DeleteNote", "note "+noteUUID+" not found")
	}
	return nil
}

// ========================================
// 笔记读取
// ========================================

// ReadNote 读取笔记全文。viewer 为所有者或笔记公开时可读。
func (c *Conn) ReadNote(ctx context.Context, viewer int64, noteUUID string) (protocol.ZkNote, error) {
	var (
		n      protocol.ZkNote
		owner  int64
		fileID sql.NullInt64
	)
	err := c.queryRow(ctx, `
		SELECT z.uuid, z.title, z.content, z.public, u.name, z.file_id, z.createdate, z.changeddate, z.user_id
		FROM zknote z JOIN orgauth_user u ON u.id = z.user_id
		WHERE z.uuid = ?
	`, noteUUID).Scan(&n.ID, &n.Title, &n.Content, &n.Public, &n.UserName, &fileID, &n.CreateDate, &n.ChangedDate, &owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.ZkNote{}, notFound("Store.ReadNote", "note "+noteUUID+" not found")
		}
		return protocol.ZkNote{}, storeErr(err, "Store.ReadNote", "query note")
	}
	if err := authorize(owner, viewer, n.Public, "Store.ReadNote"); err != nil {
		return protocol.ZkNote{}, err
	}
	n.IsFile = fileID.Valid
	return n, nil
}

// SearchNotes 在 viewer 自己的笔记中按标题/内容关键词搜索, 按修改时间倒序。
func (c *Conn) SearchNotes(ctx context.Context, viewer int64, search protocol.ZkNoteSearch) ([]protocol.ZkListNote, error) {
	limit := util.ClampInt(search.Limit, 1, 2000)
	if search.Limit == 0 {
		limit = 50
	}
	offset := search.Offset
	if offset < 0 {
		offset = 0
	}

	q := `SELECT uuid, title, file_id, createdate, changeddate FROM zknote WHERE user_id = ?`
	args := []any{viewer}
	if kw := strings.TrimSpace(search.Query); kw != "" {
		pattern := "%" + util.EscapeLike(strings.ToLower(kw)) + "%"
		q += ` AND (LOWER(title) LIKE ? ESCAPE '\' OR LOWER(content) LIKE ? ESCAPE '\')`
		args = append(args, pattern, pattern)
	}
	q += ` ORDER BY changeddate DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, storeErr(err, "Store.SearchNotes", "query notes")
	}
	defer rows.Close()

	notes := []protocol.ZkListNote{}
	for rows.Next() {
		var (
			ln     protocol.ZkListNote
			fileID sql.NullInt64
		)
		if err := rows.Scan(&ln.ID, &ln.Title, &fileID, &ln.CreateDate, &ln.ChangedDate); err != nil {
			return nil, storeErr(err, "Store.SearchNotes", "scan note")
		}
		ln.IsFile = fileID.Valid
		notes = append(notes, ln)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "Store.SearchNotes", "iterate notes")
	}
	return notes, nil
}

// CountNotes 统计用户的笔记数。
func (c *Conn) CountNotes(ctx context.Context, uid int64) (int64, error) {
	var n int64
	if err := c.queryRow(ctx, `SELECT COUNT(*) FROM zknote WHERE user_id = ?`, uid).Scan(&n); err != nil {
		return 0, storeErr(err, "Store.CountNotes", "count notes")
	}
	return n, nil
}

// ========================================
// 文件响应所需的解析步骤
// ========================================

// NoteIDForUUID 将对外 UUID 解析为内部笔记 id。
func (c *Conn) NoteIDForUUID(ctx context.Context, id uuid.UUID) (int64, error) {
	var nid int64
	err := c.queryRow(ctx, `SELECT id FROM zknote WHERE uuid = ?`, id.String()).Scan(&nid)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, notFound("Store.NoteIDForUUID", "note "+id.String()+" not found")
		}
		return 0, storeErr(err, "Store.NoteIDForUUID", "query note id")
	}
	return nid, nil
}

// ReadNoteFileHash 返回笔记关联文件的内容哈希。笔记存在但无文件时 ok=false。
func (c *Conn) ReadNoteFileHash(ctx context.Context, viewer, noteID int64) (string, bool, error) {
	var (
		owner  int64
		public bool
		hash   sql.NullString
	)
	err := c.queryRow(ctx, `
		SELECT z.user_id, z.public, f.hash
		FROM zknote z LEFT JOIN file f ON f.id = z.file_id
		WHERE z.id = ?
	`, noteID).Scan(&owner, &public, &hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, notFound("Store.ReadNoteFileHash", "note not found")
		}
		return "", false, storeErr(err, "Store.ReadNoteFileHash", "query file hash")
	}
	if err := authorize(owner, viewer, public, "Store.ReadNoteFileHash"); err != nil {
		return "", false, err
	}
	if !hash.Valid {
		return "", false, nil
	}
	return hash.String, true, nil
}

// ReadListNote 读取笔记列表摘要。
func (c *Conn) ReadListNote(ctx context.Context, viewer, noteID int64) (protocol.ZkListNote, error) {
	var (
		ln     protocol.ZkListNote
		owner  int64
		public bool
		fileID sql.NullInt64
	)
	err := c.queryRow(ctx, `
		SELECT uuid, title, file_id, createdate, changeddate, user_id, public
		FROM zknote WHERE id = ?
	`, noteID).Scan(&ln.ID, &ln.Title, &fileID, &ln.CreateDate, &ln.ChangedDate, &owner, &public)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.ZkListNote{}, notFound("Store.ReadListNote", "note not found")
		}
		return protocol.ZkListNote{}, storeErr(err, "Store.ReadListNote", "query list note")
	}
	if err := authorize(owner, viewer, public, "Store.ReadListNote"); err != nil {
		return protocol.ZkListNote{}, err
	}
	ln.IsFile = fileID.Valid
	return ln, nil
}

// authorize 所有者或公开笔记可读; 其余一律按不存在处理, 不泄露笔记是否存在。
func authorize(owner, viewer int64, public bool, op string) error {
	if public || (viewer != Anonymous && owner == viewer) {
		return nil
	}
	return apperrors.Coded(apperrors.ErrNotFound, apperrors.CodeNotFound, op, "note not found",
		apperrors.ErrUnauthorized)
}
