package notes

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/zknotes/zknotes-bridge/internal/protocol"
	"github.com/zknotes/zknotes-bridge/internal/state"
	"github.com/zknotes/zknotes-bridge/internal/store"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// MakeFileNote 将本地文件复制进内容寻址存储 (FilePath/<sha256>) 并创建关联笔记。
// 复制先写入临时目录, 哈希确定后再改名, 文件目录中不会出现半写文件。
func (s *Service) MakeFileNote(ctx context.Context, v state.View, conn *store.Conn, uid int64, name, path string) (protocol.ZkListNote, error) {
	const op = "Notes.MakeFileNote"
	cfg := v.Config

	src, err := os.Open(path)
	if err != nil {
		return protocol.ZkListNote{}, apperrors.Wrapf(err, op, "open %s", path)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return protocol.ZkListNote{}, apperrors.Wrapf(err, op, "stat %s", path)
	}
	if info.Size() > cfg.MaxUploadBytes {
		return protocol.ZkListNote{}, apperrors.Coded(apperrors.ErrInvalidInput, apperrors.CodeInvalidInput, op,
			fmt.Sprintf("%s is %s, limit is %s", name,
				humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(cfg.MaxUploadBytes))), nil)
	}

	tmp, err := os.CreateTemp(cfg.FileTmpPath, "upload-*")
	if err != nil {
		return protocol.ZkListNote{}, apperrors.Wrap(err, op, "create temp file")
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(src, cfg.MaxUploadBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return protocol.ZkListNote{}, apperrors.Wrapf(err, op, "copy %s", path)
	}
	if size > cfg.MaxUploadBytes {
		return protocol.ZkListNote{}, apperrors.Coded(apperrors.ErrInvalidInput, apperrors.CodeInvalidInput, op,
			name+" exceeds upload limit", nil)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	dst := filepath.Join(cfg.FilePath, hash)
	if _, err := os.Stat(dst); errors.Is(err, os.ErrNotExist) {
		if err := os.Rename(tmpName, dst); err != nil {
			return protocol.ZkListNote{}, apperrors.Wrap(err, op, "move into file store")
		}
	} else if err != nil {
		return protocol.ZkListNote{}, apperrors.Wrap(err, op, "stat file store")
	}

	note, err := conn.CreateFileNote(ctx, uid, name, hash, size)
	if err != nil {
		return protocol.ZkListNote{}, err
	}
	logger.Info("file note created",
		logger.FieldNoteID, note.ID,
		logger.FieldHash, hash,
		logger.FieldSize, humanize.IBytes(uint64(size)),
	)
	return note, nil
}
