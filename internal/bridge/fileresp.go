package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/identity"
	"github.com/zknotes/zknotes-bridge/internal/metrics"
	"github.com/zknotes/zknotes-bridge/internal/state"
	"github.com/zknotes/zknotes-bridge/internal/store"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// FileRoutePrefix 文件检索路径前缀。
const FileRoutePrefix = "/file/"

const (
	msgFileIDRequired = "file id required: /file/<id>"
	textPlain         = "text/plain; charset=utf-8"
)

// ViewerFunc 解析文件请求的查看者。ok=false 表示匿名查看者 (只能读公开笔记)。
type ViewerFunc func(ctx context.Context, conn *store.Conn) (uid int64, ok bool, err error)

// LocalViewer 嵌入模式: 查看者即本地身份存储中的当前用户。
func LocalViewer(ctx context.Context, conn *store.Conn) (int64, bool, error) {
	return identity.GetCurrentUser(ctx, conn)
}

// ConfigSource 每次请求取一份配置快照。
type ConfigSource func() config.Config

// StateConfig 从共享状态读取配置 (读锁内克隆)。
func StateConfig(st *state.ServerState) ConfigSource {
	return func() config.Config { return st.View().Config }
}

// SnapshotConfig 固定的配置快照 (后台监听器使用)。
func SnapshotConfig(cfg config.Config) ConfigSource {
	return func() config.Config { return cfg }
}

// FileResponder 内容寻址文件响应器: /file/<uuid> → 笔记 → 内容哈希 → FilePath/<hash>。
type FileResponder struct {
	config ConfigSource
	opener Opener
}

// NewFileResponder 创建响应器。opener 为 nil 时使用 store.Open。
func NewFileResponder(src ConfigSource, opener Opener) *FileResponder {
	if opener == nil {
		opener = store.Open
	}
	return &FileResponder{config: src, opener: opener}
}

// responseError 携带 HTTP 状态与响应体的失败。
type responseError struct {
	status int
	body   string
	err    error
}

func (e *responseError) Error() string { return e.body }
func (e *responseError) Unwrap() error { return e.err }

func clientError(body string, err error) *responseError {
	return &responseError{status: http.StatusBadRequest, body: body, err: err}
}

func notFoundError(body string, err error) *responseError {
	return &responseError{status: http.StatusNotFound, body: body, err: err}
}

// serverError 500, 响应体为错误的调试表示。
func serverError(err error) *responseError {
	return &responseError{status: http.StatusInternalServerError, body: debugBody(err), err: err}
}

// lookupError store 查询失败: ErrNotFound → 404, 其余 → 500。
func lookupError(err error) *responseError {
	if errors.Is(err, apperrors.ErrNotFound) {
		return notFoundError(err.Error(), err)
	}
	return serverError(err)
}

// debugBody 错误消息 + 错误值的 Go 语法表示。
func debugBody(err error) string {
	return fmt.Sprintf("%v\n%#v", err, err)
}

// Serve 处理一次文件请求。无论成功与否, h 恰好被应答一次。
func (f *FileResponder) Serve(ctx context.Context, path string, viewer ViewerFunc, h Responder) {
	start := time.Now()
	h, body, err := f.fileresp(ctx, path, viewer, h)

	status, ctype := http.StatusOK, ""
	if err != nil {
		var re *responseError
		if !errors.As(err, &re) {
			re = serverError(err)
		}
		status, ctype, body = re.status, textPlain, []byte(re.body)
		logger.Warn("file response failed",
			logger.FieldPath, path,
			logger.FieldStatus, status,
			logger.FieldError, err,
		)
	} else {
		logger.Debug("file response",
			logger.FieldPath, path,
			logger.FieldBytes, humanize.IBytes(uint64(len(body))),
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	}

	metrics.ObserveFileResponse(status, len(body))
	if rerr := h.Respond(status, ctype, body); rerr != nil {
		logger.Error("file response not delivered", logger.FieldPath, path, logger.FieldError, rerr)
	}
}

// fileresp 解析链。每一步失败都把句柄连同错误交还给调用方, 由 Serve 统一应答。
func (f *FileResponder) fileresp(ctx context.Context, path string, viewer ViewerFunc, h Responder) (Responder, []byte, error) {
	cfg := f.config()

	h, conn, err := f.openConn(ctx, &cfg, h)
	if err != nil {
		return h, nil, err
	}
	h, id, err := parseFileID(path, h)
	if err != nil {
		return h, nil, err
	}
	h, uid, err := resolveViewer(ctx, conn, viewer, h)
	if err != nil {
		return h, nil, err
	}
	h, hash, err := resolveHash(ctx, conn, uid, id, h)
	if err != nil {
		return h, nil, err
	}
	return readBlob(cfg.FilePath, hash, h)
}

func (f *FileResponder) openConn(ctx context.Context, cfg *config.Config, h Responder) (Responder, *store.Conn, error) {
	conn, err := f.opener(ctx, cfg)
	if err != nil {
		return h, nil, serverError(err)
	}
	return h, conn, nil
}

// parseFileID 从 /file/<id> (或 /<id>) 中取出并解析 UUID。
func parseFileID(path string, h Responder) (Responder, uuid.UUID, error) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if segs[0] == strings.Trim(FileRoutePrefix, "/") {
		segs = segs[1:]
	}
	if len(segs) == 0 || segs[0] == "" {
		return h, uuid.Nil, clientError(msgFileIDRequired, apperrors.ErrInvalidInput)
	}
	seg := segs[0]
	id, err := uuid.Parse(seg)
	if err != nil {
		return h, uuid.Nil, clientError("invalid note id "+seg, errors.Join(apperrors.ErrInvalidInput, err))
	}
	return h, id, nil
}

func resolveViewer(ctx context.Context, conn *store.Conn, viewer ViewerFunc, h Responder) (Responder, int64, error) {
	if viewer == nil {
		return h, store.Anonymous, nil
	}
	uid, ok, err := viewer(ctx, conn)
	if err != nil {
		return h, 0, serverError(err)
	}
	if !ok {
		return h, store.Anonymous, nil
	}
	return h, uid, nil
}

// resolveHash UUID → 内部 id → 内容哈希; 读取列表摘要 (下载文件名)。
func resolveHash(ctx context.Context, conn *store.Conn, uid int64, id uuid.UUID, h Responder) (Responder, string, error) {
	nid, err := conn.NoteIDForUUID(ctx, id)
	if err != nil {
		return h, "", lookupError(err)
	}
	hash, ok, err := conn.ReadNoteFileHash(ctx, uid, nid)
	if err != nil {
		return h, "", lookupError(err)
	}
	if !ok {
		return h, "", notFoundError(fmt.Sprintf("file %d not found", nid), apperrors.ErrNotFound)
	}
	// 列表摘要为下载文件名预留 (Content-Disposition); 这里只要求它可读, 失败按服务端错误应答
	if _, err := conn.ReadListNote(ctx, uid, nid); err != nil {
		return h, "", serverError(err)
	}
	return h, hash, nil
}

func readBlob(dir, hash string, h Responder) (Responder, []byte, error) {
	body, err := os.ReadFile(filepath.Join(dir, hash))
	if err != nil {
		return h, nil, serverError(err)
	}
	return h, body, nil
}

// Middleware 将 /file/ 前缀的请求交给响应器, 其余请求透传给 next。
// 用于桌面壳的资源服务。
func (f *FileResponder) Middleware(viewer ViewerFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, FileRoutePrefix) {
				next.ServeHTTP(w, r)
				return
			}
			f.Serve(r.Context(), r.URL.Path, viewer, NewHTTPResponder(w))
		})
	}
}
