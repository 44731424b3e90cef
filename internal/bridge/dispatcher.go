// Package bridge UI 与内嵌服务之间的请求桥接。
//
// 两部分:
//   - Dispatcher: 将 private / public / user / tauri 四类消息分派给业务协作方,
//     所有失败都转成带类型的回复, 从不以传输层错误返回
//   - FileResponder: /file/<uuid> 内容寻址文件检索, 单次使用的响应句柄在每条路径上恰好应答一次
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/identity"
	"github.com/zknotes/zknotes-bridge/internal/jobs"
	"github.com/zknotes/zknotes-bridge/internal/metrics"
	"github.com/zknotes/zknotes-bridge/internal/protocol"
	"github.com/zknotes/zknotes-bridge/internal/state"
	"github.com/zknotes/zknotes-bridge/internal/store"
	"github.com/zknotes/zknotes-bridge/internal/worker"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

// 回复中的固定错误消息。
const (
	MsgNotLoggedIn      = "not logged in"
	MsgErrorSavingLogin = "error saving last login"
)

// slowThreshold 超过该耗时的调用以 Warn 记录。
const slowThreshold = 2 * time.Second

// ========================================
// 协作方接口
// ========================================

// Opener 按配置打开记录存储。
type Opener func(ctx context.Context, cfg *config.Config) (*store.Conn, error)

// Clock 回复时间戳来源。
type Clock func() (time.Time, error)

// SystemClock 系统时钟。
func SystemClock() (time.Time, error) { return time.Now(), nil }

// PrivateHandler 已登录请求的业务逻辑。
type PrivateHandler interface {
	Private(ctx context.Context, v state.View, conn *store.Conn, uid int64, msg protocol.PrivateMessage) (protocol.PrivateReplyMessage, error)
}

// PublicHandler 公开请求的业务逻辑。
type PublicHandler interface {
	Public(ctx context.Context, v state.View, conn *store.Conn, msg protocol.PublicMessage) (protocol.PublicReplyMessage, error)
}

// UserHandler 账户请求的业务逻辑。
type UserHandler interface {
	User(ctx context.Context, v state.View, conn *store.Conn, session identity.Session, msg protocol.UserRequestMessage) (protocol.UserResponseMessage, error)
}

// FileNoteMaker 由本地文件创建文件笔记。
type FileNoteMaker interface {
	MakeFileNote(ctx context.Context, v state.View, conn *store.Conn, uid int64, name, path string) (protocol.ZkListNote, error)
}

// FilePicker 宿主的文件选择能力。用户取消时返回空列表, 不是错误。
type FilePicker interface {
	PickFiles(ctx context.Context) ([]string, error)
}

// Deps Dispatcher 的依赖。State 必填; Opener / Clock / Pool 为空时使用默认实现。
type Deps struct {
	State     *state.ServerState
	Private   PrivateHandler
	Public    PublicHandler
	User      UserHandler
	FileNotes FileNoteMaker
	Picker    FilePicker
	Extra     identity.ExtraLoginData
	Pool      *worker.Pool
	Clock     Clock
	Opener    Opener
}

// Dispatcher 请求分派器。并发安全。
type Dispatcher struct {
	deps    Deps
	ownPool bool
	seq     atomic.Int64
}

// New 创建分派器。
func New(deps Deps) *Dispatcher {
	d := &Dispatcher{deps: deps}
	if d.deps.Opener == nil {
		d.deps.Opener = store.Open
	}
	if d.deps.Clock == nil {
		d.deps.Clock = SystemClock
	}
	if d.deps.Pool == nil {
		cfg := deps.State.View().Config
		d.deps.Pool = worker.New(cfg.WorkerPoolSize, cfg.WorkerQueueSize)
		d.ownPool = true
	}
	return d
}

// Close 释放自建的 worker 池。
func (d *Dispatcher) Close() {
	if d.ownPool {
		d.deps.Pool.Close()
	}
}

// ========================================
// 调用日志
// ========================================

type call struct {
	family string
	kind   string
	reqID  int64
	start  time.Time
	log    *slog.Logger
}

func (d *Dispatcher) begin(family, kind string) *call {
	c := &call{
		family: family,
		kind:   kind,
		reqID:  d.seq.Add(1),
		start:  time.Now(),
	}
	c.log = logger.With(logger.FieldTraceID, xid.New().String(), logger.FieldComponent, "bridge."+family)
	c.log.Debug("bridge call begin", logger.FieldReqID, c.reqID, logger.FieldMethod, kind)
	return c
}

func (c *call) done(err error) {
	elapsed := time.Since(c.start)
	outcome := metrics.OutcomeOK
	switch {
	case err != nil:
		outcome = metrics.OutcomeError
		c.log.Warn("bridge call failed",
			logger.FieldReqID, c.reqID,
			logger.FieldMethod, c.kind,
			logger.FieldDurationMS, elapsed.Milliseconds(),
			logger.FieldError, err)
	case elapsed >= slowThreshold:
		c.log.Warn("bridge call slow",
			logger.FieldReqID, c.reqID,
			logger.FieldMethod, c.kind,
			logger.FieldDurationMS, elapsed.Milliseconds())
	default:
		c.log.Info("bridge call done",
			logger.FieldReqID, c.reqID,
			logger.FieldMethod, c.kind,
			logger.FieldDurationMS, elapsed.Milliseconds())
	}
	metrics.ObserveRequest(c.family, c.kind, outcome, elapsed)
}

// utcMillis 取回复时间戳。时钟失败时返回 0, 回复照常产出。
func (d *Dispatcher) utcMillis() int64 {
	t, err := d.deps.Clock()
	if err == nil && t.Before(time.Unix(0, 0)) {
		err = fmt.Errorf("clock before unix epoch: %s", t)
	}
	if err != nil {
		logger.Warn("bridge: timestamp unavailable",
			logger.FieldError, apperrors.Coded(apperrors.ErrClock, apperrors.CodeClock, "Dispatcher.Timestamp", "read clock", err))
		return 0
	}
	return t.UnixMilli()
}

func (d *Dispatcher) open(ctx context.Context, v *state.View) (*store.Conn, error) {
	conn, err := d.deps.Opener(ctx, &v.Config)
	if err != nil {
		return nil, apperrors.Coded(apperrors.ErrStore, apperrors.CodeStore, "Dispatcher.Open", "open record store", err)
	}
	return conn, nil
}

func notLoggedIn(op string) error {
	return apperrors.Coded(apperrors.ErrNotLoggedIn, apperrors.CodeNotLoggedIn, op, MsgNotLoggedIn, nil)
}

func missingCollaborator(op, name string) error {
	return apperrors.Coded(apperrors.ErrCollaborator, apperrors.CodeCollaborator, op, name+" is not configured", nil)
}

// ========================================
// Greet / LoginData
// ========================================

// Greet 连通性探测。
func (d *Dispatcher) Greet(name string) string {
	return fmt.Sprintf("Hello, %s!", name)
}

// LoginData 返回当前本地用户的登录档案; 未登录时返回 nil, nil。
func (d *Dispatcher) LoginData(ctx context.Context) (*protocol.LoginData, error) {
	c := d.begin("user", "login_data")
	ld, err := d.loginData(ctx)
	c.done(err)
	return ld, err
}

func (d *Dispatcher) loginData(ctx context.Context) (*protocol.LoginData, error) {
	v := d.deps.State.View()
	conn, err := d.open(ctx, &v)
	if err != nil {
		return nil, err
	}
	uid, ok, err := identity.GetCurrentUser(ctx, conn)
	if err != nil || !ok {
		return nil, err
	}
	return identity.GetLoginProfile(ctx, conn, uid, d.deps.Extra)
}

// ========================================
// Private
// ========================================

// Private 分派已登录请求。总是返回一个回复; ClosureID 原样回显。
func (d *Dispatcher) Private(ctx context.Context, msg protocol.PrivateMessage) protocol.PrivateTimedData {
	c := d.begin("private", string(msg.What))
	reply, err := d.private(ctx, msg)
	if err != nil {
		reply = protocol.PrivateServerError(err.Error())
	}
	reply.ClosureID = msg.ClosureID
	td := protocol.PrivateTimedData{UTCMillis: d.utcMillis(), Data: reply}
	c.done(err)
	return td
}

func (d *Dispatcher) private(ctx context.Context, msg protocol.PrivateMessage) (protocol.PrivateReplyMessage, error) {
	const op = "Dispatcher.Private"
	if d.deps.Private == nil {
		return protocol.PrivateReplyMessage{}, missingCollaborator(op, "private handler")
	}

	v := d.deps.State.View()
	conn, err := d.open(ctx, &v)
	if err != nil {
		return protocol.PrivateReplyMessage{}, err
	}
	uid, ok, err := identity.GetCurrentUser(ctx, conn)
	if err != nil {
		return protocol.PrivateReplyMessage{}, err
	}
	if !ok {
		return protocol.PrivateReplyMessage{}, notLoggedIn(op)
	}

	var reply protocol.PrivateReplyMessage
	err = d.deps.Pool.Do(ctx, func(ctx context.Context) error {
		var cerr error
		reply, cerr = d.deps.Private.Private(ctx, v, conn, uid, msg)
		return cerr
	})
	if err != nil {
		return protocol.PrivateReplyMessage{}, err
	}
	return reply, nil
}

// ========================================
// Public
// ========================================

// Public 分派公开请求, 在调用方 goroutine 中同步执行。
func (d *Dispatcher) Public(ctx context.Context, msg protocol.PublicMessage) protocol.PublicTimedData {
	c := d.begin("public", string(msg.What))
	reply, err := d.public(ctx, msg)
	if err != nil {
		reply = protocol.PublicServerError(err.Error())
	}
	td := protocol.PublicTimedData{UTCMillis: d.utcMillis(), Data: reply}
	c.done(err)
	return td
}

func (d *Dispatcher) public(ctx context.Context, msg protocol.PublicMessage) (protocol.PublicReplyMessage, error) {
	if d.deps.Public == nil {
		return protocol.PublicReplyMessage{}, missingCollaborator("Dispatcher.Public", "public handler")
	}
	v := d.deps.State.View()
	conn, err := d.open(ctx, &v)
	if err != nil {
		return protocol.PublicReplyMessage{}, err
	}
	var reply protocol.PublicReplyMessage
	err = util.CallSafely(func() error {
		var cerr error
		reply, cerr = d.deps.Public.Public(ctx, v, conn, msg)
		return cerr
	})
	return reply, err
}

// ========================================
// User
// ========================================

// User 分派账户请求。LoggedIn / LoggedOut 回复会先持久化本地身份,
// 持久化失败时整个回复改为 ServerError。
func (d *Dispatcher) User(ctx context.Context, msg protocol.UserRequestMessage) protocol.UserResponseMessage {
	c := d.begin("user", string(msg.What))
	resp, err := d.user(ctx, msg)
	if err != nil {
		resp = protocol.UserServerError(err.Error())
	}
	c.done(err)
	return resp
}

func (d *Dispatcher) user(ctx context.Context, msg protocol.UserRequestMessage) (protocol.UserResponseMessage, error) {
	const op = "Dispatcher.User"
	if d.deps.User == nil {
		return protocol.UserResponseMessage{}, missingCollaborator(op, "user handler")
	}

	v := d.deps.State.View()
	conn, err := d.open(ctx, &v)
	if err != nil {
		return protocol.UserResponseMessage{}, err
	}
	session, err := d.session(ctx, conn)
	if err != nil {
		return protocol.UserResponseMessage{}, err
	}

	var resp protocol.UserResponseMessage
	err = d.deps.Pool.Do(ctx, func(ctx context.Context) error {
		var cerr error
		resp, cerr = d.deps.User.User(ctx, v, conn, session, msg)
		return cerr
	})
	if err != nil {
		return protocol.UserResponseMessage{}, err
	}

	switch resp.What {
	case protocol.UrpLoggedIn:
		uid, err := LoginUserID(resp.Data)
		if err == nil {
			err = identity.SetCurrentUser(ctx, conn, uid)
		}
		if err != nil {
			logger.Error("bridge: persist login failed", logger.FieldError, err)
			return protocol.UserServerError(MsgErrorSavingLogin), nil
		}
		logger.Info("local user logged in", logger.FieldUserID, uid)
	case protocol.UrpLoggedOut:
		if err := identity.ClearCurrentUser(ctx, conn); err != nil {
			logger.Error("bridge: persist logout failed", logger.FieldError, err)
			return protocol.UserServerError(MsgErrorSavingLogin), nil
		}
		logger.Info("local user logged out", logger.FieldUserID, session.UserID)
	}
	return resp, nil
}

// session 解析账户请求的会话上下文。身份指向已不存在的用户时按已登出处理。
func (d *Dispatcher) session(ctx context.Context, conn *store.Conn) (identity.Session, error) {
	uid, ok, err := identity.GetCurrentUser(ctx, conn)
	if err != nil || !ok {
		return identity.Session{}, err
	}
	profile, err := identity.GetLoginProfile(ctx, conn, uid, d.deps.Extra)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		logger.Warn("bridge: last_login refers to a missing user", logger.FieldUserID, uid)
		return identity.Session{}, nil
	}
	if err != nil {
		return identity.Session{}, err
	}
	return identity.Session{UserID: uid, LoggedIn: true, Profile: profile}, nil
}

// LoginUserID 从 LoggedIn 回复的数据中取出用户 id。
func LoginUserID(data any) (int64, error) {
	var ld protocol.LoginData
	switch v := data.(type) {
	case *protocol.LoginData:
		if v == nil {
			return 0, apperrors.New("LoginUserID", "empty login data")
		}
		ld = *v
	case protocol.LoginData:
		ld = v
	default:
		raw, err := json.Marshal(data)
		if err != nil {
			return 0, apperrors.Wrap(err, "LoginUserID", "encode login data")
		}
		if err := json.Unmarshal(raw, &ld); err != nil {
			return 0, apperrors.Wrap(err, "LoginUserID", "decode login data")
		}
	}
	if ld.UserID == 0 {
		return 0, apperrors.New("LoginUserID", "login data carries no user id")
	}
	return ld.UserID, nil
}

// ========================================
// Tauri (文件上传)
// ========================================

// Tauri 处理需要宿主能力的请求。上传以后台任务运行, 调用方等待其完成。
func (d *Dispatcher) Tauri(ctx context.Context, req protocol.TauriRequest) protocol.TauriReply {
	c := d.begin("tauri", string(req.What))
	var (
		reply protocol.TauriReply
		err   error
	)
	switch req.What {
	case protocol.TrqUploadFiles:
		var notes []protocol.ZkListNote
		notes, err = d.uploadFiles(ctx)
		reply = protocol.TauriReply{What: protocol.TyFilesUploaded, Data: protocol.UploadedFiles{Notes: notes}}
	default:
		err = apperrors.Coded(apperrors.ErrInvalidInput, apperrors.CodeInvalidInput, "Dispatcher.Tauri",
			fmt.Sprintf("unknown request %q", req.What), nil)
	}
	if err != nil {
		reply = protocol.TauriReply{What: protocol.TyServerError, Data: err.Error()}
	}
	reply.ClosureID = req.ClosureID
	c.done(err)
	return reply
}

func (d *Dispatcher) uploadFiles(ctx context.Context) ([]protocol.ZkListNote, error) {
	const op = "Dispatcher.UploadFiles"
	if d.deps.Picker == nil {
		return nil, missingCollaborator(op, "file picker")
	}
	if d.deps.FileNotes == nil {
		return nil, missingCollaborator(op, "file note maker")
	}

	paths, err := d.deps.Picker.PickFiles(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, op, "pick files")
	}
	notes := make([]protocol.ZkListNote, 0, len(paths))
	if len(paths) == 0 {
		return notes, nil
	}

	v := d.deps.State.View()
	conn, err := d.open(ctx, &v)
	if err != nil {
		return nil, err
	}

	job := v.Jobs.Start(ctx, "upload files", func(ctx context.Context, m *jobs.Monitor) error {
		for i, p := range paths {
			name := filepath.Base(p)
			uid, ok, err := identity.GetCurrentUser(ctx, conn)
			if err != nil {
				return err
			}
			if !ok {
				return notLoggedIn(op)
			}
			note, err := d.deps.FileNotes.MakeFileNote(ctx, v, conn, uid, name, p)
			if err != nil {
				return apperrors.Wrapf(err, op, "upload %s", name)
			}
			m.Report("%d/%d %s -> %s", i+1, len(paths), name, note.ID)
			notes = append(notes, note)
		}
		return nil
	})
	metrics.JobStarted()
	logger.Info("upload job started", logger.FieldJobID, job.ID, logger.FieldCount, len(paths))

	if err := job.Wait(); err != nil {
		return nil, err
	}
	return notes, nil
}
