// routes.go — 监听器 REST / WebSocket 路由。
package listener

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"github.com/zknotes/zknotes-bridge/internal/bridge"
	"github.com/zknotes/zknotes-bridge/internal/identity"
	"github.com/zknotes/zknotes-bridge/internal/jobs"
	"github.com/zknotes/zknotes-bridge/internal/metrics"
	"github.com/zknotes/zknotes-bridge/internal/protocol"
	"github.com/zknotes/zknotes-bridge/internal/store"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

// UploadField POST /upload 的 multipart 文件字段名。
const UploadField = "files"

// ctxUserID requireToken 写入 gin 上下文的用户 id 键。
const ctxUserID = "zknotes.uid"

// registerRoutes 注册路由。
func (s *Server) registerRoutes() {
	s.router.POST("/public", s.handlePublic)
	s.router.POST("/user", s.handleUser)
	s.router.POST("/private", s.handlePrivate)
	s.router.GET(bridge.FileRoutePrefix+"*id", s.handleFile)
	s.router.GET("/ws", s.handleWS)

	authed := s.router.Group("", s.requireToken)
	authed.POST("/upload", s.handleUpload)
	authed.GET("/jobs", s.listJobs)
	authed.GET("/jobs/:id", s.getJob)

	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "server": s.view.Server.UUID})
	})
}

// requestLogger 每个请求带 trace id 的访问日志 + 指标。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := logger.With(logger.FieldTraceID, xid.New().String(), logger.FieldComponent, "listener")
		c.Request = c.Request.WithContext(logger.WithContext(c.Request.Context(), l))
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTP(route, status)
		l.Debug("listener request",
			logger.FieldMethod, c.Request.Method,
			logger.FieldPath, c.Request.URL.Path,
			logger.FieldStatus, status,
			logger.FieldRemote, c.ClientIP(),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}
}

// ========================================
// 令牌
// ========================================

// bearerToken 从 Authorization 头或 ?token= 读取令牌。
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return r.URL.Query().Get("token")
}

// tokenUser 校验令牌。空令牌返回 ok=false; 无效或过期令牌同样视为未登录。
func (s *Server) tokenUser(ctx context.Context, tok string) (int64, bool, error) {
	if tok == "" {
		return 0, false, nil
	}
	uid, err := s.conn.UserIDForToken(ctx, tok, s.view.Config.LoginTokenExpirationMS)
	if apperrors.Is(err, apperrors.ErrUnauthorized) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uid, true, nil
}

// tokenViewer 文件检索的查看者: 令牌缺失时以匿名身份访问公开笔记。
func (s *Server) tokenViewer(tok string) bridge.ViewerFunc {
	return func(ctx context.Context, _ *store.Conn) (int64, bool, error) {
		return s.tokenUser(ctx, tok)
	}
}

// requireToken 令牌无效时以 401 中止, 有效时把用户 id 存入 gin 上下文。
func (s *Server) requireToken(c *gin.Context) {
	uid, ok, err := s.tokenUser(c.Request.Context(), bearerToken(c.Request))
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, apperrors.CodeStore, err.Error())
		return
	}
	if !ok {
		abortJSON(c, http.StatusUnauthorized, apperrors.CodeNotLoggedIn, bridge.MsgNotLoggedIn)
		return
	}
	c.Set(ctxUserID, uid)
	c.Next()
}

func stamp() int64 { return time.Now().UnixMilli() }

// ========================================
// 消息处理 (HTTP 与 WebSocket 共用)
// ========================================

func (s *Server) public(ctx context.Context, msg protocol.PublicMessage) protocol.PublicTimedData {
	var reply protocol.PublicReplyMessage
	err := util.CallSafely(func() error {
		var cerr error
		reply, cerr = s.handlers.Public(ctx, s.view, s.conn, msg)
		return cerr
	})
	if err != nil {
		logger.FromContext(ctx).Warn("listener: public request failed", logger.FieldKind, msg.What, logger.FieldError, err)
		reply = protocol.PublicServerError(err.Error())
	}
	return protocol.PublicTimedData{UTCMillis: stamp(), Data: reply}
}

// private 令牌无效时返回 ok=false 和 "not logged in" 回复, 不调用业务逻辑。
func (s *Server) private(ctx context.Context, tok string, msg protocol.PrivateMessage) (protocol.PrivateTimedData, bool) {
	uid, ok, err := s.tokenUser(ctx, tok)
	var reply protocol.PrivateReplyMessage
	switch {
	case err != nil:
		reply = protocol.PrivateServerError(err.Error())
	case !ok:
		reply = protocol.PrivateServerError(bridge.MsgNotLoggedIn)
	default:
		err = s.pool.Do(ctx, func(ctx context.Context) error {
			var cerr error
			reply, cerr = s.handlers.Private(ctx, s.view, s.conn, uid, msg)
			return cerr
		})
		if err != nil {
			logger.FromContext(ctx).Warn("listener: private request failed",
				logger.FieldKind, msg.What, logger.FieldUserID, uid, logger.FieldError, err)
			reply = protocol.PrivateServerError(err.Error())
		}
	}
	reply.ClosureID = msg.ClosureID
	return protocol.PrivateTimedData{UTCMillis: stamp(), Data: reply}, ok
}

// user 处理账户请求。LoggedIn 时签发新令牌; LoggedOut 时作废请求携带的令牌。
func (s *Server) user(ctx context.Context, tok string, msg protocol.UserRequestMessage) (protocol.UserResponseMessage, string) {
	session, err := s.session(ctx, tok)
	if err != nil {
		return protocol.UserServerError(err.Error()), ""
	}

	var resp protocol.UserResponseMessage
	err = s.pool.Do(ctx, func(ctx context.Context) error {
		var cerr error
		resp, cerr = s.handlers.User(ctx, s.view, s.conn, session, msg)
		return cerr
	})
	if err != nil {
		logger.FromContext(ctx).Warn("listener: user request failed", logger.FieldKind, msg.What, logger.FieldError, err)
		return protocol.UserServerError(err.Error()), ""
	}

	switch resp.What {
	case protocol.UrpLoggedIn:
		uid, err := bridge.LoginUserID(resp.Data)
		var issued string
		if err == nil {
			issued, err = s.conn.CreateToken(ctx, uid)
		}
		if err != nil {
			logger.FromContext(ctx).Error("listener: issue token failed", logger.FieldError, err)
			return protocol.UserServerError(bridge.MsgErrorSavingLogin), ""
		}
		return resp, issued
	case protocol.UrpLoggedOut:
		if tok != "" {
			if err := s.conn.DeleteToken(ctx, tok); err != nil {
				logger.FromContext(ctx).Error("listener: revoke token failed", logger.FieldError, err)
				return protocol.UserServerError(bridge.MsgErrorSavingLogin), ""
			}
		}
	}
	return resp, ""
}

func (s *Server) session(ctx context.Context, tok string) (identity.Session, error) {
	uid, ok, err := s.tokenUser(ctx, tok)
	if err != nil || !ok {
		return identity.Session{}, err
	}
	profile, err := identity.GetLoginProfile(ctx, s.conn, uid, s.extra)
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return identity.Session{}, nil
	}
	if err != nil {
		return identity.Session{}, err
	}
	return identity.Session{UserID: uid, LoggedIn: true, Profile: profile}, nil
}

// ========================================
// HTTP handlers
// ========================================

func badRequest(c *gin.Context, message string) {
	abortJSON(c, http.StatusBadRequest, apperrors.CodeInvalidInput, message)
}

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func (s *Server) handlePublic(c *gin.Context) {
	var msg protocol.PublicMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.public(c.Request.Context(), msg))
}

func (s *Server) handlePrivate(c *gin.Context) {
	var msg protocol.PrivateMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, err.Error())
		return
	}
	td, ok := s.private(c.Request.Context(), bearerToken(c.Request), msg)
	status := http.StatusOK
	if !ok && td.Data.Content == bridge.MsgNotLoggedIn {
		status = http.StatusUnauthorized
	}
	c.JSON(status, td)
}

func (s *Server) handleUser(c *gin.Context) {
	var msg protocol.UserRequestMessage
	if err := c.ShouldBindJSON(&msg); err != nil {
		badRequest(c, err.Error())
		return
	}
	resp, issued := s.user(c.Request.Context(), bearerToken(c.Request), msg)
	if issued != "" {
		c.Header(TokenHeader, issued)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFile(c *gin.Context) {
	tok := bearerToken(c.Request)
	s.files.Serve(c.Request.Context(), c.Request.URL.Path, s.tokenViewer(tok), bridge.NewHTTPResponder(c.Writer))
}

// handleUpload 把 multipart 字段 "files" 的每个文件落到临时目录,
// 再以后台任务逐个创建文件笔记。立即返回 202 与任务 id, 进度经 /jobs/:id 查询。
func (s *Server) handleUpload(c *gin.Context) {
	const op = "Listener.Upload"
	uid := c.GetInt64(ctxUserID)

	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "multipart form required: "+err.Error())
		return
	}
	files := form.File[UploadField]
	if len(files) == 0 {
		badRequest(c, "no files in field "+strconv.Quote(UploadField))
		return
	}

	dir, err := os.MkdirTemp(s.view.Config.FileTmpPath, "http-upload-*")
	if err != nil {
		abortJSON(c, http.StatusInternalServerError, apperrors.CodeStore, err.Error())
		return
	}
	names := make([]string, len(files))
	for i, fh := range files {
		names[i] = filepath.Base(fh.Filename)
		if err := c.SaveUploadedFile(fh, spoolPath(dir, i)); err != nil {
			_ = os.RemoveAll(dir)
			abortJSON(c, http.StatusInternalServerError, apperrors.CodeStore, err.Error())
			return
		}
	}

	job := s.view.Jobs.Start(c.Request.Context(), "upload files", func(ctx context.Context, m *jobs.Monitor) error {
		defer func() { _ = os.RemoveAll(dir) }()
		for i, name := range names {
			note, err := s.handlers.MakeFileNote(ctx, s.view, s.conn, uid, name, spoolPath(dir, i))
			if err != nil {
				return apperrors.Wrapf(err, op, "upload %s", name)
			}
			m.Report("%d/%d %s -> %s", i+1, len(names), name, note.ID)
		}
		return nil
	})
	metrics.JobStarted()
	logger.FromContext(c.Request.Context()).Info("listener: upload job started",
		logger.FieldJobID, job.ID, logger.FieldUserID, uid, logger.FieldCount, len(names))
	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{"job_id": job.ID}})
}

func spoolPath(dir string, i int) string { return filepath.Join(dir, strconv.Itoa(i)) }

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": s.view.Jobs.List()})
}

func (s *Server) getJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid job id "+c.Param("id"))
		return
	}
	job, ok := s.view.Jobs.Get(id)
	if !ok {
		abortJSON(c, http.StatusNotFound, apperrors.CodeNotFound, "job not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": job.Status()})
}

// ========================================
// WebSocket
// ========================================

// Envelope WebSocket 请求信封。Kind 取 public / private / user。
type Envelope struct {
	Kind  string          `json:"kind"`
	Token string          `json:"token,omitempty"`
	Msg   json.RawMessage `json:"msg"`
}

// WSReply WebSocket 回复。Token 仅在登录成功时携带。
type WSReply struct {
	Kind  string `json:"kind"`
	Token string `json:"token,omitempty"`
	Reply any    `json:"reply"`
}

func (s *Server) handleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("listener: ws upgrade failed", logger.FieldError, err)
		return
	}
	defer func() { _ = ws.Close() }()

	ctx := c.Request.Context()
	remote := c.ClientIP()
	logger.Info("listener: ws client connected", logger.FieldRemote, remote)
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("listener: ws read ended", logger.FieldRemote, remote, logger.FieldError, err)
			}
			return
		}
		reply := s.dispatchEnvelope(ctx, env)
		if err := ws.WriteJSON(reply); err != nil {
			logger.Debug("listener: ws write failed", logger.FieldRemote, remote, logger.FieldError, err)
			return
		}
	}
}

func (s *Server) dispatchEnvelope(ctx context.Context, env Envelope) WSReply {
	out := WSReply{Kind: env.Kind}
	switch env.Kind {
	case "public":
		var msg protocol.PublicMessage
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			out.Reply = protocol.PublicTimedData{UTCMillis: stamp(), Data: protocol.PublicServerError(err.Error())}
			return out
		}
		out.Reply = s.public(ctx, msg)
	case "private":
		var msg protocol.PrivateMessage
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			out.Reply = protocol.PrivateTimedData{UTCMillis: stamp(), Data: protocol.PrivateServerError(err.Error())}
			return out
		}
		out.Reply, _ = s.private(ctx, env.Token, msg)
	case "user":
		var msg protocol.UserRequestMessage
		if err := json.Unmarshal(env.Msg, &msg); err != nil {
			out.Reply = protocol.UserServerError(err.Error())
			return out
		}
		out.Reply, out.Token = s.user(ctx, env.Token, msg)
	default:
		out.Reply = gin.H{"error": "unknown kind " + strconv.Quote(env.Kind)}
	}
	return out
}
