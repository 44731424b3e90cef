// Package listener 后台网络监听器: 为远程 / Web 客户端提供与桌面 UI 相同的笔记服务。
//
// 监听器只持有 setup 交给它的配置快照, 自行打开记录存储连接, 不访问共享状态。
// 网络客户端以 bearer 令牌认证 (token 表), 不使用本地身份存储。
//
// 路由:
//   - POST /public   PublicMessage → PublicTimedData
//   - POST /user     UserRequestMessage → UserResponseMessage (登录成功时签发令牌)
//   - POST /private  PrivateMessage → PrivateTimedData (需要令牌)
//   - GET  /file/:id 内容寻址文件 (令牌可选)
//   - GET  /ws       WebSocket, 信封 {kind, token, msg}
//   - POST /upload   multipart 上传 (需要令牌), 以后台任务创建文件笔记, 返回任务 id
//   - GET  /jobs     后台任务列表 (需要令牌)
//   - GET  /jobs/:id 后台任务状态 (需要令牌)
//   - GET  /metrics  Prometheus
//   - GET  /healthz  存活探测
package listener

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/zknotes/zknotes-bridge/internal/bridge"
	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/identity"
	"github.com/zknotes/zknotes-bridge/internal/jobs"
	"github.com/zknotes/zknotes-bridge/internal/state"
	"github.com/zknotes/zknotes-bridge/internal/store"
	"github.com/zknotes/zknotes-bridge/internal/worker"
	pkgerr "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

// TokenHeader 登录成功后返回令牌的响应头。
const TokenHeader = "X-Zknotes-Token"

// Handlers 监听器依赖的业务逻辑。
type Handlers interface {
	bridge.PrivateHandler
	bridge.PublicHandler
	bridge.UserHandler
	bridge.FileNoteMaker
}

// Server 监听器 HTTP 服务。
type Server struct {
	view     state.View
	conn     *store.Conn
	handlers Handlers
	extra    identity.ExtraLoginData
	files    *bridge.FileResponder
	pool     *worker.Pool
	router   *gin.Engine
	upgrader websocket.Upgrader

	addrMu    sync.Mutex
	addr      net.Addr
	listening chan struct{}
}

// New 以配置快照创建监听器: 打开记录存储, 读取服务身份, 注册路由。
func New(ctx context.Context, cfg config.Config, h Handlers, extra identity.ExtraLoginData) (*Server, error) {
	conn, err := store.Open(ctx, &cfg)
	if err != nil {
		return nil, pkgerr.Wrap(err, "Listener.New", "open record store")
	}
	srv, err := conn.ReadServer(ctx)
	if err != nil {
		return nil, pkgerr.Wrap(err, "Listener.New", "read server identity")
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		view:      state.View{Config: cfg, Server: srv, Jobs: jobs.NewRegistry()},
		conn:      conn,
		handlers:  h,
		extra:     extra,
		files:     bridge.NewFileResponder(bridge.SnapshotConfig(cfg), nil),
		pool:      worker.New(cfg.WorkerPoolSize, cfg.WorkerQueueSize),
		router:    gin.New(),
		upgrader:  websocket.Upgrader{CheckOrigin: checkLocalOrigin},
		listening: make(chan struct{}),
	}
	s.router.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s, nil
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Jobs 返回监听器自己的任务注册表。
func (s *Server) Jobs() *jobs.Registry { return s.view.Jobs }

// Addr 实际监听地址 (ListenAndServe 之前为 nil)。
func (s *Server) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// Listening 开始监听后关闭。
func (s *Server) Listening() <-chan struct{} { return s.listening }

// Close 释放 worker 池。记录存储连接为进程共享, 不在此关闭。
func (s *Server) Close() {
	s.pool.Close()
}

// ListenAndServe 监听 cfg.ListenAddr 直到 ctx 取消, 随后给活跃连接 5 秒完成处理。
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.view.Config.ListenAddr)
	if err != nil {
		return pkgerr.Wrap(err, "Listener.ListenAndServe", "listen")
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()
	close(s.listening)

	srv := &http.Server{
		Handler:           s.router,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	stopped := make(chan struct{})
	util.SafeGo(func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("listener: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("listener: shutdown error", logger.FieldError, err)
			return
		}
		logger.Info("listener: shutdown completed")
	})

	logger.Info("listener: serving", logger.FieldAddr, ln.Addr().String(), logger.FieldUUID, s.view.Server.UUID)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return pkgerr.Wrap(err, "Listener.ListenAndServe", "serve")
	}
	<-stopped
	return nil
}

// checkLocalOrigin WebSocket 只接受本机或桌面壳来源; 无 Origin 视为非浏览器客户端。
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	origin = strings.ToLower(origin)
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
		"wails://",
	} {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	logger.Warn("listener: rejected non-local origin", logger.FieldURL, origin)
	return false
}
