// Package state 共享服务状态与启动流程。
//
// ServerState 在 UI 命令线程与后台监听器之间共享, 由读写锁保护:
//   - 唯一写者: Setup (进程启动时执行一次)
//   - 读者: 调度器与文件响应器, 经 View() 取克隆快照后立即释放锁,
//     不在持锁期间做任何 I/O
package state

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/jobs"
	"github.com/zknotes/zknotes-bridge/internal/store"
	apperrors "github.com/zknotes/zknotes-bridge/pkg/errors"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// 数据目录下的固定布局。
const (
	DBFileName    = "zknotes.db"
	FilesDirName  = "files"
	TempDirName   = "temp"
	LogFileSuffix = ".zknotes.log"
	// FallbackLogName 无法从时间派生文件名时使用。
	FallbackLogName = "zknotes.log"

	// 不含 ':' 以便在 Windows 上作为文件名
	logTimeLayout = "2006-01-02T15-04-05"
)

// ServerState 进程级共享状态。
type ServerState struct {
	mu        sync.RWMutex
	cfg       *config.Config
	jobs      *jobs.Registry
	server    store.Server
	setupDone bool
}

// View 读者取得的快照。Config 与 Server 为副本; Jobs 为共享注册表 (自身并发安全)。
type View struct {
	Config config.Config
	Server store.Server
	Jobs   *jobs.Registry
}

// New 以给定配置 (nil 则使用默认值) 创建状态: 空任务注册表, 计数器为 0, 占位服务身份。
func New(cfg *config.Config) *ServerState {
	if cfg == nil {
		cfg = config.Defaults()
	}
	c := cfg.Clone()
	return &ServerState{
		cfg:    &c,
		jobs:   jobs.NewRegistry(),
		server: store.PlaceholderServer,
	}
}

// View 在读锁下克隆当前状态。
func (s *ServerState) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return View{
		Config: s.cfg.Clone(),
		Server: s.server,
		Jobs:   s.jobs,
	}
}

// Jobs 返回任务注册表。
func (s *ServerState) Jobs() *jobs.Registry { return s.jobs }

// NextJobID 分配新的任务 id。
func (s *ServerState) NextJobID() int64 { return s.jobs.NextID() }

// Ready setup 是否已完成。
func (s *ServerState) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.setupDone
}

// ========================================
// Setup
// ========================================

// HostPaths 宿主提供的基础目录。
type HostPaths struct {
	// DataDir 数据库、文件、临时目录与日志的根目录
	DataDir string
	// Embedded 嵌入 (桌面) 模式: 强制数据目录布局, 开放注册并创建目录。
	// 为 false 时沿用配置中的路径与开关, 相对路径以 DataDir 为基准。
	Embedded bool
	// Now 用于派生日志文件名, nil 时使用 time.Now
	Now func() time.Time
}

// Launcher 接收最终配置快照, 启动后台监听器。不得阻塞。
type Launcher interface {
	Launch(cfg config.Config, logPath string)
}

// LauncherFunc 函数适配器。
type LauncherFunc func(cfg config.Config, logPath string)

// Launch 实现 Launcher。
func (f LauncherFunc) Launch(cfg config.Config, logPath string) { f(cfg, logPath) }

// Result setup 派生出的路径与服务身份。
type Result struct {
	DBPath   string
	FilePath string
	TempPath string
	LogPath  string
	Server   store.Server
}

// Setup 进程启动时执行一次, 全程持有写锁:
// 派生路径 → 改写配置 → 初始化记录存储 (得到真实服务身份) → 按需创建目录 → 克隆配置交给 launcher。
// 任何失败都是致命的 (ErrSetup)。
func (s *ServerState) Setup(ctx context.Context, paths HostPaths, launcher Launcher) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.setupDone {
		return Result{}, setupErr("already completed", nil)
	}
	if paths.DataDir == "" {
		return Result{}, setupErr("data dir is required", nil)
	}

	now := time.Now
	if paths.Now != nil {
		now = paths.Now
	}
	if paths.Embedded {
		s.applyEmbedded(paths.DataDir)
	} else {
		s.resolvePaths(paths.DataDir)
	}
	res := Result{
		DBPath:   s.cfg.DBPath,
		FilePath: s.cfg.FilePath,
		TempPath: s.cfg.FileTmpPath,
		LogPath:  filepath.Join(paths.DataDir, LogFileName(now())),
	}

	if s.cfg.CreateDirs && !s.cfg.UsePostgres() {
		// 数据库文件所在目录需先存在
		if err := os.MkdirAll(filepath.Dir(s.cfg.DBPath), 0o755); err != nil {
			return Result{}, setupErr("create data dir", err)
		}
	}

	srv, err := store.DBInit(ctx, s.cfg)
	if err != nil {
		return Result{}, setupErr("init record store", err)
	}
	s.server = srv
	res.Server = srv

	if s.cfg.CreateDirs {
		for _, dir := range []string{s.cfg.FileTmpPath, s.cfg.FilePath} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return Result{}, setupErr("create "+dir, err)
			}
		}
	}

	s.setupDone = true
	snapshot := s.cfg.Clone()

	logger.Info("setup complete",
		logger.FieldPath, res.DBPath,
		logger.FieldServerID, srv.ID,
		logger.FieldUUID, srv.UUID,
	)
	if launcher != nil {
		launcher.Launch(snapshot, res.LogPath)
	}
	return res, nil
}

// applyEmbedded 桌面模式固定布局: 数据目录下的库文件与文件目录, 开放注册。
func (s *ServerState) applyEmbedded(dataDir string) {
	s.cfg.DBPath = filepath.Join(dataDir, DBFileName)
	s.cfg.FilePath = filepath.Join(dataDir, FilesDirName)
	s.cfg.FileTmpPath = filepath.Join(dataDir, TempDirName)
	s.cfg.CreateDirs = true
	s.cfg.EmbeddedMode = true
	s.cfg.OpenRegistration = true
}

// resolvePaths 非嵌入模式只补全路径: 空值取默认布局, 相对路径挂到数据目录下。
func (s *ServerState) resolvePaths(dataDir string) {
	for _, f := range []struct {
		p   *string
		def string
	}{
		{&s.cfg.DBPath, DBFileName},
		{&s.cfg.FilePath, FilesDirName},
		{&s.cfg.FileTmpPath, TempDirName},
	} {
		if *f.p == "" {
			*f.p = f.def
		}
		if !filepath.IsAbs(*f.p) {
			*f.p = filepath.Join(dataDir, *f.p)
		}
	}
}

// LogFileName 由时间派生日志文件名, 零值时间退回 FallbackLogName。
func LogFileName(t time.Time) string {
	if t.IsZero() {
		return FallbackLogName
	}
	return t.Format(logTimeLayout) + LogFileSuffix
}

func setupErr(message string, err error) error {
	return apperrors.Coded(apperrors.ErrSetup, apperrors.CodeSetup, "State.Setup", message, err)
}
