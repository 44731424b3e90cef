package listener

import (
	"context"
	"net"
	"sync"

	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/identity"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

// Launcher 作为 setup 的后台启动器: Launch 立即返回, 监听器在独立 goroutine 中运行到 ctx 取消。
type Launcher struct {
	ctx      context.Context
	handlers Handlers
	extra    identity.ExtraLoginData

	once  sync.Once
	ready chan struct{}
	done  chan struct{}

	mu   sync.Mutex
	addr net.Addr
	err  error
}

// NewLauncher 创建启动器。ctx 取消即停止监听。
func NewLauncher(ctx context.Context, h Handlers, extra identity.ExtraLoginData) *Launcher {
	return &Launcher{
		ctx:      ctx,
		handlers: h,
		extra:    extra,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Launch 实现 state.Launcher。只有第一次调用生效。
func (l *Launcher) Launch(cfg config.Config, logPath string) {
	l.once.Do(func() {
		util.SafeGo(func() { l.run(cfg, logPath) })
	})
}

func (l *Launcher) run(cfg config.Config, logPath string) {
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(l.ready) }) }
	defer close(l.done)
	defer markReady()

	if logPath != "" {
		if err := logger.InitWithFilePath(logPath); err != nil {
			logger.Warn("listener: log file unavailable", logger.FieldPath, logPath, logger.FieldError, err)
		}
	}

	s, err := New(l.ctx, cfg, l.handlers, l.extra)
	if err != nil {
		l.finish(err)
		return
	}
	defer s.Close()

	util.SafeGo(func() {
		select {
		case <-s.Listening():
			l.mu.Lock()
			l.addr = s.Addr()
			l.mu.Unlock()
			markReady()
		case <-l.done:
		}
	})
	l.finish(s.ListenAndServe(l.ctx))
}

func (l *Launcher) finish(err error) {
	if err != nil {
		logger.Error("listener: stopped with error", logger.FieldError, err)
	}
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

// Ready 监听器开始监听 (或启动失败) 后关闭。
func (l *Launcher) Ready() <-chan struct{} { return l.ready }

// Done 监听器退出后关闭。未调用 Launch 时永不关闭。
func (l *Launcher) Done() <-chan struct{} { return l.done }

// Addr 实际监听地址, 未就绪时为 nil。
func (l *Launcher) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Err 监听器退出原因。
func (l *Launcher) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// Run 以配置快照运行监听器直到 ctx 取消。
func Run(ctx context.Context, cfg config.Config, h Handlers, extra identity.ExtraLoginData) error {
	s, err := New(ctx, cfg, h, extra)
	if err != nil {
		return err
	}
	defer s.Close()
	return s.ListenAndServe(ctx)
}
