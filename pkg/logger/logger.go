// Package logger 提供基于 slog 的结构化日志。
//
// 核心功能:
//   - Init() 配置默认日志器 (JSON/Text) 与级别
//   - InitWithFile() 同时输出到 stdout 和日志文件
//   - FromContext() 上下文感知日志
//   - 包级便捷方法 (Info/Error/Warn/Debug/Fatal)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pkgerr "github.com/zknotes/zknotes-bridge/pkg/errors"
)

var (
	// defaultLogger 使用 atomic.Pointer 保证并发安全 (UI 线程与监听线程同时写日志)。
	defaultLogger atomic.Pointer[slog.Logger]

	// level 动态级别, Init / SetLevel 修改后立即生效。
	level = new(slog.LevelVar)

	logFile   *os.File   // 全局日志文件, Shutdown 时关闭
	logFileMu sync.Mutex // 保护 logFile 并发关闭
)

func init() { defaultLogger.Store(newLogger(false)) }

func getLogger() *slog.Logger { return defaultLogger.Load() }

func storeLogger(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// replaceTimeAttr 将时间格式化为本地时区的易读字符串。
func replaceTimeAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.Local().Format("2006-01-02 15:04:05.000"))
		}
	}
	return a
}

func newLogger(development bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   development,
		ReplaceAttr: replaceTimeAttr,
	}
	var handler slog.Handler
	if development {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// Init 初始化日志配置。env: "development"/"dev" 或 "production" (默认)。
func Init(env string) {
	dev := env == "development" || env == "dev"
	storeLogger(newLogger(dev))
}

// SetLevel 按名称设置日志级别 (DEBUG/INFO/WARN/ERROR), 无法识别时保持 INFO。
func SetLevel(name string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(name)))); err != nil {
		l = slog.LevelInfo
	}
	level.Set(l)
}

// InitWithFile 初始化日志, 同时输出到 stdout 和 {logDir}/zknotes-{date}.log。
func InitWithFile(logDir string) error {
	date := time.Now().Format("2006-01-02")
	return InitWithFilePath(filepath.Join(logDir, fmt.Sprintf("zknotes-%s.log", date)))
}

// InitWithFilePath 初始化日志, 同时输出到 stdout 和指定文件 (JSON 格式)。
//
// 调用者应在退出前调用 ShutdownFileHandler() 关闭文件。
func InitWithFilePath(logPath string) error {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return pkgerr.Wrap(err, "Logger.Init", "create log dir")
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return pkgerr.Wrap(err, "Logger.Init", "open log file")
	}
	logFileMu.Lock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logFileMu.Unlock()

	multi := io.MultiWriter(os.Stdout, f)
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceTimeAttr}
	storeLogger(slog.New(slog.NewJSONHandler(multi, opts)))

	slog.Info("log file opened", "path", logPath)
	return nil
}

// ShutdownFileHandler 关闭日志文件 (并发安全, 可重复调用)。
func ShutdownFileHandler() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
	storeLogger(newLogger(false))
}

// ========================================
// Context 感知日志
// ========================================

type ctxKey struct{}

// WithContext 将日志器注入 context。
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 从 context 提取日志器，若不存在则返回默认日志器。
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return getLogger()
}

// ========================================
// 包级便捷方法
// ========================================

// Info/Error/Warn/Debug 记录结构化日志。args 为 key-value 对。
func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

// Fatal 记录致命错误并退出。
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	ShutdownFileHandler()
	os.Exit(1)
}

// With 返回带附加上下文的日志器。
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get 返回底层 slog.Logger。
func Get() *slog.Logger { return getLogger() }

// Any 创建任意类型属性。
func Any(key string, value any) slog.Attr { return slog.Any(key, value) }

// 预留字段常量 — MUST 使用常量键名，勿硬编码。
const (
	FieldTraceID    = "trace_id"
	FieldComponent  = "component"
	FieldError      = "error"
	FieldStatus     = "status"
	FieldCount      = "count"
	FieldPath       = "path"
	FieldMethod     = "method"
	FieldUserID     = "user_id"
	FieldDurationMS = "duration_ms"
	FieldAddr       = "addr"
	FieldRemote     = "remote"
	FieldKey        = "key"
	FieldID         = "id"
	FieldName       = "name"
	FieldBytes      = "bytes"
	FieldSize       = "size"
	FieldVersion    = "version"
	FieldURL        = "url"
	FieldReqID      = "req_id"
	FieldState      = "state"
	// 桥接层
	FieldKind      = "kind"
	FieldReply     = "reply"
	FieldClosureID = "closure_id"
	FieldNoteID    = "note_id"
	FieldUUID      = "uuid"
	FieldHash      = "hash"
	FieldJobID     = "job_id"
	FieldServerID  = "server_id"
	FieldDriver    = "driver"
)
