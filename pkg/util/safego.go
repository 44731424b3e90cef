// safego.go — 安全 goroutine 启动器，捕获 panic 防止进程崩溃。
package util

import (
	"fmt"
	"runtime/debug"

	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// SafeGo 在新 goroutine 中安全执行 fn，捕获 panic 并记录日志 + 堆栈。
func SafeGo(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("goroutine panicked",
					logger.FieldError, r,
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}

// PanicError 由 CallSafely 从 panic 值转换而来。
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// CallSafely 在当前 goroutine 执行 fn, panic 转为 *PanicError 返回。
func CallSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			logger.Error("call panicked", logger.FieldError, r, "stack", stack)
			err = &PanicError{Value: r, Stack: stack}
		}
	}()
	return fn()
}
