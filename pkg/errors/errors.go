// Package errors 提供统一错误类型与哨兵错误。
//
// 两层错误体系:
//   - L1 哨兵错误: ErrNotLoggedIn / ErrNotFound / ErrInvalidInput / ErrStore 等,
//     与桥接层的错误分类一一对应
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotLoggedIn 本地无已登录用户
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrNotFound 资源不存在 (笔记 / 文件 / 用户)
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效 (id 格式错误, 路径缺段)
	ErrInvalidInput = errors.New("invalid input")

	// ErrStore 记录存储打开/读/写失败
	ErrStore = errors.New("store error")

	// ErrCollaborator 业务逻辑协作方返回的失败
	ErrCollaborator = errors.New("collaborator error")

	// ErrClock 时间戳不可用
	ErrClock = errors.New("clock error")

	// ErrSetup 启动失败 (唯一致命类别)
	ErrSetup = errors.New("setup error")

	// ErrUnauthorized 未授权
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")
)

// 错误码, 写入 AppError.Code。
const (
	CodeNotLoggedIn  = "NOT_LOGGED_IN"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeStore        = "STORE_ERROR"
	CodeCollaborator = "COLLABORATOR_ERROR"
	CodeClock        = "CLOCK_ERROR"
	CodeSetup        = "SETUP_ERROR"
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "Identity.GetCurrentUser"
	Code    string // 错误码，如 "STORE_ERROR"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// Coded 包装错误并附带错误码。err 为 nil 时以 sentinel 作为原因链,
// 保证 errors.Is(result, sentinel) 成立。
func Coded(sentinel error, code, op, message string, err error) error {
	cause := sentinel
	if err != nil {
		cause = &joined{primary: sentinel, secondary: err}
	}
	return &AppError{Op: op, Code: code, Message: message, Err: cause}
}

// joined 同时暴露分类哨兵与底层原因。
type joined struct {
	primary   error
	secondary error
}

func (j *joined) Error() string   { return j.secondary.Error() }
func (j *joined) Unwrap() []error { return []error{j.primary, j.secondary} }

// CodeOf 返回错误链中第一个非空错误码, 无则返回空串。
func CodeOf(err error) string {
	for err != nil {
		var ae *AppError
		if !errors.As(err, &ae) {
			return ""
		}
		if ae.Code != "" {
			return ae.Code
		}
		err = ae.Err
	}
	return ""
}

// Is / As 转发标准库, 调用方无需额外 import。
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
