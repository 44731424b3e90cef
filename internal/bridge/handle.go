package bridge

import (
	"errors"
	"net/http"
	"sync/atomic"
)

// ErrHandleConsumed 响应句柄已被使用过。
var ErrHandleConsumed = errors.New("response handle already consumed")

// Responder 单次使用的响应句柄: 整个请求只能调用一次 Respond。
type Responder interface {
	// Respond 发送唯一的应答。contentType 为空时不设置 Content-Type。
	Respond(status int, contentType string, body []byte) error
	// Consumed 是否已应答。
	Consumed() bool
}

// HTTPResponder 将 http.ResponseWriter 适配为 Responder。
type HTTPResponder struct {
	w        http.ResponseWriter
	consumed atomic.Bool
}

// NewHTTPResponder 包装 w。
func NewHTTPResponder(w http.ResponseWriter) *HTTPResponder {
	return &HTTPResponder{w: w}
}

// Respond 实现 Responder。
func (r *HTTPResponder) Respond(status int, contentType string, body []byte) error {
	if !r.consumed.CompareAndSwap(false, true) {
		return ErrHandleConsumed
	}
	if contentType != "" {
		r.w.Header().Set("Content-Type", contentType)
	} else {
		// 阻止 net/http 按内容嗅探类型, 交由调用方推断
		r.w.Header()["Content-Type"] = nil
	}
	r.w.WriteHeader(status)
	_, err := r.w.Write(body)
	return err
}

// Consumed 实现 Responder。
func (r *HTTPResponder) Consumed() bool { return r.consumed.Load() }
