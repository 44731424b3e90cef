// errors_test.go — 验证 AppError / Wrap / Coded 的行为契约。
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// TestWrapUnwrap 验证 Wrap 保留原始错误链，errors.Is 和 errors.As 正常工作。
func TestWrapUnwrap(t *testing.T) {
	wrapped := Wrap(ErrNotFound, "Store.NoteIDForUUID", "note not found")

	if !errors.Is(wrapped, ErrNotFound) {
		t.Errorf("errors.Is(wrapped, ErrNotFound) = false, want true")
	}
	if errors.Is(wrapped, ErrClock) {
		t.Errorf("errors.Is(wrapped, ErrClock) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "Store.NoteIDForUUID" {
		t.Errorf("Op = %q, want %q", appErr.Op, "Store.NoteIDForUUID")
	}
}

// TestWrapErrorString 验证 Error() 输出包含 op、message 和 cause。
func TestWrapErrorString(t *testing.T) {
	wrapped := Wrap(io.ErrUnexpectedEOF, "Blob.Read", "read failed")

	s := wrapped.Error()
	for _, want := range []string{"Blob.Read", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

func TestNewWithoutCause(t *testing.T) {
	err := New("Setup", "already done")
	if errors.Unwrap(err) != nil {
		t.Errorf("Unwrap = %v, want nil", errors.Unwrap(err))
	}
}

// TestCodedKeepsSentinelAndCause 验证 Coded 同时可匹配分类哨兵与底层原因。
func TestCodedKeepsSentinelAndCause(t *testing.T) {
	err := Coded(ErrStore, CodeStore, "Identity.Set", "write last_login", io.ErrClosedPipe)

	if !errors.Is(err, ErrStore) {
		t.Error("expected errors.Is(err, ErrStore)")
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Error("expected errors.Is(err, io.ErrClosedPipe)")
	}
	if got := CodeOf(err); got != CodeStore {
		t.Errorf("CodeOf = %q, want %q", got, CodeStore)
	}
	if !strings.Contains(err.Error(), "closed pipe") {
		t.Errorf("Error() = %q, missing cause", err.Error())
	}
}

func TestCodedWithoutCause(t *testing.T) {
	err := Coded(ErrNotLoggedIn, CodeNotLoggedIn, "Dispatcher.Private", "not logged in", nil)
	if !errors.Is(err, ErrNotLoggedIn) {
		t.Error("expected errors.Is(err, ErrNotLoggedIn)")
	}
	if !strings.Contains(err.Error(), "not logged in") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestCodeOfNested(t *testing.T) {
	inner := Coded(ErrInvalidInput, CodeInvalidInput, "Parse", "bad uuid", nil)
	outer := Wrap(inner, "Responder.Serve", "resolve")
	if got := CodeOf(outer); got != CodeInvalidInput {
		t.Errorf("CodeOf(outer) = %q, want %q", got, CodeInvalidInput)
	}
	if got := CodeOf(io.EOF); got != "" {
		t.Errorf("CodeOf(plain) = %q, want empty", got)
	}
}
