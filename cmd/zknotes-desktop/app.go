// app.go — Wails 绑定: 笔记请求桥。
//
// 前端通过 window.go.main.App.XXX() 调用:
//   - Zimsg / Pimsg / Uimsg / Timsg: 四类消息, 总是返回带类型的回复
//   - LoginData / Greet / GetPlatform / GetBuildInfo: 辅助查询
package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/zknotes/zknotes-bridge/internal/bridge"
	"github.com/zknotes/zknotes-bridge/internal/buildinfo"
	"github.com/zknotes/zknotes-bridge/internal/protocol"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
)

// Bridge App 依赖的分派器能力。
type Bridge interface {
	Greet(name string) string
	LoginData(ctx context.Context) (*protocol.LoginData, error)
	Private(ctx context.Context, msg protocol.PrivateMessage) protocol.PrivateTimedData
	Public(ctx context.Context, msg protocol.PublicMessage) protocol.PublicTimedData
	User(ctx context.Context, msg protocol.UserRequestMessage) protocol.UserResponseMessage
	Tauri(ctx context.Context, req protocol.TauriRequest) protocol.TauriReply
}

var _ Bridge = (*bridge.Dispatcher)(nil)

// App Wails 绑定。
type App struct {
	bridge   Bridge
	wailsApp *application.App
}

// NewApp 创建 App 实例。
func NewApp(b Bridge) *App {
	return &App{bridge: b}
}

// Greet 连通性探测。
func (a *App) Greet(name string) string {
	return a.bridge.Greet(name)
}

// LoginData 当前本地用户的登录档案, 未登录时为 null。
func (a *App) LoginData(ctx context.Context) (*protocol.LoginData, error) {
	return a.bridge.LoginData(ctx)
}

// Zimsg 已登录请求。
func (a *App) Zimsg(ctx context.Context, msg protocol.PrivateMessage) protocol.PrivateTimedData {
	return a.bridge.Private(ctx, msg)
}

// Pimsg 公开请求。
func (a *App) Pimsg(ctx context.Context, msg protocol.PublicMessage) protocol.PublicTimedData {
	return a.bridge.Public(ctx, msg)
}

// Uimsg 账户请求。
func (a *App) Uimsg(ctx context.Context, msg protocol.UserRequestMessage) protocol.UserResponseMessage {
	return a.bridge.User(ctx, msg)
}

// Timsg 需要宿主能力的请求 (文件上传)。
func (a *App) Timsg(ctx context.Context, req protocol.TauriRequest) protocol.TauriReply {
	return a.bridge.Tauri(ctx, req)
}

// GetPlatform 宿主平台标签。
func (a *App) GetPlatform() protocol.Platform {
	return protocol.CurrentPlatform()
}

// GetBuildInfo 返回当前桌面应用构建信息(JSON字符串)。
func (a *App) GetBuildInfo() string {
	data, err := json.Marshal(buildinfo.Current())
	if err != nil {
		logger.Warn("GetBuildInfo: marshal failed", logger.FieldError, err)
		return "{}"
	}
	return string(data)
}

// ========================================
// 文件选择
// ========================================

// dialogPicker 以 Wails 原生对话框实现 bridge.FilePicker。
type dialogPicker struct {
	app *application.App
}

// PickFiles 弹出多选文件对话框。用户取消返回空列表。
func (p *dialogPicker) PickFiles(_ context.Context) ([]string, error) {
	if p.app == nil {
		logger.Warn("PickFiles: wails app not ready")
		return []string{}, nil
	}

	cwd, _ := os.Getwd()
	dialog := p.app.Dialog.OpenFile().
		SetTitle("选择上传文件").
		SetMessage("可多选文件").
		SetButtonText("上传").
		SetDirectory(cwd).
		CanChooseDirectories(false).
		CanChooseFiles(true)
	if current := p.app.Window.Current(); current != nil {
		dialog.AttachToWindow(current)
	}

	paths, err := dialog.PromptForMultipleSelection()
	if err != nil {
		if isDialogCancelError(err) {
			logger.Info("PickFiles: dialog cancelled by user")
			return []string{}, nil
		}
		return nil, err
	}
	if len(paths) == 0 {
		logger.Info("PickFiles: dialog cancelled by user")
		return []string{}, nil
	}
	logger.Info("PickFiles: selected", logger.FieldCount, len(paths))
	return paths, nil
}

func isDialogCancelError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "cancel")
}
