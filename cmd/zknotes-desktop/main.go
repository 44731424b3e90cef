// cmd/zknotes-desktop — Wails v3 桌面壳: 内嵌笔记服务 + 请求桥。
//
// 启动顺序:
//   - setup: 在文档目录派生数据库 / 文件 / 日志路径, 初始化记录存储, 后台启动监听器
//   - Wails 窗口: App 服务绑定四类消息, /file/<id> 由文件检索中间件应答
//
// 构建:
//
//	go build -tags "production" -o zknotes-desktop ./cmd/zknotes-desktop/
package main

import (
	"context"
	"embed"
	"flag"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/wailsapp/wails/v3/pkg/application"

	"github.com/zknotes/zknotes-bridge/internal/bridge"
	"github.com/zknotes/zknotes-bridge/internal/buildinfo"
	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/listener"
	"github.com/zknotes/zknotes-bridge/internal/notes"
	"github.com/zknotes/zknotes-bridge/internal/state"
	"github.com/zknotes/zknotes-bridge/internal/store"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

//go:embed frontend/dist/*
var assets embed.FS

// frontendAssets 返回前端静态资源 FS, 去掉 "frontend/dist" 前缀。
func frontendAssets() http.FileSystem {
	sub, err := fs.Sub(assets, "frontend/dist")
	if err != nil {
		logger.Error("embed: failed to sub frontend/dist", logger.FieldError, err)
		return http.FS(assets)
	}
	return http.FS(sub)
}

// defaultDataDir 数据目录默认为用户文档目录。
func defaultDataDir() string {
	return util.FirstNonEmpty(os.Getenv("ZKNOTES_DATA_DIR"), xdg.UserDirs.Documents)
}

func main() {
	info := buildinfo.Current()
	logger.Info("build info",
		logger.FieldVersion, info.Version,
		"commit", info.Commit,
		"build_time", info.BuildTime,
		"runtime", info.Runtime,
	)

	dataDir := flag.String("data-dir", defaultDataDir(), "数据目录 (数据库, 文件, 日志)")
	listen := flag.String("listen", "", "后台监听地址, 为空时使用配置")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	if *listen != "" {
		cfg.ListenAddr = *listen
	}
	logger.SetLevel(cfg.LogLevel)

	svc := notes.New()
	st := state.New(cfg)
	launcher := listener.NewLauncher(ctx, svc, svc)
	res, err := st.Setup(ctx, state.HostPaths{DataDir: *dataDir, Embedded: true}, launcher)
	if err != nil {
		logger.Fatal("setup failed", logger.FieldPath, *dataDir, logger.FieldError, err)
	}
	logger.Info("setup paths",
		"db", res.DBPath,
		"files", res.FilePath,
		"temp", res.TempPath,
		"log", res.LogPath)

	picker := &dialogPicker{}
	disp := bridge.New(bridge.Deps{
		State:     st,
		Private:   svc,
		Public:    svc,
		User:      svc,
		FileNotes: svc,
		Picker:    picker,
		Extra:     svc,
	})
	files := bridge.NewFileResponder(bridge.StateConfig(st), nil)
	appSvc := NewApp(disp)

	app := application.New(application.Options{
		Name: "zknotes",
		Assets: application.AssetOptions{
			Handler:    http.FileServer(frontendAssets()),
			Middleware: files.Middleware(bridge.LocalViewer),
		},
		Services: []application.Service{
			application.NewService(appSvc),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: true,
		},
		OnShutdown: func() {
			logger.Warn("on-shutdown: begin")
			cancel()
			<-launcher.Done()
			disp.Close()
			store.CloseAll()
			logger.Warn("on-shutdown: completed")
			logger.ShutdownFileHandler()
		},
	})
	appSvc.wailsApp = app
	picker.app = app

	util.SafeGo(func() {
		<-ctx.Done()
		logger.Warn("shutdown trigger: root context canceled", "ctx_err", ctx.Err())
		app.Quit()
	})

	app.Window.NewWithOptions(application.WebviewWindowOptions{
		Title:           "zknotes",
		Width:           1280,
		Height:          860,
		MinWidth:        640,
		MinHeight:       480,
		InitialPosition: application.WindowCentered,
	})

	if err := app.Run(); err != nil {
		logger.Error("wails app failed", logger.FieldError, err)
	}
	logger.Warn("wails app exited")
}
