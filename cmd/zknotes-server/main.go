// cmd/zknotes-server — 无桌面壳的网络部署: setup + 前台运行监听器。
//
//	zknotes-server serve --config zknotes.toml --listen :8000 --data-dir /var/lib/zknotes
//	zknotes-server version
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zknotes/zknotes-bridge/internal/buildinfo"
	"github.com/zknotes/zknotes-bridge/internal/config"
	"github.com/zknotes/zknotes-bridge/internal/listener"
	"github.com/zknotes/zknotes-bridge/internal/notes"
	"github.com/zknotes/zknotes-bridge/internal/state"
	"github.com/zknotes/zknotes-bridge/internal/store"
	"github.com/zknotes/zknotes-bridge/pkg/logger"
	"github.com/zknotes/zknotes-bridge/pkg/util"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "zknotes-server",
		Short:         "zknotes network server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(), newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the zknotes-server version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "zknotes-server %s\n", buildinfo.Current())
			return err
		},
	}
}

type serveOptions struct {
	configPath string
	listen     string
	dataDir    string
	logFile    bool
}

func newServeCommand() *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run setup against the data dir and serve until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", os.Getenv("ZKNOTES_CONFIG"), "config file (toml/yaml/json)")
	f.StringVar(&opts.listen, "listen", "", "listen address, overrides the config file")
	f.StringVar(&opts.dataDir, "data-dir", "", "data directory for database, files and logs")
	f.BoolVar(&opts.logFile, "log-file", true, "also write logs to a timestamped file in the data dir")
	return cmd
}

// serve 加载配置 → setup → 前台运行监听器直到 ctx 取消。
func serve(ctx context.Context, opts serveOptions) error {
	st, res, err := setupServer(ctx, opts)
	if err != nil {
		return err
	}
	defer store.CloseAll()

	if opts.logFile {
		if err := logger.InitWithFilePath(res.LogPath); err != nil {
			logger.Warn("file logging unavailable", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}
	logger.Info("zknotes-server starting",
		logger.FieldVersion, buildinfo.Current().Version,
		logger.FieldPath, res.DBPath,
		logger.FieldUUID, res.Server.UUID)

	svc := notes.New()
	return listener.Run(ctx, st.View().Config, svc, svc)
}

// setupServer 加载配置并以非嵌入模式执行 setup: 配置文件中的路径与注册开关保持原样。
func setupServer(ctx context.Context, opts serveOptions) (*state.ServerState, state.Result, error) {
	cfg, err := config.LoadFile(opts.configPath)
	if err != nil {
		return nil, state.Result{}, err
	}
	if opts.listen != "" {
		cfg.ListenAddr = opts.listen
	}
	logger.SetLevel(cfg.LogLevel)

	dataDir := opts.dataDir
	if dataDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, state.Result{}, err
		}
		dataDir = util.FirstNonEmpty(os.Getenv("ZKNOTES_DATA_DIR"), wd)
	}

	st := state.New(cfg)
	res, err := st.Setup(ctx, state.HostPaths{DataDir: dataDir}, nil)
	if err != nil {
		return nil, state.Result{}, err
	}
	return st, res, nil
}
