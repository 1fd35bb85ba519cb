package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"trade-router/internal/app"
	"trade-router/internal/config"
	"trade-router/internal/log"
	"trade-router/internal/router"
	"trade-router/internal/store"
)

// configEnv 在未传 -config 时提供配置路径。
const configEnv = "ROUTER_CONFIG"

type options struct {
	configPath string
	mode       string
	addr       string
	check      bool
}

func parseFlags(args []string) (options, error) {
	var opts options
	fs := flag.NewFlagSet("router", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", os.Getenv(configEnv), "配置文件路径，默认读取 $"+configEnv+" 或 configs/config.yaml")
	fs.StringVar(&opts.mode, "mode", "", "覆盖启动模式: sandbox | dry_run | live")
	fs.StringVar(&opts.addr, "addr", "", "覆盖 HTTP 监听地址")
	fs.BoolVar(&opts.check, "check", false, "只校验配置后退出")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

// applyOverrides 将命令行参数写回配置，模式在启动前校验。
func applyOverrides(cfg *config.Config, opts options) error {
	if opts.mode != "" {
		mode, err := router.ParseMode(opts.mode)
		if err != nil {
			return err
		}
		cfg.Router.Mode = string(mode)
	}
	if opts.addr != "" {
		cfg.HTTP.Addr = opts.addr
	}
	return nil
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	if err := applyOverrides(cfg, opts); err != nil {
		return fmt.Errorf("命令行参数无效: %w", err)
	}
	if opts.check {
		fmt.Fprintf(os.Stdout, "配置有效: mode=%s addr=%s\n", cfg.Router.Mode, cfg.HTTP.Addr)
		return nil
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.NewSQLite(cfg.Database)
	if err != nil {
		logger.Error("初始化数据库失败", zap.Error(err))
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger, db).Run(ctx); err != nil {
		logger.Error("路由服务异常退出", zap.Error(err))
		return err
	}
	logger.Info("路由服务已停止")
	return nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
