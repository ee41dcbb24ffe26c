package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"drcrypt.com/internal/quotes/app"
	"drcrypt.com/internal/quotes/config"
	vipConfig "drcrypt.com/pkg/config"
	"drcrypt.com/pkg/logger"
	"drcrypt.com/pkg/trace"
)

func main() {
	configDir := flag.String("config", "", "directory containing pricefeed.yaml")
	flag.Parse()

	// 1. 支持 Ctrl+C / kubernetes 停止信号的 context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 配置（文件变更时热更新日志级别）
	var cfg config.Config
	var paths []string
	if *configDir != "" {
		paths = append(paths, *configDir)
	}
	_, err := vipConfig.LoadAndWatch(config.ServiceName, &cfg, func() {
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			logger.Warn(context.Background(), "ignore bad log level", zap.String("level", cfg.Log.Level))
		}
	}, paths...)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	defer logger.Sync()

	// 3. trace
	if cfg.Trace.Enabled {
		shutdown, err := trace.InitTrace(cfg.Name, cfg.Trace.Endpoint)
		if err != nil {
			logger.Fatal(ctx, "init tracer", zap.Error(err))
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	// 4. 启动
	a, err := app.New(ctx, cfg.Clone())
	if err != nil {
		logger.Fatal(ctx, "init pricefeed", zap.Error(err))
	}
	if err := a.Run(ctx); err != nil {
		logger.Error(ctx, "pricefeed exited with error", zap.Error(err))
	}
}
