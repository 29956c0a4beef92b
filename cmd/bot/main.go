package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/betbot/ladderbot/internal/broker"
	"github.com/betbot/ladderbot/internal/journal"
	"github.com/betbot/ladderbot/internal/services"
	"github.com/betbot/ladderbot/internal/tagstore"
	"github.com/betbot/ladderbot/pkg/config"
	"github.com/betbot/ladderbot/pkg/logger"
	"github.com/betbot/ladderbot/pkg/shutdown"
)

const gracefulShutdownPeriod = 15 * time.Second

func main() {
	configPath := flag.String("config", "yml/config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.OutputFile,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		logger.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownMgr := shutdown.NewManager()

	tags, err := tagstore.Open(tagstore.OpenOptions{Path: cfg.TagStorePath})
	if err != nil {
		logger.Errorf("打开标签存储失败: %v", err)
		os.Exit(1)
	}
	shutdownMgr.OnShutdown(func(_ context.Context) {
		_ = tags.Close()
	})

	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		logger.Errorf("打开审计日志失败: %v", err)
		os.Exit(1)
	}
	shutdownMgr.OnShutdown(func(_ context.Context) {
		_ = jnl.Close()
	})

	brokerCfg := broker.Config{
		BaseURL:   cfg.Broker.BaseURL,
		StreamURL: cfg.Broker.StreamURL,
		APIKey:    cfg.Broker.APIKey,
		Timeout:   cfg.Broker.Timeout(),
	}
	client := broker.NewClient(brokerCfg)
	svc := services.NewTradingService(client, client, tags, jnl, services.Options{
		TagPrefix:    cfg.Ladder.TagPrefix,
		CustomRatios: cfg.Ladder.CustomRatios,
	})

	stream := broker.NewEventStream(brokerCfg)
	stream.OnOrderUpdate(svc)
	stream.OnGatewayMessage(svc)
	stream.OnReconnected(func(ctx context.Context) {
		if err := svc.ResyncAfterReconnect(ctx, cfg.Account); err != nil {
			logger.Errorf("重连后恢复失败: %v", err)
		}
	})
	shutdownMgr.OnShutdown(func(_ context.Context) {
		stream.Close()
	})

	if err := stream.Connect(ctx); err != nil {
		logger.Errorf("连接券商事件流失败: %v", err)
		os.Exit(1)
	}

	// 启动即对账：进程重启期间的成交/撤单已丢失
	if err := svc.ResyncAfterReconnect(ctx, cfg.Account); err != nil {
		logger.Errorf("启动对账失败: %v", err)
	}

	logger.Infof("🚀 ladderbot 已启动: account=%s gateway=%s", cfg.Account, cfg.Broker.BaseURL)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到退出信号，开始优雅关闭...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer shutdownCancel()
	shutdownMgr.Shutdown(shutdownCtx)
	logger.Info("👋 ladderbot 已退出")
}
