// Package main 是本地 Lambda 模拟器的服务入口。
// 服务把 HTTP 请求路由到进程内的函数，并通过事件总线在函数之间传递领域事件。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oriys/lambdasim/internal/api"
	"github.com/oriys/lambdasim/internal/config"
	"github.com/oriys/lambdasim/internal/events"
	"github.com/oriys/lambdasim/internal/functions"
	"github.com/oriys/lambdasim/internal/metrics"
	"github.com/oriys/lambdasim/internal/reporter"
	"github.com/oriys/lambdasim/internal/runner"
	"github.com/oriys/lambdasim/internal/telemetry"
	"github.com/sirupsen/logrus"
)

// main 初始化所有组件并启动 HTTP 服务器
func main() {
	// 配置文件可选，未指定时使用默认值与 LAMBDASIM_* 环境变量
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := telemetry.NewLogger(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.WithFields(logrus.Fields{
		"port":    cfg.Server.Port,
		"streams": cfg.Streams.Names,
	}).Info("Starting local Lambda simulator")

	// 追踪初始化失败不影响主服务运行
	tel, err := telemetry.New(context.Background(), telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize telemetry, continuing without tracing")
	} else {
		defer tel.Shutdown(context.Background())
		if tel.IsEnabled() {
			logger.WithField("endpoint", cfg.Telemetry.Endpoint).Info("Telemetry initialized")
		}
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.NewMetrics(cfg.Metrics.Namespace, nil)
	}

	// 事件总线与预建事件流
	bus := events.NewBus(events.Options{
		Retention: cfg.Streams.Retention,
		Metrics:   m,
	}, logger)
	functions.RegisterSchemas(bus.Schemas())
	for _, name := range cfg.Streams.Names {
		if err := bus.CreateStream(name); err != nil {
			logger.WithError(err).WithField("stream", name).Fatal("Failed to create stream")
		}
	}

	// 调用运行器与请求路由器
	run := runner.New(runner.Config{
		Region:         cfg.Lambda.Region,
		AccountID:      cfg.Lambda.AccountID,
		MemoryMB:       cfg.Lambda.MemoryMB,
		Timeout:        cfg.Lambda.Timeout(),
		EnforceTimeout: cfg.Lambda.EnforceTimeout,
	}, m, logger)
	gateway := api.NewGateway(run, m, logger)

	// 所有路由在开始监听前注册完毕
	if err := functions.New(functions.NewStore(), bus, logger).Register(gateway); err != nil {
		logger.WithError(err).Fatal("Failed to register functions")
	}

	observers := events.NewObservers(bus, logger)
	if err := observers.AttachRecordLogger(cfg.Streams.Names); err != nil {
		logger.WithError(err).Fatal("Failed to attach stream observers")
	}

	rep := reporter.New(bus, m, logger)
	if err := rep.Start(cfg.Reporter.Schedule); err != nil {
		logger.WithError(err).Fatal("Failed to start stream reporter")
	}

	router := api.NewRouter(&api.RouterConfig{
		Gateway:     gateway,
		Handler:     api.NewHandler(gateway, bus, logger),
		Metrics:     m,
		ServiceName: cfg.Telemetry.ServiceName,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Lambda.Timeout() + 30*time.Second, // 覆盖最长调用时间
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		for _, rt := range gateway.Routes() {
			logger.WithFields(logrus.Fields{
				"method":        rt.Method,
				"path":          rt.Path,
				"function_name": rt.FunctionName,
			}).Info("Route available")
		}
		logger.WithField("port", cfg.Server.Port).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// 监听 SIGINT (Ctrl+C) 和 SIGTERM (容器停止) 信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}

	select {
	case <-rep.Stop().Done():
	case <-ctx.Done():
		logger.Warn("Stream reporter did not stop before shutdown timeout")
	}

	observers.Close()
	if err := bus.Close(); err != nil {
		logger.WithError(err).Error("Event bus close error")
	}

	logger.Info("Server stopped")
}
