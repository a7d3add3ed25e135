package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"resume-extractor/internal/api/handler"
	"resume-extractor/internal/api/router"
	"resume-extractor/internal/config"
	"resume-extractor/internal/extraction"
	appCoreLogger "resume-extractor/internal/logger"
	"resume-extractor/internal/outbox"
	"resume-extractor/internal/processor"
	"resume-extractor/internal/storage"
	"resume-extractor/internal/tracing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"
)

var (
	version     = "1.0.0"            //nolint:gochecknoglobals
	serviceName = "resume-extractor" //nolint:gochecknoglobals
)

func main() {
	var configPath string
	pflag.StringVarP(&configPath, "config", "c", "internal/config/config.yaml", "Path to config file")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}

	logCloser, err := initLogger(cfg.Logger)
	if err != nil {
		glog.Fatalf("初始化日志失败: %v", err)
	}
	defer logCloser()
	glog.Info("配置加载成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = serviceName
	}
	shutdownTracing, err := tracing.InitProvider(ctx, cfg.Tracing, version)
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}

	storageManager, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化存储失败: %v", err)
	}
	defer storageManager.Close()

	extractor, err := extraction.NewClientFromConfig(cfg.Extraction)
	if err != nil {
		glog.Fatalf("初始化抽取服务客户端失败: %v", err)
	}
	resumeProcessor := processor.NewResumeProcessor(extractor, processor.OptionsFromConfig(cfg)...)
	glog.Info("ResumeProcessor初始化成功")

	// 存储不完整时只提供同步解析
	var resumeService handler.ResumeService
	service, err := processor.NewResumeServiceFromStorage(resumeProcessor, storageManager, processor.ServiceSettingsFromConfig(cfg))
	if err != nil {
		glog.Warnf("服务模式不可用，仅启用同步解析: %v", err)
	} else {
		resumeService = service
	}

	var messageRelay *outbox.MessageRelay
	var consumerDone <-chan struct{}
	if service != nil && storageManager.RabbitMQ != nil {
		messageRelay = outbox.NewMessageRelay(storageManager.MySQL.DB(), storageManager.RabbitMQ,
			outbox.WithMaxRetries(cfg.RabbitMQ.MaxRetries))
		messageRelay.Start()
		glog.Info("消息中继服务已启动")

		consumer := handler.NewExtractionConsumer(cfg.RabbitMQ, service, storageManager.RabbitMQ)
		consumerDone, err = consumer.Start(ctx)
		if err != nil {
			glog.Fatalf("启动抽取消费者失败: %v", err)
		}
	} else {
		glog.Warn("RabbitMQ 或 MySQL 未就绪，不启动消息中继与消费者")
	}

	var handlerOpts []handler.HandlerOption
	if storageManager.MinIO != nil {
		handlerOpts = append(handlerOpts, handler.WithExportStore(storageManager.MinIO))
	}
	resumeHandler := handler.NewResumeHandler(cfg, resumeService, resumeProcessor, handlerOpts...)
	schemaHandler := handler.NewSchemaHandler(resumeProcessor)

	tracer, tracingCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		server.WithMaxRequestBodySize(maxBodySize(cfg)),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracingCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		start := time.Now()
		ctx.Next(c)
		appCoreLogger.Ctx(c).Info().
			Str("method", string(ctx.Method())).
			Str("path", string(ctx.Path())).
			Int("status", ctx.Response.StatusCode()).
			Dur("latency", time.Since(start)).
			Msg("request")
	})

	router.RegisterRoutes(h, resumeHandler, schemaHandler, cfg.Server.APIKeys)
	glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}

	if messageRelay != nil {
		messageRelay.Stop()
		glog.Info("消息中继服务已停止")
	}
	cancel()
	if consumerDone != nil {
		select {
		case <-consumerDone:
		case <-shutdownCtx.Done():
			glog.Warn("等待消费者退出超时")
		}
	}

	if err := shutdownTracing(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		glog.Errorf("关闭链路追踪失败: %v", err)
	}
	glog.Info("优雅退出完成")
}

func initLogger(cfg config.LoggerConfig) (func(), error) {
	closer, err := appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
		File:         cfg.File,
	})
	if err != nil {
		return nil, err
	}

	// 设置 Hertz 的 glog
	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	if cfg.Level == "debug" {
		glog.SetLevel(glog.LevelDebug)
	} else {
		glog.SetLevel(glog.LevelInfo)
	}
	return func() { _ = closer.Close() }, nil
}

// maxBodySize 允许一次同步解析若干份最大尺寸的文件
func maxBodySize(cfg *config.Config) int {
	mb := cfg.Processing.MaxFileSizeMB
	if mb <= 0 {
		mb = 20
	}
	return mb * 20 << 20
}
