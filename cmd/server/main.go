package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Case211/remnawave-admin-sub001/internal/config"
	"github.com/Case211/remnawave-admin-sub001/internal/health"
	"github.com/Case211/remnawave-admin-sub001/internal/logger"
	"github.com/Case211/remnawave-admin-sub001/internal/mailserver"
	"github.com/Case211/remnawave-admin-sub001/internal/monitoring"
	"github.com/Case211/remnawave-admin-sub001/internal/ratelimit"
	"github.com/Case211/remnawave-admin-sub001/internal/storage"
	"github.com/Case211/remnawave-admin-sub001/internal/storage/memory"
	sqlstore "github.com/Case211/remnawave-admin-sub001/internal/storage/sql"
	httptransport "github.com/Case211/remnawave-admin-sub001/internal/transport/http"

	"github.com/redis/go-redis/v9"
)

// main 启动邮件子系统：管理 HTTP API、外发队列与 SMTP 监听器。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting mail subsystem",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 存储层：有数据库配置时用 SQL，否则用内存存储（开发环境）
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// 限流计数器：配置了 Redis 时跨进程共享，否则进程内计数
	var counter ratelimit.HourlyCounter
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient, err = ratelimit.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warn("redis unavailable, falling back to in-process counters", zap.Error(err))
		} else {
			counter = ratelimit.NewRedisCounter(redisClient, time.Hour)
			log.Info("using redis rate counters", zap.String("address", cfg.Redis.Address))
		}
	}
	if counter == nil {
		counter = ratelimit.NewMemoryCounter(time.Hour)
	}

	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, redisClient, log)

	mail := mailserver.New(store, cfg.Mail, counter, metrics, log.Named("mail"))

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		Mail:           mail,
		Store:          store,
		MetricsHandler: metrics.HTTPHandler(),
		HealthHandler:  healthChecker.Handler(),
		Logger:         log.Named("http"),
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 邮件子系统（队列 + SMTP 监听器）
	if err := mail.Start(groupCtx); err != nil {
		log.Error("failed to start mail subsystem", zap.Error(err))
		stop()
	}

	// 等待退出信号
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := mail.Stop(); err != nil {
			log.Error("mail subsystem shutdown error", zap.Error(err))
		}
		if err := store.Close(); err != nil {
			log.Error("storage close error", zap.Error(err))
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}
	log.Info("server stopped")
}
