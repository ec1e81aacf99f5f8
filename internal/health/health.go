package health

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Case211/remnawave-admin-sub001/internal/storage"
)

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	store  storage.Store
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器
func NewHealthChecker(store storage.Store, redisClient *redis.Client, logger *zap.Logger) *HealthChecker {
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		store:  store,
		logger: logger,
	}

	hc.health.AddLivenessCheck("database", func() error {
		return hc.store.Health()
	})

	if redisClient != nil {
		hc.health.AddReadinessCheck("redis", RedisHealthCheck(redisClient))
	}

	// 协程数暴涨通常意味着投递 worker 或 SMTP 会话泄漏
	hc.health.AddLivenessCheck("goroutines", GoroutineCountCheck(2000))

	return hc
}

// Handler 返回健康检查处理器
func (hc *HealthChecker) Handler() http.Handler {
	return hc.health
}

// DatabaseHealthCheck 数据库健康检查
func DatabaseHealthCheck(db *sql.DB) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return db.PingContext(ctx)
	}
}

// RedisHealthCheck Redis 健康检查
func RedisHealthCheck(client *redis.Client) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return client.Ping(ctx).Err()
	}
}

// GoroutineCountCheck 协程数健康检查
func GoroutineCountCheck(threshold int) healthcheck.Check {
	return func() error {
		count := runtime.NumGoroutine()
		if count > threshold {
			return fmt.Errorf("too many goroutines: %d > %d", count, threshold)
		}
		return nil
	}
}
