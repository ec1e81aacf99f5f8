package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounter Redis 实现，多进程部署时共享配额计数。
type RedisCounter struct {
	client *redis.Client
	window time.Duration
	prefix string
}

// NewRedisCounter 创建 Redis 计数器
func NewRedisCounter(client *redis.Client, window time.Duration) *RedisCounter {
	return &RedisCounter{
		client: client,
		window: window,
		prefix: "mail:ratelimit:",
	}
}

// NewRedisClient 按配置创建 Redis 客户端
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Increment 递增并返回当前窗口内的计数
func (c *RedisCounter) Increment(ctx context.Context, key string) (int64, error) {
	k := c.prefix + key
	count, err := c.client.Incr(ctx, k).Result()
	if err != nil {
		return 0, err
	}
	// 第一次递增时设置窗口过期
	if count == 1 {
		c.client.Expire(ctx, k, c.window)
	}
	return count, nil
}

// Current 返回当前窗口内的计数
func (c *RedisCounter) Current(ctx context.Context, key string) (int64, error) {
	count, err := c.client.Get(ctx, c.prefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}
