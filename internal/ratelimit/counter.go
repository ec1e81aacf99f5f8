package ratelimit

import (
	"context"
	"sync"
	"time"
)

// HourlyCounter 滚动时间窗口计数器。
//
// 入站接收器按来源 IP、提交中继按凭据 ID 使用它做小时配额。
// 计数是尽力而为的：窗口边界附近允许轻微的多放或少放，
// 多进程部署时各进程独立计数（可切换 Redis 实现共享计数）。
type HourlyCounter interface {
	// Increment 递增并返回当前窗口内的计数
	Increment(ctx context.Context, key string) (int64, error)
	// Current 返回当前窗口内的计数（不递增）
	Current(ctx context.Context, key string) (int64, error)
}

// shardCount 分片数，降低热点 key 之外的锁竞争
const shardCount = 16

// MemoryCounter 进程内分片计数器实现。
//
// 每个 key 维护一个固定窗口：窗口起点超过 window 后计数清零。
type MemoryCounter struct {
	window time.Duration
	shards [shardCount]*counterShard
}

type counterShard struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

type windowEntry struct {
	windowStart time.Time
	count       int64
}

// NewMemoryCounter 创建进程内计数器
func NewMemoryCounter(window time.Duration) *MemoryCounter {
	c := &MemoryCounter{window: window}
	for i := range c.shards {
		c.shards[i] = &counterShard{entries: make(map[string]*windowEntry)}
	}
	return c
}

func (c *MemoryCounter) shard(key string) *counterShard {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return c.shards[h%shardCount]
}

// Increment 递增并返回当前窗口内的计数
func (c *MemoryCounter) Increment(_ context.Context, key string) (int64, error) {
	now := time.Now()
	sh := c.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || now.Sub(e.windowStart) >= c.window {
		e = &windowEntry{windowStart: now}
		sh.entries[key] = e
	}
	e.count++

	// 条目过多时顺手清理过期窗口
	if len(sh.entries) > 4096 {
		for k, v := range sh.entries {
			if now.Sub(v.windowStart) >= c.window {
				delete(sh.entries, k)
			}
		}
	}

	return e.count, nil
}

// Current 返回当前窗口内的计数
func (c *MemoryCounter) Current(_ context.Context, key string) (int64, error) {
	now := time.Now()
	sh := c.shard(key)

	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok || now.Sub(e.windowStart) >= c.window {
		return 0, nil
	}
	return e.count, nil
}
