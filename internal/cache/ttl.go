// Package cache 提供带过期时间的进程内缓存。
package cache

import (
	"sync"
	"time"
)

// TTL 带过期时间的小型进程内缓存。
//
// 入站接收器用它缓存域名查询结果，提交中继用它缓存凭据，
// 避免每条 SMTP 命令都打到数据库。支持负缓存（值为零值的
// 条目同样有效），读路径无锁。
type TTL[V any] struct {
	data sync.Map
	ttl  time.Duration
	stop chan struct{}
	once sync.Once
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// NewTTL 创建缓存，条目在 ttl 后过期。
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	c := &TTL[V]{
		ttl:  ttl,
		stop: make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Get 获取缓存值，过期或不存在时返回 false。
func (c *TTL[V]) Get(key string) (V, bool) {
	var zero V
	val, ok := c.data.Load(key)
	if !ok {
		return zero, false
	}

	e := val.(*entry[V])
	if time.Now().After(e.expiresAt) {
		c.data.Delete(key)
		return zero, false
	}
	return e.value, true
}

// Set 写入缓存值。
func (c *TTL[V]) Set(key string, value V) {
	c.data.Store(key, &entry[V]{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete 删除缓存值。
func (c *TTL[V]) Delete(key string) {
	c.data.Delete(key)
}

// Clear 清空所有缓存。
func (c *TTL[V]) Clear() {
	c.data.Range(func(key, _ interface{}) bool {
		c.data.Delete(key)
		return true
	})
}

// Stop 停止后台清理协程。
func (c *TTL[V]) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// cleanupLoop 定期清理过期条目
func (c *TTL[V]) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.data.Range(func(key, value interface{}) bool {
				if now.After(value.(*entry[V]).expiresAt) {
					c.data.Delete(key)
				}
				return true
			})
		}
	}
}
