package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCounterIncrement(t *testing.T) {
	c := NewMemoryCounter(time.Hour)
	ctx := context.Background()

	count, err := c.Increment(ctx, "inbound:203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = c.Increment(ctx, "inbound:203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	current, err := c.Current(ctx, "inbound:203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, int64(2), current)
}

func TestMemoryCounterKeysAreIndependent(t *testing.T) {
	c := NewMemoryCounter(time.Hour)
	ctx := context.Background()

	_, err := c.Increment(ctx, "a")
	require.NoError(t, err)

	current, err := c.Current(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, current)
}

func TestMemoryCounterWindowExpiry(t *testing.T) {
	c := NewMemoryCounter(50 * time.Millisecond)
	ctx := context.Background()

	_, err := c.Increment(ctx, "key")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)

	current, err := c.Current(ctx, "key")
	require.NoError(t, err)
	assert.Zero(t, current)

	// 窗口过期后重新从 1 开始
	count, err := c.Increment(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryCounterConcurrent(t *testing.T) {
	c := NewMemoryCounter(time.Hour)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = c.Increment(ctx, "shared")
				_, _ = c.Increment(ctx, fmt.Sprintf("key-%d", n))
			}
		}(i)
	}
	wg.Wait()

	shared, err := c.Current(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), shared)

	own, err := c.Current(ctx, "key-3")
	require.NoError(t, err)
	assert.Equal(t, int64(100), own)
}
