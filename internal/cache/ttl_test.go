package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTTLGetSet(t *testing.T) {
	c := NewTTL[string](time.Minute)
	defer c.Stop()

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("key", "value")
	got, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "value", got)
}

func TestTTLExpiry(t *testing.T) {
	c := NewTTL[int](30 * time.Millisecond)
	defer c.Stop()

	c.Set("key", 42)
	time.Sleep(50 * time.Millisecond)

	_, ok := c.Get("key")
	assert.False(t, ok)
}

func TestTTLNegativeCaching(t *testing.T) {
	// 指针类型的 nil 值也是有效条目
	c := NewTTL[*int](time.Minute)
	defer c.Stop()

	c.Set("absent", nil)
	got, ok := c.Get("absent")
	assert.True(t, ok)
	assert.Nil(t, got)
}

func TestTTLDeleteAndClear(t *testing.T) {
	c := NewTTL[string](time.Minute)
	defer c.Stop()

	c.Set("a", "1")
	c.Set("b", "2")

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	assert.False(t, ok)
}
