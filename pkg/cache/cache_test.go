package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestInMemoryCacheExpiry(t *testing.T) {
	clk := &clock{t: time.Unix(1000, 0)}
	c := newInMemoryCache[string, int](time.Minute, time.Hour, clk.now)
	defer c.Close()

	c.Set("a", 1, 0)
	c.Set("b", 2, 10*time.Second)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clk.advance(11 * time.Second)
	_, ok = c.Get("b")
	assert.False(t, ok, "b outlived its ttl")
	_, ok = c.Get("a")
	assert.True(t, ok)

	clk.advance(time.Minute)
	c.cleanup()
	assert.Equal(t, 0, c.Size())
}

func TestSetIfAbsent(t *testing.T) {
	clk := &clock{t: time.Unix(0, 0)}
	c := newInMemoryCache[string, struct{}](time.Second, time.Hour, clk.now)
	defer c.Close()

	assert.True(t, c.SetIfAbsent("k", struct{}{}, 0))
	assert.False(t, c.SetIfAbsent("k", struct{}{}, 0))

	clk.advance(2 * time.Second)
	assert.True(t, c.SetIfAbsent("k", struct{}{}, 0), "expired entry is replaceable")
}

func TestDeleteClearClose(t *testing.T) {
	c := NewInMemoryCache[int, string](time.Minute)
	c.Set(1, "x", 0)
	c.Set(2, "y", 0)
	c.Delete(1)
	assert.Equal(t, 1, c.Size())
	c.Clear()
	assert.Equal(t, 0, c.Size())
	c.Close()
	c.Close()
}
