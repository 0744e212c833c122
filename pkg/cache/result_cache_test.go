package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResultCacheDefaults(t *testing.T) {
	c := NewResultCache(0, 0)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
	assert.True(t, c.enabled)

	c = NewResultCache(-3, time.Minute)
	assert.Equal(t, DefaultMaxSize, c.maxSize)
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key(1, "customer", "c1"), Key(1, "customer", "c1"))
	assert.NotEqual(t, Key(1, "customer", "c1"), Key(2, "customer", "c1"), "generation is part of the key")
	assert.NotEqual(t, Key(1, "customer", "c1"), Key(1, "product", "c1"))
	assert.NotEqual(t, Key(1, "ab", "c"), Key(1, "a", "bc"), "op and arg are separated")
}

func TestGetPut(t *testing.T) {
	c := NewResultCache(10, 0)
	k := Key(1, "summary", "")

	_, ok := c.Get(k)
	assert.False(t, ok)

	c.Put(k, "v1")
	v, ok := c.Get(k)
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	c.Put(k, "v2")
	v, _ = c.Get(k)
	assert.Equal(t, "v2", v)
	assert.Equal(t, 1, c.Len())

	s := c.Stats()
	assert.Equal(t, uint64(2), s.Hits)
	assert.Equal(t, uint64(1), s.Misses)
	assert.InDelta(t, 66.67, s.HitRate, 0.01)
}

func TestLRUEviction(t *testing.T) {
	c := NewResultCache(2, 0)
	c.Put(1, "a")
	c.Put(2, "b")
	c.Get(1) // 2 is now least recently used
	c.Put(3, "c")

	_, ok := c.Get(2)
	assert.False(t, ok)
	_, ok = c.Get(1)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestTTLExpiry(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewResultCache(10, time.Minute)
	c.now = func() time.Time { return now }

	c.Put(1, "fresh")
	now = now.Add(30 * time.Second)
	_, ok := c.Get(1)
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok = c.Get(1)
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is removed on read")
}

func TestRemoveClearDisable(t *testing.T) {
	c := NewResultCache(10, 0)
	c.Put(1, "a")
	c.Put(2, "b")

	c.Remove(1)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())

	c.Put(3, "c")
	c.SetEnabled(false)
	assert.Zero(t, c.Len())
	c.Put(4, "d")
	_, ok := c.Get(4)
	assert.False(t, ok)

	c.SetEnabled(true)
	c.Put(4, "d")
	_, ok = c.Get(4)
	assert.True(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := NewResultCache(64, time.Minute)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				k := Key(uint64(w), "op", fmt.Sprint(i%100))
				if _, ok := c.Get(k); !ok {
					c.Put(k, i)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 64)
}

func BenchmarkGetHit(b *testing.B) {
	c := NewResultCache(1000, 0)
	k := Key(1, "customer_insights", "c42")
	c.Put(k, struct{}{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(k)
	}
}
