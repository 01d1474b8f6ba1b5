package knowledge

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSearchCachePutGet 基本读写
func TestSearchCachePutGet(t *testing.T) {
	cache := NewSearchCache(10, time.Minute)

	resp := &SearchResponse{Query: "redis", TotalCount: 2}
	cache.Put("key1", resp)

	got, ok := cache.Get("key1")
	require.True(t, ok)
	assert.Equal(t, resp, got)

	_, ok = cache.Get("missing")
	assert.False(t, ok)
}

// TestSearchCacheEviction 超出容量时淘汰最旧条目
func TestSearchCacheEviction(t *testing.T) {
	cache := NewSearchCache(3, time.Minute)

	for i := 0; i < 4; i++ {
		cache.Put(fmt.Sprintf("key%d", i), &SearchResponse{Query: fmt.Sprintf("q%d", i)})
	}

	assert.Equal(t, 3, cache.Len())
	_, ok := cache.Get("key0")
	assert.False(t, ok, "最早写入的条目应被淘汰")
	for i := 1; i < 4; i++ {
		_, ok := cache.Get(fmt.Sprintf("key%d", i))
		assert.True(t, ok)
	}
}

// TestSearchCacheOverwrite 覆盖已有键不触发淘汰
func TestSearchCacheOverwrite(t *testing.T) {
	cache := NewSearchCache(2, time.Minute)

	cache.Put("a", &SearchResponse{Query: "first"})
	cache.Put("b", &SearchResponse{Query: "second"})
	cache.Put("a", &SearchResponse{Query: "updated"})

	assert.Equal(t, 2, cache.Len())
	got, ok := cache.Get("a")
	require.True(t, ok)
	assert.Equal(t, "updated", got.Query)
	_, ok = cache.Get("b")
	assert.True(t, ok)
}

// TestSearchCacheTTL 过期条目返回未命中并被删除
func TestSearchCacheTTL(t *testing.T) {
	cache := NewSearchCache(10, 10*time.Millisecond)

	cache.Put("key", &SearchResponse{Query: "redis"})
	time.Sleep(30 * time.Millisecond)

	_, ok := cache.Get("key")
	assert.False(t, ok)
	assert.Equal(t, 0, cache.Len())
}

// TestSearchCacheClear 整体清空
func TestSearchCacheClear(t *testing.T) {
	cache := NewSearchCache(10, time.Minute)
	cache.Put("a", &SearchResponse{})
	cache.Put("b", &SearchResponse{})

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	_, ok := cache.Get("a")
	assert.False(t, ok)
}

// TestSearchCacheStats 命中与未命中计数
func TestSearchCacheStats(t *testing.T) {
	cache := NewSearchCache(10, time.Minute)
	cache.Put("a", &SearchResponse{})

	cache.Get("a")
	cache.Get("a")
	cache.Get("missing")

	hits, misses := cache.Stats()
	assert.Equal(t, uint64(2), hits)
	assert.Equal(t, uint64(1), misses)
}

// TestSearchCacheDefaults 非法参数回退到默认容量
func TestSearchCacheDefaults(t *testing.T) {
	cache := NewSearchCache(0, 0)
	cache.Put("a", &SearchResponse{})
	_, ok := cache.Get("a")
	assert.True(t, ok)
}
