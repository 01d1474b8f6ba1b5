package knowledge

import (
	"sync"
	"time"
)

// SearchCacheEntry 缓存的检索响应
type SearchCacheEntry struct {
	Response  *SearchResponse
	CreatedAt time.Time
}

// SearchCache 有界的检索结果缓存，按插入顺序淘汰最旧条目
type SearchCache struct {
	mu         sync.Mutex
	entries    map[string]*SearchCacheEntry
	order      []string // 插入顺序，用于淘汰
	maxEntries int
	ttl        time.Duration
	hits       uint64
	misses     uint64
}

func NewSearchCache(maxEntries int, ttl time.Duration) *SearchCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SearchCache{
		entries:    make(map[string]*SearchCacheEntry),
		order:      make([]string, 0, maxEntries),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get 返回未过期的缓存响应，过期条目顺带删除
func (c *SearchCache) Get(key string) (*SearchResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if time.Since(entry.CreatedAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses++
		return nil, false
	}

	c.hits++
	return entry.Response, true
}

func (c *SearchCache) Put(key string, response *SearchResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.order) >= c.maxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}

	c.entries[key] = &SearchCacheEntry{
		Response:  response,
		CreatedAt: time.Now(),
	}
}

// Clear 整体清空，由周期任务调用
func (c *SearchCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*SearchCacheEntry)
	c.order = c.order[:0]
}

// Len 当前缓存条目数
func (c *SearchCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats 返回命中与未命中计数
func (c *SearchCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *SearchCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}
