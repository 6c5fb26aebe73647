package embedding

import (
	"container/list"
	"context"
	"sync"
)

// EmbeddingCache is an LRU cache for embeddings keyed by text.
type EmbeddingCache struct {
	capacity int
	cache    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key   string
	value []float32
}

// NewEmbeddingCache creates a new cache with the given capacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	return &EmbeddingCache{
		capacity: capacity,
		cache:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Get returns the cached embedding for key if present.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

// Set stores the embedding for key, evicting the oldest entry if at capacity.
func (c *EmbeddingCache) Set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.cache[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}

	entry := &cacheEntry{key: key, value: value}
	elem := c.lru.PushFront(entry)
	c.cache[key] = elem

	if c.lru.Len() > c.capacity {
		oldest := c.lru.Back()
		if oldest != nil {
			c.lru.Remove(oldest)
			delete(c.cache, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Len returns the number of cached entries.
func (c *EmbeddingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// CachedExtractor memoizes text-only extractions. Requests that include an image always reach
// the wrapped extractor, since the file behind a path can change.
type CachedExtractor struct {
	Extractor
	cache *EmbeddingCache
}

// NewCachedExtractor wraps inner with an LRU of the given capacity.
func NewCachedExtractor(inner Extractor, capacity int) *CachedExtractor {
	return &CachedExtractor{Extractor: inner, cache: NewEmbeddingCache(capacity)}
}

// Extract serves text-only requests from the cache when possible.
func (c *CachedExtractor) Extract(ctx context.Context, imagePath, text string) ([]float32, error) {
	if imagePath != "" || text == "" {
		return c.Extractor.Extract(ctx, imagePath, text)
	}
	if cached, ok := c.cache.Get(text); ok {
		return append([]float32(nil), cached...), nil
	}
	vec, err := c.Extractor.Extract(ctx, "", text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, append([]float32(nil), vec...))
	return vec, nil
}
