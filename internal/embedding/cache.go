package embedding

import (
	"container/list"
	"context"
	"sync"
)

// cacheKey separates query and document embeddings of the same text; providers
// embed them with different task types.
type cacheKey struct {
	purpose Purpose
	text    string
}

type cachedVector struct {
	key    cacheKey
	vector []float32
}

// vectorCache is a fixed-capacity LRU of embeddings. Vectors are copied on the way
// in and out so callers may normalize or mutate what they get back.
type vectorCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[cacheKey]*list.Element
	order    *list.List // front is most recently used
	hits     uint64
	misses   uint64
}

func newVectorCache(capacity int) *vectorCache {
	if capacity < 1 {
		capacity = 1
	}
	return &vectorCache{
		capacity: capacity,
		entries:  make(map[cacheKey]*list.Element, capacity),
		order:    list.New(),
	}
}

func (c *vectorCache) get(key cacheKey) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.order.MoveToFront(elem)
	return cloneVector(elem.Value.(*cachedVector).vector), true
}

func (c *vectorCache) put(key cacheKey, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cachedVector).vector = cloneVector(vec)
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&cachedVector{key: key, vector: cloneVector(vec)})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cachedVector).key)
	}
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

// CacheStats reports cache occupancy and hit counts.
type CacheStats struct {
	Entries int
	Hits    uint64
	Misses  uint64
}

// CachedEmbedder memoizes another Embedder by purpose and text.
type CachedEmbedder struct {
	Embedder
	cache *vectorCache
}

// NewCachedEmbedder wraps e with an LRU cache holding up to capacity vectors.
func NewCachedEmbedder(e Embedder, capacity int) *CachedEmbedder {
	return &CachedEmbedder{Embedder: e, cache: newVectorCache(capacity)}
}

// Embed returns the cached vector or delegates and stores the result. Failures are not cached.
func (c *CachedEmbedder) Embed(ctx context.Context, text string, purpose Purpose) ([]float32, error) {
	key := cacheKey{purpose: purpose, text: text}
	if v, ok := c.cache.get(key); ok {
		return v, nil
	}
	v, err := c.Embedder.Embed(ctx, text, purpose)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, v)
	return v, nil
}

// EmbedBatch embeds each text through the cache.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string, purpose Purpose) ([][]float32, error) {
	return embedEach(ctx, texts, purpose, c.Embed)
}

// Stats returns a snapshot of the cache counters.
func (c *CachedEmbedder) Stats() CacheStats {
	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	return CacheStats{Entries: c.cache.order.Len(), Hits: c.cache.hits, Misses: c.cache.misses}
}
