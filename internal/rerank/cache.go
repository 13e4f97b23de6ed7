package rerank

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// scoreCache caches per-pair model scores keyed by (query, content hash).
//
// Eviction is insertion-order at fixed capacity. Concurrent insert/evict
// races may re-score an evicted pair; that is acceptable, only map
// integrity matters.
type scoreCache struct {
	mu       sync.Mutex
	entries  map[string]float64
	order    []string
	capacity int
}

func newScoreCache(capacity int) *scoreCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &scoreCache{
		entries:  make(map[string]float64, capacity),
		capacity: capacity,
	}
}

func pairKey(query, content string) string {
	sum := sha256.Sum256([]byte(content))
	return query + "\x00" + hex.EncodeToString(sum[:])
}

func (c *scoreCache) get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *scoreCache) put(key string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = score
		return
	}
	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = score
	c.order = append(c.order, key)
}

func (c *scoreCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
