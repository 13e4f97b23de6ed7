package retriever

import (
	"sync"

	"github.com/fyrsmithlabs/retrievald/internal/corpus"
)

// resultCache caches retrieval results keyed by (query, caller filter).
//
// Eviction is insertion-order at fixed capacity, same as the rerank score
// cache: the corpus changes rarely and entries age out by churn, so the
// bookkeeping of a true LRU buys nothing here.
type resultCache struct {
	mu       sync.Mutex
	entries  map[string][]corpus.Passage
	order    []string
	capacity int
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		capacity = 100
	}
	return &resultCache{
		entries:  make(map[string][]corpus.Passage, capacity),
		capacity: capacity,
	}
}

func cacheKey(query string, filter corpus.FilterSpec) string {
	return query + "\x1f" + filter.Fingerprint()
}

func (c *resultCache) get(key string) ([]corpus.Passage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *resultCache) put(key string, passages []corpus.Passage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = passages
		return
	}
	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = passages
	c.order = append(c.order, key)
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
