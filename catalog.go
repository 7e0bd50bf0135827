package polystore

import "sync"

// indexCatalog caches the decoded DBIndex view of each collection so
// the planner does not hit the engine's metadata API on every query.
// Adapters invalidate a collection's entry whenever they create or
// drop an index or the collection itself.
type indexCatalog struct {
	mu           sync.RWMutex
	byCollection map[string][]*DBIndex
}

func newIndexCatalog() *indexCatalog {
	return &indexCatalog{byCollection: make(map[string][]*DBIndex)}
}

// Get returns the cached catalogue for the collection, calling load on
// a miss and caching its result. Concurrent misses may both call load;
// last writer wins, which is harmless since load is idempotent.
func (c *indexCatalog) Get(collection string, load func() ([]*DBIndex, error)) ([]*DBIndex, error) {
	c.mu.RLock()
	indexes, ok := c.byCollection[collection]
	c.mu.RUnlock()
	if ok {
		return indexes, nil
	}

	indexes, err := load()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.byCollection[collection] = indexes
	c.mu.Unlock()
	return indexes, nil
}

// Invalidate drops the cached catalogue for one collection.
func (c *indexCatalog) Invalidate(collection string) {
	c.mu.Lock()
	delete(c.byCollection, collection)
	c.mu.Unlock()
}

// InvalidateAll drops every cached catalogue.
func (c *indexCatalog) InvalidateAll() {
	c.mu.Lock()
	c.byCollection = make(map[string][]*DBIndex)
	c.mu.Unlock()
}
