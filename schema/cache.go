package schema

import (
	"sync"
)

// Cache holds fully resolved schema documents keyed by file path.
//
// Entries are never invalidated. A Cache is created once per process and
// passed by reference to every Resolver that should share it.
type Cache struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewCache creates an empty document cache.
func NewCache() *Cache {
	return &Cache{docs: make(map[string]Document)}
}

// Get returns the cached document for key.
func (c *Cache) Get(key string) (Document, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	doc, ok := c.docs[key]
	return doc, ok
}

// Store inserts doc under key unless an entry already exists, and returns
// the entry that is in the cache afterwards. Concurrent loaders of the same
// file therefore converge on a single entry.
func (c *Cache) Store(key string, doc Document) Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.docs[key]; ok {
		return existing
	}
	c.docs[key] = doc
	return doc
}

// Len returns the number of cached documents.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Keys returns the cached keys in no particular order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.docs))
	for k := range c.docs {
		keys = append(keys, k)
	}
	return keys
}
