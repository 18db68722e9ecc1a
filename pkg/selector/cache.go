package selector

import (
	"container/list"
	"sync"
)

// DefaultCacheSize is the capacity used by NewCache when size <= 0.
const DefaultCacheSize = 256

// Cache is a bounded LRU of compiled selectors keyed by source text.
// Compiled selectors are immutable, so cached entries are shared freely
// between sessions. Compile errors are not cached.
type Cache struct {
	mu      sync.Mutex
	size    int
	order   *list.List
	entries map[string]*list.Element
}

type cacheEntry struct {
	text     string
	compiled *Compiled
}

// NewCache creates a cache holding up to size selectors.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &Cache{
		size:    size,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Compile returns the cached pipeline for text, compiling it on a miss.
func (c *Cache) Compile(text string) (*Compiled, error) {
	c.mu.Lock()
	if el, ok := c.entries[text]; ok {
		c.order.MoveToFront(el)
		compiled := el.Value.(*cacheEntry).compiled
		c.mu.Unlock()
		return compiled, nil
	}
	c.mu.Unlock()

	compiled, err := Compile(text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[text]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).compiled, nil
	}
	c.entries[text] = c.order.PushFront(&cacheEntry{text: text, compiled: compiled})
	for c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).text)
	}
	return compiled, nil
}

// Len returns the number of cached selectors.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
