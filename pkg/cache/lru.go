package cache

import (
	"container/list"
	"sync"

	"github.com/c360/squawkbus/errors"
)

type lruEntry[V any] struct {
	key   string
	value V
}

// LRU is a thread-safe cache that evicts the least recently used entry
// when the maximum size is exceeded.
type LRU[V any] struct {
	mu      sync.Mutex
	maxSize int
	items   map[string]*list.Element
	order   *list.List
	stats   Statistics
}

// NewLRU creates an LRU cache holding at most maxSize entries.
func NewLRU[V any](maxSize int) (*LRU[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(
			errors.New("max size must be positive"), "cache", "NewLRU", "size validation")
	}
	return &LRU[V]{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		order:   list.New(),
	}, nil
}

// Get retrieves a value by key and marks it as recently used.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		var zero V
		c.stats.misses.Add(1)
		return zero, false
	}

	c.order.MoveToFront(element)
	c.stats.hits.Add(1)
	return element.Value.(*lruEntry[V]).value, true
}

// Set stores a value with the given key and marks it as recently used.
func (c *LRU[V]) Set(key string, value V) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.sets.Add(1)

	if element, exists := c.items[key]; exists {
		element.Value.(*lruEntry[V]).value = value
		c.order.MoveToFront(element)
		return false, nil
	}

	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value})

	if len(c.items) > c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry[V]).key)
			c.stats.evictions.Add(1)
		}
	}

	return true, nil
}

// Delete removes an entry by key.
func (c *LRU[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.items[key]
	if !exists {
		return false
	}
	c.order.Remove(element)
	delete(c.items, key)
	return true
}

// Clear removes all entries.
func (c *LRU[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Size returns the current number of entries.
func (c *LRU[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns the cache statistics.
func (c *LRU[V]) Stats() *Statistics { return &c.stats }

var _ Cache[int] = (*LRU[int])(nil)
