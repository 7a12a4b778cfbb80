package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is a goroutine-safe in-process cache bounded by total bytes.
// The least recently used entries are evicted first.
type MemoryCache struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	order    *list.List // front = most recently used
	items    map[string]*list.Element
}

type memoryEntry struct {
	key     string
	data    []byte
	expires time.Time
}

// NewMemoryCache returns a cache holding at most maxBytes of data.
// A non-positive maxBytes disables the bound.
func NewMemoryCache(maxBytes int64) *MemoryCache {
	return &MemoryCache{
		maxBytes: maxBytes,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	e := el.Value.(*memoryEntry)
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		c.remove(el)
		return nil, false, nil
	}
	c.order.MoveToFront(el)
	return e.data, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	if c.maxBytes > 0 && int64(len(data)) > c.maxBytes {
		return nil
	}

	e := &memoryEntry{key: key, data: data}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	c.items[key] = c.order.PushFront(e)
	c.size += int64(len(data))

	for c.maxBytes > 0 && c.size > c.maxBytes {
		c.remove(c.order.Back())
	}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element)
	c.size = 0
	return nil
}

// Len returns the number of entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) Close() error { return nil }

// remove must be called with mu held.
func (c *MemoryCache) remove(el *list.Element) {
	e := c.order.Remove(el).(*memoryEntry)
	delete(c.items, e.key)
	c.size -= int64(len(e.data))
}

var (
	_ Cache   = (*MemoryCache)(nil)
	_ Clearer = (*MemoryCache)(nil)
)
