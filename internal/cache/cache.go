package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is an in-process lookup cache. Owners invalidate entries whenever
// the backing record changes; entries also expire after the configured TTL.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Invalidate(key K)
	Purge()
}

type lruCache[K comparable, V any] struct {
	entries *lru.LRU[K, V]
}

// NewLRU returns a size-bounded cache whose entries expire after ttl.
func NewLRU[K comparable, V any](size int, ttl time.Duration) Cache[K, V] {
	if size <= 0 {
		size = 128
	}
	return &lruCache[K, V]{
		entries: lru.NewLRU[K, V](size, nil, ttl),
	}
}

func (c *lruCache[K, V]) Get(key K) (V, bool) {
	return c.entries.Get(key)
}

func (c *lruCache[K, V]) Set(key K, value V) {
	c.entries.Add(key, value)
}

func (c *lruCache[K, V]) Invalidate(key K) {
	c.entries.Remove(key)
}

func (c *lruCache[K, V]) Purge() {
	c.entries.Purge()
}

// Noop never stores anything. Useful where every read must hit storage.
type Noop[K comparable, V any] struct{}

func (Noop[K, V]) Get(K) (V, bool) {
	var zero V
	return zero, false
}

func (Noop[K, V]) Set(K, V)     {}
func (Noop[K, V]) Invalidate(K) {}
func (Noop[K, V]) Purge()       {}
