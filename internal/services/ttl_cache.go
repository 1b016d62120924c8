package services

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// TTLCache is a bounded in-process cache whose entries expire after a fixed
// TTL. Every entry costs 1, so maxEntries bounds the entry count. A Set may
// be dropped under contention or by the admission policy; callers treat the
// cache as an optimisation only.
type TTLCache[V any] struct {
	cache *ristretto.Cache[string, V]
	ttl   time.Duration
}

func NewTTLCache[V any](maxEntries int64, ttl time.Duration) (*TTLCache[V], error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}

	cache, err := ristretto.NewCache(&ristretto.Config[string, V]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ttl cache: %w", err)
	}

	return &TTLCache[V]{cache: cache, ttl: ttl}, nil
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	return c.cache.Get(key)
}

// Set stores value and waits for the write to become visible. It reports
// whether the entry was accepted.
func (c *TTLCache[V]) Set(key string, value V) bool {
	ok := c.cache.SetWithTTL(key, value, 1, c.ttl)
	c.cache.Wait()
	return ok
}

func (c *TTLCache[V]) Delete(key string) {
	c.cache.Del(key)
}

func (c *TTLCache[V]) Clear() {
	c.cache.Clear()
}

func (c *TTLCache[V]) Close() {
	c.cache.Close()
}
