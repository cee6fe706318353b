package titles

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type cacheKey struct {
	wiki  string
	title string
}

// Cache remembers resolved titles per wiki for a bounded time. Only
// successful resolutions are stored. A nil *Cache is a valid, empty cache.
type Cache struct {
	lru *expirable.LRU[cacheKey, string]
}

// NewCache returns nil when ttl is not positive, which disables caching.
func NewCache(size int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		return nil
	}
	if size <= 0 {
		size = 512
	}
	return &Cache{lru: expirable.NewLRU[cacheKey, string](size, nil, ttl)}
}

func (c *Cache) get(wiki, title string) (string, bool) {
	if c == nil {
		return "", false
	}
	return c.lru.Get(cacheKey{wiki: wiki, title: title})
}

func (c *Cache) add(wiki, title, canonical string) {
	if c == nil {
		return
	}
	c.lru.Add(cacheKey{wiki: wiki, title: title}, canonical)
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
