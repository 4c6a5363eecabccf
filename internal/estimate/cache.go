package estimate

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// cacheSize bounds the number of outstanding estimates; the TTL is the real
// limit, the size is backpressure against an abusive client.
const cacheSize = 4096

// Cache holds issued estimates until they expire or a negotiation consumes
// them. Safe for concurrent use.
type Cache struct {
	lru *expirable.LRU[string, *Result]
	now func() time.Time
}

// NewCache builds a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = TTL
	}
	return &Cache{
		lru: expirable.NewLRU[string, *Result](cacheSize, nil, ttl),
		now: time.Now,
	}
}

// Store records an estimate under its id.
func (c *Cache) Store(r *Result) {
	c.lru.Add(r.ID, r)
}

// Get returns a live estimate or nil. An entry past its expiry is treated
// as absent and evicted.
func (c *Cache) Get(id string) *Result {
	r, ok := c.lru.Get(id)
	if !ok {
		return nil
	}
	// The LRU's TTL sweep is coarse; honor the estimate's own expiry too.
	if r.Expired(c.now()) {
		c.lru.Remove(id)
		return nil
	}
	return r
}

// Remove deletes an estimate, typically after a negotiation consumed it.
func (c *Cache) Remove(id string) {
	c.lru.Remove(id)
}
