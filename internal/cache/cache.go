package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is a small in-process cache used for read-heavy snapshot lookups.
// It is an optimization only: every spend path reads through the database
// under the tenant lock, so staleness here never affects entitlement checks.
type Cache interface {
	Get(key string) (interface{}, bool)
	Set(key string, value interface{})
	Delete(key string)
}

type inMemoryCache struct {
	store *gocache.Cache
}

// NewInMemoryCache creates a cache with the given default TTL.
func NewInMemoryCache(ttl time.Duration) Cache {
	return &inMemoryCache{
		store: gocache.New(ttl, 2*ttl),
	}
}

func (c *inMemoryCache) Get(key string) (interface{}, bool) {
	return c.store.Get(key)
}

func (c *inMemoryCache) Set(key string, value interface{}) {
	c.store.Set(key, value, gocache.DefaultExpiration)
}

func (c *inMemoryCache) Delete(key string) {
	c.store.Delete(key)
}

// SnapshotKey builds the cache key for a tenant's snapshot view.
func SnapshotKey(tenantID string) string {
	return "snapshot:" + tenantID
}
