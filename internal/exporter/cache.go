package exporter

import (
	"time"

	"github.com/patrickmn/go-cache"
)

const defaultCacheTTL = 5 * time.Minute

// InventoryCache holds the snapshot of the last successful collection. A
// walk over every VM and disk page is far slower than a scrape interval, so
// scrapes inside the TTL are served from here.
type InventoryCache struct {
	items *cache.Cache
	ttl   time.Duration
}

const latestKey = "inventory"

// NewInventoryCache returns an empty cache. A ttl <= 0 means 5 minutes.
func NewInventoryCache(ttl time.Duration) *InventoryCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &InventoryCache{items: cache.New(ttl, 2*ttl), ttl: ttl}
}

// Get returns the latest snapshot while it is fresh.
func (c *InventoryCache) Get() (Snapshot, bool) {
	v, ok := c.items.Get(latestKey)
	if !ok {
		return Snapshot{}, false
	}
	return v.(Snapshot), true
}

func (c *InventoryCache) Set(snap Snapshot) {
	c.items.SetDefault(latestKey, snap)
}

// Age reports how old the latest snapshot is and whether there is one.
func (c *InventoryCache) Age() (time.Duration, bool) {
	snap, ok := c.Get()
	if !ok || snap.CollectedAt.IsZero() {
		return 0, false
	}
	return time.Since(snap.CollectedAt), true
}

func (c *InventoryCache) TTL() time.Duration { return c.ttl }

// Flush drops every snapshot.
func (c *InventoryCache) Flush() { c.items.Flush() }
