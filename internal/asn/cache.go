package asn

import (
	"context"
	"net"
	"sync"
)

// DefaultCacheCapacity bounds a CachingResolver with no explicit capacity.
const DefaultCacheCapacity = 2048

// CachingResolver decorates a Resolver with an in-memory cache keyed by
// address, so repeated hops across multiple traces (a common shape: most
// paths share their first few hops) skip the network/mmdb lookup. Eviction
// is a naive "clear everything once full" policy rather than true LRU,
// which is enough for the bursty, short-lived lookup pattern a diagnostics
// run produces.
type CachingResolver struct {
	inner    Resolver
	capacity int

	mu      sync.Mutex
	entries map[string]Info
}

// NewCaching wraps inner with an address-keyed cache of the given capacity.
// capacity <= 0 uses DefaultCacheCapacity.
func NewCaching(inner Resolver, capacity int) *CachingResolver {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &CachingResolver{
		inner:    inner,
		capacity: capacity,
		entries:  make(map[string]Info, capacity),
	}
}

func (c *CachingResolver) Lookup(ctx context.Context, ip net.IP) (Info, error) {
	key := ip.String()

	c.mu.Lock()
	if info, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return info, nil
	}
	c.mu.Unlock()

	info, err := c.inner.Lookup(ctx, ip)
	if err != nil {
		return Info{}, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.capacity {
		c.entries = make(map[string]Info, c.capacity)
	}
	c.entries[key] = info
	c.mu.Unlock()

	return info, nil
}

// Len reports the number of cached entries, for tests and diagnostics.
func (c *CachingResolver) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
