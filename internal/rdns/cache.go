// Package rdns resolves IPv4 addresses to hostnames (PTR lookups) behind a
// TTL- and size-bounded cache, so a traceroute or multipath run that visits
// the same hop repeatedly doesn't re-issue the same reverse lookup.
package rdns

import (
	"container/list"
	"context"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultTTL      = 10 * time.Minute
	DefaultCapacity = 4096
)

// entry is a cached lookup result, positive or negative.
type entry struct {
	hostname string
	found    bool // false means "looked up, nothing found" (a negative cache entry)
	expireAt time.Time
	elem     *list.Element
}

// Lookup performs a single reverse DNS lookup. It is the seam Cache
// wraps; production code supplies net.DefaultResolver.LookupAddr, tests
// supply a fake.
type Lookup func(ctx context.Context, ip string) (names []string, err error)

// Cache is a TTL- and size-bounded reverse-DNS cache with approximate LRU
// eviction: the least-recently-touched entry is evicted once the cache is
// at capacity, tracked via a doubly linked list touched on every hit.
type Cache struct {
	lookup   Lookup
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]*entry
	order   *list.List // front = most recently used
}

// New returns a Cache. ttl <= 0 uses DefaultTTL; capacity <= 0 uses
// DefaultCapacity.
func New(lookup Lookup, ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if lookup == nil {
		lookup = net.DefaultResolver.LookupAddr
	}
	return &Cache{
		lookup:   lookup,
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]*entry),
		order:    list.New(),
	}
}

// Resolve returns the hostname for ip, or "" if none is known. A negative
// result (no PTR record) is cached too, so a hop that times out on every
// trace doesn't re-issue the lookup on every run within the TTL.
func (c *Cache) Resolve(ctx context.Context, ip string) string {
	c.mu.Lock()
	if e, ok := c.entries[ip]; ok && time.Now().Before(e.expireAt) {
		c.order.MoveToFront(e.elem)
		name := e.hostname
		c.mu.Unlock()
		return name
	}
	c.mu.Unlock()

	names, err := c.lookup(ctx, ip)
	hostname := ""
	found := false
	if err == nil && len(names) > 0 {
		hostname = trimTrailingDot(names[0])
		found = true
	}

	c.store(ip, hostname, found)
	return hostname
}

// ResolveBatch resolves every address in ips concurrently, bounding
// in-flight lookups so a large hop set doesn't open one goroutine per
// address unchecked.
func (c *Cache) ResolveBatch(ctx context.Context, ips []string) map[string]string {
	out := make(map[string]string, len(ips))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, ip := range ips {
		ip := ip
		g.Go(func() error {
			name := c.Resolve(ctx, ip)
			mu.Lock()
			out[ip] = name
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // Resolve never returns an error; Wait only joins goroutines

	return out
}

func (c *Cache) store(ip, hostname string, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[ip]; ok {
		e.hostname, e.found = hostname, found
		e.expireAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(e.elem)
		return
	}

	if len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	e := &entry{hostname: hostname, found: found, expireAt: time.Now().Add(c.ttl)}
	e.elem = c.order.PushFront(ip)
	c.entries[ip] = e
}

// evictOldest removes the least-recently-touched entry. Caller holds mu.
func (c *Cache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	ip := back.Value.(string)
	c.order.Remove(back)
	delete(c.entries, ip)
}

// Len reports the number of cached entries (positive and negative).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func trimTrailingDot(s string) string {
	if n := len(s); n > 0 && s[n-1] == '.' {
		return s[:n-1]
	}
	return s
}
