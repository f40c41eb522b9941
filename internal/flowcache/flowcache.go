// Package flowcache remembers TCP flows that carried a blocked hostname so the rest
// of the flow can be dropped without inspecting its payload again.
package flowcache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"firestige.xyz/hostguard/internal/core"
)

const (
	DefaultTTL             = 30 * time.Second
	DefaultCleanupInterval = time.Minute
)

// Cache maps a flow to the domain that caused it to be blocked. Entries expire ttl
// after they were last blocked.
type Cache struct {
	c   *gocache.Cache
	ttl time.Duration
}

// New creates a Cache. Non-positive arguments fall back to the defaults.
func New(ttl, cleanup time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanup <= 0 {
		cleanup = DefaultCleanupInterval
	}
	return &Cache{c: gocache.New(ttl, cleanup), ttl: ttl}
}

// Block marks key as blocked because of domain.
func (c *Cache) Block(key core.FlowKey, domain string) {
	c.c.Set(key.String(), domain, c.ttl)
}

// Blocked returns the domain key was blocked for, if the entry is still live.
func (c *Cache) Blocked(key core.FlowKey) (string, bool) {
	v, ok := c.c.Get(key.String())
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Forget removes key.
func (c *Cache) Forget(key core.FlowKey) { c.c.Delete(key.String()) }

// Len counts entries, including expired ones not yet cleaned up.
func (c *Cache) Len() int { return c.c.ItemCount() }

// Flush removes every entry.
func (c *Cache) Flush() { c.c.Flush() }

// TTL returns the entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }
