package security

import (
	"sort"
	"sync"
	"time"
)

const defaultRevocationCacheSize = 10000

// RevocationCache keeps revocation keys this process has seen, each until its
// token would have expired anyway. A hit is authoritative; a miss says nothing
// and the shared store must be consulted.
type RevocationCache struct {
	mu         sync.RWMutex
	entries    map[string]time.Time
	maxEntries int
	now        func() time.Time
}

// NewRevocationCache builds a cache holding at most maxEntries keys. When full,
// the entries closest to expiry are evicted first.
func NewRevocationCache(maxEntries int) *RevocationCache {
	if maxEntries <= 0 {
		maxEntries = defaultRevocationCacheSize
	}
	return &RevocationCache{
		entries:    make(map[string]time.Time),
		maxEntries: maxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (c *RevocationCache) WithClock(clock func() time.Time) {
	if clock == nil {
		return
	}
	c.mu.Lock()
	c.now = clock
	c.mu.Unlock()
}

// Add remembers key until expiresAt. Keys that are already expired are ignored.
func (c *RevocationCache) Add(key string, expiresAt time.Time) {
	if c == nil || key == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !expiresAt.After(c.now()) {
		return
	}
	if current, ok := c.entries[key]; ok && !expiresAt.After(current) {
		return
	}
	if _, ok := c.entries[key]; !ok && len(c.entries) >= c.maxEntries {
		c.evictLocked(len(c.entries) - c.maxEntries + 1)
	}
	c.entries[key] = expiresAt
}

// Contains reports whether key is known to be revoked and not yet expired.
func (c *RevocationCache) Contains(key string) bool {
	if c == nil || key == "" {
		return false
	}

	c.mu.RLock()
	expiresAt, ok := c.entries[key]
	now := c.now()
	c.mu.RUnlock()

	return ok && expiresAt.After(now)
}

// Prune drops entries that expired at or before now and returns how many were removed.
func (c *RevocationCache) Prune(now time.Time) int {
	if c == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, expiresAt := range c.entries {
		if !expiresAt.After(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of cached keys, including expired ones not yet pruned.
func (c *RevocationCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *RevocationCache) evictLocked(count int) {
	if count <= 0 {
		return
	}

	type entry struct {
		key       string
		expiresAt time.Time
	}
	ordered := make([]entry, 0, len(c.entries))
	for key, expiresAt := range c.entries {
		ordered = append(ordered, entry{key: key, expiresAt: expiresAt})
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].expiresAt.Before(ordered[j].expiresAt)
	})

	if count > len(ordered) {
		count = len(ordered)
	}
	for _, e := range ordered[:count] {
		delete(c.entries, e.key)
	}
}
