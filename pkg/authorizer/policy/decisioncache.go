//
//  Copyright © CWMS Data Project. All rights reserved.
//

package policy

import (
	"fmt"
	"sync"
	"time"

	"github.com/cwms-data/authorizer/pkg/authorizer/types"
)

// DecisionCache is an in-process TTL map of policy decisions keyed by
// (identity, resource, action, path).
//
// The cache owns a background sweep that drops expired entries at a
// fixed interval, bounding memory independent of traffic shape: an entry
// that is never read again must not grow the map forever. The sweep is
// started on construction and stopped via [DecisionCache.Stop].
//
// Concurrent use is safe. A duplicate computation for the same key on a
// near-simultaneous miss is acceptable; the second writer overwrites the
// first with an equally valid decision.
type DecisionCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	done    chan struct{}
	clock   func() time.Time
}

type cacheEntry struct {
	decision types.Decision
	stored   time.Time
}

// CacheKey derives the decision-cache key for an authorization context.
func CacheKey(actx types.Context) string {
	return fmt.Sprintf("%s:%s:%s:%s", actx.User.ID, actx.Resource, actx.Action, actx.Path)
}

// NewDecisionCache creates a cache whose entries live for ttl and whose
// background sweep runs every sweep interval.
func NewDecisionCache(ttl, sweep time.Duration) *DecisionCache {
	c := &DecisionCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
		clock:   time.Now,
	}

	go c.run(sweep)
	return c
}

// Get returns the live cached decision for the key, if any. Expired
// entries are reported absent even before the sweep removes them.
func (c *DecisionCache) Get(key string) (types.Decision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.clock().Sub(entry.stored) > c.ttl {
		return types.Decision{}, false
	}
	return entry.decision, true
}

// Put stores the decision under the key with a fresh TTL.
func (c *DecisionCache) Put(key string, decision types.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{decision: decision, stored: c.clock()}
}

// Len returns the number of entries currently held, expired or not.
func (c *DecisionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stop cancels the background sweep. The cache remains usable; only
// eviction stops.
func (c *DecisionCache) Stop() {
	close(c.done)
}

func (c *DecisionCache) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.evictExpired()
		case <-c.done:
			return
		}
	}
}

// evictExpired collects expired keys under the read lock and removes
// them under the write lock, keeping the exclusive section proportional
// to the number of expirations rather than the cache size.
func (c *DecisionCache) evictExpired() {
	now := c.clock()

	var expired []string
	c.mu.RLock()
	for key, entry := range c.entries {
		if now.Sub(entry.stored) > c.ttl {
			expired = append(expired, key)
		}
	}
	c.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	c.mu.Lock()
	for _, key := range expired {
		// Re-check under the write lock; the entry may have been
		// refreshed between the two sections.
		if entry, ok := c.entries[key]; ok && now.Sub(entry.stored) > c.ttl {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	logger.SysDebugf("evicted %d expired decision cache entries", len(expired))
}
