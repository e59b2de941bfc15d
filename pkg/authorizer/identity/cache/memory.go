//
//  Copyright © CWMS Data Project. All rights reserved.
//

package cache

import (
	"context"
	"sync"
	"time"

	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/mohae/deepcopy"
)

// MemoryFactory creates process-local [Store] instances.
type MemoryFactory struct{}

type memoryEntry struct {
	user    types.Identity
	expires time.Time
}

// MemoryStore is a process-local identity cache. It does not share
// warmth across proxy instances; use the Redis store for that.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   func() time.Time
}

// NewMemoryFactory creates a [Factory] for in-memory stores.
func NewMemoryFactory() Factory {
	return &MemoryFactory{}
}

// NewStore creates a new MemoryStore to satisfy the Factory interface.
func (f *MemoryFactory) NewStore() (Store, error) {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		clock:   time.Now,
	}, nil
}

// Get returns a deep copy of the cached identity so callers can never
// alias the stored record.
func (s *MemoryStore) Get(_ context.Context, username string) (types.Identity, bool) {
	s.mu.RLock()
	entry, ok := s.entries[cacheKey(username)]
	s.mu.RUnlock()

	if !ok || s.clock().After(entry.expires) {
		return types.Identity{}, false
	}

	return deepcopy.Copy(entry.user).(types.Identity), true
}

// Set stores the identity with the given TTL.
func (s *MemoryStore) Set(_ context.Context, username string, user types.Identity, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[cacheKey(username)] = memoryEntry{
		user:    deepcopy.Copy(user).(types.Identity),
		expires: s.clock().Add(ttl),
	}
}

// Invalidate removes the cached entry for the username.
func (s *MemoryStore) Invalidate(_ context.Context, username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, cacheKey(username))
}

// Healthy always reports true for the in-memory store.
func (s *MemoryStore) Healthy(context.Context) bool {
	return true
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() {}
