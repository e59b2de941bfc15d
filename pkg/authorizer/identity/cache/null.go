//
//  Copyright © CWMS Data Project. All rights reserved.
//

package cache

import (
	"context"
	"time"

	"github.com/cwms-data/authorizer/pkg/authorizer/types"
)

// NullFactory is a factory for NullStore.
type NullFactory struct{}

// NullStore implements the Store interface but caches nothing. Every
// lookup is a miss, which forces the resolver to the upstream identity
// service on every request. Useful for testing and for deployments that
// must not cache identities.
type NullStore struct{}

// NewNullFactory creates a new factory for NullStore.
func NewNullFactory() Factory {
	return &NullFactory{}
}

// NewStore creates a new NullStore to satisfy the Factory interface.
func (f *NullFactory) NewStore() (Store, error) {
	return &NullStore{}, nil
}

// Get always misses.
func (s *NullStore) Get(context.Context, string) (types.Identity, bool) {
	return types.Identity{}, false
}

// Set drops the identity on the floor.
func (s *NullStore) Set(context.Context, string, types.Identity, time.Duration) {}

// Invalidate is a no-op for NullStore.
func (s *NullStore) Invalidate(context.Context, string) {}

// Healthy always reports true for NullStore.
func (s *NullStore) Healthy(context.Context) bool { return true }

// Close is a no-op for NullStore.
func (s *NullStore) Close() {}
