//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package cache provides interfaces and implementations for the shared
// user-context cache consulted by the identity resolver.
//
// The cache is a best-effort latency optimization: every implementation
// must degrade to "always miss" on store failure rather than propagate
// errors into the request path. Identity resolution simply falls through
// to the upstream identity service.
//
// # Built-in Implementations
//
// The package provides several store implementations:
//   - [NewRedisFactory]: Shared Redis store so multiple proxy instances
//     warm each other's caches (default for production)
//   - [NewMemoryFactory]: Process-local map, suitable for tests and
//     single-instance deployments
//   - [NewNullFactory]: Caches nothing (always miss)
//
// # Custom Implementations
//
// Implement [Factory] and [Store] to integrate another backing store and
// pass the factory to the resolver's constructor.
package cache

import (
	"context"
	"time"

	"github.com/cwms-data/authorizer/pkg/authorizer/types"
)

// Factory creates cache [Store] instances.
//
// Early initialization (validating configuration) should happen during
// factory construction; late initialization (opening connections) should
// happen in [NewStore].
type Factory interface {
	// NewStore creates a new cache store. The returned store should be
	// ready to serve [Store.Get] calls.
	NewStore() (Store, error)
}

// Store is the user-context cache consulted by the identity resolver.
//
// Implementations must be safe for concurrent use. A write race on the
// same username is benign: both writers hold the same computed identity
// and last-write-wins is acceptable. No read-modify-write is ever
// performed on an entry.
type Store interface {
	// Get returns the cached identity for the username, or false when
	// absent. Store failures are reported as absent, never as errors.
	Get(ctx context.Context, username string) (types.Identity, bool)

	// Set stores the identity under the username for the given TTL.
	// Failures are logged and ignored.
	Set(ctx context.Context, username string, user types.Identity, ttl time.Duration)

	// Invalidate removes the cached entry for the username, if any.
	Invalidate(ctx context.Context, username string)

	// Healthy reports whether the backing store is reachable. Used by
	// readiness probes only; an unhealthy store does not fail requests.
	Healthy(ctx context.Context) bool

	// Close releases any resources held by the store.
	Close()
}
