//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package identity resolves inbound credentials into the caller's full
// user context: roles, offices, persona, and time-series privileges.
//
// Resolution consults the shared user-context cache first and falls back
// to the upstream identity service, writing the result back with the
// configured TTL. Callers without a usable credential resolve to the
// anonymous identity; whether anonymous access suffices is decided by
// the policy engine, not here.
package identity

import (
	"context"
	"time"

	"github.com/cwms-data/authorizer/internal/logging"
	"github.com/cwms-data/authorizer/internal/metrics"
	"github.com/cwms-data/authorizer/pkg/authorizer/identity/cache"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("authorizer.identity")

// Credential carries the raw identity material of an inbound request.
type Credential struct {
	// Bearer is the Authorization bearer token, when present.
	Bearer string

	// TestIdentity is the trusted test-identity header payload, when
	// present. It takes precedence over Bearer.
	TestIdentity string

	// Username names a caller directly, with no token to decode. Used
	// by trusted service-to-service calls; resolution goes through the
	// service api key rather than the caller's own credential.
	Username string
}

// Resolver produces an Identity for an inbound credential.
type Resolver interface {
	// Resolve returns the caller's identity. A missing or undecodable
	// credential resolves to [types.Anonymous]; only a transient
	// upstream failure returns an error, which must abort the request.
	Resolve(ctx context.Context, cred Credential) (types.Identity, error)

	// Invalidate evicts the cached context for a username so the next
	// request re-resolves against the upstream service.
	Invalidate(ctx context.Context, username string)

	// Healthy reports whether the resolver's cache store is reachable.
	Healthy(ctx context.Context) bool

	// Close releases the resolver's cache resources.
	Close()
}

// ResolverImpl is the default implementation of [Resolver].
type ResolverImpl struct {
	store cache.Store
	svc   Service
	ttl   time.Duration
}

// NewResolver creates a resolver backed by the given cache factory and
// identity service. Cached identities live for ttl.
func NewResolver(factory cache.Factory, svc Service, ttl time.Duration) (*ResolverImpl, error) {
	store, err := factory.NewStore()
	if err != nil {
		return nil, errors.Wrap(err, "initializing identity cache")
	}

	return &ResolverImpl{
		store: store,
		svc:   svc,
		ttl:   ttl,
	}, nil
}

// Resolve implements [Resolver].
func (r *ResolverImpl) Resolve(ctx context.Context, cred Credential) (types.Identity, error) {
	if cred.TestIdentity != "" {
		user, err := ParseTestIdentity(cred.TestIdentity)
		if err != nil {
			logger.SysWarnf("ignoring invalid test identity header: %v", err)
			return types.Anonymous, nil
		}
		return user, nil
	}

	if cred.Username != "" {
		return r.lookup(ctx, cred.Username, func(ctx context.Context) (types.Identity, error) {
			return r.svc.FetchUser(ctx, cred.Username)
		})
	}

	if cred.Bearer == "" {
		return types.Anonymous, nil
	}

	username, err := UsernameFromToken(cred.Bearer)
	if err != nil {
		// A corrupted token is the caller's problem, never fatal. The
		// request proceeds as unauthenticated.
		logger.SysWarnf("degrading to anonymous: %v", err)
		return types.Anonymous, nil
	}

	return r.lookup(ctx, username, func(ctx context.Context) (types.Identity, error) {
		return r.svc.FetchProfile(ctx, cred.Bearer)
	})
}

// lookup is the cache-then-service half of resolution, shared by the
// bearer and username credential forms.
func (r *ResolverImpl) lookup(ctx context.Context, username string, fetch func(context.Context) (types.Identity, error)) (types.Identity, error) {
	if user, ok := r.store.Get(ctx, username); ok {
		metrics.CacheHits.WithLabelValues("identity").Inc()
		logger.Debugf(username, "resolve", "user context loaded from cache")
		return user, nil
	}
	metrics.CacheMisses.WithLabelValues("identity").Inc()

	user, err := fetch(ctx)
	if errors.Is(err, ErrNoIdentity) {
		logger.Infof(username, "resolve", "unknown to identity service, proceeding as anonymous")
		return types.Anonymous, nil
	}
	if err != nil {
		return types.Identity{}, errors.Wrap(err, "resolving user context")
	}

	r.store.Set(ctx, username, user, r.ttl)
	logger.Debugf(username, "resolve", "user context retrieved from identity service: offices=%v roles=%v", user.Offices, user.Roles)

	return user, nil
}

// Invalidate implements [Resolver].
func (r *ResolverImpl) Invalidate(ctx context.Context, username string) {
	r.store.Invalidate(ctx, username)
}

// Healthy implements [Resolver].
func (r *ResolverImpl) Healthy(ctx context.Context) bool {
	return r.store.Healthy(ctx)
}

// Close implements [Resolver].
func (r *ResolverImpl) Close() {
	r.store.Close()
}

// FromClaim builds an Identity from a pre-supplied claim on a trusted
// service-to-service call. The claim is taken at face value; anonymous
// claims keep empty role and office sets.
func FromClaim(claim types.UserClaim) types.Identity {
	if claim.Username == "" && claim.ID == "" {
		return types.Anonymous
	}

	id := claim.ID
	if id == "" {
		id = claim.Username
	}
	username := claim.Username
	if username == "" {
		username = claim.ID
	}

	offices := dedupe(claim.Offices)
	return types.Identity{
		ID:            id,
		Username:      username,
		Roles:         dedupe(claim.Roles),
		Offices:       offices,
		PrimaryOffice: first(offices),
		Persona:       claim.Persona,
		Authenticated: true,
	}
}
