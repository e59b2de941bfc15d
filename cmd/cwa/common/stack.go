//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package common assembles the long-lived authorizer collaborators from
// configuration, shared by the cwa subcommands.
package common

import (
	"context"

	"github.com/pkg/errors"

	"github.com/cwms-data/authorizer/pkg/authorizer/config"
	"github.com/cwms-data/authorizer/pkg/authorizer/identity"
	"github.com/cwms-data/authorizer/pkg/authorizer/identity/cache"
	"github.com/cwms-data/authorizer/pkg/authorizer/pipeline"
	"github.com/cwms-data/authorizer/pkg/authorizer/policy"
)

// Stack holds the wired authorization components. Construct one per
// process with [NewStack] and release it with [Close].
type Stack struct {
	Resolver identity.Resolver
	Policy   policy.Client
	Pipeline *pipeline.Pipeline
	Gate     *pipeline.Gate
}

// NewStack loads configuration and wires the identity resolver, policy
// client, pipeline, and enforcement gate.
func NewStack(ctx context.Context) (*Stack, error) {
	if err := config.Load(); err != nil {
		return nil, err
	}

	var factory cache.Factory
	if url := config.VConfig.GetString(config.RedisURL); url != "" {
		factory = cache.NewRedisFactory(url)
	} else {
		factory = cache.NewMemoryFactory()
	}

	svc := identity.NewClient(
		config.VConfig.GetString(config.APIURL),
		config.VConfig.GetDuration(config.APITimeout),
		config.VConfig.GetString(config.APIKey),
	)

	resolver, err := identity.NewResolver(factory, svc, config.VConfig.GetDuration(config.IdentityCacheTTL))
	if err != nil {
		return nil, errors.Wrap(err, "wiring identity resolver")
	}

	policyPath := config.VConfig.GetString(config.OpaPolicyPath)

	var engine policy.Engine
	if module := config.VConfig.GetString(config.OpaEmbeddedModule); module != "" {
		engine, err = policy.NewEmbeddedFromFile(ctx, module, policyPath)
		if err != nil {
			resolver.Close()
			return nil, errors.Wrap(err, "wiring embedded policy engine")
		}
	} else {
		engine = policy.NewRemote(config.VConfig.GetString(config.OpaURL), policyPath)
	}

	client := policy.NewClient(engine, policy.Options{
		TTL:           config.VConfig.GetDuration(config.DecisionCacheTTL),
		SweepInterval: config.VConfig.GetDuration(config.DecisionCacheSweep),
		Timeout:       config.VConfig.GetDuration(config.OpaTimeout),
		Bypass:        config.VConfig.GetBool(config.OpaBypass),
	})

	return &Stack{
		Resolver: resolver,
		Policy:   client,
		Pipeline: pipeline.New(resolver, client),
		Gate:     pipeline.NewGate(config.VConfig.GetString(config.WhitelistEndpoints)),
	}, nil
}

// Close releases the stack's resources.
func (s *Stack) Close() {
	s.Policy.Close()
	s.Resolver.Close()
}
