//
//  Copyright © CWMS Data Project. All rights reserved.
//

package policy

import (
	"context"
	"time"

	"github.com/cwms-data/authorizer/internal/metrics"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/google/uuid"
)

// Client answers authorization questions, consulting the decision cache
// before the engine.
//
// Client never returns an error: an unreachable engine resolves through
// the fail-open/fail-closed switch into an ordinary decision. Absence of
// a decision is always a denial or an explicit, logged bypass.
type Client interface {
	// Authorize evaluates the context and returns the decision.
	Authorize(ctx context.Context, actx types.Context) types.Decision

	// Close stops the decision cache sweep and releases the engine.
	Close()
}

// ClientImpl is the default implementation of [Client].
type ClientImpl struct {
	engine  Engine
	cache   *DecisionCache
	timeout time.Duration
	bypass  bool
}

// Options configures a policy client.
type Options struct {
	// TTL is the decision cache lifetime.
	TTL time.Duration

	// SweepInterval is the cadence of background cache eviction.
	SweepInterval time.Duration

	// Timeout bounds each engine call.
	Timeout time.Duration

	// Bypass selects fail-open behavior on engine failure. Leave false
	// for fail-closed, the secure default.
	Bypass bool
}

// NewClient creates a policy client around the given engine.
func NewClient(engine Engine, opts Options) *ClientImpl {
	return &ClientImpl{
		engine:  engine,
		cache:   NewDecisionCache(opts.TTL, opts.SweepInterval),
		timeout: opts.Timeout,
		bypass:  opts.Bypass,
	}
}

// Authorize implements [Client].
func (c *ClientImpl) Authorize(ctx context.Context, actx types.Context) types.Decision {
	key := CacheKey(actx)

	if decision, ok := c.cache.Get(key); ok {
		metrics.CacheHits.WithLabelValues("decision").Inc()
		logger.Debugf(actx.User.Username, "authorize", "using cached decision for %s", key)
		metrics.Decisions.WithLabelValues(outcome(decision.Allow), actx.Resource).Inc()
		return decision
	}
	metrics.CacheMisses.WithLabelValues("decision").Inc()

	evalCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	result, decisionID, err := c.engine.Evaluate(evalCtx, buildInput(actx))
	if err != nil {
		decision := c.engineFailure(actx, err)
		metrics.Decisions.WithLabelValues(outcome(decision.Allow), actx.Resource).Inc()
		return decision
	}

	metrics.EngineEvaluations.WithLabelValues(actx.Resource, actx.Action, outcome(result.Allow)).Inc()
	metrics.EngineEvaluationDuration.WithLabelValues(actx.Resource, actx.Action, outcome(result.Allow)).Observe(time.Since(start).Seconds())

	if decisionID == "" {
		decisionID = "proxy-" + uuid.NewString()
	}

	decision := types.Decision{
		Allow:      result.Allow,
		Reason:     result.Reason,
		DecisionID: decisionID,
		Filters:    result.Filters,
		Context:    result.Headers,
	}

	c.cache.Put(key, decision)
	metrics.Decisions.WithLabelValues(outcome(decision.Allow), actx.Resource).Inc()

	logger.Infof(actx.User.Username, "authorize", "decision for %s:%s allow=%v", actx.Resource, actx.Action, decision.Allow)
	return decision
}

// engineFailure applies the fail-open/fail-closed policy. Failure
// decisions are never cached; the next request re-attempts the engine.
func (c *ClientImpl) engineFailure(actx types.Context, err error) types.Decision {
	logger.Errorf(actx.User.Username, "authorize", "policy engine failure: %v", err)

	if c.bypass {
		// Deliberately loud: a fail-open allow must be distinguishable
		// from a normal allow in both logs and metrics.
		metrics.Bypasses.Inc()
		logger.Warnf(actx.User.Username, "authorize", "bypassing authorization for %s:%s, engine unavailable and bypass enabled", actx.Resource, actx.Action)
		return types.Decision{
			Allow:      true,
			Reason:     "policy engine unavailable, bypassed",
			DecisionID: "bypass-" + uuid.NewString(),
		}
	}

	return types.Decision{
		Allow:      false,
		Reason:     "Authorization service unavailable",
		DecisionID: "unavailable-" + uuid.NewString(),
	}
}

// Close implements [Client].
func (c *ClientImpl) Close() {
	c.cache.Stop()
	c.engine.Close()
}

// buildInput shapes the structured input document submitted to the
// policy engine.
func buildInput(actx types.Context) types.EngineInput {
	evalContext := map[string]interface{}{
		"method":    actx.Method,
		"path":      actx.Path,
		"query":     actx.Query,
		"timestamp": actx.Timestamp.UTC().Format(time.RFC3339),
	}
	if actx.OfficeID != "" {
		evalContext["office_id"] = actx.OfficeID
	}
	if actx.DataSource != "" {
		evalContext["data_source"] = actx.DataSource
	}

	return types.EngineInput{
		Input: types.EngineQuery{
			User:     actx.User,
			Resource: actx.Resource,
			Action:   actx.Action,
			Context:  evalContext,
		},
	}
}

func outcome(allow bool) string {
	if allow {
		return "allow"
	}
	return "deny"
}
