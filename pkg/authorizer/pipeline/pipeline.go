//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package pipeline orchestrates a single authorization pass over an
// inbound request: resolve the caller's identity, obtain a policy
// decision, and on allow synthesize the data-access constraints carried
// to the upstream API in the auth-context header.
package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/cwms-data/authorizer/internal/logging"
	"github.com/cwms-data/authorizer/pkg/authorizer/constraints"
	"github.com/cwms-data/authorizer/pkg/authorizer/identity"
	"github.com/cwms-data/authorizer/pkg/authorizer/policy"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
)

var logger = logging.GetLogger("authorizer.pipeline")

// HeaderAuthContext carries the serialized authorization-context document
// to the upstream data API.
const HeaderAuthContext = "X-CWMS-Auth-Context"

// HeaderTestUser carries a trusted JSON identity for test traffic.
const HeaderTestUser = "X-Test-User"

// HTTPError is a user-visible pipeline failure. Internal detail goes to
// the logs only.
type HTTPError struct {
	Status  int
	Code    string
	Message string
}

func (e *HTTPError) Error() string {
	return e.Code + ": " + e.Message
}

func internalError() *HTTPError {
	return &HTTPError{
		Status:  http.StatusInternalServerError,
		Code:    "Internal Server Error",
		Message: "Authorization processing failed",
	}
}

// Request is the transport-neutral view of an inbound request, built by
// an enforcement point from its own wire format.
type Request struct {
	Method       string
	Path         string
	Query        map[string]string
	Bearer       string
	TestIdentity string
}

// Outcome is the terminal state of one pipeline pass. Exactly one of
// Allowed or Failure is set: an allowed request carries the header value
// to attach before forwarding, a denied or failed one carries the
// response to short-circuit with.
type Outcome struct {
	Allowed     bool
	User        types.Identity
	Decision    types.Decision
	Constraints types.Constraints
	Header      string
	Failure     *HTTPError
}

// Pipeline holds the long-lived collaborators, constructed once at
// process start and shared by all requests.
type Pipeline struct {
	resolver identity.Resolver
	policy   policy.Client
}

func New(resolver identity.Resolver, policy policy.Client) *Pipeline {
	return &Pipeline{resolver: resolver, policy: policy}
}

// CacheHealthy reports whether the shared identity cache is reachable.
// Readiness reporting only: a cache outage degrades resolution to
// always-miss and never fails requests.
func (p *Pipeline) CacheHealthy(ctx context.Context) bool {
	return p.resolver.Healthy(ctx)
}

// Authorize runs one request through Resolving -> Deciding ->
// Allowed/Denied. It never panics or returns an error: any internal
// failure becomes a generic 500 outcome.
func (p *Pipeline) Authorize(ctx context.Context, req Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.SysErrorf("panic during authorization of %s %s: %v", req.Method, req.Path, r)
			out = Outcome{Failure: internalError()}
		}
	}()

	user, err := p.resolver.Resolve(ctx, identity.Credential{
		Bearer:       req.Bearer,
		TestIdentity: req.TestIdentity,
	})
	if err != nil {
		logger.Errorf("anonymous", "resolve", "identity resolution failed for %s %s: %v", req.Method, req.Path, err)
		return Outcome{Failure: internalError()}
	}

	actx := buildContext(user, req)
	decision := p.policy.Authorize(ctx, actx)

	if !decision.Allow {
		logger.Warnf(user.Username, "authorize", "denied %s on %s: %s", actx.Action, actx.Resource, decision.Reason)

		reason := decision.Reason
		if reason == "" {
			reason = "You do not have permission to access this resource"
		}
		return Outcome{
			User:     user,
			Decision: decision,
			Failure: &HTTPError{
				Status:  http.StatusForbidden,
				Code:    "Forbidden",
				Message: reason,
			},
		}
	}

	cons := constraints.Synthesize(user, decision)

	header, err := json.Marshal(Document(user, decision, cons))
	if err != nil {
		logger.Errorf(user.Username, "authorize", "failed serializing auth context: %v", err)
		return Outcome{Failure: internalError()}
	}

	logger.Debugf(user.Username, "authorize", "allowed %s on %s, context header attached", actx.Action, actx.Resource)

	return Outcome{
		Allowed:     true,
		User:        user,
		Decision:    decision,
		Constraints: cons,
		Header:      string(header),
	}
}

// Direct answers the direct authorization endpoint: a decision without a
// proxied request behind it. The caller has already validated resource
// and action. A denial is a normal response here, not a 403.
func (p *Pipeline) Direct(ctx context.Context, req types.AuthorizeRequest) (types.AuthorizeResponse, *HTTPError) {
	var user types.Identity
	if req.User != nil {
		user = identity.FromClaim(*req.User)
		if req.User.Bare() {
			// A name-only claim carries nothing to evaluate; look the
			// user up by name so real roles and offices flow into the
			// decision. Unknown users keep the face-value claim.
			resolved, err := p.resolver.Resolve(ctx, identity.Credential{Username: req.User.Username})
			if err != nil {
				logger.Errorf(req.User.Username, "resolve", "identity lookup failed for direct request: %v", err)
				return types.AuthorizeResponse{}, internalError()
			}
			if !resolved.IsAnonymous() {
				user = resolved
			}
		}
	} else {
		resolved, err := p.resolver.Resolve(ctx, identity.Credential{Bearer: req.JwtToken})
		if err != nil {
			logger.Errorf("anonymous", "resolve", "identity resolution failed for direct request: %v", err)
			return types.AuthorizeResponse{}, internalError()
		}
		user = resolved
	}

	actx := types.Context{
		User:       user,
		Resource:   req.Resource,
		Action:     req.Action,
		Method:     ActionToMethod(req.Action),
		Path:       "/cwms-data/" + req.Resource,
		Query:      map[string]string{},
		Timestamp:  time.Now(),
		OfficeID:   stringHint(req.Context, "office_id"),
		DataSource: stringHint(req.Context, "data_source"),
	}

	decision := p.policy.Authorize(ctx, actx)
	cons := constraints.Synthesize(user, decision)

	return types.AuthorizeResponse{
		Decision: types.DecisionSummary{
			Allow:      decision.Allow,
			DecisionID: decision.DecisionID,
			Reason:     decision.Reason,
		},
		User:        user.Summary(),
		Constraints: cons,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// Document builds the authorization-context document attached to every
// allowed request.
func Document(user types.Identity, decision types.Decision, cons types.Constraints) types.AuthContextDocument {
	docContext := decision.Context
	if docContext == nil {
		docContext = map[string]interface{}{}
	}

	return types.AuthContextDocument{
		Policy: types.PolicyStamp{
			Allow:      decision.Allow,
			DecisionID: decision.DecisionID,
		},
		User:        user.Summary(),
		Constraints: cons,
		Context:     docContext,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

func buildContext(user types.Identity, req Request) types.Context {
	query := req.Query
	if query == nil {
		query = map[string]string{}
	}

	return types.Context{
		User:       user,
		Resource:   ExtractResource(req.Path),
		Action:     ExtractAction(req.Method),
		Method:     req.Method,
		Path:       req.Path,
		Query:      query,
		Timestamp:  time.Now(),
		OfficeID:   query["office"],
		DataSource: query["data-source"],
	}
}

// ExtractResource derives the resource name from a request path, e.g.
// /cwms-data/timeseries -> timeseries.
func ExtractResource(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}

	var parts []string
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}

	if len(parts) >= 2 && parts[0] == "cwms-data" {
		return parts[1]
	}
	if len(parts) > 0 {
		return parts[0]
	}
	return "unknown"
}

// ExtractAction maps an HTTP method to a policy action. Unmapped methods
// yield "unknown", which the engine treats as non-matching.
func ExtractAction(method string) string {
	switch method {
	case http.MethodGet:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// ActionToMethod is the inverse mapping, used when a direct request
// names an action with no HTTP request behind it.
func ActionToMethod(action string) string {
	switch action {
	case "read":
		return http.MethodGet
	case "create":
		return http.MethodPost
	case "update":
		return http.MethodPut
	case "delete":
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

// ValidAction reports whether action is one the direct endpoint accepts.
func ValidAction(action string) bool {
	switch action {
	case "read", "create", "update", "delete":
		return true
	}
	return false
}

func stringHint(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
