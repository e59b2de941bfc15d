//
//  Copyright © CWMS Data Project. All rights reserved.
//

package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cwms-data/authorizer/pkg/authorizer/identity"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	user types.Identity
	err  error
	cred identity.Credential
}

func (r *stubResolver) Resolve(_ context.Context, cred identity.Credential) (types.Identity, error) {
	r.cred = cred
	if r.err != nil {
		return types.Identity{}, r.err
	}
	return r.user, nil
}

func (r *stubResolver) Invalidate(context.Context, string) {}
func (r *stubResolver) Healthy(context.Context) bool       { return true }
func (r *stubResolver) Close()                             {}

type stubPolicy struct {
	decision types.Decision
	calls    int
	panics   bool
}

func (p *stubPolicy) Authorize(_ context.Context, actx types.Context) types.Decision {
	p.calls++
	if p.panics {
		panic("engine exploded")
	}
	return p.decision
}

func (p *stubPolicy) Close() {}

func waterManager() types.Identity {
	return types.Identity{
		ID:            "m5hectest",
		Username:      "m5hectest",
		Email:         "m5hectest@usace.mil",
		Roles:         []string{"water_manager"},
		Offices:       []string{"SWT"},
		PrimaryOffice: "SWT",
		Authenticated: true,
	}
}

func TestGateWhitelist(t *testing.T) {
	g := NewGate(`["/cwms-data/timeseries","/cwms-data/offices"]`)

	assert.True(t, g.RequiresEnforcement("/cwms-data/timeseries"))
	assert.True(t, g.RequiresEnforcement("/cwms-data/timeseries?name=foo&office=SWT"))
	assert.False(t, g.RequiresEnforcement("/cwms-data/levels"))
	assert.False(t, g.RequiresEnforcement("/cwms-data/timeseries/extra"))

	assert.Equal(t, []string{"/cwms-data/offices", "/cwms-data/timeseries"}, g.Endpoints())
}

func TestGateAlwaysExcluded(t *testing.T) {
	g := NewGate(`["/health","/metrics","/docs/index.html"]`)

	assert.False(t, g.RequiresEnforcement("/health"))
	assert.False(t, g.RequiresEnforcement("/ready"))
	assert.False(t, g.RequiresEnforcement("/metrics"))
	assert.False(t, g.RequiresEnforcement("/docs/index.html"))
	assert.False(t, g.RequiresEnforcement("/swagger/ui"))
}

// A malformed whitelist must not prevent startup; it degrades to
// enforcing nothing.
func TestGateMalformedWhitelist(t *testing.T) {
	g := NewGate(`/cwms-data/timeseries`)

	assert.False(t, g.RequiresEnforcement("/cwms-data/timeseries"))
	assert.Empty(t, g.Endpoints())
}

func TestAuthorizeAllowed(t *testing.T) {
	policy := &stubPolicy{decision: types.Decision{
		Allow:      true,
		DecisionID: "d-42",
		Context:    map[string]interface{}{"rule": "office_match"},
	}}
	p := New(&stubResolver{user: waterManager()}, policy)

	out := p.Authorize(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/cwms-data/timeseries",
		Query:  map[string]string{"office": "SWT"},
	})

	require.True(t, out.Allowed)
	require.Nil(t, out.Failure)
	assert.True(t, out.Constraints.EmbargoExempt)
	assert.Contains(t, out.Constraints.DataClassification, "sensitive")

	var doc types.AuthContextDocument
	require.Nil(t, json.Unmarshal([]byte(out.Header), &doc))
	assert.True(t, doc.Policy.Allow)
	assert.Equal(t, "d-42", doc.Policy.DecisionID)
	assert.Equal(t, "m5hectest", doc.User.Username)
	assert.Equal(t, "SWT", doc.User.PrimaryOffice)
	assert.Equal(t, "office_match", doc.Context["rule"])
	assert.NotEmpty(t, doc.Timestamp)
}

func TestAuthorizeDenied(t *testing.T) {
	policy := &stubPolicy{decision: types.Decision{Allow: false, Reason: "embargoed"}}
	p := New(&stubResolver{user: waterManager()}, policy)

	out := p.Authorize(context.Background(), Request{
		Method: http.MethodDelete,
		Path:   "/cwms-data/timeseries",
	})

	assert.False(t, out.Allowed)
	require.NotNil(t, out.Failure)
	assert.Equal(t, http.StatusForbidden, out.Failure.Status)
	assert.Equal(t, "Forbidden", out.Failure.Code)
	assert.Equal(t, "embargoed", out.Failure.Message)
}

func TestAuthorizeDeniedDefaultReason(t *testing.T) {
	p := New(&stubResolver{user: types.Anonymous}, &stubPolicy{})

	out := p.Authorize(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/cwms-data/timeseries",
	})

	require.NotNil(t, out.Failure)
	assert.Equal(t, "You do not have permission to access this resource", out.Failure.Message)
}

// A transient identity-service failure aborts the request rather than
// silently downgrading the caller to anonymous.
func TestAuthorizeResolutionFailure(t *testing.T) {
	policy := &stubPolicy{decision: types.Decision{Allow: true}}
	p := New(&stubResolver{err: context.DeadlineExceeded}, policy)

	out := p.Authorize(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/cwms-data/timeseries",
	})

	assert.False(t, out.Allowed)
	require.NotNil(t, out.Failure)
	assert.Equal(t, http.StatusInternalServerError, out.Failure.Status)
	assert.Equal(t, "Authorization processing failed", out.Failure.Message)
	assert.Equal(t, 0, policy.calls)
}

func TestAuthorizeRecoversFromPanic(t *testing.T) {
	p := New(&stubResolver{user: waterManager()}, &stubPolicy{panics: true})

	out := p.Authorize(context.Background(), Request{
		Method: http.MethodGet,
		Path:   "/cwms-data/timeseries",
	})

	assert.False(t, out.Allowed)
	require.NotNil(t, out.Failure)
	assert.Equal(t, http.StatusInternalServerError, out.Failure.Status)
}

func TestDirectWithClaim(t *testing.T) {
	policy := &stubPolicy{decision: types.Decision{Allow: true, DecisionID: "d-7"}}
	p := New(&stubResolver{}, policy)

	resp, herr := p.Direct(context.Background(), types.AuthorizeRequest{
		User: &types.UserClaim{
			Username: "ops-service",
			Roles:    []string{"system_admin"},
		},
		Resource: "timeseries",
		Action:   "update",
		Context:  map[string]interface{}{"office_id": "SPK"},
	})

	require.Nil(t, herr)
	assert.True(t, resp.Decision.Allow)
	assert.Equal(t, "d-7", resp.Decision.DecisionID)
	assert.Equal(t, "ops-service", resp.User.Username)
	assert.Equal(t, []string{"*"}, resp.Constraints.AllowedOffices)
	assert.NotEmpty(t, resp.Timestamp)
}

// A claim carrying only a username is looked up by name so real roles
// and offices flow into the decision.
func TestDirectBareClaimIsEnriched(t *testing.T) {
	policy := &stubPolicy{decision: types.Decision{Allow: true}}
	resolver := &stubResolver{user: waterManager()}
	p := New(resolver, policy)

	resp, herr := p.Direct(context.Background(), types.AuthorizeRequest{
		User:     &types.UserClaim{Username: "m5hectest"},
		Resource: "timeseries",
		Action:   "read",
	})

	require.Nil(t, herr)
	assert.Equal(t, "m5hectest", resolver.cred.Username)
	assert.Equal(t, waterManager().Username, resp.User.Username)
	assert.Contains(t, resp.Constraints.AllowedOffices, "SWT")
}

// A bare claim the identity service does not know keeps its face value.
func TestDirectBareClaimUnknownUser(t *testing.T) {
	policy := &stubPolicy{decision: types.Decision{Allow: true}}
	p := New(&stubResolver{user: types.Anonymous}, policy)

	resp, herr := p.Direct(context.Background(), types.AuthorizeRequest{
		User:     &types.UserClaim{Username: "ghost"},
		Resource: "offices",
		Action:   "read",
	})

	require.Nil(t, herr)
	assert.Equal(t, "ghost", resp.User.Username)
}

func TestDirectBareClaimLookupFailureAborts(t *testing.T) {
	p := New(&stubResolver{err: context.DeadlineExceeded}, &stubPolicy{})

	_, herr := p.Direct(context.Background(), types.AuthorizeRequest{
		User:     &types.UserClaim{Username: "m5hectest"},
		Resource: "offices",
		Action:   "read",
	})

	require.NotNil(t, herr)
	assert.Equal(t, 500, herr.Status)
}

func TestDirectAnonymous(t *testing.T) {
	policy := &stubPolicy{decision: types.Decision{Allow: true}}
	p := New(&stubResolver{user: types.Anonymous}, policy)

	resp, herr := p.Direct(context.Background(), types.AuthorizeRequest{
		Resource: "offices",
		Action:   "read",
	})

	require.Nil(t, herr)
	assert.True(t, resp.Decision.Allow)
	assert.Equal(t, "anonymous", resp.User.Username)
	assert.Equal(t, []string{"public"}, resp.Constraints.DataClassification)
}

// A denial on the direct endpoint is a normal response, not an error.
func TestDirectDenied(t *testing.T) {
	policy := &stubPolicy{decision: types.Decision{Allow: false, Reason: "no office match"}}
	p := New(&stubResolver{user: waterManager()}, policy)

	resp, herr := p.Direct(context.Background(), types.AuthorizeRequest{
		Resource: "timeseries",
		Action:   "delete",
	})

	require.Nil(t, herr)
	assert.False(t, resp.Decision.Allow)
	assert.Equal(t, "no office match", resp.Decision.Reason)
}

func TestExtractResource(t *testing.T) {
	assert.Equal(t, "timeseries", ExtractResource("/cwms-data/timeseries"))
	assert.Equal(t, "timeseries", ExtractResource("/cwms-data/timeseries?name=foo"))
	assert.Equal(t, "offices", ExtractResource("/cwms-data/offices/SWT"))
	assert.Equal(t, "health", ExtractResource("/health"))
	assert.Equal(t, "unknown", ExtractResource("/"))
}

func TestExtractAction(t *testing.T) {
	assert.Equal(t, "read", ExtractAction(http.MethodGet))
	assert.Equal(t, "create", ExtractAction(http.MethodPost))
	assert.Equal(t, "update", ExtractAction(http.MethodPut))
	assert.Equal(t, "update", ExtractAction(http.MethodPatch))
	assert.Equal(t, "delete", ExtractAction(http.MethodDelete))
	assert.Equal(t, "unknown", ExtractAction(http.MethodOptions))
}

func TestActionToMethod(t *testing.T) {
	assert.Equal(t, http.MethodGet, ActionToMethod("read"))
	assert.Equal(t, http.MethodPost, ActionToMethod("create"))
	assert.Equal(t, http.MethodPut, ActionToMethod("update"))
	assert.Equal(t, http.MethodDelete, ActionToMethod("delete"))
	assert.Equal(t, http.MethodGet, ActionToMethod("browse"))
}

func TestValidAction(t *testing.T) {
	assert.True(t, ValidAction("read"))
	assert.True(t, ValidAction("delete"))
	assert.False(t, ValidAction("browse"))
	assert.False(t, ValidAction(""))
}
