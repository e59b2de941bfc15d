//
//  Copyright © CWMS Data Project. All rights reserved.
//

package generic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/cwms-data/authorizer/pkg/authorizer/identity"
	"github.com/cwms-data/authorizer/pkg/authorizer/pipeline"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubResolver struct {
	user      types.Identity
	err       error
	unhealthy bool
}

func (r *stubResolver) Resolve(_ context.Context, cred identity.Credential) (types.Identity, error) {
	if r.err != nil {
		return types.Identity{}, r.err
	}
	if cred.TestIdentity != "" {
		return identity.ParseTestIdentity(cred.TestIdentity)
	}
	return r.user, nil
}

func (r *stubResolver) Invalidate(context.Context, string) {}
func (r *stubResolver) Healthy(context.Context) bool       { return !r.unhealthy }
func (r *stubResolver) Close()                             {}

type spyPolicy struct {
	decision types.Decision
	calls    int
}

func (p *spyPolicy) Authorize(context.Context, types.Context) types.Decision {
	p.calls++
	return p.decision
}

func (p *spyPolicy) Close() {}

type upstreamCapture struct {
	path   string
	header string
	calls  int
}

// testServer wires a Server against an httptest upstream, returning the
// capture of what the upstream received.
func testServer(t *testing.T, resolver identity.Resolver, policy *spyPolicy, whitelist string) (*Server, *upstreamCapture) {
	t.Helper()

	capture := &upstreamCapture{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		capture.calls++
		capture.path = r.URL.Path
		capture.header = r.Header.Get(pipeline.HeaderAuthContext)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(upstream.Close)

	s, err := newServer(pipeline.New(resolver, policy), pipeline.NewGate(whitelist), upstream.URL+"/cwms-data")
	require.Nil(t, err)
	return s, capture
}

func doRequest(s *Server, method, target string, headers map[string]string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func authContext(t *testing.T, capture *upstreamCapture) types.AuthContextDocument {
	t.Helper()

	var doc types.AuthContextDocument
	require.Nil(t, json.Unmarshal([]byte(capture.header), &doc))
	return doc
}

const whitelist = `["/cwms-data/timeseries","/cwms-data/offices"]`

func TestProxyAllowedRequest(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true, DecisionID: "d-1"}}
	s, capture := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/cwms-data/offices?office=SWT", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, capture.calls)
	assert.Equal(t, "/cwms-data/offices", capture.path)

	doc := authContext(t, capture)
	assert.True(t, doc.Policy.Allow)
	assert.Equal(t, "d-1", doc.Policy.DecisionID)
}

func TestProxyDeniedRequest(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: false, Reason: "embargoed"}}
	s, capture := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/cwms-data/timeseries", nil, "")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 0, capture.calls)

	var body errorBody
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Forbidden", body.Error)
	assert.Equal(t, "embargoed", body.Message)
}

// A path outside the whitelist never reaches the policy client.
func TestProxyBypassesUnlistedPaths(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: false}}
	s, capture := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/cwms-data/levels", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, policy.calls)
	assert.Equal(t, 1, capture.calls)
	assert.Empty(t, capture.header)
}

func TestProxyResolutionFailure(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true}}
	s, capture := testServer(t, &stubResolver{err: context.DeadlineExceeded}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/cwms-data/timeseries", nil, "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, capture.calls)
}

func TestNonProxyPathsReturn404(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true}}
	s, _ := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/some/other/path", nil, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body errorBody
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Not Found", body.Error)
}

func TestHealthEndpoint(t *testing.T) {
	policy := &spyPolicy{}
	s, _ := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/health", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "authorizer-proxy", body["service"])
}

func TestReadyEndpoint(t *testing.T) {
	policy := &spyPolicy{}
	s, _ := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/ready", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "available", body["downstream"])
	assert.Equal(t, "available", body["cache"])
}

// An upstream URL the probe cannot even build a request for reports
// not-ready, the same as an unreachable downstream.
func TestReadyEndpointBadUpstream(t *testing.T) {
	policy := &spyPolicy{}
	s, _ := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)
	s.upstream = &url.URL{Scheme: "http", Host: "bad host"}

	rec := doRequest(s, http.MethodGet, "/ready", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not-ready", body["status"])
	assert.Equal(t, "unavailable", body["downstream"])
}

// A resolver whose cache store is down degrades the cache field without
// gating readiness.
func TestReadyEndpointDegradedCache(t *testing.T) {
	policy := &spyPolicy{}
	s, _ := testServer(t, &stubResolver{user: types.Anonymous, unhealthy: true}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/ready", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "degraded", body["cache"])
}

func TestMetricsEndpoint(t *testing.T) {
	policy := &spyPolicy{}
	s, _ := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/metrics", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestDirectEndpoint(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true, DecisionID: "d-9"}}
	s, _ := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodPost, "/authorize", nil,
		`{"user":{"username":"ops","roles":["system_admin"]},"resource":"timeseries","action":"read"}`)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp types.AuthorizeResponse
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Decision.Allow)
	assert.Equal(t, "d-9", resp.Decision.DecisionID)
	assert.Equal(t, "ops", resp.User.Username)
	assert.Equal(t, []string{"*"}, resp.Constraints.AllowedOffices)
}

func TestDirectEndpointValidation(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true}}
	s, _ := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	tests := []struct {
		name string
		body string
	}{
		{"missing resource", `{"action":"read"}`},
		{"missing action", `{"resource":"timeseries"}`},
		{"unknown action", `{"resource":"timeseries","action":"browse"}`},
		{"malformed body", `{"resource":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(s, http.MethodPost, "/authorize", nil, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, policy.calls)
		})
	}
}

// Anonymous caller on a whitelisted public resource: allowed by the
// engine, constrained to public data only.
func TestScenarioAnonymousPublicResource(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true}}
	s, capture := testServer(t, &stubResolver{user: types.Anonymous}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/cwms-data/offices", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	doc := authContext(t, capture)
	assert.Equal(t, "anonymous", doc.User.Username)
	assert.Equal(t, []string{"public"}, doc.Constraints.DataClassification)
}

// Water manager in their own office: embargo exempt with full
// classification access.
func TestScenarioWaterManager(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true}}
	s, capture := testServer(t, &stubResolver{}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/cwms-data/timeseries?office=SWT", map[string]string{
		pipeline.HeaderTestUser: `{"username":"m5hectest","roles":["water_manager"],"offices":["SWT"]}`,
	}, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	doc := authContext(t, capture)
	assert.Equal(t, "m5hectest", doc.User.Username)
	assert.True(t, doc.Constraints.EmbargoExempt)
	assert.Contains(t, doc.Constraints.DataClassification, "sensitive")
	assert.Equal(t, []string{"SWT"}, doc.Constraints.AllowedOffices)
}

// Dam operator: not embargo exempt, restricted to a trailing time window.
func TestScenarioDamOperator(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true}}
	operator := types.Identity{
		ID:            "damop001",
		Username:      "damop001",
		Roles:         []string{"dam_operator"},
		Offices:       []string{"SPK"},
		Persona:       "dam_operator",
		Authenticated: true,
	}
	s, capture := testServer(t, &stubResolver{user: operator}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/cwms-data/timeseries", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	doc := authContext(t, capture)
	assert.False(t, doc.Constraints.EmbargoExempt)
	require.NotNil(t, doc.Constraints.TimeWindow)
	assert.Equal(t, 8, doc.Constraints.TimeWindow.RestrictHours)
}

// Non-exempt caller with group privileges: embargo ceiling derived from
// the group thresholds.
func TestScenarioEmbargoCeiling(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true}}
	operator := types.Identity{
		ID:            "damop001",
		Username:      "damop001",
		Roles:         []string{"dam_operator"},
		Offices:       []string{"SPK"},
		Authenticated: true,
		TsPrivileges: []types.TsGroupPrivilege{
			{TsGroupID: "G1", Privilege: types.PrivilegeRead, EmbargoHours: 72},
		},
	}
	s, capture := testServer(t, &stubResolver{user: operator}, policy, whitelist)

	rec := doRequest(s, http.MethodGet, "/cwms-data/timeseries", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	doc := authContext(t, capture)
	assert.False(t, doc.Constraints.EmbargoExempt)
	assert.Equal(t, map[string]int{"default": 72}, doc.Constraints.EmbargoRules)
	assert.Equal(t, map[string]int{"G1": 72}, doc.Constraints.TsGroupEmbargo)
}

func TestProxyUpstreamFailure(t *testing.T) {
	policy := &spyPolicy{decision: types.Decision{Allow: true}}

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	upstream.Close() // upstream is gone

	s, err := newServer(pipeline.New(&stubResolver{user: types.Anonymous}, policy), pipeline.NewGate(whitelist), upstream.URL+"/cwms-data")
	require.Nil(t, err)

	rec := doRequest(s, http.MethodGet, "/cwms-data/timeseries", nil, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
