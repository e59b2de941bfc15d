//
//  Copyright © CWMS Data Project. All rights reserved.
//

package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cwms-data/authorizer/internal/metrics"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/pkg/errors"
)

// ErrNoIdentity indicates the identity service does not know the caller
// (not found or unauthorized). Resolution treats this as anonymous, not
// as a failure; deciding whether anonymous access suffices is the policy
// engine's job.
var ErrNoIdentity = errors.New("no identity at upstream service")

// Service resolves user context from the upstream identity service.
//
// Both methods return [ErrNoIdentity] for 401/404 responses. Any other
// error is transient (network, timeout, 5xx) and must abort the request:
// silently downgrading a legitimate user to anonymous during an outage
// would be a security regression.
type Service interface {
	// FetchProfile resolves the caller of the given bearer credential.
	FetchProfile(ctx context.Context, bearer string) (types.Identity, error)

	// FetchUser resolves the named user with the service api key.
	FetchUser(ctx context.Context, username string) (types.Identity, error)
}

// Client is the HTTP implementation of [Service] against the CWMS data
// API user endpoints.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates an identity service client. All calls are bounded by
// the given timeout.
func NewClient(baseURL string, timeout time.Duration, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// wireUser is the identity service's user document.
type wireUser struct {
	UserName     string              `json:"user-name"`
	Principal    string              `json:"principal"`
	Email        string              `json:"email"`
	CacAuth      bool                `json:"cac-auth"`
	Roles        map[string][]string `json:"roles"`
	TsPrivileges []wireTsPrivilege   `json:"ts-group-privileges"`
}

type wireTsPrivilege struct {
	TsGroupCode  int    `json:"ts-group-code"`
	TsGroupID    string `json:"ts-group-id"`
	Privilege    string `json:"privilege"`
	EmbargoHours int    `json:"embargo-hours"`
}

// FetchProfile resolves the caller of the given bearer credential via the
// /user/profile endpoint.
func (c *Client) FetchProfile(ctx context.Context, bearer string) (types.Identity, error) {
	if !strings.HasPrefix(bearer, "Bearer ") {
		bearer = "Bearer " + bearer
	}
	return c.fetch(ctx, c.baseURL+"/user/profile", "/user/profile", bearer)
}

// FetchUser resolves the named user via the /users endpoint, presenting
// the configured api key.
func (c *Client) FetchUser(ctx context.Context, username string) (types.Identity, error) {
	auth := ""
	if c.apiKey != "" {
		auth = c.apiKey
		if !strings.HasPrefix(auth, "apikey ") {
			auth = "apikey " + auth
		}
	}
	url := fmt.Sprintf("%s/users/%s?include-roles=true", c.baseURL, username)
	return c.fetch(ctx, url, "/users", auth)
}

func (c *Client) fetch(ctx context.Context, url, endpoint, authorization string) (types.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return types.Identity{}, errors.Wrap(err, "building identity request")
	}
	req.Header.Set("Accept", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.UpstreamCalls.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return types.Identity{}, errors.Wrap(err, "identity service unreachable")
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.UpstreamCalls.WithLabelValues(endpoint, resp.Status).Observe(time.Since(start).Seconds())

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusNotFound:
		return types.Identity{}, ErrNoIdentity
	case resp.StatusCode != http.StatusOK:
		return types.Identity{}, errors.Errorf("identity service returned %s", resp.Status)
	}

	var user wireUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return types.Identity{}, errors.Wrap(err, "decoding identity response")
	}
	if user.UserName == "" {
		return types.Identity{}, errors.New("identity response carries no user-name")
	}

	return transform(user), nil
}

// transform flattens the identity service's role-by-office map into the
// deduplicated role and office sets of an Identity, synthesizing an email
// when the service supplies none.
func transform(user wireUser) types.Identity {
	// Sorted office order keeps the primary-office selection stable
	// across requests; map iteration order would not.
	var roles, offices []string
	for _, office := range slices.Sorted(maps.Keys(user.Roles)) {
		offices = append(offices, office)
		roles = append(roles, user.Roles[office]...)
	}

	email := user.Email
	if email == "" {
		email = strings.ToLower(user.UserName) + "@usace.mil"
	}

	privileges := make([]types.TsGroupPrivilege, 0, len(user.TsPrivileges))
	for _, p := range user.TsPrivileges {
		privileges = append(privileges, types.TsGroupPrivilege{
			TsGroupCode:  p.TsGroupCode,
			TsGroupID:    p.TsGroupID,
			Privilege:    p.Privilege,
			EmbargoHours: p.EmbargoHours,
		})
	}
	if len(privileges) == 0 {
		privileges = nil
	}

	offices = dedupe(offices)
	return types.Identity{
		ID:            user.UserName,
		Username:      user.UserName,
		Email:         email,
		Roles:         dedupe(roles),
		Offices:       offices,
		PrimaryOffice: first(offices),
		Authenticated: true,
		TsPrivileges:  privileges,
	}
}

func dedupe(values []string) []string {
	result := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
