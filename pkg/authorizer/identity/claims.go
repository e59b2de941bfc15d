//
//  Copyright © CWMS Data Project. All rights reserved.
//

package identity

import (
	"encoding/json"
	"strings"

	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// UsernameFromToken decodes a bearer credential without verifying its
// signature and returns the subject username claim. Signature verification
// is the concern of the upstream gateway; this layer only needs the
// subject to key the identity lookup.
//
// The preferred_username claim is used when present, falling back to sub.
func UsernameFromToken(token string) (string, error) {
	token = strings.TrimPrefix(token, "Bearer ")

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", errors.Wrap(err, "malformed bearer token")
	}

	if name, ok := claims["preferred_username"].(string); ok && name != "" {
		return name, nil
	}
	if sub, ok := claims["sub"].(string); ok && sub != "" {
		return sub, nil
	}

	return "", errors.New("bearer token carries no subject claim")
}

// testIdentityClaim is the JSON document accepted in the trusted
// test-identity header.
type testIdentityClaim struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	Offices  []string `json:"offices"`
	Persona  string   `json:"persona"`
}

// ParseTestIdentity decodes the trusted test-identity header into an
// Identity. The header is only honored on trusted paths; the resulting
// identity is marked authenticated.
func ParseTestIdentity(payload string) (types.Identity, error) {
	var claim testIdentityClaim
	if err := json.Unmarshal([]byte(payload), &claim); err != nil {
		return types.Identity{}, errors.Wrap(err, "malformed test identity header")
	}
	if claim.Username == "" {
		return types.Identity{}, errors.New("test identity header carries no username")
	}

	id := claim.ID
	if id == "" {
		id = claim.Username
	}

	return types.Identity{
		ID:            id,
		Username:      claim.Username,
		Email:         claim.Email,
		Roles:         dedupe(claim.Roles),
		Offices:       dedupe(claim.Offices),
		PrimaryOffice: first(claim.Offices),
		Persona:       claim.Persona,
		Authenticated: true,
	}, nil
}
