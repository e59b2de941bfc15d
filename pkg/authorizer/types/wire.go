//
//  Copyright © CWMS Data Project. All rights reserved.
//

package types

import (
	"encoding/json"
	"errors"
)

// EngineInput is the structured input document submitted to the policy
// engine: {"input": {"user", "resource", "action", "context"}}.
type EngineInput struct {
	Input EngineQuery `json:"input"`
}

// EngineQuery carries the authorization question inside an EngineInput.
type EngineQuery struct {
	User     Identity               `json:"user"`
	Resource string                 `json:"resource"`
	Action   string                 `json:"action"`
	Context  map[string]interface{} `json:"context"`
}

// EngineResult is the engine's answer in normalized form. The wire format
// permits either a bare boolean or an object with allow/filters/headers/
// reason, so the response is parsed through UnmarshalJSON into this single
// canonical shape.
type EngineResult struct {
	Allow   bool
	Reason  string
	Filters []DataFilter
	Headers map[string]interface{}
}

type engineResultObject struct {
	Allow   bool                   `json:"allow"`
	Reason  string                 `json:"reason"`
	Filters []DataFilter           `json:"filters"`
	Headers map[string]interface{} `json:"headers"`
}

// UnmarshalJSON accepts either a bare boolean result or an object result.
// Any other shape is rejected, which the caller treats as an engine failure.
func (r *EngineResult) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*r = EngineResult{Allow: b}
		return nil
	}

	var obj engineResultObject
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.New("engine result is neither a boolean nor an object")
	}

	*r = EngineResult{
		Allow:   obj.Allow,
		Reason:  obj.Reason,
		Filters: obj.Filters,
		Headers: obj.Headers,
	}
	return nil
}

// EngineResponse is the engine's wire envelope: {"result": bool | object}.
// A response with no result field is treated as a non-match (deny).
type EngineResponse struct {
	Result     *EngineResult `json:"result"`
	DecisionID string        `json:"decision_id,omitempty"`
}

// AuthorizeRequest is the body of the direct authorization endpoint,
// consumed by external services that want a decision without going
// through the proxy path.
type AuthorizeRequest struct {
	User     *UserClaim             `json:"user,omitempty"`
	Resource string                 `json:"resource"`
	Action   string                 `json:"action"`
	Context  map[string]interface{} `json:"context,omitempty"`
	JwtToken string                 `json:"jwt_token,omitempty"`
}

// UserClaim is a pre-supplied identity claim on a direct authorization
// request, used for trusted service-to-service calls.
type UserClaim struct {
	ID       string   `json:"id,omitempty"`
	Username string   `json:"username,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	Offices  []string `json:"offices,omitempty"`
	Persona  string   `json:"persona,omitempty"`
}

// Bare reports whether the claim names a user without any role, office,
// or persona context. Bare claims are enriched through the identity
// service rather than taken at face value.
func (c UserClaim) Bare() bool {
	return c.Username != "" && len(c.Roles) == 0 && len(c.Offices) == 0 && c.Persona == ""
}

// AuthorizeResponse is the reply of the direct authorization endpoint.
type AuthorizeResponse struct {
	Decision    DecisionSummary `json:"decision"`
	User        UserSummary     `json:"user"`
	Constraints Constraints     `json:"constraints"`
	Timestamp   string          `json:"timestamp"`
}

// DecisionSummary is the decision portion of an AuthorizeResponse.
type DecisionSummary struct {
	Allow      bool   `json:"allow"`
	DecisionID string `json:"decision_id"`
	Reason     string `json:"reason,omitempty"`
}

// UserSummary is the identity portion of an AuthorizeResponse and of the
// serialized auth-context document.
type UserSummary struct {
	ID            string   `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"roles"`
	Offices       []string `json:"offices"`
	PrimaryOffice string   `json:"primary_office,omitempty"`
	Persona       string   `json:"persona,omitempty"`
}

// Summary reduces an Identity to the fields exposed on the wire.
func (i Identity) Summary() UserSummary {
	return UserSummary{
		ID:            i.ID,
		Username:      i.Username,
		Email:         i.Email,
		Roles:         i.Roles,
		Offices:       i.Offices,
		PrimaryOffice: i.PrimaryOffice,
		Persona:       i.Persona,
	}
}

// AuthContextDocument is the JSON document carried to the upstream data
// API in the auth-context header on every allowed request.
type AuthContextDocument struct {
	Policy      PolicyStamp            `json:"policy"`
	User        UserSummary            `json:"user"`
	Constraints Constraints            `json:"constraints"`
	Context     map[string]interface{} `json:"context"`
	Timestamp   string                 `json:"timestamp"`
}

// PolicyStamp records the decision outcome inside an AuthContextDocument.
type PolicyStamp struct {
	Allow      bool   `json:"allow"`
	DecisionID string `json:"decision_id"`
}
