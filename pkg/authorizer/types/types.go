//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package types defines the data model shared by the authorizer: resolved
// identities, authorization contexts submitted to the policy engine,
// normalized policy decisions, and the derived data-access constraints
// attached to proxied requests.
package types

import "time"

// Privilege levels assignable to a time-series group.
const (
	PrivilegeRead      = "read"
	PrivilegeWrite     = "write"
	PrivilegeReadWrite = "read-write"
	PrivilegeNone      = "none"
)

// TsGroupPrivilege describes a user's access to a named time-series group,
// including the embargo threshold applied to data within the group.
type TsGroupPrivilege struct {
	TsGroupCode  int    `json:"ts_group_code"`
	TsGroupID    string `json:"ts_group_id"`
	Privilege    string `json:"privilege"`
	EmbargoHours int    `json:"embargo_hours"`
}

// Identity represents the authenticated (or anonymous) caller.
//
// Identities are constructed once per request by the resolver, never
// mutated afterwards, and cached by username.
type Identity struct {
	ID            string             `json:"id"`
	Username      string             `json:"username"`
	Email         string             `json:"email,omitempty"`
	Roles         []string           `json:"roles"`
	Offices       []string           `json:"offices"`
	PrimaryOffice string             `json:"primary_office,omitempty"`
	Persona       string             `json:"persona,omitempty"`
	Authenticated bool               `json:"authenticated"`
	TsPrivileges  []TsGroupPrivilege `json:"ts_privileges,omitempty"`
}

// Anonymous is the distinguished identity used when no credential is
// present or the credential cannot be decoded. It carries no roles or
// offices and is never partially populated.
var Anonymous = Identity{
	ID:            "anonymous",
	Username:      "anonymous",
	Roles:         []string{},
	Offices:       []string{},
	Authenticated: false,
}

// IsAnonymous reports whether the identity is the unauthenticated singleton.
func (i Identity) IsAnonymous() bool {
	return !i.Authenticated
}

// HasRole reports whether the identity carries the named role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Context is the authorization question asked of the policy engine,
// built once per enforced request and discarded after the decision.
type Context struct {
	User       Identity
	Resource   string
	Action     string
	Method     string
	Path       string
	Query      map[string]string
	Timestamp  time.Time
	OfficeID   string
	DataSource string
}

// DataFilter is a structured data-scoping directive attached to a decision.
type DataFilter struct {
	Type     string      `json:"type"`
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// Decision is the policy engine's normalized answer. The ambiguous
// bool-or-object wire shape is resolved into this struct at the policy
// client boundary and never leaks past it.
type Decision struct {
	Allow      bool                   `json:"allow"`
	Reason     string                 `json:"reason,omitempty"`
	DecisionID string                 `json:"decision_id,omitempty"`
	Filters    []DataFilter           `json:"filters,omitempty"`
	Context    map[string]interface{} `json:"context,omitempty"`
}

// TimeWindow restricts access to a trailing window of data.
type TimeWindow struct {
	RestrictHours int `json:"restrict_hours"`
}

// Constraints is the derived per-identity data-access envelope attached
// to the outbound request. It is recomputed for every allowed request
// and never cached.
type Constraints struct {
	AllowedOffices     []string       `json:"allowed_offices"`
	EmbargoRules       map[string]int `json:"embargo_rules"`
	EmbargoExempt      bool           `json:"embargo_exempt"`
	TsGroupEmbargo     map[string]int `json:"ts_group_embargo,omitempty"`
	TimeWindow         *TimeWindow    `json:"time_window,omitempty"`
	DataClassification []string       `json:"data_classification"`
	Filters            []DataFilter   `json:"filters,omitempty"`
}
