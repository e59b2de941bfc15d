//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package constraints derives the per-identity data-access envelope
// attached to allowed requests: office scoping, embargo rules, time-window
// restrictions, and data-classification ceilings.
//
// Everything in this package is a pure, deterministic function of the
// resolved identity. Constraints are cheap to recompute and office/role
// assignments can change between requests, so they are never cached.
package constraints

import "github.com/cwms-data/authorizer/pkg/authorizer/types"

// Persona tags that select special-case constraint rules.
const (
	PersonaDamOperator        = "dam_operator"
	PersonaDataManager        = "data_manager"
	PersonaWaterManager       = "water_manager"
	PersonaSystemAdmin        = "system_admin"
	PersonaAutomatedProcessor = "automated_processor"
)

// Role names with constraint significance.
const (
	RoleSystemAdmin  = "system_admin"
	RoleHecEmployee  = "hec_employee"
	RoleDataManager  = "data_manager"
	RoleWaterManager = "water_manager"
)

// Data classifications, most to least sensitive.
const (
	ClassificationSensitive  = "sensitive"
	ClassificationRestricted = "restricted"
	ClassificationInternal   = "internal"
	ClassificationPublic     = "public"
)

var allClassifications = []string{
	ClassificationPublic,
	ClassificationInternal,
	ClassificationRestricted,
	ClassificationSensitive,
}

var embargoExemptPersonas = map[string]struct{}{
	PersonaDataManager:  {},
	PersonaWaterManager: {},
	PersonaSystemAdmin:  {},
}

var embargoExemptRoles = map[string]struct{}{
	RoleSystemAdmin:  {},
	RoleHecEmployee:  {},
	RoleDataManager:  {},
	RoleWaterManager: {},
}

// AllowedOffices returns the office codes the identity may act on.
// Automated processors and system admins receive the wildcard.
func AllowedOffices(user types.Identity) []string {
	if user.Persona == PersonaAutomatedProcessor || user.HasRole(RoleSystemAdmin) {
		return []string{"*"}
	}
	if user.Offices == nil {
		return []string{}
	}
	return user.Offices
}

// IsEmbargoExempt reports whether the identity bypasses embargo windows.
func IsEmbargoExempt(user types.Identity) bool {
	if _, ok := embargoExemptPersonas[user.Persona]; ok {
		return true
	}
	for _, role := range user.Roles {
		if _, ok := embargoExemptRoles[role]; ok {
			return true
		}
	}
	return false
}

// TimeWindow returns the trailing data window restriction for the
// identity, or nil when unrestricted. Dam operators are limited to the
// most recent 8 hours.
func TimeWindow(user types.Identity) *types.TimeWindow {
	if user.Persona == PersonaDamOperator {
		return &types.TimeWindow{RestrictHours: 8}
	}
	return nil
}

// TsGroupEmbargo maps each of the identity's time-series groups to its
// embargo threshold. Returns nil when the identity has no privilege
// records.
func TsGroupEmbargo(user types.Identity) map[string]int {
	if len(user.TsPrivileges) == 0 {
		return nil
	}

	embargo := make(map[string]int, len(user.TsPrivileges))
	for _, priv := range user.TsPrivileges {
		embargo[priv.TsGroupID] = priv.EmbargoHours
	}
	return embargo
}

// EmbargoRules derives the effective embargo rule set. Exempt identities
// always receive an empty map regardless of their group privileges;
// everyone else gets a single "default" ceiling equal to the maximum
// embargo across their groups. The per-group breakdown travels separately
// in [TsGroupEmbargo].
func EmbargoRules(user types.Identity) map[string]int {
	rules := map[string]int{}
	if IsEmbargoExempt(user) {
		return rules
	}

	groups := TsGroupEmbargo(user)
	if len(groups) == 0 {
		return rules
	}

	max := 0
	for _, hours := range groups {
		if hours > max {
			max = hours
		}
	}
	rules["default"] = max
	return rules
}

// AllowedClassifications returns the ordered list of data classifications
// visible to the identity. The result is monotonic in trust: a more
// privileged role set always yields a superset.
func AllowedClassifications(user types.Identity) []string {
	if user.HasRole(RoleSystemAdmin) || user.HasRole(RoleHecEmployee) {
		return allClassifications
	}
	if user.Persona == PersonaDataManager || user.HasRole(RoleWaterManager) {
		return allClassifications
	}
	if user.Authenticated {
		return []string{ClassificationPublic, ClassificationInternal}
	}
	return []string{ClassificationPublic}
}

// Synthesize computes the full constraint envelope for an identity,
// folding in any filter list the policy decision carried.
func Synthesize(user types.Identity, decision types.Decision) types.Constraints {
	return types.Constraints{
		AllowedOffices:     AllowedOffices(user),
		EmbargoRules:       EmbargoRules(user),
		EmbargoExempt:      IsEmbargoExempt(user),
		TsGroupEmbargo:     TsGroupEmbargo(user),
		TimeWindow:         TimeWindow(user),
		DataClassification: AllowedClassifications(user),
		Filters:            decision.Filters,
	}
}
