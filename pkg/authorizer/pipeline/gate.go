//
//  Copyright © CWMS Data Project. All rights reserved.
//

package pipeline

import (
	"encoding/json"
	"sort"
	"strings"
)

// Paths that never require authorization, regardless of the configured
// whitelist.
var alwaysExcluded = map[string]struct{}{
	"/health":  {},
	"/ready":   {},
	"/metrics": {},
	"/docs":    {},
	"/swagger": {},
}

// Gate decides from the configured whitelist whether an inbound path
// requires the authorization pipeline at all. Paths not on the whitelist
// pass through to the upstream untouched.
type Gate struct {
	endpoints map[string]struct{}
}

// NewGate parses the whitelist, a JSON array of path strings, once at
// startup. A malformed whitelist degrades to an empty one so the service
// still comes up, with a loud warning.
func NewGate(endpointsJSON string) *Gate {
	var endpoints []string
	if err := json.Unmarshal([]byte(endpointsJSON), &endpoints); err != nil {
		logger.SysErrorf("malformed whitelist %q, nothing will be enforced: %v", endpointsJSON, err)
		endpoints = nil
	}

	g := &Gate{endpoints: make(map[string]struct{}, len(endpoints))}
	for _, endpoint := range endpoints {
		g.endpoints[endpoint] = struct{}{}
	}

	logger.SysInfof("authorization whitelist configured with %d endpoint(s): %v", len(g.endpoints), g.Endpoints())
	return g
}

// RequiresEnforcement reports whether path must go through the pipeline.
// Any query string is stripped before matching.
func (g *Gate) RequiresEnforcement(path string) bool {
	clean := path
	if idx := strings.IndexByte(clean, '?'); idx >= 0 {
		clean = clean[:idx]
	}

	if _, ok := alwaysExcluded[clean]; ok {
		return false
	}
	if strings.HasPrefix(clean, "/docs") || strings.HasPrefix(clean, "/swagger") {
		return false
	}

	_, ok := g.endpoints[clean]
	return ok
}

// Endpoints returns the configured whitelist in sorted order.
func (g *Gate) Endpoints() []string {
	endpoints := make([]string, 0, len(g.endpoints))
	for endpoint := range g.endpoints {
		endpoints = append(endpoints, endpoint)
	}
	sort.Strings(endpoints)
	return endpoints
}
