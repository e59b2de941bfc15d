//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package enforcementpoint provides interfaces and implementations for
// Policy Enforcement Point (PEP) servers.
//
// A PEP server sits in front of the upstream data API, runs each inbound
// request through the authorization pipeline, and either forwards the
// request with the authorization-context header attached or rejects it.
//
// # Available Implementations
//
// The following PEP server implementations are available:
//   - [generic]: HTTP/REST reverse proxy with a direct authorization endpoint
//   - [envoy]: External authorization server for Envoy proxy
package enforcementpoint

import "context"

// Server is the interface for PEP servers that can be gracefully stopped.
//
// Implementations must ensure that [Stop] completes any in-flight requests
// before returning.
type Server interface {
	// Stop gracefully shuts down the server, waiting for active requests
	// to complete or until the context is cancelled.
	Stop(context.Context) error
}
