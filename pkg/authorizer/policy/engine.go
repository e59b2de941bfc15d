//
//  Copyright © CWMS Data Project. All rights reserved.
//

// Package policy submits authorization questions to the policy engine,
// caches its decisions, and applies the configured fail-open/fail-closed
// behavior when the engine cannot be reached.
//
// Two engine implementations are provided: [Remote] speaks the engine's
// HTTP data API (the production default), and [Embedded] evaluates a rego
// module in-process, which removes the network dependency for small
// deployments and tests. Both are selected via configuration and hide
// behind the same [Engine] interface.
package policy

import (
	"context"

	"github.com/cwms-data/authorizer/internal/logging"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
)

var logger = logging.GetLogger("authorizer.policy")

// Engine evaluates a single authorization question.
//
// Implementations must be safe for concurrent use. Evaluate must honor
// context cancellation; the caller bounds every call with a timeout and
// treats expiry as an engine failure.
type Engine interface {
	// Evaluate submits the input document and returns the engine's
	// normalized result together with the engine-assigned decision id,
	// when one exists.
	Evaluate(ctx context.Context, input types.EngineInput) (types.EngineResult, string, error)

	// Close releases any resources held by the engine client.
	Close()
}
