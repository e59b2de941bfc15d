//
//  Copyright © CWMS Data Project. All rights reserved.
//

package policy

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/pkg/errors"
)

// Embedded is an [Engine] that evaluates a rego module in-process,
// removing the network dependency on an external engine. The module is
// compiled once at construction; evaluation is pure CPU work.
type Embedded struct {
	query rego.PreparedEvalQuery
}

// QueryFromPolicyPath converts a decision document path as configured for
// the remote engine ("/v1/data/cwms/authorize") into the equivalent rego
// query ("data.cwms.authorize").
func QueryFromPolicyPath(policyPath string) string {
	path := strings.TrimPrefix(policyPath, "/v1/")
	path = strings.Trim(path, "/")
	return strings.ReplaceAll(path, "/", ".")
}

// NewEmbedded compiles the given rego module and prepares the decision
// query for evaluation.
func NewEmbedded(ctx context.Context, module, policyPath string) (*Embedded, error) {
	query, err := rego.New(
		rego.Query(QueryFromPolicyPath(policyPath)),
		rego.Module("authorize.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "compiling embedded policy module")
	}

	return &Embedded{query: query}, nil
}

// NewEmbeddedFromFile compiles the rego module at the given path.
func NewEmbeddedFromFile(ctx context.Context, path, policyPath string) (*Embedded, error) {
	module, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return nil, errors.Wrap(err, "reading embedded policy module")
	}
	return NewEmbedded(ctx, string(module), policyPath)
}

// Evaluate implements [Engine]. The decision value may be a bare boolean
// or an object, exactly as over the wire; it is normalized the same way.
func (e *Embedded) Evaluate(ctx context.Context, input types.EngineInput) (types.EngineResult, string, error) {
	// Round-trip through JSON so rego sees the same document shape the
	// remote engine would receive.
	payload, err := json.Marshal(input.Input)
	if err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "encoding engine input")
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "shaping engine input")
	}

	rs, err := e.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "evaluating embedded policy")
	}

	// Undefined decision document: no rule matched, which is a deny.
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return types.EngineResult{Allow: false}, "", nil
	}

	value, err := json.Marshal(rs[0].Expressions[0].Value)
	if err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "encoding decision value")
	}

	var result types.EngineResult
	if err := json.Unmarshal(value, &result); err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "normalizing decision value")
	}

	return result, "", nil
}

// Close is a no-op for Embedded.
func (e *Embedded) Close() {}
