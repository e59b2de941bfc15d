//
//  Copyright © CWMS Data Project. All rights reserved.
//

package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/cwms-data/authorizer/pkg/authorizer/types"
	"github.com/pkg/errors"
)

// Remote is an [Engine] speaking the policy engine's HTTP data API:
// POST <url><policypath> with {"input": ...}, expecting {"result": ...}.
type Remote struct {
	url        string
	policyPath string
	http       *http.Client
}

// NewRemote creates a remote engine client for the given engine base URL
// and decision document path. Call timeouts are the caller's concern;
// the client itself imposes none.
func NewRemote(url, policyPath string) *Remote {
	return &Remote{
		url:        strings.TrimSuffix(url, "/"),
		policyPath: policyPath,
		http:       &http.Client{},
	}
}

// Evaluate implements [Engine].
func (r *Remote) Evaluate(ctx context.Context, input types.EngineInput) (types.EngineResult, string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "encoding engine input")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url+r.policyPath, bytes.NewReader(payload))
	if err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "building engine request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "policy engine unreachable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.EngineResult{}, "", errors.Errorf("policy engine returned %s: %s", resp.Status, body)
	}

	var envelope types.EngineResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return types.EngineResult{}, "", errors.Wrap(err, "decoding engine response")
	}

	// An undefined decision document means no rule matched. That is a
	// deny, not a failure; the fail-open switch must not apply.
	if envelope.Result == nil {
		return types.EngineResult{Allow: false}, envelope.DecisionID, nil
	}

	return *envelope.Result, envelope.DecisionID, nil
}

// Close is a no-op for Remote.
func (r *Remote) Close() {}
