//
//  Copyright © CWMS Data Project. All rights reserved.
//

package authorize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v3"

	"github.com/cwms-data/authorizer/cmd/cwa/common"
	"github.com/cwms-data/authorizer/pkg/authorizer/pipeline"
	"github.com/cwms-data/authorizer/pkg/authorizer/types"
)

func readInput(path string) ([]byte, error) {
	var f *os.File
	var err error
	if path == "-" || path == "" {
		f = os.Stdin
	} else {
		f, err = os.Open(path) // #nosec G304 -- CLI tool intentionally reads user-provided paths
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
	}

	return io.ReadAll(f)
}

// Execute runs the authorize command: a one-shot decision for the
// request described in the input JSON, printed as pretty JSON.
func Execute(ctx context.Context, cmd *cli.Command) error {
	data, err := readInput(cmd.String("input"))
	if err != nil {
		return errors.Wrap(err, "reading input")
	}

	var req types.AuthorizeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.Wrap(err, "parsing input")
	}

	if req.Resource == "" || req.Action == "" {
		return errors.New("resource and action are required")
	}
	if !pipeline.ValidAction(req.Action) {
		return fmt.Errorf("unsupported action %q: must be one of read, create, update, delete", req.Action)
	}

	stack, err := common.NewStack(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()

	resp, herr := stack.Pipeline.Direct(ctx, req)
	if herr != nil {
		return herr
	}

	common.PrettyPrint(resp)
	return nil
}
