//
//  Copyright © CWMS Data Project. All rights reserved.
//

package serve

import (
	"context"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/cwms-data/authorizer/cmd/cwa/common"
	"github.com/cwms-data/authorizer/internal/logging"
	"github.com/cwms-data/authorizer/pkg/authorizer/config"
	"github.com/cwms-data/authorizer/pkg/enforcementpoint"
	"github.com/cwms-data/authorizer/pkg/enforcementpoint/envoy"
	"github.com/cwms-data/authorizer/pkg/enforcementpoint/generic"
)

var logger = logging.GetLogger("authorizer")

const agent string = "serve"

// Execute runs the serve command, starting an enforcement point server
// based on the configured protocol. It supports both "generic" and
// "envoy" protocols and gracefully shuts down on interrupt signals.
func Execute(ctx context.Context, cmd *cli.Command) error {
	stack, err := common.NewStack(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()

	var server enforcementpoint.Server
	switch cmd.String("protocol") {
	case "generic":
		listen := cmd.String("listen")
		if listen == "" {
			listen = config.VConfig.GetString(config.ProxyListen)
		}
		server, err = generic.CreateServer(stack.Pipeline, stack.Gate, listen,
			config.VConfig.GetString(config.ProxyUpstream))
	case "envoy":
		server, err = envoy.CreateServer(stack.Pipeline, stack.Gate, int(cmd.Int("port")))
	}
	if err != nil {
		return err
	}

	if config.VConfig.GetBool(config.OpaBypass) {
		logger.Warn(agent, "start", "opa.bypass is enabled - authorization checks may be skipped!")
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit
	logger.Info(agent, "shutdown", "Shutting down server...")

	if err := server.Stop(ctx); err != nil {
		return err
	}

	logger.Info(agent, "shutdown", "Server exited gracefully.")
	return nil
}
