//
//  Copyright © CWMS Data Project. All rights reserved.
//

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/cwms-data/authorizer/cmd/cwa/subcommands/authorize"
	"github.com/cwms-data/authorizer/cmd/cwa/subcommands/serve"
	"github.com/cwms-data/authorizer/cmd/cwa/version"
)

func main() {
	cmd := &cli.Command{
		Name:  "cwa",
		Usage: "A CLI application for the CWMS authorizer proxy",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Creates an enforcement-point service in front of the CWMS data API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "protocol",
						Aliases: []string{"p"},
						Usage:   "The protocol to serve.  Must be one of 'generic' or 'envoy'",
						Value:   "generic",
						Action: func(ctx context.Context, command *cli.Command, s string) error {
							if s != "generic" && s != "envoy" {
								return fmt.Errorf("unsupported protocol: %s", s)
							}
							return nil
						},
					},
					&cli.StringFlag{
						Name:    "listen",
						Aliases: []string{"l"},
						Usage:   "Listen address for the generic protocol. Overrides the proxy.listen configuration.",
					},
					&cli.IntFlag{
						Name:  "port",
						Usage: "The TCP port to serve on for the envoy protocol.",
						Value: 9000,
					},
				},
				Action: serve.Execute,
			},
			{
				Name:  "authorize",
				Usage: "Invokes a one-shot authorization decision without starting a server",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "input",
						Aliases: []string{"i"},
						Usage:   "Load the authorization request from 'FILE', or use '-' for stdin",
					},
				},
				Action: authorize.Execute,
			},
			{
				Name:  "version",
				Usage: "Prints the cwa version",
				Action: func(ctx context.Context, command *cli.Command) error {
					fmt.Println(version.GetVersion())
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
