package main

/*
 * Dual-licensed under Apache-2.0 and MIT.
 *
 * You can get a copy of the Apache License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * You can also get a copy of the MIT License at
 *
 * http://opensource.org/licenses/MIT
 *
 * @wcgcyx - https://github.com/wcgcyx
 */

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/edgeandnode/gateway-channels/daemon"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Value:   "",
	Usage:   "specify config file",
}

// This is the main program of channelgatewayd.
func main() {
	app := &cli.App{
		Name:      "channelgatewayd",
		HelpName:  "channelgatewayd",
		Usage:     "The Graph payment channel pool and orchestration daemon",
		UsageText: "channelgatewayd [global options] command [arguments...]",
		Commands: []*cli.Command{
			{
				Name:        "run",
				Usage:       "start the channel gateway daemon",
				Description: "Loads configuration, wires the channel cache and manager, and serves until a termination signal arrives",
				ArgsUsage:   " ",
				Flags:       []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					return daemon.Run(c.Context, c.String("config"))
				},
			},
			{
				Name:        "migrate",
				Usage:       "run the channel cache schema migration",
				Description: "Applies the idempotent payment_channels/ledger_channels schema migration without starting the daemon",
				ArgsUsage:   " ",
				Flags:       []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					return daemon.Migrate(c.Context, c.String("config"))
				},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
