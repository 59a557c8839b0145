// Package main is the acquisition service. It streams samples from a daisy chain of ADS1299
// converters to UDP transports and optionally records them to disk.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"go.viam.com/biosignal/logging"
)

const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagProfile     = "profile"
	flagSessionID   = "session-id"
	flagIdle        = "idle"
	flagStdinEvents = "stdin-events"
	flagWriteConfig = "write-default"
)

func newApp() *cli.App {
	return &cli.App{
		Name:            "acquire",
		Usage:           "stream biosignal samples from an ADS1299 chain",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Value:   "acquire.json",
				Usage:   "load configuration from `FILE`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the service and stream until interrupted",
				Action: RunAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagProfile,
						Usage: "switch to `PROFILE` before starting",
					},
					&cli.StringFlag{
						Name:  flagSessionID,
						Usage: "store `ID` as the session id used in recording names",
					},
					&cli.BoolFlag{
						Name:  flagIdle,
						Usage: "do not start streaming until a start_stream event arrives",
					},
					&cli.BoolFlag{
						Name:  flagStdinEvents,
						Usage: "read events such as start_stream or print_config from stdin, one per line",
					},
				},
			},
			{
				Name:   "probe",
				Usage:  "reset the chain and report the number of channels found",
				Action: ProbeAction,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  flagWriteConfig,
						Usage: "store a default acquisition config for the probed channels in the current profile",
					},
				},
			},
			{
				Name:            "profiles",
				Usage:           "work with stored profiles",
				HideHelpCommand: true,
				Subcommands: []*cli.Command{
					{
						Name:   "list",
						Usage:  "list profiles, marking the current one",
						Action: ListProfilesAction,
					},
					{
						Name:      "show",
						Usage:     "print the acquisition config of a profile",
						ArgsUsage: "[profile]",
						Action:    ShowProfileAction,
					},
					{
						Name:      "use",
						Usage:     "make a profile current",
						ArgsUsage: "<profile>",
						Action:    UseProfileAction,
					},
				},
			},
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newApp().RunContext(ctx, os.Args)
	stop()
	if err != nil {
		logging.Global().Error(err)
		os.Exit(1)
	}
}
