// Package cli contains the scavenger command line.
package cli

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"
)

const (
	configFlag  = "config"
	envFileFlag = "env-file"
	debugFlag   = "debug"
	listenFlag  = "listen"
	sourceFlag  = "source"
)

var app = &cli.App{
	Name:            "scavenger",
	Usage:           "play a scavenger hunt against a Viam machine's camera",
	HideHelpCommand: true,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "load configuration from `FILE`",
		},
		&cli.StringSliceFlag{
			Name:  envFileFlag,
			Value: cli.NewStringSlice(".env"),
			Usage: "load environment variables from `FILE` if it exists",
		},
		&cli.BoolFlag{
			Name:    debugFlag,
			Aliases: []string{"vvv"},
			Usage:   "enable debug logging",
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "serve",
			Usage: "connect to the machine and serve the game page",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  listenFlag,
					Usage: "listen on `ADDRESS` instead of the configured address",
				},
			},
			Action: ServeAction,
		},
		{
			Name:            "catalog",
			Usage:           "work with the object catalog",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:  "list",
					Usage: "list every object that can be a target",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:  sourceFlag,
							Usage: "only list objects recognized by `DETECTOR` (household or custom)",
						},
					},
					Action: ListCatalogAction,
				},
				{
					Name:      "search",
					Usage:     "list objects whose name contains the query",
					ArgsUsage: "<query>",
					Action:    SearchCatalogAction,
				},
			},
		},
		{
			Name:      "check",
			Usage:     "ask the machine once whether it sees an object",
			ArgsUsage: "<object>",
			Action:    CheckAction,
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

// warningf prints a message prefixed with a bold yellow "Warning: ".
func warningf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, "\x1b[1;33mWarning:\x1b[0m "+format+"\n", a...)
}
