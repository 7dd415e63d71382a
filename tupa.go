package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/tupa/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "tupa",
		Usage:   "Community chat, events and local shops from the terminal",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "tupa.toml",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable debug logging",
			},
			&cli.StringFlag{
				Name:  "log-dir",
				Usage: "Also write a session log file to `DIR`",
			},
		},
		Commands: []*cli.Command{
			cmd.ConfigCommand(),
			cmd.WhoamiCommand(),
			cmd.RegisterCommand(),
			cmd.LoginCommand(),
			cmd.LogoutCommand(),
			cmd.FeedCommand(),
			cmd.SendCommand(),
			cmd.EventsCommand(),
			cmd.VendorsCommand(),
			cmd.ShellCommand(),
			cmd.DevStoreCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
