package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "idh-tui: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "idh-tui",
		Usage: "operator dashboard for the Industrial Data Hub",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to an env file",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "api-url",
				Usage: "backend base URL (overrides IDH_API_URL)",
			},
		},
		Action: dashboardAction,
		Commands: []*cli.Command{
			{
				Name:   "sources",
				Usage:  "list data sources with the status of their latest job",
				Action: sourcesAction,
			},
			{
				Name:      "status",
				Usage:     "show the latest job of a data source and render its result",
				ArgsUsage: "<data-source-id>",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "width",
						Usage: "chart width in columns",
						Value: 100,
					},
				},
				Action: statusAction,
			},
			{
				Name:  "exports",
				Usage: "list saved result exports, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of exports (defaults to IDH_EXPORT_LIMIT)",
					},
				},
				Action: exportsAction,
			},
			{
				Name:  "mock-backend",
				Usage: "serve an in-memory backend for demos",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "addr",
						Usage: "listen address",
						Value: ":8080",
					},
					&cli.BoolFlag{
						Name:  "double-encode",
						Usage: "send resultDetailsJson encoded twice, like the production worker",
					},
					&cli.BoolFlag{
						Name:  "seed",
						Usage: "register sample data sources at startup",
						Value: true,
					},
				},
				Action: mockBackendAction,
			},
		},
	}
}
