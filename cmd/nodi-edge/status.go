package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/nodiinc/nodi-edge/internal/store"
	"github.com/nodiinc/nodi-edge/internal/supervisor"
	"github.com/nodiinc/nodi-edge/internal/unitdriver"
)

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "Print the current service map (spec §5 app_registry) and live unit state",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "elevate-cmd", Usage: "elevation wrapper binary", Value: "sudo"},
		&cli.StringFlag{Name: "service-ctl", Usage: "service manager binary", Value: "systemctl"},
		&cli.StringFlag{Name: "interpreter", Usage: "worker process interpreter", Value: "/usr/bin/python3"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		logger := slog.Default().With("component", "status")
		p := newPaths(cmd.String("data-root"))
		dbPath := p.dbPath()
		if override := cmd.String("db"); override != "" {
			dbPath = override
		}

		db, err := store.Open(dbPath)
		if err != nil {
			return cli.Exit(fmt.Errorf("open store: %w", err), 1)
		}
		defer db.Close()

		driver := unitdriver.New(logger, cmd.String("elevate-cmd"), cmd.String("service-ctl"), cmd.String("interpreter"))

		out, err := supervisor.RenderRegistryStatus(ctx, db, driver)
		if err != nil {
			return cli.Exit(err, 1)
		}
		fmt.Fprintln(os.Stdout, out)
		return nil
	},
}
