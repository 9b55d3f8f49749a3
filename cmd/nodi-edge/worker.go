package main

import (
	"context"
	"fmt"

	gosupervisor "github.com/robbyt/go-supervisor/supervisor"
	"github.com/urfave/cli/v3"

	"github.com/nodiinc/nodi-edge/internal/lifecycle"
	"github.com/nodiinc/nodi-edge/internal/worker"
)

var workerCmd = &cli.Command{
	Name:  "worker",
	Usage: "Run a protocol interface worker",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "app-id", Usage: "app id of this worker, defaults to --conn-id", Required: false},
		&cli.StringFlag{Name: "protocol", Usage: "protocol code this worker serves", Required: true},
		&cli.StringFlag{Name: "conn-id", Usage: "connection id this worker serves", Required: true},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		connID := cmd.String("conn-id")
		appID := cmd.String("app-id")
		if appID == "" {
			appID = connID
		}
		protocol := cmd.String("protocol")

		p := newPaths(cmd.String("data-root"))
		logger, err := newEngineLogger(levelFromDebugFlag(cmd.Bool("debug")), cmd.String("log-output"), p.dataRoot, appID)
		if err != nil {
			return cli.Exit(fmt.Errorf("set up logger: %w", err), 1)
		}
		dbPath := p.dbPath()
		if override := cmd.String("db"); override != "" {
			dbPath = override
		}

		// Protocol-specific hooks are out of scope for this module; the
		// base runs with no-op hooks, exercising the config-reload and
		// classification machinery spec §4.6 defines.
		app, err := worker.New(appID, protocol, dbPath, logger, worker.ProtocolHooks{}, []string{"--conn-id", connID})
		if err != nil {
			return cli.Exit(err, 1)
		}

		engine, err := lifecycle.New(
			lifecycle.WithName(appID),
			lifecycle.WithLogger(logger),
			lifecycle.WithCapabilities(app.Capabilities()),
			lifecycle.WithBusFactory(busFactory(cmd.Bool("clean"))),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("create worker engine: %w", err), 1)
		}
		app.BindReconfigure(engine.RequestReconfigure)

		runnables := []gosupervisor.Runnable{engine}
		proc, err := gosupervisor.New(
			gosupervisor.WithRunnables(runnables...),
			gosupervisor.WithLogHandler(logger.Handler()),
			gosupervisor.WithContext(ctx),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("create process supervisor: %w", err), 1)
		}
		if err := proc.Run(); err != nil {
			return cli.Exit(fmt.Errorf("worker run failed: %w", err), 1)
		}
		return nil
	},
}
