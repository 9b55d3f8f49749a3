package main

import (
	"context"
	"fmt"
	"os"

	gosupervisor "github.com/robbyt/go-supervisor/supervisor"
	"github.com/urfave/cli/v3"

	"github.com/nodiinc/nodi-edge/internal/bus"
	"github.com/nodiinc/nodi-edge/internal/entitlement"
	"github.com/nodiinc/nodi-edge/internal/lifecycle"
	"github.com/nodiinc/nodi-edge/internal/supervisor"
	"github.com/nodiinc/nodi-edge/internal/unitdriver"
)

var supervisorCmd = &cli.Command{
	Name:  "supervisor",
	Usage: "Run the Service Supervisor",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "public-key", Usage: "PEM-encoded RSA public key for entitlement verification", Required: true},
		&cli.StringFlag{Name: "elevate-cmd", Usage: "elevation wrapper binary", Value: "sudo"},
		&cli.StringFlag{Name: "service-ctl", Usage: "service manager binary", Value: "systemctl"},
		&cli.StringFlag{Name: "interpreter", Usage: "worker process interpreter", Value: "/usr/bin/python3"},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		p := newPaths(cmd.String("data-root"))
		logger, err := newEngineLogger(levelFromDebugFlag(cmd.Bool("debug")), cmd.String("log-output"), p.dataRoot, "supervisor")
		if err != nil {
			return cli.Exit(fmt.Errorf("set up logger: %w", err), 1)
		}
		dbPath := p.dbPath()
		if override := cmd.String("db"); override != "" {
			dbPath = override
		}

		keyPEM, err := os.ReadFile(cmd.String("public-key"))
		if err != nil {
			return cli.Exit(fmt.Errorf("read public key: %w", err), 1)
		}
		publicKey, err := entitlement.ParseRSAPublicKeyFromPEM(keyPEM)
		if err != nil {
			return cli.Exit(fmt.Errorf("parse public key: %w", err), 1)
		}

		driver := unitdriver.New(logger, cmd.String("elevate-cmd"), cmd.String("service-ctl"), cmd.String("interpreter"))

		super := supervisor.New(logger, dbPath, driver, publicKey, p.tokenCacheDir(),
			supervisor.WithAddonModules(knownAddonModules),
			supervisor.WithProtocolModules(knownProtocolModules),
			supervisor.WithIdentityPath(identityPath),
		)

		engine, err := lifecycle.New(
			lifecycle.WithName("supervisor"),
			lifecycle.WithLogger(logger),
			lifecycle.WithCapabilities(super.Capabilities()),
			lifecycle.WithBusFactory(busFactory(cmd.Bool("clean"))),
			lifecycle.WithExecuteInterval(super.ExecuteInterval()),
			lifecycle.WithManageInterval(super.ManageInterval()),
		)
		if err != nil {
			return cli.Exit(fmt.Errorf("create supervisor engine: %w", err), 1)
		}

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
			return cli.Exit(fmt.Errorf("supervisor run failed: %w", err), 1)
		}
		return nil
	},
}

// knownAddonModules is the static addon app-id -> module name map spec
// §4.5 CONFIGURE reconciles against. Real deployments load this from the
// product's packaged addon manifest; out of scope here.
var knownAddonModules = map[string]string{}

// knownProtocolModules is the static protocol-code -> interface module
// map used to resolve a connection row to the worker that serves it.
// Real deployments load this from the product's packaged protocol
// manifest; out of scope here.
var knownProtocolModules = map[string]string{}

// busFactory returns the function used to open a new bus session each
// time an engine enters CONNECT. The production TagBus client is out of
// scope for this module (spec §1 Non-goals); internal/bus.Memory stands
// in as the session until a real client is wired in.
func busFactory(clean bool) func() (bus.Bus, error) {
	return func() (bus.Bus, error) {
		session := bus.NewMemory()
		if clean {
			session.Reset()
		}
		return session, nil
	}
}
