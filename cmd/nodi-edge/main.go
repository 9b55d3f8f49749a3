package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"github.com/nodiinc/nodi-edge/internal/logging/writers"
)

// paths bundles the persisted-state layout of spec §6, rooted at
// --data-root (default /home/nodi/nodi-edge-data).
type paths struct {
	dataRoot string
}

func newPaths(dataRoot string) paths { return paths{dataRoot: dataRoot} }

func (p paths) dbPath() string        { return filepath.Join(p.dataRoot, "db", "edge.db") }
func (p paths) tokenCacheDir() string { return filepath.Join(p.dataRoot, "license", "tokens") }
func (p paths) logPath(appID string) string {
	return writers.EnginePath(p.dataRoot, appID)
}

const defaultDataRoot = "/home/nodi/nodi-edge-data"
const identityPath = "/etc/nodi-edge/identity"

func main() {
	app := &cli.Command{
		Name:    "nodi-edge",
		Version: Version,
		Usage:   "Nodi Edge application supervisor and protocol workers",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "debug", Usage: "enable debug-level logging (bus traffic is not traced)"},
			&cli.BoolFlag{Name: "clean", Usage: "reset bus state on connect"},
			&cli.StringFlag{Name: "data-root", Usage: "persisted state root", Value: defaultDataRoot},
			&cli.StringFlag{Name: "db", Usage: "override the relational store path"},
			&cli.StringFlag{Name: "log-output", Usage: "stdout, stderr, or a file path; defaults to log/ne-<app-id>.log under --data-root"},
		},
		Commands: []*cli.Command{
			supervisorCmd,
			workerCmd,
			statusCmd,
			versionCmd,
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			SetupLogger(levelFromDebugFlag(cmd.Bool("debug")))
			return ctx, nil
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
