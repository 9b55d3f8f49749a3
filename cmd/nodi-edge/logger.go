package main

import (
	"log/slog"

	"github.com/nodiinc/nodi-edge/internal/logging"
)

// SetupLogger configures the default logger before an engine's app-id is
// known (early flag errors, the Before hook).
func SetupLogger(logLevel string) {
	logging.SetupLogger(logLevel)
}

// newEngineLogger builds the component-scoped logger for one Lifecycle
// Engine instance (spec §6: log/ne-<app-id>.log), honoring --log-output.
func newEngineLogger(logLevel, output, dataRoot, appID string) (*slog.Logger, error) {
	return logging.SetupEngineLogger(logLevel, output, dataRoot, appID)
}

func levelFromDebugFlag(debug bool) string {
	if debug {
		return "debug"
	}
	return "info"
}
