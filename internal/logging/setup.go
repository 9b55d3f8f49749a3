package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/nodiinc/nodi-edge/internal/logging/writers"
)

// SetupHandlerText configures a text slog handler with the provided writer and log level
func SetupHandlerText(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}

	reportCaller := false
	reportTimestamp := false
	lvl := log.InfoLevel
	switch strings.ToLower(logLevel) {
	case "trace":
		reportCaller = true
		reportTimestamp = true
		lvl = log.DebugLevel
	case "debug":
		reportTimestamp = true
		lvl = log.DebugLevel
	case "info":
		lvl = log.InfoLevel
	case "warn", "warning":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	}

	return log.NewWithOptions(writer, log.Options{
		ReportTimestamp: reportTimestamp,
		ReportCaller:    reportCaller,
		Level:           lvl,
	})
}

// SetupLogger configures the default logger based on provided log level.
// Used before an engine's app-id is known (flag parsing, early startup
// errors); once an engine is constructed, SetupEngineLogger replaces it.
func SetupLogger(logLevel string) {
	handler := SetupHandlerText(logLevel, nil)
	slog.SetDefault(slog.New(handler))
}

// SetupEngineLogger builds the logger for one Lifecycle Engine instance
// (the Supervisor, or one worker), scoped with component/app_id the way
// spec §6's per-engine log file separates them on disk. output selects
// the writer per internal/logging/writers.CreateEngineWriter: "stdout",
// "stderr", an explicit path, or "" for the default
// log/ne-<app-id>.log file under dataRoot.
func SetupEngineLogger(logLevel, output, dataRoot, appID string) (*slog.Logger, error) {
	w, err := writers.CreateEngineWriter(output, dataRoot, appID)
	if err != nil {
		return nil, fmt.Errorf("logging: create writer for %s: %w", appID, err)
	}
	handler := SetupHandlerText(logLevel, w)
	return slog.New(handler).With("component", "engine", "app_id", appID), nil
}
