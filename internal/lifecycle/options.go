package lifecycle

import (
	"log/slog"
	"time"

	"github.com/nodiinc/nodi-edge/internal/bus"
)

// Option configures an App at construction, following the functional
// options idiom the teacher uses throughout (cfgrpc.WithLogger, and
// friends).
type Option func(*App)

// WithLogger sets the engine's logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithCapabilities sets the stage hooks.
func WithCapabilities(caps Capabilities) Option {
	return func(a *App) { a.caps = caps }
}

// WithBusFactory sets the function used to open a new bus session each
// time the engine enters CONNECT.
func WithBusFactory(factory func() (bus.Bus, error)) Option {
	return func(a *App) { a.busFactory = factory }
}

// WithExecuteInterval sets the EXECUTE tick cadence. Default 1s; the
// Supervisor overrides this to 5s per spec §4.5.
func WithExecuteInterval(d time.Duration) Option {
	return func(a *App) { a.executeInterval = d }
}

// WithManageInterval sets the manage-plane cadence. Default 1s; the
// Supervisor overrides this to 10s per spec §4.5.
func WithManageInterval(d time.Duration) Option {
	return func(a *App) { a.manageInterval = d }
}

// WithRetryInterval sets the wait applied before retrying CONNECT (both
// from CONNECT-with-prior-failure and from DISCONNECT). Default 5s.
func WithRetryInterval(d time.Duration) Option {
	return func(a *App) { a.retryInterval = d }
}

// WithExceptionLimit sets how many exceptions per stage are logged in
// full before being suppressed. Default 1.
func WithExceptionLimit(n int) Option {
	return func(a *App) { a.exceptionLimit = n }
}

// WithMeterWindow sets the EXECUTE-duration moving-average window.
// Default meter.DefaultWindow (60).
func WithMeterWindow(n int) Option {
	return func(a *App) { a.meterWindow = n }
}

// WithName sets the engine's identifier, used in logs and as the
// Runnable's String().
func WithName(name string) Option {
	return func(a *App) { a.name = name }
}
