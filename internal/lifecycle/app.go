// Package lifecycle implements the Application Lifecycle Engine of spec
// §4.2: a deterministic six-state machine (PREPARE, CONFIGURE, CONNECT,
// EXECUTE, RECOVER, DISCONNECT) with bounded retries, exception-budgeted
// recovery, a two-thread split (FSM driver + manage plane), and a
// reconfigure signal. Both the Supervisor and every worker are one
// instance of App, customised only through Capabilities (spec §9).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodiinc/nodi-edge/internal/bus"
	"github.com/nodiinc/nodi-edge/internal/fsm"
	"github.com/nodiinc/nodi-edge/internal/timer"
	"github.com/robbyt/go-loglater"
)

// App is one instance of the Lifecycle Engine. It implements
// supervisor.Runnable and supervisor.Stateable from
// github.com/robbyt/go-supervisor, so it can be handed directly to
// supervisor.New(WithRunnables(...)) the way firelynx hands its own
// Runnables to the process supervisor.
type App struct {
	name   string
	logger *slog.Logger
	caps   Capabilities

	machine fsm.Machine
	stats   *Stats
	budget  *exceptionBudget
	bootLog       *loglater.LogCollector
	replayHandler slog.Handler

	busFactory func() (bus.Bus, error)
	session    bus.Bus
	sessionMu  sync.RWMutex

	executeInterval time.Duration
	manageInterval  time.Duration
	retryInterval   time.Duration
	exceptionLimit  int
	meterWindow     int

	reconfigure atomic.Bool
	running     atomic.Bool
	stopOnce    sync.Once
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// New constructs an App. Capabilities may be supplied via
// WithCapabilities; a zero-value Capabilities is valid (every stage
// becomes a no-op success), though that is rarely useful outside tests.
func New(opts ...Option) (*App, error) {
	a := &App{
		name:            "engine",
		logger:          slog.Default(),
		executeInterval: time.Second,
		manageInterval:  time.Second,
		retryInterval:   5 * time.Second,
		exceptionLimit:  1,
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	baseHandler := a.logger.Handler()

	machine, err := fsm.New(baseHandler)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: create fsm: %w", err)
	}
	a.machine = machine
	a.stats = NewStats(a.meterWindow)
	a.budget = newExceptionBudget(a.exceptionLimit)
	a.bootLog = loglater.NewLogCollector(baseHandler)
	a.replayHandler = baseHandler
	a.logger = slog.New(a.bootLog).With("engine", a.name)

	return a, nil
}

// String implements supervisor.Runnable.
func (a *App) String() string { return a.name }

// GetState implements supervisor.Stateable.
func (a *App) GetState() string { return a.machine.GetState() }

// GetStateChan implements supervisor.Stateable.
func (a *App) GetStateChan(ctx context.Context) <-chan string {
	return a.machine.GetStateChan(ctx)
}

// IsRunning implements supervisor.Stateable.
func (a *App) IsRunning() bool { return a.running.Load() }

// Stats exposes the engine's statistics for the manage plane / bus
// status publication.
func (a *App) Stats() *Stats { return a.stats }

// RequestReconfigure sets the one-shot reconfigure event. It is polled
// once per EXECUTE tick (spec §4.2); setting it while the engine is in
// any other stage simply waits for the next EXECUTE cycle to pick it up.
func (a *App) RequestReconfigure() {
	a.reconfigure.Store(true)
}

// Run implements supervisor.Runnable. It drives the FSM to completion
// (PREPARE through the DISCONNECT→CONNECT cycle) on the calling
// goroutine, and runs the manage plane on a second goroutine, until Stop
// is called or ctx is canceled. A fatal PREPARE/CONFIGURE failure
// returns a non-nil error (spec §6: exit code 1 at the call site).
func (a *App) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.New("lifecycle: already running")
	}
	defer a.running.Store(false)
	defer close(a.doneCh)

	var manageWG sync.WaitGroup
	manageWG.Add(1)
	go func() {
		defer manageWG.Done()
		a.runManagePlane(ctx)
	}()
	defer manageWG.Wait()

	err := a.runDriver(ctx)

	a.teardownSession()
	return err
}

// Stop implements supervisor.Runnable. It sets the shutdown flag; the
// driver loop exits after its in-flight handler returns, and the manage
// plane exits at its next tick or immediately if idle.
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

func (a *App) stopped() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

func (a *App) runDriver(ctx context.Context) error {
	retryTimer := timer.New(a.retryInterval)
	tickTimer := timer.New(a.executeInterval)

	for {
		if a.stopped() || ctx.Err() != nil {
			return nil
		}

		switch a.machine.GetState() {
		case fsm.Prepare:
			if err := a.handlePrepare(ctx); err != nil {
				return err
			}

		case fsm.Configure:
			if err := a.handleConfigure(ctx); err != nil {
				return err
			}

		case fsm.Connect:
			a.handleConnect(ctx, retryTimer)

		case fsm.Execute:
			a.handleExecute(ctx, tickTimer)

		case fsm.Recover:
			a.handleRecover(ctx)

		case fsm.Disconnect:
			a.handleDisconnect(ctx, retryTimer)

		default:
			return fmt.Errorf("lifecycle: unknown state %q", a.machine.GetState())
		}
	}
}

func (a *App) handlePrepare(ctx context.Context) error {
	start := time.Now()
	res := a.caps.prepare(ctx)
	if res.IsFatal() || res.IsRecoverable() {
		a.logger.Error("PREPARE failed, engine cannot continue", "error", res.Err())
		_ = a.bootLog.PlayLogs(a.replayHandler)
		return fmt.Errorf("prepare: %w", res.Err())
	}
	a.stats.MarkDone(fsm.Prepare, time.Since(start))
	a.logger.Info("stage entered", "stage", fsm.Prepare)
	return a.transition(fsm.Configure)
}

func (a *App) handleConfigure(ctx context.Context) error {
	start := time.Now()
	res := a.caps.configure(ctx)
	if res.IsFatal() || res.IsRecoverable() {
		a.logger.Error("CONFIGURE failed, engine cannot continue", "error", res.Err())
		_ = a.bootLog.PlayLogs(a.replayHandler)
		return fmt.Errorf("configure: %w", res.Err())
	}
	first := a.stats.MarkDone(fsm.Configure, time.Since(start))
	if first {
		a.logger.Info("stage entered", "stage", fsm.Configure)
	}
	return a.transition(fsm.Connect)
}

func (a *App) handleConnect(ctx context.Context, retryTimer *timer.Periodic) {
	if a.stats.ExceptionCount() >= 1 {
		retryTimer.Wait(a.stopCh)
	}

	session, err := a.openSession()
	if err != nil {
		a.countException(fsm.Connect, err)
		_ = a.transition(fsm.Recover)
		return
	}

	start := time.Now()
	res := a.caps.connect(ctx, session)
	if !res.IsOK() {
		a.countException(fsm.Connect, res.Err())
		_ = a.transition(fsm.Recover)
		return
	}

	first := a.stats.MarkDone(fsm.Connect, time.Since(start))
	if first {
		a.logger.Info("stage entered", "stage", fsm.Connect)
	}
	_ = a.transition(fsm.Execute)
}

func (a *App) handleExecute(ctx context.Context, tickTimer *timer.Periodic) {
	for {
		if a.stopped() || ctx.Err() != nil {
			return
		}
		if !tickTimer.Wait(a.stopCh) {
			return
		}

		start := time.Now()
		res := a.caps.execute(ctx)
		elapsed := time.Since(start)

		if !res.IsOK() {
			a.countException(fsm.Execute, res.Err())
			_ = a.transition(fsm.Recover)
			return
		}

		a.stats.RecordExecuteDuration(elapsed)
		first := a.stats.MarkDone(fsm.Execute, elapsed)
		if first {
			a.logger.Info("stage entered", "stage", fsm.Execute)
			a.stats.ClearDone(fsm.Recover)
			a.stats.ClearDone(fsm.Disconnect)
			a.stats.ResetExceptions()
			a.budget.Reset()
		}

		if a.reconfigure.CompareAndSwap(true, false) {
			a.stats.ClearDone(fsm.Configure)
			_ = a.transition(fsm.Configure)
			return
		}
	}
}

func (a *App) handleRecover(ctx context.Context) {
	start := time.Now()
	res := a.caps.recover(ctx)
	if res.IsOK() {
		first := a.stats.MarkDone(fsm.Recover, time.Since(start))
		if first {
			a.logger.Info("stage entered", "stage", fsm.Recover)
		}
		_ = a.transition(fsm.Execute)
		return
	}
	a.countException(fsm.Recover, res.Err())
	_ = a.transition(fsm.Disconnect)
}

func (a *App) handleDisconnect(ctx context.Context, retryTimer *timer.Periodic) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Warn("on_disconnect panicked, ignoring", "panic", r)
			}
		}()
		a.caps.disconnect(ctx)
	}()

	a.teardownSession()

	a.stats.ClearDone(fsm.Connect)
	a.stats.ClearDone(fsm.Execute)
	a.stats.MarkDone(fsm.Disconnect, 0)

	retryTimer.Wait(a.stopCh)
	_ = a.transition(fsm.Connect)
}

func (a *App) transition(next string) error {
	if err := a.machine.Transition(next); err != nil {
		a.logger.Error("disallowed transition refused", "to", next, "error", err)
		return err
	}
	return nil
}

func (a *App) countException(stage string, err error) {
	n := a.stats.IncrementExceptions()
	if a.budget.Allow(stage) {
		a.logger.Error("stage exception", "stage", stage, "error", err, "exception_count", n)
	}
}

func (a *App) openSession() (bus.Bus, error) {
	if a.busFactory == nil {
		return nil, errors.New("lifecycle: no bus factory configured")
	}
	session, err := a.busFactory()
	if err != nil {
		return nil, err
	}
	a.sessionMu.Lock()
	a.session = session
	a.sessionMu.Unlock()
	return session, nil
}

func (a *App) teardownSession() {
	a.sessionMu.Lock()
	session := a.session
	a.session = nil
	a.sessionMu.Unlock()
	if session != nil {
		if err := session.Close(); err != nil {
			a.logger.Warn("bus session close failed", "error", err)
		}
	}
}

func (a *App) runManagePlane(ctx context.Context) {
	gate := timer.New(a.manageInterval)
	for {
		if !gate.Wait(a.stopCh) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		if err := a.caps.manage(ctx); err != nil {
			a.stats.IncrementExceptions()
			a.logger.Error("manage-plane exception", "error", err)
		}
	}
}
