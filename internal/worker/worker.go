// Package worker implements InterfaceApp, the base every protocol
// worker embeds (spec §4.6): a Lifecycle Engine customised to load its
// connection row from the Configuration Store, classify config changes
// into connection-level (restart) vs hot-reload, and delegate to
// protocol-specific override hooks.
package worker

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nodiinc/nodi-edge/internal/bus"
	"github.com/nodiinc/nodi-edge/internal/lifecycle"
	"github.com/nodiinc/nodi-edge/internal/store"
)

// connTuple is the connection-level configuration (spec §4.6): any
// change to these fields requires a full process restart.
type connTuple struct {
	Host           string
	Port           int
	TimeoutSeconds int
	RetryCount     int
}

func tupleOf(c store.Connection) connTuple {
	return connTuple{Host: c.Host, Port: c.Port, TimeoutSeconds: c.TimeoutSeconds, RetryCount: c.RetryCount}
}

// ProtocolHooks are the override points a concrete protocol worker
// supplies (spec §4.6: on_intf_prepare, on_intf_configure, ...). Each is
// invoked by the corresponding base stage hook after the base has
// reloaded configuration; a nil hook is a no-op success.
type ProtocolHooks struct {
	OnPrepare    func(ctx context.Context) lifecycle.Result
	OnConfigure  func(ctx context.Context, conn store.Connection, blocks []store.Block) lifecycle.Result
	OnConnect    func(ctx context.Context, session bus.Bus) lifecycle.Result
	OnExecute    func(ctx context.Context) lifecycle.Result
	OnRecover    func(ctx context.Context) lifecycle.Result
	OnDisconnect func(ctx context.Context)
}

// InterfaceApp is the base every protocol worker embeds. It owns the
// --conn-id flag, the connection-level/hot-reload classification, and
// the config_reload subscription; protocol specifics live in Hooks.
type InterfaceApp struct {
	AppID        string
	ProtocolCode string
	ConnID       string

	logger *slog.Logger
	db     *store.EdgeDB
	dbPath string
	hooks  ProtocolHooks

	lastTuple   connTuple
	cronParser  cron.Parser
	reconfigure func() // bound to the owning lifecycle.App.RequestReconfigure
}

// New constructs an InterfaceApp. dbPath is opened during PREPARE;
// --conn-id is parsed from args (spec §4.6: missing it is fatal).
func New(appID, protocolCode string, dbPath string, logger *slog.Logger, hooks ProtocolHooks, args []string) (*InterfaceApp, error) {
	fs := flag.NewFlagSet(appID, flag.ContinueOnError)
	connID := fs.String("conn-id", "", "connection id this worker serves")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("worker: parse flags: %w", err)
	}
	if *connID == "" {
		return nil, fmt.Errorf("worker: --conn-id is required")
	}

	return &InterfaceApp{
		AppID:        appID,
		ProtocolCode: protocolCode,
		ConnID:       *connID,
		logger:       logger,
		dbPath:       dbPath,
		hooks:        hooks,
		cronParser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}, nil
}

// BindReconfigure wires the owning lifecycle.App's reconfigure signal so
// the hot-reload path in onConfigReload can trigger it.
func (a *InterfaceApp) BindReconfigure(f func()) { a.reconfigure = f }

// Capabilities returns the Lifecycle Engine hook set for this worker.
func (a *InterfaceApp) Capabilities() lifecycle.Capabilities {
	return lifecycle.Capabilities{
		Prepare:    a.prepare,
		Configure:  a.configure,
		Connect:    a.connect,
		Execute:    a.execute,
		Recover:    a.recover,
		Disconnect: a.disconnect,
	}
}

func (a *InterfaceApp) prepare(ctx context.Context) lifecycle.Result {
	db, err := store.Open(a.dbPath)
	if err != nil {
		return lifecycle.Fatal(fmt.Errorf("worker: open store: %w", err))
	}
	a.db = db

	if a.hooks.OnPrepare != nil {
		if res := a.hooks.OnPrepare(ctx); !res.IsOK() {
			return res
		}
	}
	return lifecycle.OK()
}

// configure loads the connection row and its blocks and records the
// connection-level tuple that onConfigReload later compares against; it
// does no classification itself. A connection-level change (detected by
// RequestReconfigure's caller, onConfigReload) has
// already caused a process exit before reaching here on steady-state
// ticks; configure's job on a cold start or a hot-reload is simply to
// load the current config and hand it to the protocol hook.
func (a *InterfaceApp) configure(ctx context.Context) lifecycle.Result {
	conn, err := a.db.GetConnection(ctx, a.ConnID)
	if err != nil {
		return lifecycle.Fatal(fmt.Errorf("worker: load connection %s: %w", a.ConnID, err))
	}
	blocks, err := a.db.ListBlocks(ctx, a.ConnID)
	if err != nil {
		return lifecycle.Fatal(fmt.Errorf("worker: load blocks for %s: %w", a.ConnID, err))
	}

	a.lastTuple = tupleOf(*conn)
	a.logCyclicSchedules(blocks)
	a.logProperties(*conn)

	if a.hooks.OnConfigure != nil {
		return a.hooks.OnConfigure(ctx, *conn, blocks)
	}
	return lifecycle.OK()
}

// logCyclicSchedules logs the next fire time of every cyc-triggered
// block's schedule, purely diagnostic (spec §4.6 does not mandate
// acting on it, only that the worker is schedule-aware).
func (a *InterfaceApp) logCyclicSchedules(blocks []store.Block) {
	for _, b := range blocks {
		if b.Trigger != "cyc" || b.Schedule == "" {
			continue
		}
		sched, err := a.cronParser.Parse(b.Schedule)
		if err != nil {
			a.logger.Warn("worker: invalid cron schedule, skipping", "block_id", b.BlockID, "schedule", b.Schedule, "error", err)
			continue
		}
		a.logger.Debug("worker: block schedule", "block_id", b.BlockID, "next", sched.Next(time.Now()))
	}
}

// logProperties decodes the connection's TOML properties blob and logs
// its keys at DEBUG, purely diagnostic like logCyclicSchedules.
func (a *InterfaceApp) logProperties(conn store.Connection) {
	props, err := conn.Properties()
	if err != nil {
		a.logger.Warn("worker: invalid properties blob, skipping", "conn_id", a.ConnID, "error", err)
		return
	}
	if len(props) == 0 {
		return
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	a.logger.Debug("worker: connection properties", "conn_id", a.ConnID, "keys", keys)
}

func (a *InterfaceApp) connect(ctx context.Context, session bus.Bus) lifecycle.Result {
	if err := session.Subscribe(ctx, []string{a.configReloadKey()}, a.onConfigReload); err != nil {
		return lifecycle.Recoverable(fmt.Errorf("worker: subscribe config_reload: %w", err))
	}
	if a.hooks.OnConnect != nil {
		return a.hooks.OnConnect(ctx, session)
	}
	return lifecycle.OK()
}

func (a *InterfaceApp) configReloadKey() string {
	return "system/" + a.ConnID + "/config_reload"
}

// onConfigReload implements spec §4.6's handler: snapshot, reload,
// classify, and either exit (connection-level change) or request a
// clean CONFIGURE reload (hot-reload change).
func (a *InterfaceApp) onConfigReload(key, value string) {
	ctx := context.Background()
	previous := a.lastTuple

	conn, err := a.db.GetConnection(ctx, a.ConnID)
	if err != nil {
		a.logger.Error("worker: config_reload: reload failed", "error", err)
		return
	}

	if tupleOf(*conn) != previous {
		a.logger.Info("worker: connection-level config changed, exiting for restart", "conn_id", a.ConnID)
		os.Exit(0)
	}

	if a.reconfigure != nil {
		a.reconfigure()
	}
}

func (a *InterfaceApp) execute(ctx context.Context) lifecycle.Result {
	if a.hooks.OnExecute != nil {
		return a.hooks.OnExecute(ctx)
	}
	return lifecycle.OK()
}

func (a *InterfaceApp) recover(ctx context.Context) lifecycle.Result {
	if a.hooks.OnRecover != nil {
		return a.hooks.OnRecover(ctx)
	}
	return lifecycle.OK()
}

func (a *InterfaceApp) disconnect(ctx context.Context) {
	if a.hooks.OnDisconnect != nil {
		a.hooks.OnDisconnect(ctx)
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("worker: close store failed", "error", err)
		}
	}
}
