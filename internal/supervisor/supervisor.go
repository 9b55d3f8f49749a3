// Package supervisor implements the Service Supervisor of spec §4.5: the
// engine that reconciles the relational Configuration Store against
// host service-manager units, handles addon entitlement activation, and
// answers bus commands. It is one instance of the Lifecycle Engine
// (internal/lifecycle), customised entirely through Capabilities.
package supervisor

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nodiinc/nodi-edge/internal/bus"
	"github.com/nodiinc/nodi-edge/internal/entitlement"
	"github.com/nodiinc/nodi-edge/internal/identity"
	"github.com/nodiinc/nodi-edge/internal/lifecycle"
	"github.com/nodiinc/nodi-edge/internal/store"
	"github.com/nodiinc/nodi-edge/internal/unitdriver"
)

const (
	maxRestarts         = 5
	restartResetWindow  = 300 * time.Second
	entitlementInterval = 60 * time.Second
	defaultExecuteTick  = 5 * time.Second
	defaultManageTick   = 10 * time.Second
)

// ServiceDriver is the subset of *unitdriver.Driver the Supervisor
// depends on. Narrowing to an interface lets tests substitute a fake
// that never shells out to the real service manager.
type ServiceDriver interface {
	CreateInterfaceUnit(appID, module, connID string) error
	CreateAddonUnit(appID, module string) error
	RemoveUnit(category unitdriver.Category, appID string) error
	DaemonReload(ctx context.Context) bool
	Start(ctx context.Context, category unitdriver.Category, appID string) bool
	Stop(ctx context.Context, category unitdriver.Category, appID string) bool
	Restart(ctx context.Context, category unitdriver.Category, appID string) bool
	IsActive(ctx context.Context, category unitdriver.Category, appID string) bool
}

// ServiceEntry is one row of the in-memory service map mirrored from the
// app-registry table (spec §5: "services", mutex-guarded, shared between
// the FSM driver and the manage thread).
type ServiceEntry struct {
	AppID        string
	Category     unitdriver.Category
	Module       string
	ConnectionID *string
	Enabled      bool
	Active       bool
	RestartCount int
	LastRestart  time.Time
}

// Supervisor holds the reconciler's dependencies and the live service
// map. Construct with New and pass Capabilities() to lifecycle.New via
// lifecycle.WithCapabilities.
type Supervisor struct {
	logger *slog.Logger

	dbPath        string
	db            *store.EdgeDB
	driver        ServiceDriver
	throttle      *unitdriver.RestartThrottle
	publicKey     *rsa.PublicKey
	tokenCacheDir string
	entitlement   *entitlement.Manager

	identityPath string
	serialNumber string

	// addonModules maps every statically known addon app-id to its
	// module name (spec §4.5 CONFIGURE); protocolModules maps a
	// connection's protocol code to the interface module that serves it.
	addonModules    map[string]string
	protocolModules map[string]string

	services   map[string]*ServiceEntry
	servicesMu sync.Mutex

	lastEntitlementCheck time.Time

	session   bus.Bus
	sessionMu sync.RWMutex
}

// Option configures a Supervisor at construction.
type Option func(*Supervisor)

// WithAddonModules sets the static addon app-id -> module name map.
func WithAddonModules(m map[string]string) Option {
	return func(s *Supervisor) { s.addonModules = m }
}

// WithProtocolModules sets the protocol-code -> interface module map.
func WithProtocolModules(m map[string]string) Option {
	return func(s *Supervisor) { s.protocolModules = m }
}

// WithIdentityPath sets the on-disk identity file (spec §6) consulted
// during PREPARE to bind activation tokens to this machine's serial
// number. If unset, activation skips the serial-number check.
func WithIdentityPath(path string) Option {
	return func(s *Supervisor) { s.identityPath = path }
}

// New constructs a Supervisor. dbPath is opened during PREPARE; driver
// wraps the host service manager; publicKey/tokenCacheDir configure the
// Entitlement Manager constructed during PREPARE.
func New(logger *slog.Logger, dbPath string, driver ServiceDriver, publicKey *rsa.PublicKey, tokenCacheDir string, opts ...Option) *Supervisor {
	s := &Supervisor{
		logger:        logger,
		dbPath:        dbPath,
		driver:        driver,
		throttle:      unitdriver.NewRestartThrottle(maxRestarts, restartResetWindow.Seconds()),
		publicKey:     publicKey,
		tokenCacheDir: tokenCacheDir,
		services:      make(map[string]*ServiceEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Capabilities returns the Lifecycle Engine hook set for this Supervisor.
func (s *Supervisor) Capabilities() lifecycle.Capabilities {
	return lifecycle.Capabilities{
		Prepare:    s.prepare,
		Configure:  s.configure,
		Connect:    s.connect,
		Execute:    s.execute,
		Disconnect: s.disconnect,
		Manage:     s.manage,
	}
}

// ExecuteInterval is the Supervisor's EXECUTE cadence (spec §4.5: 5s).
func (s *Supervisor) ExecuteInterval() time.Duration { return defaultExecuteTick }

// ManageInterval is the Supervisor's manage-plane cadence (spec §4.5: 10s).
func (s *Supervisor) ManageInterval() time.Duration { return defaultManageTick }

func (s *Supervisor) prepare(ctx context.Context) lifecycle.Result {
	db, err := store.Open(s.dbPath)
	if err != nil {
		return lifecycle.Fatal(fmt.Errorf("supervisor: open store: %w", err))
	}
	s.db = db
	s.entitlement = entitlement.New(s.publicKey, s.tokenCacheDir, s.addonModules)

	if s.identityPath != "" {
		id, err := identity.Load(s.identityPath)
		if err != nil {
			s.logger.Warn("supervisor: load identity failed, activation will skip serial-number binding", "error", err)
		} else {
			s.serialNumber = id.SerialNumber
		}
	}
	return lifecycle.OK()
}

// configure ensures every statically known addon module has a disabled
// app-registry row (spec §4.5 CONFIGURE), idempotently.
func (s *Supervisor) configure(ctx context.Context) lifecycle.Result {
	for appID, module := range s.addonModules {
		existing, err := s.db.GetAppRegistry(ctx, appID)
		if err != nil {
			return lifecycle.Recoverable(fmt.Errorf("supervisor: read registry for %s: %w", appID, err))
		}
		if existing != nil {
			continue
		}
		if err := s.db.UpsertAppRegistry(ctx, store.AppRegistryRow{
			AppID:    appID,
			Category: string(unitdriver.CategoryAddon),
			Module:   module,
			Enabled:  false,
		}); err != nil {
			return lifecycle.Recoverable(fmt.Errorf("supervisor: seed registry for %s: %w", appID, err))
		}
	}
	return lifecycle.OK()
}

func (s *Supervisor) disconnect(ctx context.Context) {
	s.servicesMu.Lock()
	entries := make([]*ServiceEntry, 0, len(s.services))
	for _, e := range s.services {
		entries = append(entries, e)
	}
	s.servicesMu.Unlock()

	for _, e := range entries {
		if e.Active {
			s.driver.Stop(ctx, e.Category, e.AppID)
			e.Active = false
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("supervisor: close store failed", "error", err)
		}
	}
}

func (s *Supervisor) setSession(session bus.Bus) {
	s.sessionMu.Lock()
	s.session = session
	s.sessionMu.Unlock()
}

func (s *Supervisor) getSession() bus.Bus {
	s.sessionMu.RLock()
	defer s.sessionMu.RUnlock()
	return s.session
}

func categoryFor(row store.AppRegistryRow) unitdriver.Category {
	if row.Category == string(unitdriver.CategoryInterface) {
		return unitdriver.CategoryInterface
	}
	return unitdriver.CategoryAddon
}
