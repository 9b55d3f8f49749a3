package supervisor

import (
	"context"
	"fmt"

	"github.com/nodiinc/nodi-edge/internal/bus"
	"github.com/nodiinc/nodi-edge/internal/lifecycle"
	"github.com/nodiinc/nodi-edge/internal/store"
	"github.com/nodiinc/nodi-edge/internal/unitdriver"
)

const (
	cmdPattern        = "supervisor/_cmd/**"
	connAddedKey      = "system/supervisor/conn_added"
	connRemovedKey    = "system/supervisor/conn_removed"
)

// connect implements spec §4.5 CONNECT: subscribe to commands and
// connection events, load the service map, run the initial connection
// sync, and start every enabled service.
func (s *Supervisor) connect(ctx context.Context, session bus.Bus) lifecycle.Result {
	s.setSession(session)

	if err := session.Subscribe(ctx, []string{cmdPattern}, s.handleCommand); err != nil {
		return lifecycle.Recoverable(fmt.Errorf("supervisor: subscribe commands: %w", err))
	}
	if err := session.Subscribe(ctx, []string{connAddedKey, connRemovedKey}, s.handleConnectionEvent); err != nil {
		return lifecycle.Recoverable(fmt.Errorf("supervisor: subscribe connection events: %w", err))
	}

	if err := s.loadServiceMap(ctx); err != nil {
		return lifecycle.Recoverable(err)
	}

	if err := s.initialConnectionSync(ctx); err != nil {
		return lifecycle.Recoverable(err)
	}

	s.startEnabledServices(ctx)

	return lifecycle.OK()
}

// loadServiceMap populates the in-memory service map from the full
// app-registry table.
func (s *Supervisor) loadServiceMap(ctx context.Context) error {
	rows, err := s.db.ListAppRegistry(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: load app registry: %w", err)
	}

	s.servicesMu.Lock()
	defer s.servicesMu.Unlock()
	for _, row := range rows {
		s.services[row.AppID] = &ServiceEntry{
			AppID:        row.AppID,
			Category:     categoryFor(row),
			Module:       row.Module,
			ConnectionID: row.ConnectionID,
			Enabled:      row.Enabled,
		}
	}
	return nil
}

// initialConnectionSync materialises a registry row and unit for every
// enabled connection whose protocol maps to a known module, then issues
// one coalesced daemon-reload (spec §4.5 CONNECT step 4).
func (s *Supervisor) initialConnectionSync(ctx context.Context) error {
	conns, err := s.db.ListEnabledConnections(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: list enabled connections: %w", err)
	}

	wrote := false
	for _, c := range conns {
		module, ok := s.protocolModules[c.ProtocolCode]
		if !ok {
			s.logger.Warn("supervisor: no module for protocol, skipping connection", "connection_id", c.ConnectionID, "protocol", c.ProtocolCode)
			continue
		}

		s.servicesMu.Lock()
		_, exists := s.services[c.ConnectionID]
		s.servicesMu.Unlock()
		if exists {
			continue
		}

		connID := c.ConnectionID
		if err := s.db.UpsertAppRegistry(ctx, store.AppRegistryRow{
			AppID:        c.ConnectionID,
			Category:     string(unitdriver.CategoryInterface),
			Module:       module,
			Enabled:      true,
			ConnectionID: &connID,
		}); err != nil {
			return fmt.Errorf("supervisor: create registry row for %s: %w", c.ConnectionID, err)
		}
		if err := s.driver.CreateInterfaceUnit(c.ConnectionID, module, c.ConnectionID); err != nil {
			return fmt.Errorf("supervisor: create unit for %s: %w", c.ConnectionID, err)
		}

		s.servicesMu.Lock()
		s.services[c.ConnectionID] = &ServiceEntry{
			AppID:        c.ConnectionID,
			Category:     unitdriver.CategoryInterface,
			Module:       module,
			ConnectionID: &connID,
			Enabled:      true,
		}
		s.servicesMu.Unlock()
		wrote = true
	}

	if wrote {
		s.driver.DaemonReload(ctx)
	}
	return nil
}

// startEnabledServices creates (if missing) and starts every enabled
// service in the map, marking it active on success (spec §4.5 CONNECT
// step 5).
func (s *Supervisor) startEnabledServices(ctx context.Context) {
	s.servicesMu.Lock()
	entries := make([]*ServiceEntry, 0, len(s.services))
	for _, e := range s.services {
		if e.Enabled {
			entries = append(entries, e)
		}
	}
	s.servicesMu.Unlock()

	ready := make([]*ServiceEntry, 0, len(entries))
	created := false
	for _, e := range entries {
		connID := e.AppID
		if e.ConnectionID != nil {
			connID = *e.ConnectionID
		}
		var createErr error
		switch e.Category {
		case unitdriver.CategoryAddon:
			createErr = s.driver.CreateAddonUnit(e.AppID, e.Module)
		default:
			createErr = s.driver.CreateInterfaceUnit(e.AppID, e.Module, connID)
		}
		if createErr != nil {
			s.logger.Warn("supervisor: failed to materialize unit", "app_id", e.AppID, "error", createErr)
			continue
		}
		ready = append(ready, e)
		created = true
	}
	if created {
		s.driver.DaemonReload(ctx)
	}

	for _, e := range ready {
		if s.driver.Start(ctx, e.Category, e.AppID) {
			s.servicesMu.Lock()
			e.Active = true
			s.servicesMu.Unlock()
		} else {
			s.logger.Warn("supervisor: failed to start service", "app_id", e.AppID)
		}
	}
}
