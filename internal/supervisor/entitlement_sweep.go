package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/nodiinc/nodi-edge/internal/lifecycle"
	"github.com/nodiinc/nodi-edge/internal/unitdriver"
)

// execute implements spec §4.5 EXECUTE: run the entitlement sweep once
// the interval has elapsed.
func (s *Supervisor) execute(ctx context.Context) lifecycle.Result {
	if time.Since(s.lastEntitlementCheck) >= entitlementInterval {
		s.entitlementSweep(ctx)
		s.lastEntitlementCheck = time.Now()
	}
	return lifecycle.OK()
}

// entitlementSweep deactivates any enabled addon whose token has expired
// (spec §4.5.2).
func (s *Supervisor) entitlementSweep(ctx context.Context) {
	rows, err := s.db.ListAppRegistry(ctx)
	if err != nil {
		s.logger.Error("supervisor: entitlement sweep: list registry failed", "error", err)
		return
	}

	now := time.Now().Unix()
	for _, row := range rows {
		if row.Category != string(unitdriver.CategoryAddon) || !row.Enabled || row.ExpiresAt == nil {
			continue
		}
		if *row.ExpiresAt <= now {
			if err := s.Deactivate(ctx, row.AppID); err != nil {
				s.logger.Error("supervisor: entitlement sweep: deactivate failed", "app_id", row.AppID, "error", err)
			}
		}
	}
}

// Activate runs the full spec §4.5.2 activation flow for an addon.
func (s *Supervisor) Activate(ctx context.Context, appID, token string) error {
	claims, module, err := s.entitlement.Activate(appID, token)
	if err != nil {
		return err
	}
	if s.serialNumber != "" && claims.SerialNumber != s.serialNumber {
		return fmt.Errorf("supervisor: activate: token issued for serial %q, this machine is %q", claims.SerialNumber, s.serialNumber)
	}

	expiresAt := claims.ExpiresAt.Unix()
	if err := s.db.UpdateEntitlement(ctx, appID, &token, &expiresAt, true); err != nil {
		return err
	}

	if err := s.driver.CreateAddonUnit(appID, module); err != nil {
		return err
	}
	s.driver.DaemonReload(ctx)
	s.driver.Start(ctx, unitdriver.CategoryAddon, appID)

	s.servicesMu.Lock()
	entry, ok := s.services[appID]
	if !ok {
		entry = &ServiceEntry{AppID: appID, Category: unitdriver.CategoryAddon, Module: module}
		s.services[appID] = entry
	}
	entry.Enabled = true
	entry.Active = true
	s.servicesMu.Unlock()

	if session := s.getSession(); session != nil {
		_ = session.Publish(ctx, "supervisor/_event/addon_activated", appID)
		_ = session.Commit(ctx)
	}
	return nil
}

// Deactivate runs the spec §4.5.2 deactivation flow for an addon.
func (s *Supervisor) Deactivate(ctx context.Context, appID string) error {
	s.driver.Stop(ctx, unitdriver.CategoryAddon, appID)
	if err := s.driver.RemoveUnit(unitdriver.CategoryAddon, appID); err != nil {
		s.logger.Warn("supervisor: deactivate: remove unit failed", "app_id", appID, "error", err)
	}
	s.driver.DaemonReload(ctx)

	if err := s.db.UpdateEntitlement(ctx, appID, nil, nil, false); err != nil {
		return err
	}
	if err := s.entitlement.PurgeToken(appID); err != nil {
		s.logger.Warn("supervisor: deactivate: purge token cache failed", "app_id", appID, "error", err)
	}

	s.servicesMu.Lock()
	if entry, ok := s.services[appID]; ok {
		entry.Enabled = false
		entry.Active = false
	}
	s.servicesMu.Unlock()

	if session := s.getSession(); session != nil {
		_ = session.Publish(ctx, "supervisor/_event/addon_deactivated", appID)
		_ = session.Commit(ctx)
	}
	return nil
}
