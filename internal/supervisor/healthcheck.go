package supervisor

import (
	"context"
	"strconv"
	"time"
)

// manage implements spec §4.5 MANAGE: healthcheck, then publish
// meta-status.
func (s *Supervisor) manage(ctx context.Context) error {
	s.healthcheck(ctx)
	s.publishStatus(ctx)
	return nil
}

// healthcheck implements spec §4.5.1. For each enabled+active service,
// probe liveness; on death, restart under the burst throttle, else leave
// it dead with active=false.
func (s *Supervisor) healthcheck(ctx context.Context) {
	s.servicesMu.Lock()
	entries := make([]*ServiceEntry, 0, len(s.services))
	for _, e := range s.services {
		if e.Enabled && e.Active {
			entries = append(entries, e)
		}
	}
	s.servicesMu.Unlock()

	for _, e := range entries {
		s.servicesMu.Lock()
		if !e.LastRestart.IsZero() && time.Since(e.LastRestart) > restartResetWindow {
			e.RestartCount = 0
			s.throttle.Reset(e.AppID)
		}
		restartCount := e.RestartCount
		s.servicesMu.Unlock()

		if s.driver.IsActive(ctx, e.Category, e.AppID) {
			continue
		}

		if restartCount >= maxRestarts || !s.throttle.Allow(e.AppID) {
			s.logger.Error("supervisor: service dead and restart budget exhausted", "app_id", e.AppID)
			s.servicesMu.Lock()
			e.Active = false
			s.servicesMu.Unlock()
			continue
		}

		if s.driver.Start(ctx, e.Category, e.AppID) {
			s.servicesMu.Lock()
			e.RestartCount++
			e.LastRestart = time.Now()
			s.servicesMu.Unlock()
		} else {
			s.servicesMu.Lock()
			e.Active = false
			s.servicesMu.Unlock()
		}
	}
}

// publishStatus publishes supervisor/_meta/service_count and
// supervisor/_meta/active_count. No other _meta keys (state, services,
// exception_count) are published.
func (s *Supervisor) publishStatus(ctx context.Context) {
	session := s.getSession()
	if session == nil {
		return
	}

	s.servicesMu.Lock()
	serviceCount := len(s.services)
	activeCount := 0
	for _, e := range s.services {
		if e.Active {
			activeCount++
		}
	}
	s.servicesMu.Unlock()

	_ = session.Publish(ctx, "supervisor/_meta/service_count", strconv.Itoa(serviceCount))
	_ = session.Publish(ctx, "supervisor/_meta/active_count", strconv.Itoa(activeCount))
	_ = session.Commit(ctx)
}
