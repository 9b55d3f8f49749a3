package supervisor

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gofrs/uuid/v5"

	"github.com/nodiinc/nodi-edge/internal/store"
	"github.com/nodiinc/nodi-edge/internal/unitdriver"
)

type activatePayload struct {
	AppID string `json:"app-id"`
	Token string `json:"token"`
}

type appIDPayload struct {
	AppID string `json:"app-id"`
}

type commandResult struct {
	RequestID string `json:"request-id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// newRequestID tags one command's reply so concurrent activate/deactivate
// calls for different app-ids can be told apart in logs and bus traffic.
func newRequestID() string {
	return uuid.Must(uuid.NewV6()).String()
}

// handleCommand dispatches one supervisor/_cmd/<verb> message (spec
// §4.5.3). It is invoked on a bus-internal goroutine.
func (s *Supervisor) handleCommand(key, value string) {
	verb := strings.TrimPrefix(key, "supervisor/_cmd/")
	ctx := context.Background()

	switch verb {
	case "activate":
		s.onActivateCommand(ctx, value)
	case "deactivate":
		s.onDeactivateCommand(ctx, value)
	case "restart":
		s.onRestartCommand(ctx, value)
	case "list":
		s.onListCommand(ctx)
	default:
		s.logger.Warn("supervisor: unrecognized command verb", "verb", verb)
	}
}

func (s *Supervisor) onActivateCommand(ctx context.Context, payload string) {
	var req activatePayload
	result := commandResult{RequestID: newRequestID(), OK: true}
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		result.OK, result.Error = false, "invalid payload"
	} else if err := s.Activate(ctx, req.AppID, req.Token); err != nil {
		result.OK, result.Error = false, err.Error()
	}
	s.publishJSON(ctx, "supervisor/_event/activate_result", result)
}

func (s *Supervisor) onDeactivateCommand(ctx context.Context, payload string) {
	var req appIDPayload
	result := commandResult{RequestID: newRequestID(), OK: true}
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		result.OK, result.Error = false, "invalid payload"
	} else if err := s.Deactivate(ctx, req.AppID); err != nil {
		result.OK, result.Error = false, err.Error()
	}
	s.publishJSON(ctx, "supervisor/_event/deactivate_result", result)
}

func (s *Supervisor) onRestartCommand(ctx context.Context, payload string) {
	var req appIDPayload
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		s.logger.Warn("supervisor: restart command: invalid payload", "error", err)
		return
	}

	s.servicesMu.Lock()
	entry, ok := s.services[req.AppID]
	s.servicesMu.Unlock()
	if !ok {
		s.logger.Warn("supervisor: restart command: unknown app", "app_id", req.AppID)
		return
	}

	s.driver.Stop(ctx, entry.Category, entry.AppID)
	if s.driver.Start(ctx, entry.Category, entry.AppID) {
		s.servicesMu.Lock()
		entry.Active = true
		s.servicesMu.Unlock()
	}
}

func (s *Supervisor) onListCommand(ctx context.Context) {
	s.servicesMu.Lock()
	snapshot := make(map[string]ServiceEntry, len(s.services))
	for id, e := range s.services {
		snapshot[id] = *e
	}
	s.servicesMu.Unlock()

	s.publishJSON(ctx, "supervisor/_event/service_list", snapshot)
}

func (s *Supervisor) publishJSON(ctx context.Context, key string, v interface{}) {
	session := s.getSession()
	if session == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("supervisor: marshal event payload failed", "key", key, "error", err)
		return
	}
	_ = session.Publish(ctx, key, string(data))
	_ = session.Commit(ctx)
}

// handleConnectionEvent implements spec §4.5.4: conn_added / conn_removed.
func (s *Supervisor) handleConnectionEvent(key, value string) {
	ctx := context.Background()
	switch key {
	case connAddedKey:
		s.onConnAdded(ctx, value)
	case connRemovedKey:
		s.onConnRemoved(ctx, value)
	}
}

func (s *Supervisor) onConnAdded(ctx context.Context, connectionID string) {
	conn, err := s.db.GetConnection(ctx, connectionID)
	if err != nil {
		s.logger.Warn("supervisor: conn_added: lookup failed, dropping", "connection_id", connectionID, "error", err)
		return
	}

	module, ok := s.protocolModules[conn.ProtocolCode]
	if !ok {
		s.logger.Warn("supervisor: conn_added: no module for protocol, dropping", "connection_id", connectionID, "protocol", conn.ProtocolCode)
		return
	}

	connID := connectionID
	if err := s.db.UpsertAppRegistry(ctx, store.AppRegistryRow{
		AppID:        connectionID,
		Category:     string(unitdriver.CategoryInterface),
		Module:       module,
		Enabled:      true,
		ConnectionID: &connID,
	}); err != nil {
		s.logger.Error("supervisor: conn_added: create registry row failed", "connection_id", connectionID, "error", err)
		return
	}
	if err := s.driver.CreateInterfaceUnit(connectionID, module, connectionID); err != nil {
		s.logger.Error("supervisor: conn_added: create unit failed", "connection_id", connectionID, "error", err)
		return
	}
	s.driver.DaemonReload(ctx)

	entry := &ServiceEntry{AppID: connectionID, Category: unitdriver.CategoryInterface, Module: module, ConnectionID: &connID, Enabled: true}
	if s.driver.Start(ctx, unitdriver.CategoryInterface, connectionID) {
		entry.Active = true
	}

	s.servicesMu.Lock()
	s.services[connectionID] = entry
	s.servicesMu.Unlock()
}

func (s *Supervisor) onConnRemoved(ctx context.Context, connectionID string) {
	s.driver.Stop(ctx, unitdriver.CategoryInterface, connectionID)
	if err := s.driver.RemoveUnit(unitdriver.CategoryInterface, connectionID); err != nil {
		s.logger.Warn("supervisor: conn_removed: remove unit failed", "connection_id", connectionID, "error", err)
	}
	s.driver.DaemonReload(ctx)
	if err := s.db.DeleteAppRegistry(ctx, connectionID); err != nil {
		s.logger.Warn("supervisor: conn_removed: delete registry row failed", "connection_id", connectionID, "error", err)
	}

	s.servicesMu.Lock()
	delete(s.services, connectionID)
	s.servicesMu.Unlock()
}
