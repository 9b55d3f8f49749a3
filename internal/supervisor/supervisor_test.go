package supervisor

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nodiinc/nodi-edge/internal/bus"
	"github.com/nodiinc/nodi-edge/internal/entitlement"
	"github.com/nodiinc/nodi-edge/internal/store"
	"github.com/nodiinc/nodi-edge/internal/unitdriver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver replaces unitdriver.Driver in tests: it never shells out,
// it just records what would have been invoked.
type fakeDriver struct {
	mu        sync.Mutex
	units     map[string]bool
	active    map[string]bool
	reloads   int
	failStart map[string]bool
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		units:     make(map[string]bool),
		active:    make(map[string]bool),
		failStart: make(map[string]bool),
	}
}

func (f *fakeDriver) CreateInterfaceUnit(appID, module, connID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units[appID] = true
	return nil
}

func (f *fakeDriver) CreateAddonUnit(appID, module string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.units[appID] = true
	return nil
}

func (f *fakeDriver) RemoveUnit(category unitdriver.Category, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.units, appID)
	return nil
}

func (f *fakeDriver) DaemonReload(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return true
}

func (f *fakeDriver) Start(ctx context.Context, category unitdriver.Category, appID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failStart[appID] {
		return false
	}
	f.active[appID] = true
	return true
}

func (f *fakeDriver) Stop(ctx context.Context, category unitdriver.Category, appID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[appID] = false
	return true
}

func (f *fakeDriver) Restart(ctx context.Context, category unitdriver.Category, appID string) bool {
	return f.Start(ctx, category, appID)
}

func (f *fakeDriver) IsActive(ctx context.Context, category unitdriver.Category, appID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[appID]
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// newTestSupervisor wires a fresh in-memory store, fake driver, and the
// Supervisor under test, past PREPARE and CONFIGURE.
func newTestSupervisor(t *testing.T, key *rsa.PrivateKey, addons map[string]string, protocols map[string]string) (*Supervisor, *fakeDriver) {
	t.Helper()
	driver := newFakeDriver()
	s := New(testLogger(), ":memory:", driver, &key.PublicKey, t.TempDir(),
		WithAddonModules(addons), WithProtocolModules(protocols))

	ctx := context.Background()
	require.True(t, s.prepare(ctx).IsOK())
	require.True(t, s.configure(ctx).IsOK())
	return s, driver
}

func TestConfigureSeedsDisabledAddonRows(t *testing.T) {
	key := testKey(t)
	s, _ := newTestSupervisor(t, key, map[string]string{"addon-1": "analytics"}, nil)

	row, err := s.db.GetAppRegistry(context.Background(), "addon-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.False(t, row.Enabled)
	assert.Equal(t, "analytics", row.Module)
}

func TestConfigureIsIdempotent(t *testing.T) {
	key := testKey(t)
	s, _ := newTestSupervisor(t, key, map[string]string{"addon-1": "analytics"}, nil)

	// Enable it, then re-run configure: it must not be reset to disabled.
	require.NoError(t, s.db.UpdateEntitlement(context.Background(), "addon-1", nil, nil, true))
	require.True(t, s.configure(context.Background()).IsOK())

	row, err := s.db.GetAppRegistry(context.Background(), "addon-1")
	require.NoError(t, err)
	assert.True(t, row.Enabled)
}

func TestInitialConnectionSyncCreatesUnitsAndStartsServices(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, nil, map[string]string{"modbus-tcp": "modbus_worker"})

	ctx := context.Background()
	require.NoError(t, s.db.UpsertConnection(ctx, store.Connection{
		ConnectionID: "conn-1", ProtocolCode: "modbus-tcp", UseFlag: true,
	}))

	require.NoError(t, s.loadServiceMap(ctx))
	require.NoError(t, s.initialConnectionSync(ctx))
	s.startEnabledServices(ctx)

	assert.True(t, driver.units["conn-1"])
	assert.True(t, driver.active["conn-1"])
	// one reload from initialConnectionSync's unit write, one more from
	// startEnabledServices re-materializing the unit per CONNECT step 5.
	assert.Equal(t, 2, driver.reloads)

	row, err := s.db.GetAppRegistry(ctx, "conn-1")
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "modbus_worker", row.Module)
}

func TestInitialConnectionSyncSkipsUnknownProtocol(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, nil, map[string]string{})

	ctx := context.Background()
	require.NoError(t, s.db.UpsertConnection(ctx, store.Connection{
		ConnectionID: "conn-1", ProtocolCode: "unknown-proto", UseFlag: true,
	}))

	require.NoError(t, s.initialConnectionSync(ctx))
	assert.False(t, driver.units["conn-1"])
	assert.Equal(t, 0, driver.reloads)
}

func signTestToken(t *testing.T, key *rsa.PrivateKey, appID string, expiry time.Duration) string {
	t.Helper()
	claims := &entitlement.Claims{
		AppID: appID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestActivateCreatesUnitAndUpdatesRegistry(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, map[string]string{"addon-1": "analytics"}, nil)

	token := signTestToken(t, key, "addon-1", time.Hour)
	require.NoError(t, s.Activate(context.Background(), "addon-1", token))

	assert.True(t, driver.units["addon-1"])
	assert.True(t, driver.active["addon-1"])

	row, err := s.db.GetAppRegistry(context.Background(), "addon-1")
	require.NoError(t, err)
	assert.True(t, row.Enabled)
	require.NotNil(t, row.Token)
}

func TestActivateRejectsSerialNumberMismatch(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, map[string]string{"addon-1": "analytics"}, nil)
	s.serialNumber = "SN-LOCAL-001"

	claims := &entitlement.Claims{
		AppID:        "addon-1",
		SerialNumber: "SN-OTHER-002",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	require.NoError(t, err)

	err = s.Activate(context.Background(), "addon-1", signed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SN-OTHER-002")
	assert.False(t, driver.units["addon-1"])
}

func TestDeactivateRemovesUnitAndClearsRegistry(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, map[string]string{"addon-1": "analytics"}, nil)

	token := signTestToken(t, key, "addon-1", time.Hour)
	require.NoError(t, s.Activate(context.Background(), "addon-1", token))
	require.NoError(t, s.Deactivate(context.Background(), "addon-1"))

	assert.False(t, driver.active["addon-1"])
	assert.False(t, driver.units["addon-1"])

	row, err := s.db.GetAppRegistry(context.Background(), "addon-1")
	require.NoError(t, err)
	assert.False(t, row.Enabled)
	assert.Nil(t, row.Token)
}

func TestEntitlementSweepDeactivatesExpiredAddon(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, map[string]string{"addon-1": "analytics"}, nil)

	token := signTestToken(t, key, "addon-1", time.Hour)
	require.NoError(t, s.Activate(context.Background(), "addon-1", token))

	past := time.Now().Add(-time.Hour).Unix()
	require.NoError(t, s.db.UpdateEntitlement(context.Background(), "addon-1", &token, &past, true))

	s.entitlementSweep(context.Background())

	assert.False(t, driver.active["addon-1"])
	row, err := s.db.GetAppRegistry(context.Background(), "addon-1")
	require.NoError(t, err)
	assert.False(t, row.Enabled)
}

func TestHealthcheckRestartsDeadServiceUnderBudget(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, nil, nil)

	s.services["app-1"] = &ServiceEntry{AppID: "app-1", Category: unitdriver.CategoryInterface, Enabled: true, Active: true}
	driver.active["app-1"] = false // dead

	s.healthcheck(context.Background())

	assert.True(t, driver.active["app-1"])
	assert.Equal(t, 1, s.services["app-1"].RestartCount)
}

func TestHealthcheckDecaysRestartCountOnHealthyService(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, nil, nil)

	s.services["app-1"] = &ServiceEntry{
		AppID:        "app-1",
		Category:     unitdriver.CategoryInterface,
		Enabled:      true,
		Active:       true,
		RestartCount: 3,
		LastRestart:  time.Now().Add(-restartResetWindow - time.Second),
	}
	driver.active["app-1"] = true // stayed healthy through the quiet window

	s.healthcheck(context.Background())

	assert.Equal(t, 0, s.services["app-1"].RestartCount)
}

func TestHealthcheckGivesUpAfterBudgetExhausted(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, nil, nil)

	s.services["app-1"] = &ServiceEntry{AppID: "app-1", Category: unitdriver.CategoryInterface, Enabled: true, Active: true, RestartCount: maxRestarts}
	driver.active["app-1"] = false

	s.healthcheck(context.Background())

	assert.False(t, s.services["app-1"].Active)
}

// memoryBus is a minimal bus.Bus double that records publishes, used to
// verify bus-facing side effects without the glob-matching machinery of
// internal/bus.Memory.
type memoryBus struct {
	mu        sync.Mutex
	published map[string]string
}

func newMemoryBus() *memoryBus { return &memoryBus{published: make(map[string]string)} }

func (b *memoryBus) Sync(ctx context.Context, patterns []string) error { return nil }
func (b *memoryBus) Subscribe(ctx context.Context, patterns []string, handler bus.Handler) error {
	return nil
}
func (b *memoryBus) Publish(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[key] = value
	return nil
}
func (b *memoryBus) Commit(ctx context.Context) error { return nil }
func (b *memoryBus) Close() error                     { return nil }

func TestOnListCommandPublishesServiceSnapshot(t *testing.T) {
	key := testKey(t)
	s, _ := newTestSupervisor(t, key, nil, nil)
	mb := newMemoryBus()
	s.setSession(mb)

	s.services["app-1"] = &ServiceEntry{AppID: "app-1", Enabled: true, Active: true}
	s.onListCommand(context.Background())

	mb.mu.Lock()
	payload, ok := mb.published["supervisor/_event/service_list"]
	mb.mu.Unlock()
	require.True(t, ok)

	var snapshot map[string]ServiceEntry
	require.NoError(t, json.Unmarshal([]byte(payload), &snapshot))
	assert.Contains(t, snapshot, "app-1")
}

func TestOnConnAddedCreatesAndStartsService(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, nil, map[string]string{"modbus-tcp": "modbus_worker"})
	ctx := context.Background()

	require.NoError(t, s.db.UpsertConnection(ctx, store.Connection{ConnectionID: "conn-1", ProtocolCode: "modbus-tcp", UseFlag: true}))
	s.onConnAdded(ctx, "conn-1")

	assert.True(t, driver.units["conn-1"])
	assert.True(t, driver.active["conn-1"])
	_, ok := s.services["conn-1"]
	assert.True(t, ok)
}

func TestOnConnRemovedStopsAndDeletesService(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, nil, map[string]string{"modbus-tcp": "modbus_worker"})
	ctx := context.Background()

	require.NoError(t, s.db.UpsertConnection(ctx, store.Connection{ConnectionID: "conn-1", ProtocolCode: "modbus-tcp", UseFlag: true}))
	s.onConnAdded(ctx, "conn-1")
	s.onConnRemoved(ctx, "conn-1")

	assert.False(t, driver.active["conn-1"])
	_, ok := s.services["conn-1"]
	assert.False(t, ok)

	row, err := s.db.GetAppRegistry(ctx, "conn-1")
	require.NoError(t, err)
	assert.Nil(t, row)
}
