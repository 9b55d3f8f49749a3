package worker

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/nodiinc/nodi-edge/internal/lifecycle"
	"github.com/nodiinc/nodi-edge/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func newTestApp(t *testing.T, hooks ProtocolHooks) *InterfaceApp {
	t.Helper()
	app, err := New("worker-1", "modbus-tcp", ":memory:", testLogger(), hooks, []string{"--conn-id", "conn-1"})
	require.NoError(t, err)
	return app
}

func TestNewRequiresConnID(t *testing.T) {
	_, err := New("worker-1", "modbus-tcp", ":memory:", testLogger(), ProtocolHooks{}, []string{})
	assert.Error(t, err)
}

func TestNewParsesConnID(t *testing.T) {
	app := newTestApp(t, ProtocolHooks{})
	assert.Equal(t, "conn-1", app.ConnID)
}

func TestPrepareOpensStoreAndRunsHook(t *testing.T) {
	called := false
	app := newTestApp(t, ProtocolHooks{
		OnPrepare: func(ctx context.Context) lifecycle.Result {
			called = true
			return lifecycle.OK()
		},
	})

	res := app.prepare(context.Background())
	assert.True(t, res.IsOK())
	assert.True(t, called)
	assert.NotNil(t, app.db)
}

func TestConfigureLoadsConnectionAndInvokesHook(t *testing.T) {
	var seenHost string
	app := newTestApp(t, ProtocolHooks{
		OnConfigure: func(ctx context.Context, conn store.Connection, blocks []store.Block) lifecycle.Result {
			seenHost = conn.Host
			return lifecycle.OK()
		},
	})
	require.True(t, app.prepare(context.Background()).IsOK())

	require.NoError(t, app.db.UpsertConnection(context.Background(), store.Connection{
		ConnectionID: "conn-1", ProtocolCode: "modbus-tcp", Host: "10.0.0.9", Port: 502,
	}))

	res := app.configure(context.Background())
	assert.True(t, res.IsOK())
	assert.Equal(t, "10.0.0.9", seenHost)
	assert.Equal(t, "10.0.0.9", app.lastTuple.Host)
}

func TestConfigureDecodesPropertiesWithoutFailingOnInvalidTOML(t *testing.T) {
	app := newTestApp(t, ProtocolHooks{})
	require.True(t, app.prepare(context.Background()).IsOK())
	require.NoError(t, app.db.UpsertConnection(context.Background(), store.Connection{
		ConnectionID: "conn-1", ProtocolCode: "modbus-tcp", Host: "10.0.0.9", Port: 502,
		PropertiesBlob: "not = [valid",
	}))

	res := app.configure(context.Background())
	assert.True(t, res.IsOK())
}

func TestConfigureFatalWhenConnectionMissing(t *testing.T) {
	app := newTestApp(t, ProtocolHooks{})
	require.True(t, app.prepare(context.Background()).IsOK())

	res := app.configure(context.Background())
	assert.True(t, res.IsFatal())
}

func TestOnConfigReloadTriggersReconfigureWhenHotReloadOnly(t *testing.T) {
	app := newTestApp(t, ProtocolHooks{})
	require.True(t, app.prepare(context.Background()).IsOK())
	require.NoError(t, app.db.UpsertConnection(context.Background(), store.Connection{
		ConnectionID: "conn-1", ProtocolCode: "modbus-tcp", Host: "10.0.0.9", Port: 502,
	}))
	require.True(t, app.configure(context.Background()).IsOK())

	called := false
	app.BindReconfigure(func() { called = true })

	app.onConfigReload(app.configReloadKey(), "")
	assert.True(t, called)
}

func TestConfigReloadKeyFormat(t *testing.T) {
	app := newTestApp(t, ProtocolHooks{})
	assert.Equal(t, "system/conn-1/config_reload", app.configReloadKey())
}

func TestTupleOfExtractsConnectionLevelFields(t *testing.T) {
	c := store.Connection{Host: "h", Port: 1, TimeoutSeconds: 2, RetryCount: 3, ProtocolCode: "x"}
	tup := tupleOf(c)
	assert.Equal(t, connTuple{Host: "h", Port: 1, TimeoutSeconds: 2, RetryCount: 3}, tup)
}
