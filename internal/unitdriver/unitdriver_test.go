package unitdriver

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestUnitPathNamingScheme(t *testing.T) {
	assert.Equal(t, "/etc/systemd/system/ne-interface-app-1.service", UnitPath(CategoryInterface, "app-1"))
	assert.Equal(t, "/etc/systemd/system/ne-addon-app-2.service", UnitPath(CategoryAddon, "app-2"))
}

func TestCreateInterfaceUnitRendersExecStartWithConnID(t *testing.T) {
	d := New(testLogger(), "sudo", "systemctl", "/usr/bin/python3")
	d.interpreter = "/usr/bin/python3"

	var buf bytes.Buffer
	err := interfaceTmpl.Execute(&buf, unitFields{
		AppID: "app-1", Module: "modbus_worker", ConnID: "conn-1", Interpreter: d.interpreter,
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ExecStart=/usr/bin/python3 -m modbus_worker --conn-id=conn-1")
	assert.Contains(t, buf.String(), "Restart=always")
}

func TestAddonUnitOmitsConnIDAndUsesOnFailureRestart(t *testing.T) {
	var buf bytes.Buffer
	err := addonTmpl.Execute(&buf, unitFields{
		AppID: "app-2", Module: "analytics", Interpreter: "/usr/bin/python3",
	})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ExecStart=/usr/bin/python3 -m analytics")
	assert.NotContains(t, buf.String(), "--conn-id")
	assert.Contains(t, buf.String(), "Restart=on-failure")
}

func TestRestartThrottleAllowsUpToBurstThenBlocks(t *testing.T) {
	rt := NewRestartThrottle(5, 300)
	for i := 0; i < 5; i++ {
		assert.True(t, rt.Allow("app-1"), "attempt %d should be allowed", i)
	}
	assert.False(t, rt.Allow("app-1"))
}

func TestRestartThrottleIsPerApp(t *testing.T) {
	rt := NewRestartThrottle(1, 300)
	assert.True(t, rt.Allow("app-1"))
	assert.True(t, rt.Allow("app-2"))
	assert.False(t, rt.Allow("app-1"))
}

func TestRestartThrottleResetRestoresBurst(t *testing.T) {
	rt := NewRestartThrottle(1, 300)
	assert.True(t, rt.Allow("app-1"))
	assert.False(t, rt.Allow("app-1"))
	rt.Reset("app-1")
	assert.True(t, rt.Allow("app-1"))
}
