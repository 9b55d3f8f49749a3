package supervisor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStatusListsServicesSortedByAppID(t *testing.T) {
	key := testKey(t)
	s, _ := newTestSupervisor(t, key, map[string]string{"addon-b": "analytics", "addon-a": "telemetry"}, nil)
	// CONFIGURE seeded both addon rows; CONNECT loads them into the map.
	require.NoError(t, s.loadServiceMap(context.Background()))

	token := signTestToken(t, key, "addon-a", time.Hour)
	require.NoError(t, s.Activate(context.Background(), "addon-a", token))

	out := s.RenderStatus()
	idxA := strings.Index(out, "addon-a")
	idxB := strings.Index(out, "addon-b")
	require.NotEqual(t, -1, idxA)
	require.NotEqual(t, -1, idxB)
	assert.Less(t, idxA, idxB)
}

func TestRenderStatusEmptyServiceMap(t *testing.T) {
	key := testKey(t)
	s, _ := newTestSupervisor(t, key, nil, nil)
	assert.Contains(t, s.RenderStatus(), "no services registered")
}

func TestRenderRegistryStatusReflectsDriverState(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, map[string]string{"addon-1": "analytics"}, nil)

	token := signTestToken(t, key, "addon-1", time.Hour)
	require.NoError(t, s.Activate(context.Background(), "addon-1", token))
	driver.active["addon-1"] = true

	out, err := RenderRegistryStatus(context.Background(), s.db, driver)
	require.NoError(t, err)
	assert.Contains(t, out, "addon-1")
	assert.Contains(t, out, "analytics")
}

func TestRenderRegistryStatusEmpty(t *testing.T) {
	key := testKey(t)
	s, driver := newTestSupervisor(t, key, nil, nil)

	out, err := RenderRegistryStatus(context.Background(), s.db, driver)
	require.NoError(t, err)
	assert.Contains(t, out, "no services registered")
}
