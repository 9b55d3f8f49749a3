package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesSerialNumberAndExtras(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity")
	require.NoError(t, os.WriteFile(path, []byte(
		"# comment\nSERIAL_NUMBER=EDGE-001\nMODEL=nodi-gw-2\n\n"), 0o644))

	id, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "EDGE-001", id.SerialNumber)
	assert.Equal(t, "nodi-gw-2", id.Extra["MODEL"])
}

func TestLoadFailsWithoutSerialNumber(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "identity")
	require.NoError(t, os.WriteFile(path, []byte("MODEL=nodi-gw-2\n"), 0o644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrMissingSerialNumber)
}

func TestLoadFailsWhenFileMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
