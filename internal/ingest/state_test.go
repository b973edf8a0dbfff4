package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRoundTrip(t *testing.T) {
	dataDir := t.TempDir()

	st := NewState()
	st.LastCommit = "abc123"
	st.Files["src/main.py"] = "deadbeef"
	st.Files["README.md"] = "cafebabe"

	require.NoError(t, SaveState(dataDir, "demo", "main", st))

	loaded, err := LoadState(dataDir, "demo", "main")
	require.NoError(t, err)
	assert.Equal(t, "abc123", loaded.LastCommit)
	assert.Equal(t, st.Files, loaded.Files)
	assert.NotEmpty(t, loaded.UpdatedAt)
	assert.False(t, loaded.Empty())
}

func TestLoadStateMissing(t *testing.T) {
	st, err := LoadState(t.TempDir(), "demo", "main")
	require.NoError(t, err)
	assert.True(t, st.Empty())
	assert.NotNil(t, st.Files, "missing state must still be usable as a map")
}

func TestLoadStateCorrupt(t *testing.T) {
	dataDir := t.TempDir()
	path := statePath(dataDir, "demo", "main")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadState(dataDir, "demo", "main")
	assert.Error(t, err)
}

func TestStatePathSanitizesBranch(t *testing.T) {
	got := statePath("/data", "billing", "feature/login")
	assert.Equal(t, filepath.Join("/data", "state", "billing", "feature_login.json"), got)

	assert.Equal(t, "_", sanitizeName(""))
	assert.Equal(t, "v1.2-rc_3", sanitizeName("v1.2-rc_3"))
	assert.Equal(t, "a_b_c", sanitizeName("a/b:c"))
}

func TestStatePerBranchIsolation(t *testing.T) {
	dataDir := t.TempDir()

	main := NewState()
	main.Files["a.go"] = "hash-main"
	require.NoError(t, SaveState(dataDir, "demo", "main", main))

	dev := NewState()
	dev.Files["a.go"] = "hash-dev"
	require.NoError(t, SaveState(dataDir, "demo", "dev", dev))

	gotMain, err := LoadState(dataDir, "demo", "main")
	require.NoError(t, err)
	gotDev, err := LoadState(dataDir, "demo", "dev")
	require.NoError(t, err)

	assert.Equal(t, "hash-main", gotMain.Files["a.go"])
	assert.Equal(t, "hash-dev", gotDev.Files["a.go"])
}
