package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeAllowlist drops a .gitleaks.toml with the given body into dir.
func writeAllowlist(t *testing.T, dir, body string) {
	t.Helper()
	path := filepath.Join(dir, ".gitleaks.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestLoadAllowlistsMissingFiles(t *testing.T) {
	merged, err := LoadAllowlists(t.TempDir(), filepath.Join(t.TempDir(), "allowlist.toml"))
	require.NoError(t, err)
	assert.Empty(t, merged.Paths)
	assert.Empty(t, merged.Regexes)
}

func TestLoadAllowlistsEmptyArgs(t *testing.T) {
	merged, err := LoadAllowlists("", "")
	require.NoError(t, err)
	assert.Empty(t, merged.Paths)
	assert.Empty(t, merged.Regexes)
}

func TestLoadAllowlistsProjectOnly(t *testing.T) {
	dir := t.TempDir()
	writeAllowlist(t, dir, `
[allowlist]
paths = ['testdata/.*']
regexes = ['EXAMPLE_KEY_[0-9]+']
`)

	merged, err := LoadAllowlists(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{`testdata/.*`}, merged.Paths)
	assert.Equal(t, []string{`EXAMPLE_KEY_[0-9]+`}, merged.Regexes)
}

func TestLoadAllowlistsUnion(t *testing.T) {
	projectDir := t.TempDir()
	writeAllowlist(t, projectDir, `
[allowlist]
paths = ['fixtures/.*']
regexes = ['PROJECT_PLACEHOLDER']
`)

	userFile := filepath.Join(t.TempDir(), "allowlist.toml")
	require.NoError(t, os.WriteFile(userFile, []byte(`
[allowlist]
regexes = ['USER_PLACEHOLDER']
`), 0o644))

	merged, err := LoadAllowlists(projectDir, userFile)
	require.NoError(t, err)
	assert.Equal(t, []string{`fixtures/.*`}, merged.Paths)
	assert.ElementsMatch(t, []string{"PROJECT_PLACEHOLDER", "USER_PLACEHOLDER"}, merged.Regexes)
}

func TestLoadAllowlistsInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	writeAllowlist(t, dir, `this is not toml [`)

	_, err := LoadAllowlists(dir, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTOML)
}

func TestLoadAllowlistsInvalidRegex(t *testing.T) {
	dir := t.TempDir()
	writeAllowlist(t, dir, `
[allowlist]
regexes = ['(unclosed']
`)

	_, err := LoadAllowlists(dir, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestAllowsPath(t *testing.T) {
	a := &Allowlist{Paths: []string{`\.env$`, `vendor/.*`}}

	assert.True(t, a.AllowsPath("config/.env"))
	assert.True(t, a.AllowsPath("vendor/lib/a.go"))
	assert.False(t, a.AllowsPath("src/main.go"))

	var nilAllow *Allowlist
	assert.False(t, nilAllow.AllowsPath("anything"))
}
