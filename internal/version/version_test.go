package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stampCommit(t *testing.T, commit string) {
	t.Helper()
	prev := Commit
	Commit = commit
	t.Cleanup(func() { Commit = prev })
}

func TestGetDefaults(t *testing.T) {
	info := Get("")
	assert.Equal(t, Version, info.Version)
	assert.Equal(t, Commit, info.Commit)
	assert.Equal(t, Date, info.BuildDate)
	assert.NotEmpty(t, info.GoVersion)
	assert.Nil(t, info.NeedsRebuild)
}

func TestGetMatchingCommit(t *testing.T) {
	stampCommit(t, "abc1234")

	info := Get("abc1234")
	require.NotNil(t, info.NeedsRebuild)
	assert.False(t, *info.NeedsRebuild)
}

func TestGetShortHashMatchesFullHead(t *testing.T) {
	stampCommit(t, "abc1234")

	info := Get("abc1234900ddeadbeefcafe0123456789abcdef0")
	require.NotNil(t, info.NeedsRebuild)
	assert.False(t, *info.NeedsRebuild)
}

func TestGetDivergedCommit(t *testing.T) {
	stampCommit(t, "abc1234")

	info := Get("ffe9810")
	require.NotNil(t, info.NeedsRebuild)
	assert.True(t, *info.NeedsRebuild)
}

func TestGetUnknownBuildCommit(t *testing.T) {
	stampCommit(t, "unknown")

	info := Get("abc1234")
	require.NotNil(t, info.NeedsRebuild)
	assert.True(t, *info.NeedsRebuild)
}

func TestGetBlankExpectedAfterTrim(t *testing.T) {
	info := Get("   ")
	assert.Nil(t, info.NeedsRebuild)
}

func TestString(t *testing.T) {
	s := String()
	assert.Contains(t, s, "recalld ")
	assert.Contains(t, s, Version)
}
