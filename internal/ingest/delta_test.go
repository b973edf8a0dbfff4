package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/logging"
)

func initGitRepo(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir, repo
}

func gitCommitAll(t *testing.T, repo *git.Repository, msg string) string {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.AddWithOptions(&git.AddOptions{All: true}))
	hash, err := wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func TestDetectDeltaForceFull(t *testing.T) {
	st := NewState()
	st.Files["a.py"] = "hash"

	d := detectDelta(context.Background(), t.TempDir(), st, true, []string{"a.py", "b.py"}, logging.NewNop())
	assert.Equal(t, StrategyFull, d.Strategy)
	assert.Equal(t, []string{"a.py", "b.py"}, d.Modified)
	assert.Empty(t, d.Deleted)
}

func TestDetectDeltaEmptyState(t *testing.T) {
	d := detectDelta(context.Background(), t.TempDir(), NewState(), false, []string{"a.py"}, logging.NewNop())
	assert.Equal(t, StrategyFull, d.Strategy)
	assert.Equal(t, []string{"a.py"}, d.Modified)
}

func TestDetectDeltaHashState(t *testing.T) {
	root := t.TempDir()
	writeTreeFile(t, root, "unchanged.py", "a = 1\n")
	writeTreeFile(t, root, "changed.py", "b = 2\n")
	writeTreeFile(t, root, "added.py", "c = 3\n")

	st := NewState()
	st.Files["unchanged.py"] = HashBytes([]byte("a = 1\n"))
	st.Files["changed.py"] = HashBytes([]byte("old content\n"))
	st.Files["gone.py"] = HashBytes([]byte("was here\n"))

	files := []string{"added.py", "changed.py", "unchanged.py"}
	d := detectDelta(context.Background(), root, st, false, files, logging.NewNop())

	assert.Equal(t, StrategyHash, d.Strategy)
	assert.Equal(t, []string{"added.py", "changed.py"}, d.Modified)
	assert.Equal(t, []string{"gone.py"}, d.Deleted)
}

func TestDetectDeltaGit(t *testing.T) {
	dir, repo := initGitRepo(t)
	writeTreeFile(t, dir, "a.py", "a = 1\n")
	writeTreeFile(t, dir, "b.py", "b = 2\n")
	writeTreeFile(t, dir, "c.py", "c = 3\n")
	first := gitCommitAll(t, repo, "initial")

	writeTreeFile(t, dir, "a.py", "a = 100\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "b.py")))
	gitCommitAll(t, repo, "second")

	// Uncommitted edit and a brand new untracked file.
	writeTreeFile(t, dir, "c.py", "c = 300\n")
	writeTreeFile(t, dir, "new.py", "n = 1\n")

	st := NewState()
	st.LastCommit = first
	st.Files["a.py"] = "x"
	st.Files["b.py"] = "x"
	st.Files["c.py"] = "x"

	files := []string{"a.py", "c.py", "new.py"}
	d := detectDelta(context.Background(), dir, st, false, files, logging.NewNop())

	assert.Equal(t, StrategyGit, d.Strategy)
	assert.Equal(t, []string{"a.py", "c.py", "new.py"}, d.Modified)
	assert.Equal(t, []string{"b.py"}, d.Deleted)
}

func TestDetectDeltaGitUnknownCommitFallsBack(t *testing.T) {
	dir, repo := initGitRepo(t)
	writeTreeFile(t, dir, "a.py", "a = 1\n")
	gitCommitAll(t, repo, "initial")

	st := NewState()
	st.LastCommit = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	st.Files["a.py"] = HashBytes([]byte("a = 1\n"))

	d := detectDelta(context.Background(), dir, st, false, []string{"a.py"}, logging.NewNop())

	assert.Equal(t, StrategyHash, d.Strategy)
	assert.Empty(t, d.Modified)
	assert.Empty(t, d.Deleted)
}

func TestDetectDeltaGitRename(t *testing.T) {
	dir, repo := initGitRepo(t)
	content := "package handlers\n\nfunc Serve() {}\n\n// enough body for rename similarity detection\nvar sentinel = 42\n"
	writeTreeFile(t, dir, "old_name.go", content)
	first := gitCommitAll(t, repo, "initial")

	require.NoError(t, os.Remove(filepath.Join(dir, "old_name.go")))
	writeTreeFile(t, dir, "new_name.go", content)
	gitCommitAll(t, repo, "rename")

	st := NewState()
	st.LastCommit = first
	st.Files["old_name.go"] = "x"

	d := detectDelta(context.Background(), dir, st, false, []string{"new_name.go"}, logging.NewNop())

	assert.Equal(t, StrategyGit, d.Strategy)
	assert.Equal(t, []string{"new_name.go"}, d.Modified)
	assert.Contains(t, d.Deleted, "old_name.go")
	require.Len(t, d.Renamed, 1)
	assert.Equal(t, "old_name.go", d.Renamed[0].From)
	assert.Equal(t, "new_name.go", d.Renamed[0].To)
}

func TestTranslatePath(t *testing.T) {
	gitRoot := filepath.Join("/repo")
	sub := filepath.Join("/repo", "services", "api")

	rel, ok := translatePath(gitRoot, gitRoot, "pkg/file.py")
	assert.True(t, ok)
	assert.Equal(t, "pkg/file.py", rel)

	rel, ok = translatePath(gitRoot, sub, "services/api/handlers.py")
	assert.True(t, ok)
	assert.Equal(t, "handlers.py", rel)

	_, ok = translatePath(gitRoot, sub, "docs/readme.md")
	assert.False(t, ok)
}
