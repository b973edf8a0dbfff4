package ingest

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/gitx"
	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// Strategy names how a delta was derived.
type Strategy string

const (
	// StrategyGit diffs the work tree against the commit recorded in
	// the state file.
	StrategyGit Strategy = "git"
	// StrategyHash diffs current content hashes against the recorded
	// ones. Used outside git or when the recorded commit is gone.
	StrategyHash Strategy = "hash_state"
	// StrategyFull reindexes everything.
	StrategyFull Strategy = "full"
)

// Delta is the work list for one ingestion run. Paths are relative to
// the walk root, restricted to files the walker accepted.
type Delta struct {
	Strategy Strategy
	Modified []string
	Deleted  []string
	Renamed  []gitx.Rename
}

// detectDelta picks the cheapest reliable change source. Forced runs
// and empty state reindex everything; a recorded commit enables a git
// diff; recorded hashes enable a content diff. Each source falls
// through to the next on failure.
func detectDelta(ctx context.Context, root string, st State, force bool, files []string, logger *logging.Logger) Delta {
	if force || st.Empty() {
		return Delta{Strategy: StrategyFull, Modified: files}
	}
	if st.LastCommit != "" {
		if d, ok := gitDelta(ctx, root, st.LastCommit, files, logger); ok {
			return d
		}
	}
	if len(st.Files) > 0 {
		return hashDelta(root, st, files)
	}
	return Delta{Strategy: StrategyFull, Modified: files}
}

// gitDelta diffs the repository against the recorded commit. Returns
// ok=false when the diff cannot be trusted, letting detection fall back
// to hashes.
func gitDelta(ctx context.Context, root, since string, files []string, logger *logging.Logger) (Delta, bool) {
	gitRoot := gitx.RepoRoot(root)
	if gitRoot == "" {
		return Delta{}, false
	}
	repo, err := gitx.Open(gitRoot)
	if err != nil {
		return Delta{}, false
	}

	cs, err := repo.ChangedSince(ctx, since)
	if err != nil {
		logger.Warn(ctx, "git delta unavailable, falling back",
			zap.String("since", since),
			zap.Error(err))
		return Delta{}, false
	}
	untracked, err := repo.Untracked(ctx)
	if err != nil {
		logger.Warn(ctx, "untracked file listing failed", zap.Error(err))
	}
	dirty, dirtyDeleted, err := repo.WorktreeChanges(ctx)
	if err != nil {
		logger.Warn(ctx, "worktree status failed", zap.Error(err))
	}

	walked := make(map[string]bool, len(files))
	for _, f := range files {
		walked[f] = true
	}

	d := Delta{Strategy: StrategyGit}
	seen := map[string]bool{}
	addModified := func(repoRel string) {
		rel, ok := translatePath(gitRoot, root, repoRel)
		if ok && walked[rel] && !seen[rel] {
			seen[rel] = true
			d.Modified = append(d.Modified, rel)
		}
	}
	seenDeleted := map[string]bool{}
	addDeleted := func(repoRel string) {
		rel, ok := translatePath(gitRoot, root, repoRel)
		if ok && !seenDeleted[rel] {
			seenDeleted[rel] = true
			d.Deleted = append(d.Deleted, rel)
		}
	}
	for _, p := range cs.Modified {
		addModified(p)
	}
	for _, p := range untracked {
		addModified(p)
	}
	for _, p := range dirty {
		addModified(p)
	}
	for _, p := range cs.Deleted {
		addDeleted(p)
	}
	for _, p := range dirtyDeleted {
		addDeleted(p)
	}
	for _, rn := range cs.Renamed {
		from, okFrom := translatePath(gitRoot, root, rn.From)
		to, okTo := translatePath(gitRoot, root, rn.To)
		if okFrom && okTo {
			d.Renamed = append(d.Renamed, gitx.Rename{From: from, To: to})
			// The old path's documents become garbage.
			if !seenDeleted[from] {
				seenDeleted[from] = true
				d.Deleted = append(d.Deleted, from)
			}
		}
	}
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	return d, true
}

// hashDelta compares current content hashes against the recorded ones.
// Unreadable files count as modified so the per-file phase surfaces the
// error.
func hashDelta(root string, st State, files []string) Delta {
	d := Delta{Strategy: StrategyHash}
	walked := make(map[string]bool, len(files))
	for _, f := range files {
		walked[f] = true
		prev, ok := st.Files[f]
		if !ok {
			d.Modified = append(d.Modified, f)
			continue
		}
		hash, err := HashFile(filepath.Join(root, f))
		if err != nil || hash != prev {
			d.Modified = append(d.Modified, f)
		}
	}
	for f := range st.Files {
		if !walked[f] {
			d.Deleted = append(d.Deleted, f)
		}
	}
	sort.Strings(d.Deleted)
	return d
}

// translatePath converts a repo-root-relative path to a walk-root-
// relative one. The walk root may be a subdirectory of the repository;
// paths outside it do not translate.
func translatePath(gitRoot, walkRoot, repoRel string) (string, bool) {
	if gitRoot == walkRoot {
		return repoRel, true
	}
	abs := filepath.Join(gitRoot, filepath.FromSlash(repoRel))
	rel, err := filepath.Rel(walkRoot, abs)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
