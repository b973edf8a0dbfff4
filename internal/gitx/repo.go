// Package gitx answers the git questions ingestion and search ask:
// which branch is checked out, what is HEAD, and what changed since a
// recorded commit. All worktree access is bounded by a 30s timeout so
// a pathological repository cannot stall a request.
package gitx

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// UnknownBranch is the sentinel recorded when no branch can be
// determined: detached HEAD, unborn branch, or no repository at all.
const UnknownBranch = "unknown"

// opTimeout bounds worktree and tree-diff operations.
const opTimeout = 30 * time.Second

var (
	// ErrNotRepository indicates the path is not a git repository.
	ErrNotRepository = errors.New("not a git repository")

	// ErrUnknownCommit indicates a recorded commit no longer resolves,
	// usually after a rebase or history rewrite.
	ErrUnknownCommit = errors.New("unknown commit")
)

// Rename is a detected rename between two commits.
type Rename struct {
	From string
	To   string
}

// ChangeSet classifies paths changed since a commit. Paths are relative
// to the repository root and sorted.
type ChangeSet struct {
	// Modified holds added, modified, and type-changed paths, plus the
	// new side of every rename.
	Modified []string
	// Deleted holds removed paths.
	Deleted []string
	// Renamed pairs old paths with new ones. The old side needs
	// garbage collection; the new side appears in Modified.
	Renamed []Rename
}

// Empty reports whether the change set contains no work.
func (c ChangeSet) Empty() bool {
	return len(c.Modified) == 0 && len(c.Deleted) == 0 && len(c.Renamed) == 0
}

// Repo wraps an opened repository for branch, head, and delta queries.
type Repo struct {
	repo *git.Repository
	path string
}

// Open opens the repository rooted exactly at path.
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
		}
		return nil, fmt.Errorf("opening repository: %w", err)
	}
	return &Repo{repo: repo, path: path}, nil
}

// DetectBranch reports the branch checked out at path, UnknownBranch
// when path is not a repository or HEAD is not on a branch.
func DetectBranch(path string) string {
	repo, err := Open(path)
	if err != nil {
		return UnknownBranch
	}
	return repo.Branch()
}

// RepoRoot returns the working-tree root of the repository containing
// path, searching parent directories the way git itself does. Empty
// when path is not inside a repository.
func RepoRoot(path string) string {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	wt, err := repo.Worktree()
	if err != nil {
		return ""
	}
	return wt.Filesystem.Root()
}

// RepoName returns the basename of the repository containing path, or
// empty when there is none. This is the default repository identifier
// for memory saved without an explicit one.
func RepoName(path string) string {
	root := RepoRoot(path)
	if root == "" {
		return ""
	}
	return filepath.Base(root)
}

// Branch returns the checked-out branch name, or UnknownBranch for
// detached HEAD, bare, and unborn repositories.
func (r *Repo) Branch() string {
	head, err := r.repo.Head()
	if err != nil {
		return UnknownBranch
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return UnknownBranch
}

// HeadCommit returns the full hash of the current HEAD commit.
func (r *Repo) HeadCommit() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// ChangedSince diffs the tree at since against HEAD with rename
// detection. Statuses map as git name-status does: adds, modifications,
// and type changes land in Modified; deletions in Deleted; renames
// record both sides and index the new path.
func (r *Repo) ChangedSince(ctx context.Context, since string) (ChangeSet, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var cs ChangeSet

	sinceHash, err := r.repo.ResolveRevision(plumbing.Revision(since))
	if err != nil {
		return cs, fmt.Errorf("%w: %q", ErrUnknownCommit, since)
	}
	oldCommit, err := r.repo.CommitObject(*sinceHash)
	if err != nil {
		return cs, fmt.Errorf("%w: %q", ErrUnknownCommit, since)
	}

	head, err := r.repo.Head()
	if err != nil {
		return cs, fmt.Errorf("resolving HEAD: %w", err)
	}
	newCommit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return cs, fmt.Errorf("loading HEAD commit: %w", err)
	}

	oldTree, err := oldCommit.Tree()
	if err != nil {
		return cs, fmt.Errorf("loading tree for %q: %w", since, err)
	}
	newTree, err := newCommit.Tree()
	if err != nil {
		return cs, fmt.Errorf("loading HEAD tree: %w", err)
	}

	changes, err := object.DiffTreeWithOptions(ctx, oldTree, newTree, object.DefaultDiffTreeOptions)
	if err != nil {
		return cs, fmt.Errorf("diffing trees: %w", err)
	}

	for _, ch := range changes {
		action, err := ch.Action()
		if err != nil {
			return cs, fmt.Errorf("classifying change: %w", err)
		}
		switch action {
		case merkletrie.Insert:
			cs.Modified = append(cs.Modified, ch.To.Name)
		case merkletrie.Delete:
			cs.Deleted = append(cs.Deleted, ch.From.Name)
		case merkletrie.Modify:
			if ch.From.Name != ch.To.Name {
				cs.Renamed = append(cs.Renamed, Rename{From: ch.From.Name, To: ch.To.Name})
			}
			cs.Modified = append(cs.Modified, ch.To.Name)
		}
	}

	sort.Strings(cs.Modified)
	sort.Strings(cs.Deleted)
	sort.Slice(cs.Renamed, func(i, j int) bool { return cs.Renamed[i].To < cs.Renamed[j].To })
	return cs, nil
}

// Untracked lists files present in the worktree but unknown to git,
// excluding ignored paths. Status runs in a goroutine so the timeout
// holds even though go-git's worktree walk takes no context.
func (r *Repo) Untracked(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	type result struct {
		files []string
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		wt, err := r.repo.Worktree()
		if err != nil {
			ch <- result{nil, fmt.Errorf("opening worktree: %w", err)}
			return
		}
		status, err := wt.Status()
		if err != nil {
			ch <- result{nil, fmt.Errorf("reading worktree status: %w", err)}
			return
		}
		var files []string
		for path, st := range status {
			if st.Worktree == git.Untracked {
				files = append(files, path)
			}
		}
		sort.Strings(files)
		ch <- result{files, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.files, res.err
	}
}

// WorktreeChanges reports uncommitted changes to tracked files: paths
// whose staged or worktree content differs from HEAD. A commit-to-HEAD
// diff alone misses these.
func (r *Repo) WorktreeChanges(ctx context.Context) (modified, deleted []string, err error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	type result struct {
		modified []string
		deleted  []string
		err      error
	}
	ch := make(chan result, 1)
	go func() {
		wt, err := r.repo.Worktree()
		if err != nil {
			ch <- result{err: fmt.Errorf("opening worktree: %w", err)}
			return
		}
		status, err := wt.Status()
		if err != nil {
			ch <- result{err: fmt.Errorf("reading worktree status: %w", err)}
			return
		}
		var res result
		for path, st := range status {
			if st.Worktree == git.Untracked {
				continue
			}
			if st.Worktree == git.Deleted || st.Staging == git.Deleted {
				res.deleted = append(res.deleted, path)
				continue
			}
			if st.Worktree != git.Unmodified || st.Staging != git.Unmodified {
				res.modified = append(res.modified, path)
			}
		}
		sort.Strings(res.modified)
		sort.Strings(res.deleted)
		ch <- res
	}()

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case res := <-ch:
		return res.modified, res.deleted, res.err
	}
}
