// Package ingest turns a repository work tree into memory documents:
// code chunks for retrieval, navigation metadata per file, and one
// skeleton per branch. Re-ingestion is incremental; only changed files
// are re-embedded.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/gitx"
	"github.com/fyrsmithlabs/recalld/internal/lexical"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

var timeNow = time.Now

// ErrNilDependency is returned by NewService for a missing dependency.
var ErrNilDependency = errors.New("nil dependency")

// Options tune one ingestion call.
type Options struct {
	// Repository overrides the repository identifier; empty means the
	// base name of the ingested path.
	Repository string

	// IncludePatterns restrict the walk to matching files.
	IncludePatterns []string

	// ForceFull reindexes every file regardless of recorded state.
	ForceFull bool

	// UseIgnoreFiles overrides the configured ignore-file handling for
	// this call; nil keeps the config default.
	UseIgnoreFiles *bool
}

// Stats reports what one ingestion run did.
type Stats struct {
	Repository     string    `json:"repository"`
	Branch         string    `json:"branch"`
	Strategy       Strategy  `json:"strategy"`
	FilesScanned   int       `json:"files_scanned"`
	FilesProcessed int       `json:"files_processed"`
	ChunksCreated  int       `json:"chunks_created"`
	DocsDeleted    int       `json:"docs_deleted"`
	Errors         []string  `json:"errors"`
	Skeleton       TreeStats `json:"skeleton"`
	Elapsed        string    `json:"elapsed,omitempty"`
}

// Receipt is the immediate answer to an ingest call. Small deltas run
// synchronously and carry final stats; large ones return a task id for
// polling.
type Receipt struct {
	Status string `json:"status"`
	TaskID string `json:"task_id,omitempty"`
	Stats  *Stats `json:"stats,omitempty"`
}

// Service runs the ingestion pipeline.
type Service struct {
	store   vectorstore.Store
	lex     *lexical.Index
	scrub   secrets.Scrubber
	cfg     config.IngestConfig
	dataDir string
	logger  *logging.Logger
	tasks   *Tracker
}

// NewService wires the pipeline. dataDir anchors the per-repository
// state files.
func NewService(store vectorstore.Store, lex *lexical.Index, scrub secrets.Scrubber, cfg config.IngestConfig, dataDir string, logger *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if lex == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if scrub == nil {
		return nil, fmt.Errorf("%w: secret scrubber is required", ErrNilDependency)
	}
	if dataDir == "" {
		return nil, fmt.Errorf("%w: data directory is required", ErrNilDependency)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:   store,
		lex:     lex,
		scrub:   scrub,
		cfg:     cfg,
		dataDir: dataDir,
		logger:  logger.Named("ingest"),
		tasks:   NewTracker(),
	}, nil
}

// job carries everything one run needs, resolved up front so the
// asynchronous path does not re-read options.
type job struct {
	root    string
	repo    string
	branch  string
	files   []string
	state   State
	delta   Delta
	force   bool
	started time.Time
}

// Ingest scans the tree, detects the delta, and processes it. Deltas
// above the configured threshold continue in the background; the
// receipt then carries a task id for Status polling instead of stats.
func (s *Service) Ingest(ctx context.Context, path string, opts Options) (*Receipt, error) {
	started := timeNow()

	useIgnore := s.cfg.UseIgnoreFiles
	if opts.UseIgnoreFiles != nil {
		useIgnore = *opts.UseIgnoreFiles
	}
	walker, err := NewWalker(path, WalkOptions{
		IncludePatterns:  opts.IncludePatterns,
		UseIgnoreFiles:   useIgnore,
		GlobalIgnoreFile: s.cfg.GlobalIgnoreFile,
		MaxFileSize:      int64(s.cfg.MaxFileSizeKB) * 1024,
	})
	if err != nil {
		return nil, err
	}
	root := walker.Root()

	repo := opts.Repository
	if repo == "" {
		repo = filepath.Base(root)
	}
	branch := gitx.UnknownBranch
	if gitRoot := gitx.RepoRoot(root); gitRoot != "" {
		branch = gitx.DetectBranch(gitRoot)
	}

	files, err := walker.Files(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "walking repository", err)
	}

	st, err := LoadState(s.dataDir, repo, branch)
	if err != nil {
		// A corrupt state file must not brick ingestion; reindex.
		s.logger.Warn(ctx, "ingest state unreadable, running full",
			zap.String("repository", repo),
			zap.Error(err))
		st = NewState()
	}

	delta := detectDelta(ctx, root, st, opts.ForceFull, files, s.logger)
	s.logger.Info(ctx, "ingest delta detected",
		zap.String("repository", repo),
		zap.String("branch", branch),
		zap.String("strategy", string(delta.Strategy)),
		zap.Int("files_scanned", len(files)),
		zap.Int("modified", len(delta.Modified)),
		zap.Int("deleted", len(delta.Deleted)))

	j := &job{
		root:    root,
		repo:    repo,
		branch:  branch,
		files:   files,
		state:   st,
		delta:   delta,
		force:   opts.ForceFull,
		started: started,
	}

	if len(delta.Modified) > s.cfg.AsyncThreshold {
		id := newTaskID()
		tk := s.tasks.begin(id, len(delta.Modified))
		bg := context.WithoutCancel(ctx)
		go func() {
			stats, err := s.run(bg, j, tk)
			if err != nil {
				s.logger.Error(bg, "background ingest failed",
					zap.String("task_id", id),
					zap.String("repository", j.repo),
					zap.Error(err))
				tk.fail(err)
				return
			}
			tk.finish(stats)
		}()
		return &Receipt{Status: string(TaskIndexing), TaskID: id}, nil
	}

	stats, err := s.run(ctx, j, nil)
	if err != nil {
		return nil, err
	}
	return &Receipt{Status: "ok", Stats: stats}, nil
}

// Status reports progress for a background ingestion task.
func (s *Service) Status(taskID string) (Progress, error) {
	return s.tasks.Progress(taskID)
}

// fileResult is the outcome of the parallel per-file phase for one
// modified file.
type fileResult struct {
	path      string
	hash      string
	docs      []vectorstore.Document
	chunks    int
	unchanged bool
	err       error
}

func (s *Service) run(ctx context.Context, j *job, tk *task) (*Stats, error) {
	stats := &Stats{
		Repository:   j.repo,
		Branch:       j.branch,
		Strategy:     j.delta.Strategy,
		FilesScanned: len(j.files),
		Errors:       []string{},
	}

	tk.setStage(StageChunking)
	results := make([]fileResult, len(j.delta.Modified))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, s.cfg.Concurrency))
	for i, rel := range j.delta.Modified {
		g.Go(func() error {
			results[i] = s.buildFile(gctx, j, rel)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Store writes are fatal: aborting here leaves the state file
	// untouched, so the next run retries the same delta.
	tk.setStage(StageEmbedding)
	newState := carryForwardState(j)
	var wrote bool
	for i := range results {
		r := &results[i]
		if r.err != nil {
			stats.Errors = append(stats.Errors, r.path+": "+r.err.Error())
			delete(newState.Files, r.path)
			tk.advance(1)
			continue
		}
		if r.unchanged {
			newState.Files[r.path] = r.hash
			tk.advance(1)
			continue
		}
		if err := s.store.Delete(ctx, nil, whereFileGenerated(j.repo, r.path)); err != nil {
			return nil, errs.Wrap(errs.Unavailable, "clearing stale file documents", err)
		}
		if err := s.store.Upsert(ctx, r.docs); err != nil {
			return nil, errs.Wrap(errs.Unavailable, "storing file documents", err)
		}
		newState.Files[r.path] = r.hash
		stats.FilesProcessed++
		stats.ChunksCreated += r.chunks
		wrote = true
		tk.advance(1)
	}

	tk.setStage(StageIndexing)
	deleted, err := s.collectGarbage(ctx, j)
	if err != nil {
		return nil, err
	}
	stats.DocsDeleted = deleted

	if wrote || deleted > 0 {
		if err := refreshImportGraph(ctx, s.store, j.repo, s.logger); err != nil {
			return nil, err
		}
	}

	tree, treeStats := BuildTree(filepath.Base(j.root), j.files, s.cfg.SkeletonMaxDepth)
	skeleton := document.New(document.SkeletonID(j.repo, j.branch), document.TypeSkeleton, j.repo, j.branch, tree)
	skeleton.Metadata[document.KeyTotalFiles] = treeStats.TotalFiles
	skeleton.Metadata[document.KeyTotalDirs] = treeStats.TotalDirs
	skeleton.Metadata[document.KeyTotalLines] = treeStats.TotalLines
	if err := s.store.Upsert(ctx, []vectorstore.Document{toStoreDoc(skeleton)}); err != nil {
		return nil, errs.Wrap(errs.Unavailable, "storing skeleton", err)
	}
	stats.Skeleton = treeStats

	if gitRoot := gitx.RepoRoot(j.root); gitRoot != "" {
		if repo, err := gitx.Open(gitRoot); err == nil {
			if head, err := repo.HeadCommit(); err == nil {
				newState.LastCommit = head
			}
		}
	}
	if err := SaveState(s.dataDir, j.repo, j.branch, newState); err != nil {
		return nil, errs.Wrap(errs.Internal, "saving ingest state", err)
	}

	if wrote || deleted > 0 {
		s.lex.MarkDirty()
	}

	stats.Elapsed = time.Since(j.started).Round(time.Millisecond).String()
	s.logger.Info(ctx, "ingest complete",
		zap.String("repository", j.repo),
		zap.String("branch", j.branch),
		zap.String("strategy", string(j.delta.Strategy)),
		zap.Int("files_processed", stats.FilesProcessed),
		zap.Int("chunks_created", stats.ChunksCreated),
		zap.Int("docs_deleted", stats.DocsDeleted),
		zap.Int("errors", len(stats.Errors)),
		zap.String("elapsed", stats.Elapsed))
	return stats, nil
}

// buildFile reads, hashes, chunks, scrubs, and extracts one file. All
// failures land in the result; a bad file never fails the run.
func (s *Service) buildFile(ctx context.Context, j *job, rel string) fileResult {
	res := fileResult{path: rel}

	data, err := os.ReadFile(filepath.Join(j.root, filepath.FromSlash(rel)))
	if err != nil {
		res.err = err
		return res
	}
	res.hash = HashBytes(data)

	// Empty and non-text files record their hash but produce nothing.
	if len(bytes.TrimSpace(data)) == 0 || !utf8.Valid(data) {
		res.unchanged = true
		return res
	}
	if !j.force && j.state.Files[rel] == res.hash {
		res.unchanged = true
		return res
	}

	language := DetectLanguage(rel)
	chunks, err := Chunk(string(data), language)
	if err != nil {
		res.err = fmt.Errorf("chunking: %w", err)
		return res
	}

	for i, c := range chunks {
		scrubbed := s.scrub.ScrubFile(rel, c).Scrubbed
		doc := document.New(document.ChunkID(j.repo, rel, i), document.TypeCode, j.repo, j.branch, scrubbed)
		doc.Metadata[document.KeyFilePath] = rel
		doc.Metadata[document.KeyLanguage] = language
		doc.Metadata[document.KeyChunkIndex] = i
		res.docs = append(res.docs, toStoreDoc(doc))
	}
	res.chunks = len(chunks)

	facts := extractFacts(ctx, rel, language, data, s.logger)
	res.docs = append(res.docs, navigationDocs(j.repo, j.branch, rel, language, res.hash, facts)...)
	return res
}

// carryForwardState seeds the new state with hashes for files the delta
// left alone. Files that vanished from the walk drop out here.
func carryForwardState(j *job) State {
	st := NewState()
	modified := make(map[string]bool, len(j.delta.Modified))
	for _, f := range j.delta.Modified {
		modified[f] = true
	}
	for _, f := range j.files {
		if modified[f] {
			continue
		}
		if h, ok := j.state.Files[f]; ok {
			st.Files[f] = h
			continue
		}
		// Walked, unmodified, but never recorded: hash it now so the
		// hash_state fallback stays trustworthy.
		if h, err := HashFile(filepath.Join(j.root, filepath.FromSlash(f))); err == nil {
			st.Files[f] = h
		}
	}
	return st
}

// collectGarbage removes documents for deleted paths and sweeps for
// orphans whose file no longer exists on disk. Returns how many
// documents went away.
func (s *Service) collectGarbage(ctx context.Context, j *job) (int, error) {
	// The orphan sweep revisits the deleted paths, so dedupe by id.
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	if len(j.delta.Deleted) > 0 {
		records, err := s.store.Get(ctx, nil, vectorstore.Where{
			"$and": []vectorstore.Where{
				{document.KeyRepository: j.repo},
				{document.KeyFilePath: map[string]any{"$in": j.delta.Deleted}},
			},
		})
		if err != nil {
			return 0, errs.Wrap(errs.Unavailable, "finding deleted file documents", err)
		}
		for _, rec := range records {
			add(rec.ID)
		}
	}

	orphans, err := s.findOrphans(ctx, j)
	if err != nil {
		return 0, err
	}
	for _, id := range orphans {
		add(id)
	}

	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.store.Delete(ctx, ids, nil); err != nil {
		return 0, errs.Wrap(errs.Unavailable, "deleting stale documents", err)
	}
	return len(ids), nil
}

// findOrphans scans the repository's file-scoped documents for paths
// that no longer exist on disk. Catches drift the delta cannot see,
// such as deletions that happened while state was lost.
func (s *Service) findOrphans(ctx context.Context, j *job) ([]string, error) {
	types := []string{
		string(document.TypeCode),
		string(document.TypeFileMetadata),
		string(document.TypeDependency),
		string(document.TypeEntryPoint),
		string(document.TypeDataContract),
	}
	records, err := s.store.Get(ctx, nil, vectorstore.Where{
		"$and": []vectorstore.Where{
			{document.KeyRepository: j.repo},
			{document.KeyType: map[string]any{"$in": types}},
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "scanning for orphans", err)
	}

	exists := map[string]bool{}
	var ids []string
	for _, rec := range records {
		fp := rec.Metadata[document.KeyFilePath]
		if fp == "" {
			continue
		}
		alive, seen := exists[fp]
		if !seen {
			_, statErr := os.Stat(filepath.Join(j.root, filepath.FromSlash(fp)))
			alive = statErr == nil
			exists[fp] = alive
		}
		if !alive {
			ids = append(ids, rec.ID)
		}
	}
	return ids, nil
}

// whereFileGenerated matches the documents regenerated wholesale for a
// file: chunks, entry points, and contracts. Metadata and dependency
// documents have stable IDs and are overwritten by upsert instead.
func whereFileGenerated(repo, rel string) vectorstore.Where {
	return vectorstore.Where{
		"$and": []vectorstore.Where{
			{document.KeyRepository: repo},
			{document.KeyFilePath: rel},
			{document.KeyType: map[string]any{"$in": []string{
				string(document.TypeCode),
				string(document.TypeEntryPoint),
				string(document.TypeDataContract),
			}}},
		},
	}
}
