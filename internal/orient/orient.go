// Package orient composes the session-start payload: whether a project
// is indexed, its skeleton and tech stack, the focused initiative, and
// which insights have gone stale against the working tree. Everything
// here is read-only over the shared store.
package orient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/gitx"
	"github.com/fyrsmithlabs/recalld/internal/initiative"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// ErrNilDependency is returned by NewService for a missing dependency.
var ErrNilDependency = errors.New("nil dependency")

// notIndexedMessage tells a fresh session what to do next.
const notIndexedMessage = "No memory indexed for this repository yet. " +
	"Run the ingest tool to index the project, or save notes and insights to build up memory."

// Service answers orientation queries.
type Service struct {
	store       vectorstore.Store
	mem         *memory.Service
	initiatives *initiative.Service
	workdir     string
	logger      *logging.Logger
}

// NewService wires the orientation surface. workdir anchors branch
// detection for skeleton lookups that have no path of their own; empty
// means the process working directory.
func NewService(store vectorstore.Store, mem *memory.Service, initiatives *initiative.Service, workdir string, logger *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if mem == nil {
		return nil, fmt.Errorf("%w: memory service is required", ErrNilDependency)
	}
	if initiatives == nil {
		return nil, fmt.Errorf("%w: initiative service is required", ErrNilDependency)
	}
	if workdir == "" {
		workdir = "."
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:       store,
		mem:         mem,
		initiatives: initiatives,
		workdir:     workdir,
		logger:      logger.Named("orient"),
	}, nil
}

// Skeleton is the directory-tree payload.
type Skeleton struct {
	Repository string `json:"repository"`
	Branch     string `json:"branch,omitempty"`
	TotalFiles int    `json:"total_files,omitempty"`
	TotalDirs  int    `json:"total_dirs,omitempty"`
	Tree       string `json:"tree"`
}

// Session is the orient_session payload.
type Session struct {
	Repository    string                 `json:"repository"`
	Branch        string                 `json:"branch"`
	Indexed       bool                   `json:"indexed"`
	DocumentCount int                    `json:"document_count"`
	Skeleton      *Skeleton              `json:"skeleton,omitempty"`
	TechStack     string                 `json:"tech_stack,omitempty"`
	Initiative    *initiative.Initiative `json:"initiative,omitempty"`
	StaleInsights []memory.StaleInsight  `json:"stale_insights"`
	Message       string                 `json:"message,omitempty"`
}

// Session orients a fresh session on the project at projectPath. The
// attachments are best-effort: a failed skeleton or context fetch logs
// and leaves that field empty rather than failing the whole payload.
func (s *Service) Session(ctx context.Context, projectPath string) (*Session, error) {
	projectPath = strings.TrimSpace(projectPath)
	if projectPath == "" {
		return nil, errs.New(errs.InvalidArgument, "project_path is required")
	}
	info, err := os.Stat(projectPath)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, "project path not found", err)
	}
	if !info.IsDir() {
		return nil, errs.Newf(errs.InvalidArgument, "project path %q is not a directory", projectPath)
	}

	repo := gitx.RepoName(projectPath)
	if repo == "" {
		abs, err := filepath.Abs(projectPath)
		if err != nil {
			abs = projectPath
		}
		repo = filepath.Base(abs)
	}

	sess := &Session{
		Repository:    repo,
		Branch:        gitx.DetectBranch(projectPath),
		StaleInsights: []memory.StaleInsight{},
	}

	records, err := s.store.Get(ctx, nil, vectorstore.Where{document.KeyRepository: repo})
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "checking indexed state", err)
	}
	sess.DocumentCount = len(records)
	sess.Indexed = len(records) > 0
	if !sess.Indexed {
		sess.Message = notIndexedMessage
	}

	if skel := s.fetchSkeleton(ctx, repo, sess.Branch); skel != nil {
		sess.Skeleton = skel
	}

	if rc, err := s.mem.RepoContext(ctx, repo); err != nil {
		s.logger.Debug(ctx, "repo context fetch failed", zap.String("repository", repo), zap.Error(err))
	} else {
		sess.TechStack = rc.TechStack
		sess.Initiative = rc.Initiative
	}

	root := gitx.RepoRoot(projectPath)
	if root == "" {
		root = projectPath
	}
	if stale, err := s.mem.StaleInsightsIn(ctx, repo, root); err != nil {
		s.logger.Debug(ctx, "staleness probe failed", zap.String("repository", repo), zap.Error(err))
	} else if stale != nil {
		sess.StaleInsights = stale
	}

	s.logger.Info(ctx, "session oriented",
		zap.String("repository", repo),
		zap.String("branch", sess.Branch),
		zap.Bool("indexed", sess.Indexed),
		zap.Int("documents", sess.DocumentCount),
		zap.Int("stale_insights", len(sess.StaleInsights)))

	return sess, nil
}

// GetSkeleton returns the stored directory tree for a repository,
// preferring the branch checked out in the service workdir.
func (s *Service) GetSkeleton(ctx context.Context, repository string) (*Skeleton, error) {
	repo := s.initiatives.ResolveRepository(ctx, repository)

	skel := s.fetchSkeleton(ctx, repo, gitx.DetectBranch(s.workdir))
	if skel == nil {
		return nil, errs.Newf(errs.NotFound, "no skeleton stored for repository %q; run ingest first", repo)
	}
	return skel, nil
}

// fetchSkeleton prefers the branch-matching skeleton and falls back to
// any skeleton the repository has. Lookups are sorted by ID, so the
// fallback is deterministic.
func (s *Service) fetchSkeleton(ctx context.Context, repo, branch string) *Skeleton {
	base := []vectorstore.Where{
		{document.KeyType: string(document.TypeSkeleton)},
		{document.KeyRepository: repo},
	}

	var records []vectorstore.Record
	var err error
	if branch != "" && branch != gitx.UnknownBranch {
		scoped := append(append([]vectorstore.Where{}, base...), vectorstore.Where{document.KeyBranch: branch})
		records, err = s.store.Get(ctx, nil, vectorstore.Where{"$and": scoped})
		if err != nil {
			s.logger.Debug(ctx, "skeleton fetch failed", zap.String("repository", repo), zap.Error(err))
			return nil
		}
	}
	if len(records) == 0 {
		records, err = s.store.Get(ctx, nil, vectorstore.Where{"$and": base})
		if err != nil {
			s.logger.Debug(ctx, "skeleton fetch failed", zap.String("repository", repo), zap.Error(err))
			return nil
		}
	}
	if len(records) == 0 {
		return nil
	}

	meta := document.Expand(records[0].Metadata)
	return &Skeleton{
		Repository: repo,
		Branch:     document.StringField(meta, document.KeyBranch),
		TotalFiles: document.IntField(meta, document.KeyTotalFiles),
		TotalDirs:  document.IntField(meta, document.KeyTotalDirs),
		Tree:       records[0].Content,
	}
}
