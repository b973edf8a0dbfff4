// Package memory owns the explicit save surface: notes, insights, and
// session summaries, plus insight validation and the recent-work
// timeline. Every body is scrubbed before it is persisted, and every
// save resolves its repository, branch, head commit, and initiative
// tag the same way.
package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/gitx"
	"github.com/fyrsmithlabs/recalld/internal/ingest"
	"github.com/fyrsmithlabs/recalld/internal/initiative"
	"github.com/fyrsmithlabs/recalld/internal/lexical"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// ErrNilDependency is returned by NewService for a missing dependency.
var ErrNilDependency = errors.New("nil dependency")

// Receipt statuses, mirrored into the tool envelope.
const (
	StatusSaved     = "saved"
	StatusSuccess   = "success"
	StatusValidated = "validated"
)

// InitiativeTag names the initiative a saved document was tagged with.
type InitiativeTag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service is the memory write path.
type Service struct {
	store       vectorstore.Store
	lex         *lexical.Index
	scrub       secrets.Scrubber
	initiatives *initiative.Service
	workdir     string
	logger      *logging.Logger
}

// NewService wires the memory surface. workdir anchors branch and
// commit detection plus relative file-hash resolution; empty means the
// process working directory.
func NewService(store vectorstore.Store, lex *lexical.Index, scrub secrets.Scrubber, initiatives *initiative.Service, workdir string, logger *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if lex == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if scrub == nil {
		return nil, fmt.Errorf("%w: secret scrubber is required", ErrNilDependency)
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
		lex:         lex,
		scrub:       scrub,
		initiatives: initiatives,
		workdir:     workdir,
		logger:      logger.Named("memory"),
	}, nil
}

// saveContext carries the ambient facts every save stamps into
// metadata: resolved repository, detected branch, one timestamp shared
// by all the *_at fields, HEAD commit when inside a repository, and
// the initiative tag.
type saveContext struct {
	repo           string
	branch         string
	timestamp      string
	commit         string
	initiativeID   string
	initiativeName string
}

// buildContext resolves the save context. An explicit initiative
// reference that matches nothing fails the save; an absent one falls
// back to the repository's focused initiative or no tag at all.
func (s *Service) buildContext(ctx context.Context, repository, initiativeRef string) (saveContext, error) {
	repo := s.initiatives.ResolveRepository(ctx, repository)

	sc := saveContext{
		repo:      repo,
		branch:    gitx.UnknownBranch,
		timestamp: timeNow().UTC().Format(time.RFC3339),
	}
	if root := gitx.RepoRoot(s.workdir); root != "" {
		sc.branch = gitx.DetectBranch(root)
		if r, err := gitx.Open(root); err == nil {
			if head, err := r.HeadCommit(); err == nil {
				sc.commit = head
			}
		}
	}

	id, name, err := s.initiatives.Resolve(ctx, repo, initiativeRef)
	if err != nil {
		return saveContext{}, err
	}
	sc.initiativeID, sc.initiativeName = id, name
	return sc, nil
}

// stamp adds the context fields that are only present when known.
func (sc saveContext) stamp(meta map[string]any) {
	if sc.commit != "" {
		meta[document.KeyCreatedCommit] = sc.commit
	}
	if sc.initiativeID != "" {
		meta[document.KeyInitiativeID] = sc.initiativeID
		meta[document.KeyInitiativeName] = sc.initiativeName
	}
}

func (sc saveContext) tag() *InitiativeTag {
	if sc.initiativeID == "" {
		return nil
	}
	return &InitiativeTag{ID: sc.initiativeID, Name: sc.initiativeName}
}

// put validates and persists one document, then marks the lexical
// index for rebuild so the next search sees the write.
func (s *Service) put(ctx context.Context, doc document.Document) error {
	if err := document.Validate(doc); err != nil {
		return err
	}
	err := s.store.Upsert(ctx, []vectorstore.Document{{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: document.Flatten(doc.Metadata),
	}})
	if err != nil {
		return errs.Wrap(errs.Unavailable, "persisting memory document", err)
	}
	s.lex.MarkDirty()
	return nil
}

// repoRoot is where relative linked-file paths resolve; the enclosing
// repository when there is one, the workdir otherwise.
func (s *Service) repoRoot() string {
	if root := gitx.RepoRoot(s.workdir); root != "" {
		return root
	}
	return s.workdir
}

// hashFiles hashes whatever linked files exist right now. Missing or
// unreadable files are skipped, so the stored map only anchors files
// that were present at save time.
func (s *Service) hashFiles(ctx context.Context, files []string) map[string]string {
	root := s.repoRoot()
	hashes := make(map[string]string, len(files))
	for _, f := range files {
		full := f
		if !filepath.IsAbs(full) {
			full = filepath.Join(root, f)
		}
		h, err := ingest.HashFile(full)
		if err != nil {
			s.logger.Debug(ctx, "could not hash linked file", zap.String("path", f), zap.Error(err))
			continue
		}
		hashes[f] = h
	}
	return hashes
}

// headCommit returns HEAD of the enclosing repository, empty outside
// one.
func (s *Service) headCommit() string {
	root := gitx.RepoRoot(s.workdir)
	if root == "" {
		return ""
	}
	r, err := gitx.Open(root)
	if err != nil {
		return ""
	}
	head, err := r.HeadCommit()
	if err != nil {
		return ""
	}
	return head
}

// recordDocument lifts a stored record back into the typed document
// shape the metadata helpers read.
func recordDocument(r vectorstore.Record) document.Document {
	return document.Document{
		ID:       r.ID,
		Content:  r.Content,
		Metadata: document.Expand(r.Metadata),
	}
}

// tagsOrEmpty keeps tags JSON-encodable as [] rather than null.
func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
