// Package initiative manages multi-session workstreams: named goals
// that memory documents tag themselves with. An initiative is a plain
// document in the collection; this package owns its lifecycle (create,
// focus, complete, summarize) and the focus invariant: a repository
// focuses at most one initiative, and an initiative is focused by at
// most one repository.
package initiative

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/gitx"
	"github.com/fyrsmithlabs/recalld/internal/lexical"
	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

// summaryEntryLimit caps how many tagged memory documents feed an
// LLM narrative.
const summaryEntryLimit = 20

// ErrNilDependency is returned by NewService for a missing dependency.
var ErrNilDependency = errors.New("nil dependency")

// IDPrefix distinguishes initiative identifiers from names in inputs
// that accept either.
const IDPrefix = "initiative:"

// GlobalRepository is the fallback scope for memory saved outside any
// git repository with no focused initiative to borrow one from.
const GlobalRepository = "global"

// Initiative is the JSON shape initiatives take in tool responses.
type Initiative struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Goal              string `json:"goal,omitempty"`
	Repository        string `json:"repository,omitempty"`
	Status            string `json:"status"`
	FocusedRepository string `json:"focused_repository,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
	CompletedAt       string `json:"completed_at,omitempty"`
	CompletionSummary string `json:"completion_summary,omitempty"`
	DurationDays      int    `json:"duration_days,omitempty"`
	Stale             bool   `json:"stale,omitempty"`
	DaysSinceUpdate   int    `json:"days_since_update,omitempty"`
}

// Service owns initiative reads and writes against the shared store.
type Service struct {
	store   vectorstore.Store
	lex     *lexical.Index
	llm     llm.Provider
	scrub   secrets.Scrubber
	workdir string
	logger  *logging.Logger

	// mu serializes focus swaps and completions so two concurrent
	// callers cannot leave a repository focusing two initiatives.
	mu sync.Mutex
}

// NewService wires the initiative manager. workdir anchors repository
// detection for saves that do not name one; empty means the process
// working directory.
func NewService(store vectorstore.Store, lex *lexical.Index, provider llm.Provider, scrub secrets.Scrubber, workdir string, logger *logging.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if lex == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: llm provider is required", ErrNilDependency)
	}
	if scrub == nil {
		return nil, fmt.Errorf("%w: secret scrubber is required", ErrNilDependency)
	}
	if workdir == "" {
		workdir = "."
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:   store,
		lex:     lex,
		llm:     provider,
		scrub:   scrub,
		workdir: workdir,
		logger:  logger.Named("initiative"),
	}, nil
}

// ResolveRepository decides which repository a write belongs to:
// the explicit argument, else the git repository containing workdir,
// else any repository that currently focuses an initiative, else the
// global scope.
func (s *Service) ResolveRepository(ctx context.Context, explicit string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	if name := gitx.RepoName(s.workdir); name != "" {
		return name
	}
	if repo := s.anyFocusedRepository(ctx); repo != "" {
		return repo
	}
	return GlobalRepository
}

// Create records a new initiative and, unless autoFocus is off, focuses
// it for the resolved repository.
func (s *Service) Create(ctx context.Context, name, goal, repo string, autoFocus bool) (*Initiative, error) {
	name = strings.TrimSpace(name)
	goal = strings.TrimSpace(goal)
	if name == "" {
		return nil, errs.New(errs.InvalidArgument, "initiative name is required")
	}
	if goal == "" {
		return nil, errs.New(errs.InvalidArgument, "initiative goal is required")
	}

	repo = s.ResolveRepository(ctx, repo)
	body := s.scrub.Scrub(name + "\n\n" + goal).Scrubbed

	doc := document.New(document.NewInitiativeID(), document.TypeInitiative, repo, gitx.DetectBranch(s.workdir), body)
	doc.Metadata[document.KeyName] = name
	doc.Metadata[document.KeyGoal] = goal

	s.mu.Lock()
	defer s.mu.Unlock()

	if autoFocus {
		if err := s.clearFocusLocked(ctx, repo); err != nil {
			return nil, err
		}
		doc.Metadata[document.KeyFocusedRepository] = repo
	}
	if err := s.put(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "initiative created",
		zap.String("id", doc.ID),
		zap.String("name", name),
		zap.String("repository", repo),
		zap.Bool("focused", autoFocus))
	return fromDocument(doc), nil
}

// Focus makes nameOrID the focused initiative for repo, clearing any
// previous focus that repository held. The swap is atomic with respect
// to other Focus, Create, and Complete calls.
func (s *Service) Focus(ctx context.Context, nameOrID, repo string) (*Initiative, error) {
	repo = s.ResolveRepository(ctx, repo)

	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.find(ctx, nameOrID, repo)
	if err != nil {
		return nil, err
	}
	if target.Status() == document.StatusCompleted {
		return nil, errs.Newf(errs.PreconditionFailed, "initiative %q is completed; create a new one instead", initiativeName(target))
	}

	if err := s.clearFocusLocked(ctx, repo); err != nil {
		return nil, err
	}

	target.Metadata[document.KeyFocusedRepository] = repo
	target.Metadata[document.KeyUpdatedAt] = timeNow().UTC().Format(time.RFC3339)
	if err := s.put(ctx, target); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "initiative focused",
		zap.String("id", target.ID),
		zap.String("repository", repo))
	return fromDocument(target), nil
}

// Focused returns the initiative repo currently focuses, nil when none.
func (s *Service) Focused(ctx context.Context, repo string) (*Initiative, error) {
	doc, err := s.focusedDocument(ctx, repo)
	if err != nil || doc == nil {
		return nil, err
	}
	return fromDocument(*doc), nil
}

// List returns initiatives ordered by recent activity, newest first.
// Completed ones are included only on request. repo narrows the list;
// empty lists every repository's initiatives.
func (s *Service) List(ctx context.Context, repo string, includeCompleted bool) ([]Initiative, error) {
	where := vectorstore.Where{document.KeyType: string(document.TypeInitiative)}
	if repo != "" {
		where = vectorstore.Where{"$and": []vectorstore.Where{
			{document.KeyType: string(document.TypeInitiative)},
			{document.KeyRepository: repo},
		}}
	}
	records, err := s.store.Get(ctx, nil, where)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "listing initiatives", err)
	}

	out := make([]Initiative, 0, len(records))
	for _, r := range records {
		doc := recordDocument(r)
		if !includeCompleted && doc.Status() == document.StatusCompleted {
			continue
		}
		out = append(out, *fromDocument(doc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt != out[j].UpdatedAt {
			return out[i].UpdatedAt > out[j].UpdatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Complete marks an initiative finished. Completion is soft: the
// document stays, its status flips, and any focus is released. Calling
// Complete on an already completed initiative returns its state
// unchanged.
func (s *Service) Complete(ctx context.Context, nameOrID, repo, summary string) (*Initiative, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, err := s.find(ctx, nameOrID, s.ResolveRepository(ctx, repo))
	if err != nil {
		return nil, err
	}
	if target.Status() == document.StatusCompleted {
		return fromDocument(target), nil
	}

	now := timeNow().UTC().Format(time.RFC3339)
	target.Metadata[document.KeyStatus] = string(document.StatusCompleted)
	target.Metadata[document.KeyCompletedAt] = now
	target.Metadata[document.KeyUpdatedAt] = now
	delete(target.Metadata, document.KeyFocusedRepository)

	if summary = strings.TrimSpace(summary); summary != "" {
		clean := s.scrub.Scrub(summary).Scrubbed
		target.Metadata[document.KeyCompletionSummary] = clean
		target.Content += "\n\nCompleted: " + clean
	}

	if err := s.put(ctx, target); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "initiative completed",
		zap.String("id", target.ID),
		zap.Int("duration_days", durationDays(target.Metadata)))
	return fromDocument(target), nil
}

// Summarize asks the configured LLM for a narrative over the memory
// documents tagged with this initiative, newest first, capped at
// twenty entries.
func (s *Service) Summarize(ctx context.Context, nameOrID, repo string) (string, *Initiative, error) {
	target, err := s.find(ctx, nameOrID, s.ResolveRepository(ctx, repo))
	if err != nil {
		return "", nil, err
	}

	records, err := s.store.Get(ctx, nil, vectorstore.Where{document.KeyInitiativeID: target.ID})
	if err != nil {
		return "", nil, errs.Wrap(errs.Unavailable, "fetching tagged memory", err)
	}

	entries := summaryEntries(records)
	narrative, err := llm.NarrateInitiative(ctx, s.llm, initiativeName(target), document.StringField(target.Metadata, document.KeyGoal), entries)
	if err != nil {
		return "", nil, err
	}
	return narrative, fromDocument(target), nil
}

// Resolve maps an optional initiative reference to (id, name) for
// memory tagging. Empty input falls back to the repository's focused
// initiative; no focus means no tagging, not an error. An explicit
// reference that matches nothing is NotFound.
func (s *Service) Resolve(ctx context.Context, repo, nameOrID string) (string, string, error) {
	if strings.TrimSpace(nameOrID) == "" {
		doc, err := s.focusedDocument(ctx, repo)
		if err != nil || doc == nil {
			return "", "", err
		}
		return doc.ID, initiativeName(*doc), nil
	}
	target, err := s.find(ctx, nameOrID, repo)
	if err != nil {
		return "", "", err
	}
	return target.ID, initiativeName(target), nil
}

// Touch bumps an initiative's updated_at, recording that work tagged
// with it just happened. Unknown IDs are ignored.
func (s *Service) Touch(ctx context.Context, id string) {
	if id == "" {
		return
	}
	records, err := s.store.Get(ctx, []string{id}, nil)
	if err != nil || len(records) == 0 {
		return
	}
	doc := recordDocument(records[0])
	doc.Metadata[document.KeyUpdatedAt] = timeNow().UTC().Format(time.RFC3339)
	if err := s.put(ctx, doc); err != nil {
		s.logger.Debug(ctx, "initiative touch failed", zap.String("id", id), zap.Error(err))
	}
}

// find resolves nameOrID to an initiative document. IDs are exact;
// names match case-insensitively, preferring the given repository when
// several repositories share a name.
func (s *Service) find(ctx context.Context, nameOrID, repo string) (document.Document, error) {
	nameOrID = strings.TrimSpace(nameOrID)
	if nameOrID == "" {
		return document.Document{}, errs.New(errs.InvalidArgument, "initiative id or name is required")
	}

	if strings.HasPrefix(nameOrID, IDPrefix) {
		records, err := s.store.Get(ctx, []string{nameOrID}, nil)
		if err != nil {
			return document.Document{}, errs.Wrap(errs.Unavailable, "fetching initiative", err)
		}
		if len(records) == 0 || document.Type(records[0].Metadata[document.KeyType]) != document.TypeInitiative {
			return document.Document{}, errs.Newf(errs.NotFound, "initiative %q not found", nameOrID)
		}
		return recordDocument(records[0]), nil
	}

	records, err := s.store.Get(ctx, nil, vectorstore.Where{document.KeyType: string(document.TypeInitiative)})
	if err != nil {
		return document.Document{}, errs.Wrap(errs.Unavailable, "fetching initiatives", err)
	}
	var fallback *document.Document
	for _, r := range records {
		doc := recordDocument(r)
		if !strings.EqualFold(initiativeName(doc), nameOrID) {
			continue
		}
		if doc.Repository() == repo {
			return doc, nil
		}
		if fallback == nil {
			d := doc
			fallback = &d
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return document.Document{}, errs.Newf(errs.NotFound, "initiative %q not found", nameOrID)
}

func (s *Service) focusedDocument(ctx context.Context, repo string) (*document.Document, error) {
	records, err := s.store.Get(ctx, nil, vectorstore.Where{
		"$and": []vectorstore.Where{
			{document.KeyType: string(document.TypeInitiative)},
			{document.KeyFocusedRepository: repo},
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "fetching focused initiative", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	doc := recordDocument(records[0])
	return &doc, nil
}

// anyFocusedRepository returns some repository that currently focuses
// an initiative, empty when none does.
func (s *Service) anyFocusedRepository(ctx context.Context) string {
	records, err := s.store.Get(ctx, nil, vectorstore.Where{document.KeyType: string(document.TypeInitiative)})
	if err != nil {
		return ""
	}
	for _, r := range records {
		if repo := r.Metadata[document.KeyFocusedRepository]; repo != "" {
			return repo
		}
	}
	return ""
}

// clearFocusLocked releases every focus repo holds. Callers hold mu.
func (s *Service) clearFocusLocked(ctx context.Context, repo string) error {
	records, err := s.store.Get(ctx, nil, vectorstore.Where{
		"$and": []vectorstore.Where{
			{document.KeyType: string(document.TypeInitiative)},
			{document.KeyFocusedRepository: repo},
		},
	})
	if err != nil {
		return errs.Wrap(errs.Unavailable, "fetching focused initiative", err)
	}
	for _, r := range records {
		doc := recordDocument(r)
		delete(doc.Metadata, document.KeyFocusedRepository)
		doc.Metadata[document.KeyUpdatedAt] = timeNow().UTC().Format(time.RFC3339)
		if err := s.put(ctx, doc); err != nil {
			return err
		}
	}
	return nil
}

// put validates and persists one document, then marks the lexical
// index for rebuild.
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
		return errs.Wrap(errs.Unavailable, "persisting initiative", err)
	}
	s.lex.MarkDirty()
	return nil
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

func initiativeName(d document.Document) string {
	return document.StringField(d.Metadata, document.KeyName)
}

// durationDays counts whole days from created_at to completed_at, or
// to now while the initiative is still open.
func durationDays(meta map[string]any) int {
	created := document.TimeField(meta, document.KeyCreatedAt)
	if created.IsZero() {
		return 0
	}
	end := document.TimeField(meta, document.KeyCompletedAt)
	if end.IsZero() {
		end = timeNow().UTC()
	}
	days := int(end.Sub(created).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

func fromDocument(d document.Document) *Initiative {
	ini := &Initiative{
		ID:                d.ID,
		Name:              initiativeName(d),
		Goal:              document.StringField(d.Metadata, document.KeyGoal),
		Repository:        d.Repository(),
		Status:            string(d.Status()),
		FocusedRepository: document.StringField(d.Metadata, document.KeyFocusedRepository),
		CreatedAt:         document.StringField(d.Metadata, document.KeyCreatedAt),
		UpdatedAt:         document.StringField(d.Metadata, document.KeyUpdatedAt),
		CompletedAt:       document.StringField(d.Metadata, document.KeyCompletedAt),
		CompletionSummary: document.StringField(d.Metadata, document.KeyCompletionSummary),
	}
	if ini.Status == string(document.StatusCompleted) {
		ini.DurationDays = durationDays(d.Metadata)
	}
	if updated := document.TimeField(d.Metadata, document.KeyUpdatedAt); !updated.IsZero() {
		ini.DaysSinceUpdate = int(timeNow().UTC().Sub(updated).Hours() / 24)
		ini.Stale = ini.Status == string(document.StatusActive) && ini.DaysSinceUpdate > StaleThresholdDays
	}
	return ini
}

// summaryEntries renders tagged memory records into the bullet lines
// the narrative prompt consumes, newest first.
func summaryEntries(records []vectorstore.Record) []string {
	docs := make([]document.Document, 0, len(records))
	for _, r := range records {
		doc := recordDocument(r)
		switch doc.Type() {
		case document.TypeNote, document.TypeInsight, document.TypeSessionSummary:
			docs = append(docs, doc)
		}
	}
	sort.SliceStable(docs, func(i, j int) bool {
		ti := document.TimeField(docs[i].Metadata, document.KeyCreatedAt)
		tj := document.TimeField(docs[j].Metadata, document.KeyCreatedAt)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return docs[i].ID < docs[j].ID
	})
	if len(docs) > summaryEntryLimit {
		docs = docs[:summaryEntryLimit]
	}

	entries := make([]string, 0, len(docs))
	for _, doc := range docs {
		text := document.StringField(doc.Metadata, document.KeyTitle)
		if text == "" {
			text = firstLine(doc.Content)
		}
		entries = append(entries, fmt.Sprintf("[%s] %s", doc.Type(), truncate(text, 200)))
	}
	return entries
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
