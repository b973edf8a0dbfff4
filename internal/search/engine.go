// Package search implements the hybrid retrieval pipeline: a vector
// similarity leg and a BM25 lexical leg run in parallel, reciprocal rank
// fusion merges them, a reranker reorders the head, and type, recency,
// and initiative shaping produce the final scores. Results come back
// with the repository's skeleton and context attached as payload.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/gitx"
	"github.com/fyrsmithlabs/recalld/internal/lexical"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/reranker"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// EmptyCollectionMessage tells the caller why a search over an empty
// store returned nothing.
const EmptyCollectionMessage = "No results found. Try ingesting code first with the ingest tool, or save notes and insights to build up memory."

// lexicalOverfetch widens the BM25 leg so the post-hoc metadata filter
// still leaves a full candidate page.
const lexicalOverfetch = 4

// ErrNilDependency is returned by NewEngine for a missing dependency.
var ErrNilDependency = errors.New("nil dependency")

// Engine runs hybrid searches against one document collection.
type Engine struct {
	store    vectorstore.Store
	lexical  *lexical.Index
	reranker reranker.Reranker
	runtime  *config.Runtime
	workdir  string
	logger   *logging.Logger
}

// NewEngine wires the retrieval legs together. workdir is where branch
// detection runs when a call does not name a branch; empty means the
// process working directory.
func NewEngine(store vectorstore.Store, lex *lexical.Index, rr reranker.Reranker, rt *config.Runtime, workdir string, logger *logging.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrNilDependency)
	}
	if lex == nil {
		return nil, fmt.Errorf("%w: lexical index is required", ErrNilDependency)
	}
	if rr == nil {
		return nil, fmt.Errorf("%w: reranker is required", ErrNilDependency)
	}
	if rt == nil {
		return nil, fmt.Errorf("%w: runtime config is required", ErrNilDependency)
	}
	if workdir == "" {
		workdir = "."
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Engine{
		store:    store,
		lexical:  lex,
		reranker: rr,
		runtime:  rt,
		workdir:  workdir,
		logger:   logger.Named("search"),
	}, nil
}

// StoreSource adapts a vector store into the lexical index's document
// feed, so rebuilds always reflect current store contents.
func StoreSource(store vectorstore.Store) lexical.Source {
	return func(ctx context.Context) ([]lexical.Document, error) {
		records, err := store.Get(ctx, nil, nil)
		if err != nil {
			return nil, err
		}
		docs := make([]lexical.Document, len(records))
		for i, r := range records {
			docs[i] = lexical.Document{ID: r.ID, Content: r.Content, Metadata: r.Metadata}
		}
		return docs, nil
	}
}

// Search runs the full pipeline for one query.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errs.New(errs.InvalidArgument, "query cannot be empty")
	}

	types, err := resolveTypes(opts)
	if err != nil {
		return nil, err
	}

	effective := opts.Branch
	if effective == "" {
		effective = gitx.DetectBranch(e.workdir)
	}
	branches := resolveBranches(effective)

	resp := &Response{Query: query, Results: []Result{}, Branch: effective}

	count, err := e.store.Count(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.Unavailable, "counting documents", err)
	}
	if count == 0 {
		resp.Message = EmptyCollectionMessage
		return resp, nil
	}

	where := buildWhere(whereParams{
		repository:       opts.Repository,
		branches:         branches,
		types:            types,
		initiative:       opts.Initiative,
		excludeCompleted: opts.ExcludeCompleted,
	})

	fused, err := e.retrieve(ctx, query, where, opts.Rebuild)
	if err != nil {
		return nil, err
	}
	resp.TotalCandidates = len(fused)
	if len(fused) == 0 {
		resp.Message = EmptyCollectionMessage
		return resp, nil
	}

	scored := e.rerank(ctx, query, fused)

	byID := make(map[string]candidate, len(fused))
	for _, f := range fused {
		byID[f.ID] = f
	}

	results := make([]Result, 0, len(scored))
	for _, s := range scored {
		f := byID[s.ID]
		meta := document.Expand(f.Metadata)
		results = append(results, Result{
			ID:          f.ID,
			Type:        document.Type(document.StringField(meta, document.KeyType)),
			Content:     f.Content,
			Metadata:    meta,
			Score:       s.RerankScore,
			RRFScore:    f.RRFScore,
			RerankScore: s.RerankScore,
			VectorRank:  f.VectorRank,
			BM25Rank:    f.BM25Rank,
		})
	}

	// A focused initiative steers the affinity boost when the caller
	// did not name one explicitly.
	affinity := opts.Initiative
	var focused *vectorstore.Record
	if opts.Repository != "" {
		focused = e.focusedInitiative(ctx, opts.Repository)
		if affinity == "" && focused != nil {
			affinity = focused.ID
		}
	}

	minScore := e.runtime.MinScore()
	if opts.MinScore != nil {
		minScore = clampUnit(*opts.MinScore)
	}

	resp.Results = shapeResults(results, shapeParams{
		recencyBoost: e.runtime.RecencyBoost(),
		halfLifeDays: e.runtime.RecencyHalfLifeDays(),
		initiative:   affinity,
		minScore:     minScore,
		verbose:      e.runtime.Verbose(),
	})
	resp.Returned = len(resp.Results)

	e.attachContext(ctx, resp, opts.Repository, branches, focused)

	e.logger.Debug(ctx, "search complete",
		zap.String("query", query),
		zap.Int("candidates", resp.TotalCandidates),
		zap.Int("returned", resp.Returned),
		zap.String("branch", effective))

	return resp, nil
}

// resolveTypes picks the effective type restriction; a preset wins over
// an explicit type list.
func resolveTypes(opts Options) ([]document.Type, error) {
	if opts.Preset != "" {
		types, ok := document.PresetTypes(opts.Preset)
		if !ok {
			return nil, errs.Newf(errs.InvalidArgument, "unknown search preset %q", opts.Preset)
		}
		return types, nil
	}
	return opts.Types, nil
}

// retrieve runs both legs in parallel and fuses their rankings. One leg
// failing degrades to the other; both failing is an error.
func (e *Engine) retrieve(ctx context.Context, query string, where vectorstore.Where, rebuild bool) ([]candidate, error) {
	pred, err := vectorstore.Compile(where)
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "compiling search filter", err)
	}
	k := e.runtime.TopKRetrieve()

	var (
		vecHits []vectorstore.QueryResult
		lexHits []lexical.Result
		vecErr  error
		lexErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecHits, vecErr = e.store.Query(gctx, query, k, where)
		return nil
	})
	g.Go(func() error {
		hits, err := e.lexical.Search(gctx, query, k*lexicalOverfetch, rebuild)
		if err != nil {
			lexErr = err
			return nil
		}
		for _, h := range hits {
			if !pred(h.Metadata) {
				continue
			}
			lexHits = append(lexHits, h)
			if len(lexHits) == k {
				break
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if vecErr != nil && lexErr != nil {
		return nil, errs.Wrap(errs.Unavailable, "both retrieval paths failed", errors.Join(vecErr, lexErr))
	}
	if vecErr != nil {
		e.logger.Warn(ctx, "vector retrieval failed, continuing with lexical results", zap.Error(vecErr))
	}
	if lexErr != nil {
		e.logger.Warn(ctx, "lexical retrieval failed, continuing with vector results", zap.Error(lexErr))
	}

	return fuseRanked(vecHits, lexHits), nil
}

// rerank reorders the fused head. A reranker failure keeps the fusion
// order rather than failing the search.
func (e *Engine) rerank(ctx context.Context, query string, fused []candidate) []reranker.Scored {
	topK := e.runtime.TopKRerank()

	cands := make([]reranker.Candidate, len(fused))
	for i, f := range fused {
		cands[i] = reranker.Candidate{ID: f.ID, Content: f.Content, Score: f.RRFScore}
	}

	scored, err := e.reranker.Rerank(ctx, query, cands, topK)
	if err == nil {
		return scored
	}
	e.logger.Warn(ctx, "reranking failed, keeping fusion order", zap.Error(err))

	if topK > len(cands) {
		topK = len(cands)
	}
	scored = make([]reranker.Scored, topK)
	for i := 0; i < topK; i++ {
		scored[i] = reranker.Scored{Candidate: cands[i], RerankScore: cands[i].Score, OriginalRank: i}
	}
	return scored
}

// focusedInitiative returns the initiative document focused by repo, or
// nil when there is none or the lookup fails.
func (e *Engine) focusedInitiative(ctx context.Context, repo string) *vectorstore.Record {
	records, err := e.store.Get(ctx, nil, vectorstore.Where{
		"$and": []vectorstore.Where{
			{document.KeyType: string(document.TypeInitiative)},
			{document.KeyFocusedRepository: repo},
		},
	})
	if err != nil {
		e.logger.Debug(ctx, "focused initiative lookup failed", zap.String("repository", repo), zap.Error(err))
		return nil
	}
	if len(records) == 0 {
		return nil
	}
	return &records[0]
}

// attachContext adds the skeleton and repository context for the
// repository in scope: the explicit one, else the top result's. Fetch
// failures log and leave the attachment off.
func (e *Engine) attachContext(ctx context.Context, resp *Response, repo string, branches []string, focused *vectorstore.Record) {
	detected := repo
	if detected == "" && len(resp.Results) > 0 {
		detected = document.StringField(resp.Results[0].Metadata, document.KeyRepository)
	}
	if detected == "" || detected == "unknown" {
		return
	}

	if skel := e.fetchSkeleton(ctx, detected, branches); skel != nil {
		resp.Skeleton = skel
	}

	pc := &ProjectContext{Repository: detected}

	if records, err := e.store.Get(ctx, []string{document.TechStackID(detected)}, nil); err != nil {
		e.logger.Debug(ctx, "tech stack fetch failed", zap.String("repository", detected), zap.Error(err))
	} else if len(records) > 0 {
		meta := document.Expand(records[0].Metadata)
		pc.TechStack = &TechStack{
			Content:   records[0].Content,
			UpdatedAt: document.StringField(meta, document.KeyUpdatedAt),
		}
	}

	if focused == nil || repo != detected {
		focused = e.focusedInitiative(ctx, detected)
	}
	if focused != nil {
		meta := document.Expand(focused.Metadata)
		pc.Initiative = &InitiativeSummary{
			ID:        focused.ID,
			Name:      document.StringField(meta, document.KeyName),
			Goal:      document.StringField(meta, document.KeyGoal),
			Status:    document.StringField(meta, document.KeyStatus),
			UpdatedAt: document.StringField(meta, document.KeyUpdatedAt),
		}
	}

	if pc.TechStack != nil || pc.Initiative != nil {
		resp.ProjectContext = pc
	}
}

// fetchSkeleton prefers the branch-matching skeleton and falls back to
// any skeleton the repository has.
func (e *Engine) fetchSkeleton(ctx context.Context, repo string, branches []string) *Skeleton {
	base := []vectorstore.Where{
		{document.KeyType: string(document.TypeSkeleton)},
		{document.KeyRepository: repo},
	}

	var records []vectorstore.Record
	var err error
	if len(branches) > 0 {
		scoped := append(append([]vectorstore.Where{}, base...), vectorstore.Where{
			document.KeyBranch: map[string]any{"$in": branches},
		})
		records, err = e.store.Get(ctx, nil, vectorstore.Where{"$and": scoped})
		if err != nil {
			e.logger.Debug(ctx, "skeleton fetch failed", zap.String("repository", repo), zap.Error(err))
			return nil
		}
	}
	if len(records) == 0 {
		records, err = e.store.Get(ctx, nil, vectorstore.Where{"$and": base})
		if err != nil {
			e.logger.Debug(ctx, "skeleton fetch failed", zap.String("repository", repo), zap.Error(err))
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

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
