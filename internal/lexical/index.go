// Package lexical maintains a process-lifetime BM25 index derived from
// the vector store's contents. Write paths mark the index dirty; the
// next search rebuilds it before querying, so readers always see a
// fully built index.
package lexical

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/logging"
)

const (
	tokenizerName  = "recalld_code"
	stopFilterName = "recalld_code_stop"
	analyzerName   = "recalld_code"

	// rebuildBatchSize bounds memory during full rebuilds.
	rebuildBatchSize = 500
)

func init() {
	_ = registry.RegisterTokenizer(tokenizerName, newCodeTokenizer)
	_ = registry.RegisterTokenFilter(stopFilterName, newCodeStopFilter)
}

// Document is one indexable unit: text plus the flattened metadata the
// store holds for it, cached so hits come back self-contained.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]string
}

// Result is a single BM25 hit.
type Result struct {
	ID       string
	Content  string
	Metadata map[string]string
	Score    float64
}

// Source lists the current corpus. The index calls it on every rebuild.
type Source func(ctx context.Context) ([]Document, error)

// Index is the dirty-tracked BM25 index. The zero value is not usable;
// construct with NewIndex.
type Index struct {
	source Source
	logger *logging.Logger

	mu    sync.RWMutex
	idx   bleve.Index
	docs  map[string]Document
	dirty bool
}

// NewIndex creates an index over the given corpus source. The index
// starts dirty, so the first search triggers a build.
func NewIndex(source Source, logger *logging.Logger) *Index {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Index{
		source: source,
		logger: logger.Named("lexical"),
		dirty:  true,
	}
}

// MarkDirty schedules a rebuild before the next search. Every write
// path into the collection calls this.
func (x *Index) MarkDirty() {
	x.mu.Lock()
	x.dirty = true
	x.mu.Unlock()
}

// DocCount returns the number of indexed documents, zero before the
// first build.
func (x *Index) DocCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.docs)
}

// Search returns the topK BM25 hits for query, rebuilding first when
// the index is dirty or force is set. An empty query or empty corpus
// yields an empty slice, never an error.
func (x *Index) Search(ctx context.Context, query string, topK int, force bool) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return []Result{}, nil
	}
	if topK < 1 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if err := x.ensure(ctx, force); err != nil {
		return nil, err
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	if len(x.docs) == 0 {
		return []Result{}, nil
	}

	match := bleve.NewMatchQuery(query)
	match.SetField("content")
	req := bleve.NewSearchRequest(match)
	req.Size = topK

	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, ok := x.docs[hit.ID]
		if !ok {
			continue
		}
		results = append(results, Result{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
			Score:    hit.Score,
		})
	}

	// Equal scores tie-break by ID so ranks are stable across runs.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results, nil
}

// Close releases the current bleve index. A later search rebuilds.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.idx == nil {
		return nil
	}
	err := x.idx.Close()
	x.idx = nil
	x.docs = nil
	x.dirty = true
	return err
}

// ensure rebuilds when dirty or forced. Double-checks under the write
// lock so concurrent searchers trigger at most one rebuild.
func (x *Index) ensure(ctx context.Context, force bool) error {
	x.mu.RLock()
	stale := x.dirty || x.idx == nil
	x.mu.RUnlock()
	if !stale && !force {
		return nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if !force && !x.dirty && x.idx != nil {
		return nil
	}
	return x.rebuildLocked(ctx)
}

func (x *Index) rebuildLocked(ctx context.Context) error {
	start := time.Now()

	docs, err := x.source(ctx)
	if err != nil {
		return fmt.Errorf("listing corpus: %w", err)
	}

	m, err := buildMapping()
	if err != nil {
		return err
	}
	idx, err := bleve.NewMemOnly(m)
	if err != nil {
		return fmt.Errorf("creating index: %w", err)
	}

	batch := idx.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, bleveDocument{Content: doc.Content}); err != nil {
			_ = idx.Close()
			return fmt.Errorf("indexing %s: %w", doc.ID, err)
		}
		if batch.Size() >= rebuildBatchSize {
			if err := idx.Batch(batch); err != nil {
				_ = idx.Close()
				return fmt.Errorf("flushing batch: %w", err)
			}
			batch = idx.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			_ = idx.Close()
			return fmt.Errorf("flushing batch: %w", err)
		}
	}

	if x.idx != nil {
		_ = x.idx.Close()
	}
	x.idx = idx
	x.docs = make(map[string]Document, len(docs))
	for _, d := range docs {
		x.docs[d.ID] = d
	}
	x.dirty = false

	x.logger.Info(ctx, "lexical index rebuilt",
		zap.Int("documents", len(docs)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// bleveDocument is the shape handed to bleve for indexing.
type bleveDocument struct {
	Content string `json:"content"`
}

func buildMapping() (*mapping.IndexMappingImpl, error) {
	m := bleve.NewIndexMapping()
	err := m.AddCustomAnalyzer(analyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     tokenizerName,
		"token_filters": []string{lowercase.Name, stopFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("registering code analyzer: %w", err)
	}
	m.DefaultAnalyzer = analyzerName
	return m, nil
}

// codeTokenizer adapts Tokenize to bleve's analysis chain, preserving
// byte offsets for each subtoken.
type codeTokenizer struct{}

func newCodeTokenizer(_ map[string]interface{}, _ *registry.Cache) (analysis.Tokenizer, error) {
	return codeTokenizer{}, nil
}

func (codeTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	var stream analysis.TokenStream
	pos := 1
	for _, word := range wordRegex.FindAllStringIndex(text, -1) {
		for _, s := range splitIdentifier(text[word[0]:word[1]]) {
			term := strings.ToLower(text[word[0]+s.start : word[0]+s.end])
			if len(term) < 2 {
				continue
			}
			stream = append(stream, &analysis.Token{
				Term:     []byte(term),
				Start:    word[0] + s.start,
				End:      word[0] + s.end,
				Position: pos,
				Type:     analysis.AlphaNumeric,
			})
			pos++
		}
	}
	return stream
}

// codeStopFilter drops programming keywords and throwaway identifiers.
type codeStopFilter struct{}

func newCodeStopFilter(_ map[string]interface{}, _ *registry.Cache) (analysis.TokenFilter, error) {
	return codeStopFilter{}, nil
}

func (codeStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	out := make(analysis.TokenStream, 0, len(input))
	for _, tok := range input {
		if _, stop := codeStopWords[string(tok.Term)]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}
