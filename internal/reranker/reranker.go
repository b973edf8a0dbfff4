// Package reranker provides second-stage relevance scoring for fused
// search candidates.
package reranker

import (
	"context"
	"errors"
	"sort"

	"github.com/fyrsmithlabs/recalld/internal/lexical"
)

// ErrNilContext is returned when a nil context is passed to Rerank.
var ErrNilContext = errors.New("context cannot be nil")

// Candidate is a retrieval hit awaiting a second-stage score. Score is
// the first-stage (fused) score normalized to [0,1].
type Candidate struct {
	ID      string
	Content string
	Score   float64
}

// Scored is a candidate with its rerank score.
type Scored struct {
	Candidate
	// RerankScore is the second-stage relevance in [0,1]. Downstream
	// shaping (type multiplier, recency boost) applies to this value.
	RerankScore float64
	// OriginalRank is the candidate's position before reranking.
	OriginalRank int
}

// Reranker reorders candidates by query relevance.
type Reranker interface {
	// Rerank scores candidates against the query and returns them
	// sorted by RerankScore descending, trimmed to topK. topK <= 0
	// means all candidates.
	Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error)

	// Close releases any resources held by the reranker.
	Close() error
}

// TermOverlap blends the first-stage score with code-aware query-term
// overlap: RerankScore = 0.5*score + 0.5*overlap. The overlap half
// rewards exact vocabulary hits; the score half keeps purely semantic
// matches alive through the min-score threshold.
type TermOverlap struct{}

// NewTermOverlap creates the default reranker.
func NewTermOverlap() *TermOverlap {
	return &TermOverlap{}
}

// Rerank implements Reranker.
func (r *TermOverlap) Rerank(ctx context.Context, query string, candidates []Candidate, topK int) ([]Scored, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []Scored{}, nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}

	queryTerms := matchTerms(query)

	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		score := clamp01(c.Score)
		if len(queryTerms) > 0 {
			overlap := overlapRatio(queryTerms, matchTerms(c.Content))
			score = 0.5*clamp01(c.Score) + 0.5*overlap
		}
		scored[i] = Scored{Candidate: c, RerankScore: score, OriginalRank: i}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].RerankScore != scored[j].RerankScore {
			return scored[i].RerankScore > scored[j].RerankScore
		}
		return scored[i].ID < scored[j].ID
	})

	return scored[:topK], nil
}

// Close implements Reranker. TermOverlap holds no resources.
func (r *TermOverlap) Close() error {
	return nil
}

var _ Reranker = (*TermOverlap)(nil)

// matchTerms tokenizes with the lexical code rules, then drops English
// stopwords so prose queries compare on their content words.
func matchTerms(text string) map[string]struct{} {
	tokens := lexical.Tokenize(text)
	terms := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, stop := englishStopwords[tok]; stop {
			continue
		}
		terms[tok] = struct{}{}
	}
	return terms
}

// overlapRatio returns the fraction of query terms present in the
// document, in [0,1].
func overlapRatio(queryTerms, docTerms map[string]struct{}) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	matched := 0
	for term := range queryTerms {
		if _, ok := docTerms[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTerms))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var englishStopwords = map[string]struct{}{
	"the": {}, "an": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "from": {}, "as": {}, "is": {}, "was": {},
	"are": {}, "be": {}, "been": {}, "being": {}, "have": {}, "has": {},
	"had": {}, "do": {}, "does": {}, "did": {}, "will": {}, "would": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "can": {},
	"this": {}, "that": {}, "these": {}, "those": {}, "you": {}, "he": {},
	"she": {}, "it": {}, "we": {}, "they": {}, "what": {}, "which": {},
	"who": {}, "when": {}, "where": {}, "why": {}, "how": {},
}
