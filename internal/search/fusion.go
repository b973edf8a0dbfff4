package search

import (
	"sort"

	"github.com/fyrsmithlabs/recalld/internal/lexical"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// rrfK is the reciprocal-rank-fusion smoothing constant. 60 is the
// standard value used by Azure AI Search, OpenSearch, and most published
// RRF evaluations.
const rrfK = 60

// candidate is a fused retrieval hit before reranking. Ranks are
// 1-indexed; 0 means the document did not appear in that leg.
type candidate struct {
	ID       string
	Content  string
	Metadata map[string]string

	RRFScore   float64
	VectorRank int
	BM25Rank   int
}

// fuseRanked merges the vector and lexical result lists with reciprocal
// rank fusion: score(d) = Σ over lists of 1/(rrfK + rank). Scores are
// then normalized so the best candidate scores 1.0, which puts them on
// the [0,1] scale the downstream reranker and threshold expect. Ties
// break by lower ID.
func fuseRanked(vec []vectorstore.QueryResult, lex []lexical.Result) []candidate {
	if len(vec) == 0 && len(lex) == 0 {
		return []candidate{}
	}

	byID := make(map[string]*candidate, len(vec)+len(lex))
	get := func(id string) *candidate {
		if c, ok := byID[id]; ok {
			return c
		}
		c := &candidate{ID: id}
		byID[id] = c
		return c
	}

	for i, r := range vec {
		c := get(r.ID)
		c.Content = r.Content
		c.Metadata = r.Metadata
		c.VectorRank = i + 1
		c.RRFScore += 1.0 / float64(rrfK+i+1)
	}

	for i, r := range lex {
		c := get(r.ID)
		if c.Content == "" {
			c.Content = r.Content
		}
		if c.Metadata == nil {
			c.Metadata = r.Metadata
		}
		c.BM25Rank = i + 1
		c.RRFScore += 1.0 / float64(rrfK+i+1)
	}

	fused := make([]candidate, 0, len(byID))
	for _, c := range byID {
		fused = append(fused, *c)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].RRFScore != fused[j].RRFScore {
			return fused[i].RRFScore > fused[j].RRFScore
		}
		return fused[i].ID < fused[j].ID
	})

	if max := fused[0].RRFScore; max > 0 {
		for i := range fused {
			fused[i].RRFScore /= max
		}
	}

	return fused
}
