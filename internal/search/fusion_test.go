package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/lexical"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

func vecHit(id, content string, score float32) vectorstore.QueryResult {
	return vectorstore.QueryResult{
		Record: vectorstore.Record{
			ID:       id,
			Content:  content,
			Metadata: map[string]string{"type": "code"},
		},
		Score: score,
	}
}

func lexHit(id, content string, score float64) lexical.Result {
	return lexical.Result{
		ID:       id,
		Content:  content,
		Metadata: map[string]string{"type": "code"},
		Score:    score,
	}
}

func TestFuseRankedMergesLegs(t *testing.T) {
	vec := []vectorstore.QueryResult{
		vecHit("a", "alpha", 0.9),
		vecHit("b", "beta", 0.8),
		vecHit("c", "gamma", 0.7),
	}
	lex := []lexical.Result{
		lexHit("b", "beta", 4.2),
		lexHit("d", "delta", 3.1),
	}

	fused := fuseRanked(vec, lex)
	require.Len(t, fused, 4)

	// b appears in both legs: 1/62 + 1/61, the highest total.
	assert.Equal(t, "b", fused[0].ID)
	assert.Equal(t, 2, fused[0].VectorRank)
	assert.Equal(t, 1, fused[0].BM25Rank)
	assert.InDelta(t, 1.0, fused[0].RRFScore, 1e-9)

	// Single-leg docs order by their reciprocal rank: a (vec #1),
	// d (lex #2), c (vec #3).
	assert.Equal(t, "a", fused[1].ID)
	assert.Equal(t, 1, fused[1].VectorRank)
	assert.Equal(t, 0, fused[1].BM25Rank)
	assert.Equal(t, "d", fused[2].ID)
	assert.Equal(t, "c", fused[3].ID)

	want := (1.0 / 61) / (1.0/62 + 1.0/61)
	assert.InDelta(t, want, fused[1].RRFScore, 1e-9)
}

func TestFuseRankedEmptyLegs(t *testing.T) {
	fused := fuseRanked(nil, nil)
	require.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuseRankedSingleLeg(t *testing.T) {
	fused := fuseRanked([]vectorstore.QueryResult{vecHit("a", "alpha", 0.9)}, nil)
	require.Len(t, fused, 1)
	assert.Equal(t, "a", fused[0].ID)
	assert.InDelta(t, 1.0, fused[0].RRFScore, 1e-9)
	assert.Equal(t, 1, fused[0].VectorRank)
	assert.Equal(t, 0, fused[0].BM25Rank)
}

func TestFuseRankedTieBreaksByID(t *testing.T) {
	// Same rank in opposite legs gives identical scores; the lower ID
	// wins.
	fused := fuseRanked(
		[]vectorstore.QueryResult{vecHit("zeta", "z", 0.9)},
		[]lexical.Result{lexHit("alpha", "a", 2.0)},
	)
	require.Len(t, fused, 2)
	assert.Equal(t, "alpha", fused[0].ID)
	assert.Equal(t, "zeta", fused[1].ID)
	assert.InDelta(t, fused[0].RRFScore, fused[1].RRFScore, 1e-9)
}

func TestFuseRankedPrefersVectorPayload(t *testing.T) {
	vec := []vectorstore.QueryResult{
		{
			Record: vectorstore.Record{
				ID:       "a",
				Content:  "vector copy",
				Metadata: map[string]string{"type": "note", "branch": "main"},
			},
			Score: 0.9,
		},
	}
	lex := []lexical.Result{lexHit("a", "lexical copy", 5.0)}

	fused := fuseRanked(vec, lex)
	require.Len(t, fused, 1)
	assert.Equal(t, "vector copy", fused[0].Content)
	assert.Equal(t, "note", fused[0].Metadata["type"])

	// Lexical-only docs still carry their payload through.
	fused = fuseRanked(nil, lex)
	require.Len(t, fused, 1)
	assert.Equal(t, "lexical copy", fused[0].Content)
}
