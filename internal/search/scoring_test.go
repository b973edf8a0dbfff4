package search

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/document"
)

func testResult(id string, typ document.Type, rerank float64, meta map[string]any) Result {
	if meta == nil {
		meta = map[string]any{}
	}
	meta[document.KeyType] = string(typ)
	return Result{
		ID:          id,
		Type:        typ,
		Content:     "content of " + id,
		Metadata:    meta,
		Score:       rerank,
		RerankScore: rerank,
	}
}

func TestRecencyBoost(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		ageDays  float64
		halfLife float64
		want     float64
	}{
		{"fresh", 0, 30, 1.0},
		{"half life elapsed", 30, 30, 0.5},
		{"two half lives floors", 60, 30, 0.5},
		{"fifteen days", 15, 30, 0.70710678},
		{"ancient floors", 365, 30, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := now.Add(-time.Duration(tt.ageDays*24) * time.Hour)
			assert.InDelta(t, tt.want, recencyBoost(created, now, tt.halfLife), 1e-6)
		})
	}

	t.Run("zero created_at does not decay", func(t *testing.T) {
		assert.Equal(t, 1.0, recencyBoost(time.Time{}, now, 30))
	})
}

func TestRecencyBoostScoreComposition(t *testing.T) {
	// A 0.8 rerank score on a 60-day-old document: raw decay 0.25
	// floors at 0.5, leaving 0.4.
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	created := now.Add(-60 * 24 * time.Hour)
	assert.InDelta(t, 0.4, 0.8*recencyBoost(created, now, 30), 1e-9)
}

func TestShapeResultsTypeMultiplier(t *testing.T) {
	results := shapeResults([]Result{
		testResult("dep", document.TypeDependency, 0.6, nil),
		testResult("ins", document.TypeInsight, 0.6, nil),
	}, shapeParams{halfLifeDays: 30})

	require.Len(t, results, 2)
	assert.Equal(t, "ins", results[0].ID)
	assert.InDelta(t, 1.2, results[0].Score, 1e-9)
	assert.InDelta(t, 0.6, results[1].Score, 1e-9)
}

func TestShapeResultsRecencyOnlyForMemoryTypes(t *testing.T) {
	old := timeNow().Add(-90 * 24 * time.Hour).UTC().Format(time.RFC3339)

	results := shapeResults([]Result{
		testResult("note-old", document.TypeNote, 0.8, map[string]any{document.KeyCreatedAt: old}),
		testResult("chunk-old", document.TypeCode, 0.8, map[string]any{document.KeyCreatedAt: old}),
	}, shapeParams{recencyBoost: true, halfLifeDays: 30})

	require.Len(t, results, 2)
	byID := map[string]Result{}
	for _, r := range results {
		byID[r.ID] = r
	}

	// note: 0.8 × 1.5 × 0.5 floor = 0.6; code: 0.8 × 1.0, no decay.
	assert.InDelta(t, 0.6, byID["note-old"].Score, 1e-4)
	assert.InDelta(t, 0.8, byID["chunk-old"].Score, 1e-4)
}

func TestShapeResultsRecencyDisabled(t *testing.T) {
	old := timeNow().Add(-90 * 24 * time.Hour).UTC().Format(time.RFC3339)

	results := shapeResults([]Result{
		testResult("note-old", document.TypeNote, 0.8, map[string]any{document.KeyCreatedAt: old}),
	}, shapeParams{recencyBoost: false, halfLifeDays: 30})

	require.Len(t, results, 1)
	assert.InDelta(t, 1.2, results[0].Score, 1e-4)
}

func TestShapeResultsInitiativeAffinity(t *testing.T) {
	results := shapeResults([]Result{
		testResult("plain", document.TypeCode, 0.7, nil),
		testResult("tagged", document.TypeCode, 0.7, map[string]any{
			document.KeyInitiativeID: "initiative:ab12cd34",
		}),
	}, shapeParams{halfLifeDays: 30, initiative: "initiative:ab12cd34"})

	require.Len(t, results, 2)
	assert.Equal(t, "tagged", results[0].ID)
	assert.InDelta(t, 0.84, results[0].Score, 1e-9)
	assert.InDelta(t, 0.7, results[1].Score, 1e-9)
}

func TestShapeResultsThreshold(t *testing.T) {
	results := shapeResults([]Result{
		testResult("keep", document.TypeCode, 0.8, nil),
		testResult("drop", document.TypeCode, 0.3, nil),
	}, shapeParams{halfLifeDays: 30, minScore: 0.5})

	require.Len(t, results, 1)
	assert.Equal(t, "keep", results[0].ID)
}

func TestShapeResultsRoundsAndTruncates(t *testing.T) {
	long := testResult("long", document.TypeCode, 1.0/3.0, nil)
	long.Content = strings.Repeat("x", 2500)
	long.RRFScore = 2.0 / 3.0

	results := shapeResults([]Result{long}, shapeParams{halfLifeDays: 30})
	require.Len(t, results, 1)
	assert.Equal(t, 0.3333, results[0].Score)
	assert.Equal(t, 0.6667, results[0].RRFScore)
	assert.Len(t, results[0].Content, 2000)
}

func TestShapeResultsTieBreaksByID(t *testing.T) {
	results := shapeResults([]Result{
		testResult("zzz", document.TypeCode, 0.5, nil),
		testResult("aaa", document.TypeCode, 0.5, nil),
	}, shapeParams{halfLifeDays: 30})

	require.Len(t, results, 2)
	assert.Equal(t, "aaa", results[0].ID)
	assert.Equal(t, "zzz", results[1].ID)
}

func TestShapeResultsVerboseRecordsBoost(t *testing.T) {
	old := timeNow().Add(-60 * 24 * time.Hour).UTC().Format(time.RFC3339)

	results := shapeResults([]Result{
		testResult("note-old", document.TypeNote, 0.8, map[string]any{document.KeyCreatedAt: old}),
	}, shapeParams{recencyBoost: true, halfLifeDays: 30, verbose: true})

	require.Len(t, results, 1)
	assert.InDelta(t, 0.5, results[0].RecencyBoost, 1e-9)
}

func TestTruncateContentRuneSafe(t *testing.T) {
	s := strings.Repeat("日", 2100)
	got := truncateContent(s)
	assert.Equal(t, 2000, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "日"))
}
