package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

func TestResolveBranches(t *testing.T) {
	tests := []struct {
		effective string
		want      []string
	}{
		{"feature-x", []string{"feature-x", "main"}},
		{"fix/login-retry", []string{"fix/login-retry", "main"}},
		{"main", []string{"main"}},
		{"master", []string{"master"}},
		{"unknown", nil},
	}
	for _, tt := range tests {
		t.Run(tt.effective, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveBranches(tt.effective))
		})
	}
}

// compile builds the predicate for a params set so tests assert filter
// semantics instead of map shapes.
func compileParams(t *testing.T, p whereParams) vectorstore.Predicate {
	t.Helper()
	pred, err := vectorstore.Compile(buildWhere(p))
	require.NoError(t, err)
	return pred
}

func TestBuildWhereBranchScoping(t *testing.T) {
	pred := compileParams(t, whereParams{branches: []string{"feature-x", "main"}})

	// Branch-scoped types must sit on one of the resolved branches.
	assert.True(t, pred(map[string]string{"type": "file_metadata", "branch": "feature-x"}))
	assert.True(t, pred(map[string]string{"type": "skeleton", "branch": "main"}))
	assert.False(t, pred(map[string]string{"type": "file_metadata", "branch": "other"}))
	assert.False(t, pred(map[string]string{"type": "dependency", "branch": "other"}))

	// Memory, context, and code documents pass regardless of branch.
	assert.True(t, pred(map[string]string{"type": "note", "branch": "other"}))
	assert.True(t, pred(map[string]string{"type": "insight", "branch": "other"}))
	assert.True(t, pred(map[string]string{"type": "code", "branch": "other"}))
}

func TestBuildWhereUnknownBranchDisablesFiltering(t *testing.T) {
	pred := compileParams(t, whereParams{
		branches:   resolveBranches("unknown"),
		repository: "recalld",
	})

	assert.True(t, pred(map[string]string{"type": "file_metadata", "branch": "anything", "repository": "recalld"}))
	assert.False(t, pred(map[string]string{"type": "file_metadata", "branch": "anything", "repository": "other"}))
}

func TestBuildWhereRepositoryAndTypes(t *testing.T) {
	pred := compileParams(t, whereParams{
		branches:   []string{"main"},
		repository: "recalld",
		types:      []document.Type{document.TypeNote, document.TypeInsight},
	})

	assert.True(t, pred(map[string]string{"type": "note", "branch": "x", "repository": "recalld"}))
	assert.True(t, pred(map[string]string{"type": "insight", "branch": "x", "repository": "recalld"}))
	assert.False(t, pred(map[string]string{"type": "code", "branch": "x", "repository": "recalld"}))
	assert.False(t, pred(map[string]string{"type": "note", "branch": "x", "repository": "other"}))
}

func TestBuildWhereInitiativeScope(t *testing.T) {
	pred := compileParams(t, whereParams{
		branches:   []string{"main"},
		initiative: "initiative:ab12cd34",
	})

	assert.True(t, pred(map[string]string{"type": "note", "branch": "x", "initiative_id": "initiative:ab12cd34"}))
	assert.False(t, pred(map[string]string{"type": "note", "branch": "x", "initiative_id": "initiative:other"}))
	assert.False(t, pred(map[string]string{"type": "note", "branch": "x"}))
}

func TestBuildWhereExcludeCompleted(t *testing.T) {
	pred := compileParams(t, whereParams{
		branches:         []string{"main"},
		excludeCompleted: true,
	})

	assert.False(t, pred(map[string]string{"type": "initiative", "branch": "x", "status": "completed"}))
	assert.True(t, pred(map[string]string{"type": "initiative", "branch": "x", "status": "active"}))

	// Documents that never carry a status key stay visible.
	assert.True(t, pred(map[string]string{"type": "code", "branch": "x"}))
}

func TestBuildWhereEmptyParams(t *testing.T) {
	// No constraints compiles to match-all.
	pred := compileParams(t, whereParams{})
	assert.True(t, pred(map[string]string{"type": "note"}))
	assert.True(t, pred(nil))
}
