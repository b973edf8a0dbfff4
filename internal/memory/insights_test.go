package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/errs"
)

func saveTestInsight(t *testing.T, f *fixture, title string, files []string) *InsightReceipt {
	t.Helper()
	receipt, err := f.svc.SaveInsight(context.Background(), InsightInput{
		Content:    "The walker skips hidden directories before pattern checks.",
		Files:      files,
		Title:      title,
		Tags:       []string{"ingest"},
		Repository: "billing",
	})
	require.NoError(t, err)
	return receipt
}

func TestValidateInsightInvalidResult(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID: "insight:whatever",
		Result:    "sort_of_valid",
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestValidateInsightNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID: "insight:deadbeef",
		Result:    "still_valid",
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.NotFound))
}

func TestValidateInsightWrongType(t *testing.T) {
	f := newFixture(t)

	note, err := f.svc.SaveNote(context.Background(), NoteInput{Content: "not an insight", Repository: "billing"})
	require.NoError(t, err)

	_, err = f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID: note.NoteID,
		Result:    "still_valid",
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.PreconditionFailed))
}

func TestValidateInsightStillValidRefreshesHashes(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "auth.go", "package auth\n")

	saved := saveTestInsight(t, f, "refresh path", []string{"auth.go"})
	before := f.getDoc(t, saved.InsightID)
	beforeHashes := document.MapField(before.Metadata, document.KeyFileHashes)

	// The file changes on disk, then validation confirms the insight.
	f.writeFile(t, "auth.go", "package auth\n\nfunc Refresh() {}\n")

	receipt, err := f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID: saved.InsightID,
		Result:    "still_valid",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValidated, receipt.Status)
	assert.True(t, receipt.FileHashesRefreshed)
	assert.False(t, receipt.Deprecated)

	after := f.getDoc(t, saved.InsightID)
	afterHashes := document.MapField(after.Metadata, document.KeyFileHashes)
	assert.NotEqual(t, beforeHashes["auth.go"], afterHashes["auth.go"])
	assert.Equal(t, "still_valid", document.StringField(after.Metadata, document.KeyLastValidation))
	assert.Equal(t, document.StatusActive, after.Status())
}

func TestValidateInsightPartiallyValidRecordsNotes(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "auth.go", "package auth\n")

	saved := saveTestInsight(t, f, "", []string{"auth.go"})

	receipt, err := f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID: saved.InsightID,
		Result:    "partially_valid",
		Notes:     "refresh moved to a worker, rest still holds",
	})
	require.NoError(t, err)
	assert.False(t, receipt.Deprecated)
	assert.False(t, receipt.FileHashesRefreshed)

	doc := f.getDoc(t, saved.InsightID)
	assert.Equal(t, "partially_valid", document.StringField(doc.Metadata, document.KeyLastValidation))
	assert.Equal(t, "refresh moved to a worker, rest still holds", document.StringField(doc.Metadata, document.KeyValidationNotes))
	assert.Equal(t, document.StatusActive, doc.Status())
}

func TestValidateInsightDeprecation(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "auth.go", "package auth\n")

	saved := saveTestInsight(t, f, "old analysis", []string{"auth.go"})

	receipt, err := f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID: saved.InsightID,
		Result:    "no_longer_valid",
		Deprecate: true,
	})
	require.NoError(t, err)
	assert.True(t, receipt.Deprecated)
	assert.Empty(t, receipt.ReplacementID)

	doc := f.getDoc(t, saved.InsightID)
	assert.Equal(t, document.StatusDeprecated, doc.Status())
	assert.NotEmpty(t, document.StringField(doc.Metadata, document.KeyDeprecatedAt))
	assert.Equal(t, "Marked invalid during validation", document.StringField(doc.Metadata, document.KeyDeprecationReason))
}

func TestValidateInsightNoLongerValidWithoutDeprecate(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "auth.go", "package auth\n")

	saved := saveTestInsight(t, f, "", []string{"auth.go"})

	receipt, err := f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID: saved.InsightID,
		Result:    "no_longer_valid",
	})
	require.NoError(t, err)
	assert.False(t, receipt.Deprecated)

	doc := f.getDoc(t, saved.InsightID)
	assert.Equal(t, document.StatusActive, doc.Status())
	assert.Equal(t, "no_longer_valid", document.StringField(doc.Metadata, document.KeyLastValidation))
}

func TestValidateInsightReplacement(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "auth.go", "package auth\n")

	saved := saveTestInsight(t, f, "old analysis", []string{"auth.go"})

	receipt, err := f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID:   saved.InsightID,
		Result:      "no_longer_valid",
		Notes:       "refresh was rewritten",
		Deprecate:   true,
		Replacement: "Refresh now runs in a background worker with jitter.",
	})
	require.NoError(t, err)
	assert.True(t, receipt.Deprecated)
	require.NotEmpty(t, receipt.ReplacementID)

	old := f.getDoc(t, saved.InsightID)
	assert.Equal(t, receipt.ReplacementID, document.StringField(old.Metadata, document.KeySupersededBy))
	assert.Equal(t, "refresh was rewritten", document.StringField(old.Metadata, document.KeyDeprecationReason))

	// Replacement inherits files and tags, gets the derived title.
	repl := f.getDoc(t, receipt.ReplacementID)
	assert.Equal(t, document.TypeInsight, repl.Type())
	assert.Equal(t, "old analysis (Updated)", document.StringField(repl.Metadata, document.KeyTitle))
	assert.Equal(t, []string{"auth.go"}, document.StringsField(repl.Metadata, document.KeyFiles))
	assert.Equal(t, []string{"ingest"}, document.StringsField(repl.Metadata, document.KeyTags))
	assert.Equal(t, "billing", repl.Repository())
}

func TestValidateInsightSecondReplacementConflicts(t *testing.T) {
	f := newFixture(t)
	f.writeFile(t, "auth.go", "package auth\n")

	saved := saveTestInsight(t, f, "old analysis", []string{"auth.go"})

	first, err := f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID:   saved.InsightID,
		Result:      "no_longer_valid",
		Deprecate:   true,
		Replacement: "first replacement",
	})
	require.NoError(t, err)
	require.NotEmpty(t, first.ReplacementID)

	_, err = f.svc.ValidateInsight(context.Background(), ValidateInput{
		InsightID:   saved.InsightID,
		Result:      "no_longer_valid",
		Deprecate:   true,
		Replacement: "second replacement",
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.Conflict))
}
