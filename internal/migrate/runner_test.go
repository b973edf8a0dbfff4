package migrate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

func newStore(t *testing.T) vectorstore.Store {
	t.Helper()

	embedder, err := embeddings.NewStaticProvider(256)
	require.NoError(t, err)

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       filepath.Join(t.TempDir(), "vectors"),
		Collection: "recalld",
	}, embedder, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRunner(t *testing.T, store vectorstore.Store, dataDir string) *Runner {
	t.Helper()
	r, err := NewRunner(store, dataDir, logging.NewNop())
	require.NoError(t, err)
	return r
}

func TestVersionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, 0, ReadVersion(dir))

	require.NoError(t, WriteVersion(dir, 2))
	assert.Equal(t, 2, ReadVersion(dir))

	// A corrupt version file reads as unversioned.
	require.NoError(t, os.WriteFile(VersionPath(dir), []byte("{nope"), 0o644))
	assert.Equal(t, 0, ReadVersion(dir))
}

func TestNewRunnerValidation(t *testing.T) {
	_, err := NewRunner(nil, t.TempDir(), logging.NewNop())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	_, err = NewRunner(newStore(t), "", logging.NewNop())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestRunFreshStore(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, newStore(t), dir)
	require.True(t, r.NeedsMigration())

	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, report.Status)
	assert.Equal(t, SchemaVersion, report.CurrentVersion)
	assert.Equal(t, SchemaVersion, report.TargetVersion)
	assert.Equal(t, 2, report.MigrationsRun)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, resultSuccess, res.Status)
	}

	assert.Equal(t, SchemaVersion, ReadVersion(dir))
	assert.False(t, r.NeedsMigration())
}

func TestRunUpToDate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteVersion(dir, SchemaVersion))
	r := newRunner(t, newStore(t), dir)

	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, StatusUpToDate, report.Status)
	assert.Equal(t, SchemaVersion, report.CurrentVersion)
	assert.Equal(t, 0, report.MigrationsRun)
	assert.Empty(t, report.Results)
}

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, newStore(t), dir)

	report, err := r.Run(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, 0, report.MigrationsRun)
	require.Len(t, report.Results, 2)
	for _, res := range report.Results {
		assert.Equal(t, resultDryRun, res.Status)
	}
	assert.Equal(t, 0, ReadVersion(dir), "dry run must not stamp a version")
}

func TestRunMigratesLegacyCommits(t *testing.T) {
	store := newStore(t)
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, []vectorstore.Document{
		{
			ID:      "commit:abc123",
			Content: "Fixed the login retry loop",
			Metadata: map[string]string{
				document.KeyType:       legacyTypeCommit,
				document.KeyRepository: "billing",
				document.KeyCreatedAt:  "2024-01-02T03:04:05Z",
			},
		},
		{
			ID:      "commit:def456",
			Content: "Added webhook signing",
			Metadata: map[string]string{
				document.KeyType:       legacyTypeCommit,
				document.KeyRepository: "billing",
				document.KeyCreatedAt:  "2024-02-03T04:05:06Z",
			},
		},
		{
			ID:      "note:keep",
			Content: "Unrelated note",
			Metadata: map[string]string{
				document.KeyType: string(document.TypeNote),
			},
		},
	}))

	r := newRunner(t, store, dir)
	report, err := r.Run(ctx, false)
	require.NoError(t, err)
	require.Equal(t, StatusComplete, report.Status)

	leftover, err := store.Get(ctx, nil, vectorstore.Where{document.KeyType: legacyTypeCommit})
	require.NoError(t, err)
	assert.Empty(t, leftover)

	migrated, err := store.Get(ctx, nil, vectorstore.Where{document.KeyType: string(document.TypeSessionSummary)})
	require.NoError(t, err)
	require.Len(t, migrated, 2)
	assert.Equal(t, "commit:abc123", migrated[0].ID)
	assert.Equal(t, "Fixed the login retry loop", migrated[0].Content)
	assert.Equal(t, "2024-01-02T03:04:05Z", migrated[0].Metadata[document.KeyCreatedAt])
	assert.Equal(t, "billing", migrated[0].Metadata[document.KeyRepository])

	notes, err := store.Get(ctx, nil, vectorstore.Where{document.KeyType: string(document.TypeNote)})
	require.NoError(t, err)
	assert.Len(t, notes, 1)
}

func TestRunStopsAtFailure(t *testing.T) {
	dir := t.TempDir()
	r := newRunner(t, newStore(t), dir)

	var thirdRan bool
	r.migrations = []Migration{
		{Version: 1, Description: "ok", Run: func(context.Context, vectorstore.Store) error { return nil }},
		{Version: 2, Description: "boom", Run: func(context.Context, vectorstore.Store) error { return errors.New("exploded") }},
		{Version: 3, Description: "never", Run: func(context.Context, vectorstore.Store) error { thirdRan = true; return nil }},
	}

	report, err := r.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, StatusPartial, report.Status)
	assert.Equal(t, 1, report.CurrentVersion)
	assert.Equal(t, 3, report.TargetVersion)
	assert.Equal(t, 1, report.MigrationsRun)
	require.Len(t, report.Results, 2)
	assert.Equal(t, resultSuccess, report.Results[0].Status)
	assert.Equal(t, resultFailed, report.Results[1].Status)
	assert.Contains(t, report.Results[1].Error, "exploded")
	assert.False(t, thirdRan, "failure aborts the sequence")
	assert.Equal(t, 1, ReadVersion(dir))

	// Fixing the failing step resumes from the recorded version.
	r.migrations[1].Run = func(context.Context, vectorstore.Store) error { return nil }
	report, err = r.Run(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, report.Status)
	assert.Equal(t, 3, report.CurrentVersion)
	assert.Equal(t, 2, report.MigrationsRun)
	assert.Equal(t, 3, ReadVersion(dir))
}

func TestTargetMatchesSchemaVersion(t *testing.T) {
	r := newRunner(t, newStore(t), t.TempDir())
	assert.Equal(t, SchemaVersion, r.Target())
}
