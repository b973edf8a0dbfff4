package orient

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/document"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/errs"
	"github.com/fyrsmithlabs/recalld/internal/initiative"
	"github.com/fyrsmithlabs/recalld/internal/lexical"
	"github.com/fyrsmithlabs/recalld/internal/llm"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/secrets"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

type fixture struct {
	svc         *Service
	mem         *memory.Service
	initiatives *initiative.Service
	store       vectorstore.Store
	project     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	embedder, err := embeddings.NewStaticProvider(256)
	require.NoError(t, err)

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       filepath.Join(t.TempDir(), "vectors"),
		Collection: "recalld",
	}, embedder, logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	lex := lexical.NewIndex(func(ctx context.Context) ([]lexical.Document, error) {
		return nil, nil
	}, logging.NewNop())
	t.Cleanup(func() { _ = lex.Close() })

	scrub, err := secrets.New(secrets.NewDefaultConfig())
	require.NoError(t, err)

	provider, err := llm.New(config.LLMConfig{Provider: "none"}, logging.NewNop())
	require.NoError(t, err)

	project := filepath.Join(t.TempDir(), "billing")
	require.NoError(t, os.MkdirAll(project, 0o755))

	initiatives, err := initiative.NewService(store, lex, provider, scrub, project, logging.NewNop())
	require.NoError(t, err)

	mem, err := memory.NewService(store, lex, scrub, initiatives, project, logging.NewNop())
	require.NoError(t, err)

	svc, err := NewService(store, mem, initiatives, project, logging.NewNop())
	require.NoError(t, err)

	return &fixture{svc: svc, mem: mem, initiatives: initiatives, store: store, project: project}
}

// seedSkeleton stores a skeleton document the way ingestion would.
func (f *fixture) seedSkeleton(t *testing.T, repo, branch, tree string) {
	t.Helper()
	err := f.store.Upsert(context.Background(), []vectorstore.Document{{
		ID:      document.SkeletonID(repo, branch),
		Content: tree,
		Metadata: map[string]string{
			document.KeyType:       string(document.TypeSkeleton),
			document.KeyRepository: repo,
			document.KeyBranch:     branch,
			document.KeyStatus:     string(document.StatusActive),
			document.KeyTotalFiles: "12",
			document.KeyTotalDirs:  "4",
		},
	}})
	require.NoError(t, err)
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, nil, nil, "", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestSessionValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Session(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	_, err = f.svc.Session(context.Background(), filepath.Join(f.project, "does-not-exist"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.NotFound))

	file := filepath.Join(f.project, "main.go")
	require.NoError(t, os.WriteFile(file, []byte("package main\n"), 0o644))
	_, err = f.svc.Session(context.Background(), file)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestSessionUnindexedProject(t *testing.T) {
	f := newFixture(t)

	sess, err := f.svc.Session(context.Background(), f.project)
	require.NoError(t, err)
	assert.Equal(t, "billing", sess.Repository)
	assert.False(t, sess.Indexed)
	assert.Zero(t, sess.DocumentCount)
	assert.Contains(t, sess.Message, "ingest")
	assert.Nil(t, sess.Skeleton)
	assert.Empty(t, sess.StaleInsights)
}

func TestSessionIndexedProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedSkeleton(t, "billing", "unknown", "billing/\n  cmd/\n  internal/")

	_, err := f.mem.SetTechStack(ctx, memory.TechStackInput{
		Repository: "billing",
		TechStack:  "Go 1.24 service, chromem-go store.",
	})
	require.NoError(t, err)

	created, err := f.initiatives.Create(ctx, "harden retries", "stop dropping jobs", "billing", true)
	require.NoError(t, err)

	sess, err := f.svc.Session(ctx, f.project)
	require.NoError(t, err)
	assert.Equal(t, "billing", sess.Repository)
	assert.True(t, sess.Indexed)
	assert.GreaterOrEqual(t, sess.DocumentCount, 3)
	assert.Empty(t, sess.Message)

	require.NotNil(t, sess.Skeleton)
	assert.Contains(t, sess.Skeleton.Tree, "internal/")
	assert.Equal(t, 12, sess.Skeleton.TotalFiles)
	assert.Equal(t, 4, sess.Skeleton.TotalDirs)

	assert.Equal(t, "Go 1.24 service, chromem-go store.", sess.TechStack)
	require.NotNil(t, sess.Initiative)
	assert.Equal(t, created.ID, sess.Initiative.ID)
}

func TestSessionReportsStaleInsights(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := filepath.Join(f.project, "retry", "backoff.go")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("package retry\n"), 0o644))

	receipt, err := f.mem.SaveInsight(ctx, memory.InsightInput{
		Title:      "backoff caps at 30s",
		Content:    "The retry loop doubles the delay and caps it at 30 seconds.",
		Files:      []string{"retry/backoff.go"},
		Repository: "billing",
	})
	require.NoError(t, err)

	sess, err := f.svc.Session(ctx, f.project)
	require.NoError(t, err)
	assert.Empty(t, sess.StaleInsights)

	require.NoError(t, os.WriteFile(path, []byte("package retry\n\nconst cap = 60\n"), 0o644))

	sess, err = f.svc.Session(ctx, f.project)
	require.NoError(t, err)
	require.Len(t, sess.StaleInsights, 1)
	assert.Equal(t, receipt.InsightID, sess.StaleInsights[0].InsightID)
	assert.Equal(t, []string{"retry/backoff.go"}, sess.StaleInsights[0].ChangedFiles)
}

func TestGetSkeleton(t *testing.T) {
	f := newFixture(t)

	f.seedSkeleton(t, "billing", "main", "billing/\n  internal/")

	skel, err := f.svc.GetSkeleton(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, "billing", skel.Repository)
	assert.Equal(t, "main", skel.Branch)
	assert.Contains(t, skel.Tree, "internal/")
}

func TestGetSkeletonPrefersWorkdirBranch(t *testing.T) {
	f := newFixture(t)

	// Outside a git checkout the workdir branch is unknown, so the
	// fallback picks the lowest skeleton ID.
	f.seedSkeleton(t, "billing", "develop", "develop tree")
	f.seedSkeleton(t, "billing", "main", "main tree")

	skel, err := f.svc.GetSkeleton(context.Background(), "billing")
	require.NoError(t, err)
	assert.Equal(t, "develop", skel.Branch)
}

func TestGetSkeletonMissing(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.GetSkeleton(context.Background(), "billing")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.NotFound))
}
