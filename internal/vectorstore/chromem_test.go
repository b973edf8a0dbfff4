package vectorstore_test

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// hashEmbedder is a deterministic bag-of-words embedder. Texts sharing
// words land near each other, which is enough to exercise similarity
// ordering without a model.
type hashEmbedder struct {
	dim int
}

func (e *hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embed(text)
	}
	return out, nil
}

func (e *hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func (e *hashEmbedder) Dimension() int { return e.dim }

func (e *hashEmbedder) embed(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[int(h.Sum32())%e.dim]++
	}

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	if sumSq == 0 {
		vec[0] = 1
		return vec
	}
	norm := float32(1.0 / math.Sqrt(sumSq))
	for i := range vec {
		vec[i] *= norm
	}
	return vec
}

func newTestStore(t *testing.T) *vectorstore.ChromemStore {
	t.Helper()
	return newTestStoreAt(t, t.TempDir())
}

func newTestStoreAt(t *testing.T, dir string) *vectorstore.ChromemStore {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		Path:       dir,
		Collection: "recalld_test",
	}, &hashEmbedder{dim: 64}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedDocs(t *testing.T, store vectorstore.Store, docs ...vectorstore.Document) {
	t.Helper()
	require.NoError(t, store.Upsert(context.Background(), docs))
}

func TestChromemConfigDefaults(t *testing.T) {
	cfg := vectorstore.ChromemConfig{}
	cfg.ApplyDefaults()

	assert.Equal(t, "~/.local/share/recalld/vectorstore", cfg.Path)
	assert.Equal(t, "recalld", cfg.Collection)
	assert.False(t, cfg.Compress)
}

func TestChromemConfigValidate(t *testing.T) {
	cfg := vectorstore.ChromemConfig{Path: "/tmp/x", Collection: "Has-Caps"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestNewChromemStoreRequiresEmbedder(t *testing.T) {
	_, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{Path: t.TempDir()}, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestChromemUpsertAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocs(t, store,
		vectorstore.Document{ID: "note:aaaa1111", Content: "rotate the pager schedule", Metadata: map[string]string{"type": "note", "project": "alpha"}},
		vectorstore.Document{ID: "insight:bbbb2222", Content: "retry loops need jitter", Metadata: map[string]string{"type": "insight", "project": "alpha"}},
		vectorstore.Document{ID: "note:cccc3333", Content: "beta launch notes", Metadata: map[string]string{"type": "note", "project": "beta"}},
	)

	t.Run("all records sorted by id", func(t *testing.T) {
		records, err := store.Get(ctx, nil, nil)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "insight:bbbb2222", records[0].ID)
		assert.Equal(t, "note:aaaa1111", records[1].ID)
		assert.Equal(t, "note:cccc3333", records[2].ID)
	})

	t.Run("by ids", func(t *testing.T) {
		records, err := store.Get(ctx, []string{"note:cccc3333", "missing"}, nil)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "note:cccc3333", records[0].ID)
		assert.Equal(t, "beta launch notes", records[0].Content)
		assert.Equal(t, "beta", records[0].Metadata["project"])
	})

	t.Run("by where", func(t *testing.T) {
		records, err := store.Get(ctx, nil, vectorstore.Where{"type": "note"})
		require.NoError(t, err)
		require.Len(t, records, 2)
	})

	t.Run("ids and where compose", func(t *testing.T) {
		records, err := store.Get(ctx, []string{"note:aaaa1111", "insight:bbbb2222"}, vectorstore.Where{"type": "note"})
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "note:aaaa1111", records[0].ID)
	})
}

func TestChromemUpsertReplacesByID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocs(t, store, vectorstore.Document{
		ID: "note:aaaa1111", Content: "first draft", Metadata: map[string]string{"type": "note"},
	})
	seedDocs(t, store, vectorstore.Document{
		ID: "note:aaaa1111", Content: "second draft", Metadata: map[string]string{"type": "note", "pinned": "true"},
	})

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	records, err := store.Get(ctx, []string{"note:aaaa1111"}, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second draft", records[0].Content)
	assert.Equal(t, "true", records[0].Metadata["pinned"])
}

func TestChromemUpsertValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.Upsert(ctx, nil)
	assert.ErrorIs(t, err, vectorstore.ErrEmptyDocuments)

	err = store.Upsert(ctx, []vectorstore.Document{{Content: "no id"}})
	assert.ErrorIs(t, err, vectorstore.ErrEmptyDocuments)
}

func TestChromemQueryOrdersBySimilarity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocs(t, store,
		vectorstore.Document{ID: "a", Content: "pager rotation schedule for ops", Metadata: map[string]string{"type": "note"}},
		vectorstore.Document{ID: "b", Content: "kernel memory allocator tuning", Metadata: map[string]string{"type": "note"}},
		vectorstore.Document{ID: "c", Content: "grocery list milk eggs", Metadata: map[string]string{"type": "note"}},
	)

	results, err := store.Query(ctx, "pager rotation schedule", 3, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "a", results[0].ID)
	assert.Greater(t, results[0].Score, float32(0))

	// Scores are descending.
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestChromemQueryWhereNative(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocs(t, store,
		vectorstore.Document{ID: "a", Content: "pager rotation", Metadata: map[string]string{"type": "note", "project": "alpha"}},
		vectorstore.Document{ID: "b", Content: "pager rotation", Metadata: map[string]string{"type": "insight", "project": "alpha"}},
	)

	results, err := store.Query(ctx, "pager rotation", 2, vectorstore.Where{"type": "insight"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].ID)
}

func TestChromemQueryWhereOperators(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocs(t, store,
		vectorstore.Document{ID: "a", Content: "pager rotation", Metadata: map[string]string{"type": "note"}},
		vectorstore.Document{ID: "b", Content: "pager rotation", Metadata: map[string]string{"type": "insight"}},
		vectorstore.Document{ID: "c", Content: "pager rotation", Metadata: map[string]string{"type": "skeleton", "branch": "dev"}},
	)

	t.Run("in", func(t *testing.T) {
		results, err := store.Query(ctx, "pager rotation", 3, vectorstore.Where{
			"type": map[string]any{"$in": []string{"note", "insight"}},
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Contains(t, []string{"a", "b"}, r.ID)
		}
	})

	t.Run("or with and", func(t *testing.T) {
		results, err := store.Query(ctx, "pager rotation", 3, vectorstore.Where{
			"$or": []vectorstore.Where{
				{"type": "note"},
				{"$and": []vectorstore.Where{{"type": "skeleton"}, {"branch": "dev"}}},
			},
		})
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Contains(t, []string{"a", "c"}, r.ID)
		}
	})

	t.Run("invalid clause", func(t *testing.T) {
		_, err := store.Query(ctx, "pager rotation", 3, vectorstore.Where{
			"type": map[string]any{"$gt": "a"},
		})
		assert.ErrorIs(t, err, vectorstore.ErrInvalidWhere)
	})
}

func TestChromemQueryEmptyCollection(t *testing.T) {
	store := newTestStore(t)

	results, err := store.Query(context.Background(), "anything", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemQueryValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Query(ctx, "  ", 5, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)

	_, err = store.Query(ctx, "ok", 0, nil)
	assert.ErrorIs(t, err, vectorstore.ErrInvalidConfig)
}

func TestChromemQueryClampsTopK(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocs(t, store,
		vectorstore.Document{ID: "a", Content: "one", Metadata: map[string]string{"type": "note"}},
		vectorstore.Document{ID: "b", Content: "two", Metadata: map[string]string{"type": "note"}},
	)

	results, err := store.Query(ctx, "one", 50, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestChromemDelete(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *vectorstore.ChromemStore {
		store := newTestStore(t)
		seedDocs(t, store,
			vectorstore.Document{ID: "a", Content: "one", Metadata: map[string]string{"type": "note"}},
			vectorstore.Document{ID: "b", Content: "two", Metadata: map[string]string{"type": "note"}},
			vectorstore.Document{ID: "c", Content: "three", Metadata: map[string]string{"type": "insight"}},
		)
		return store
	}

	t.Run("by ids", func(t *testing.T) {
		store := seed(t)
		require.NoError(t, store.Delete(ctx, []string{"a"}, nil))

		count, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
	})

	t.Run("by where", func(t *testing.T) {
		store := seed(t)
		require.NoError(t, store.Delete(ctx, nil, vectorstore.Where{"type": "note"}))

		records, err := store.Get(ctx, nil, nil)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "c", records[0].ID)
	})

	t.Run("ids and where compose", func(t *testing.T) {
		store := seed(t)
		require.NoError(t, store.Delete(ctx, []string{"a", "c"}, vectorstore.Where{"type": "note"}))

		records, err := store.Get(ctx, nil, nil)
		require.NoError(t, err)
		require.Len(t, records, 2) // only "a" matched both
	})

	t.Run("nothing matching is not an error", func(t *testing.T) {
		store := seed(t)
		assert.NoError(t, store.Delete(ctx, []string{"zzz"}, nil))
		assert.NoError(t, store.Delete(ctx, nil, nil))
	})
}

func TestChromemReset(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDocs(t, store, vectorstore.Document{ID: "a", Content: "one", Metadata: map[string]string{"type": "note"}})
	require.NoError(t, store.Reset(ctx))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Store stays usable after a reset.
	seedDocs(t, store, vectorstore.Document{ID: "b", Content: "two", Metadata: map[string]string{"type": "note"}})
	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChromemPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store := newTestStoreAt(t, dir)
	seedDocs(t, store, vectorstore.Document{ID: "a", Content: "durable", Metadata: map[string]string{"type": "note"}})
	require.NoError(t, store.Close())

	reopened := newTestStoreAt(t, dir)
	count, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	records, err := reopened.Get(ctx, []string{"a"}, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "durable", records[0].Content)
}

func TestChromemConcurrentUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			done <- store.Upsert(ctx, []vectorstore.Document{{
				ID:       fmt.Sprintf("doc-%d", i),
				Content:  fmt.Sprintf("content %d", i),
				Metadata: map[string]string{"type": "note"},
			}})
		}(i)
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-done)
	}

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 8, count)
}
